package core

import "time"

// Policy carries the engine's configurable limits. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	// MaxActiveSeals caps simultaneously active seals per identity.
	MaxActiveSeals int
	// SkewWindow bounds how far a transaction's wall timestamp may drift
	// from the validating node's clock. Zero disables the check.
	SkewWindow time.Duration
	// MaxPayloadBytes bounds the canonical encoding of a transaction.
	MaxPayloadBytes int
	// CollaboratorTimeout bounds every storage call made during validation
	// and apply. A timeout surfaces as ErrCollaboratorUnavailable.
	CollaboratorTimeout time.Duration
}

// DefaultPolicy returns the documented defaults: one active seal, a five
// minute skew window, 64 KiB payloads, five second collaborator timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxActiveSeals:      1,
		SkewWindow:          5 * time.Minute,
		MaxPayloadBytes:     64 << 10,
		CollaboratorTimeout: 5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxActiveSeals <= 0 {
		p.MaxActiveSeals = 1
	}
	if p.MaxPayloadBytes <= 0 {
		p.MaxPayloadBytes = 64 << 10
	}
	if p.CollaboratorTimeout <= 0 {
		p.CollaboratorTimeout = 5 * time.Second
	}
	return p
}
