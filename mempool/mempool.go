// Package mempool holds transactions that have been persisted as pending but
// not yet driven to a terminal status.
package mempool

import (
	"sort"
	"sync"

	"veilnet/core/types"
)

// Pool is a thread-safe pending pool keyed by transaction ID. Duplicate
// submissions are absorbed instead of re-queued.
type Pool struct {
	mu  sync.Mutex
	txs map[string]*types.Record
}

func New() *Pool {
	return &Pool{txs: make(map[string]*types.Record)}
}

// Add inserts a pending record. Returns false when the ID is already pooled.
func (p *Pool) Add(rec *types.Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.txs[rec.ID]; ok {
		return false
	}
	p.txs[rec.ID] = rec
	return true
}

// Get returns the pooled record for an ID, or nil.
func (p *Pool) Get(id string) *types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txs[id]
}

// Pending returns up to limit records, oldest payload timestamp first.
func (p *Pool) Pending(limit int) []*types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Record, 0, len(p.txs))
	for _, rec := range p.txs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tx.Payload.Timestamp < out[j].Tx.Payload.Timestamp
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Remove drops a record once it reaches a terminal status.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.txs, id)
}

// Size returns the number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}
