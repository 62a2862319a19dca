package rpc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	coreerrors "veilnet/core/errors"
	"veilnet/core/types"
	"veilnet/crypto"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type registerRequest struct {
	PublicKey string `json:"public_key"`
	KeyType   string `json:"key_type"`
}

type authorizeSealRequest struct {
	SealPublicKey string `json:"seal_public_key"`
	KeyType       string `json:"key_type"`
}

type digestResponse struct {
	Digest string `json:"digest"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, err.Error())
		return
	}
	verdict, err := s.engine.Submit(r.Context(), &tx)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	status := http.StatusOK
	if verdict.Status == types.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, verdict)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Transaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.PendingTransactions(r.Context(), queryLimit(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	digest, err := s.engine.ConfirmationDigest(r.Context())
	if err != nil && !errors.Is(err, coreerrors.ErrNotFound) {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, digestResponse{Digest: hex.EncodeToString(digest)})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := s.engine.Identity(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.State(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSeals(w http.ResponseWriter, r *http.Request) {
	seals, err := s.engine.ActiveSeals(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if seals == nil {
		seals = []*types.SealAuthorization{}
	}
	writeJSON(w, http.StatusOK, seals)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.History(r.Context(), chi.URLParam(r, "fingerprint"), queryLimit(r))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*types.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, err.Error())
		return
	}
	keyType, err := crypto.ParseKeyType(req.KeyType)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, err.Error())
		return
	}
	pub, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, "public_key must be base64")
		return
	}
	identity, err := s.engine.RegisterIdentity(r.Context(), pub, keyType)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, identity)
}

func (s *Server) handleAuthorizeSeal(w http.ResponseWriter, r *http.Request) {
	var req authorizeSealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, err.Error())
		return
	}
	keyType := crypto.KeyTypeEd25519
	if strings.TrimSpace(req.KeyType) != "" {
		parsed, err := crypto.ParseKeyType(req.KeyType)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, err.Error())
			return
		}
		keyType = parsed
	}
	pub, err := base64.StdEncoding.DecodeString(req.SealPublicKey)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, coreerrors.ReasonStructural, "seal_public_key must be base64")
		return
	}
	seal, err := s.engine.AuthorizeSeal(r.Context(), chi.URLParam(r, "fingerprint"), pub, keyType)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seal)
}

// writeEngineError translates the engine's error taxonomy into HTTP status
// codes. Anything unrecognized is logged and returned as an opaque 500, never
// a leaked internal message.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := coreerrors.Reason(err)
	switch {
	case errors.Is(err, coreerrors.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, coreerrors.ErrStructural):
		writeError(w, r, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, coreerrors.ErrDuplicateIdentity), errors.Is(err, coreerrors.ErrDuplicateSeal):
		writeError(w, r, http.StatusConflict, code, err.Error())
	case errors.Is(err, coreerrors.ErrSealCapExceeded), errors.Is(err, coreerrors.ErrLastActiveSeal):
		writeError(w, r, http.StatusConflict, code, err.Error())
	case errors.Is(err, coreerrors.ErrCollaboratorUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, code, "temporarily unavailable, retry")
	default:
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 100
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 100
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		Retryable: status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
