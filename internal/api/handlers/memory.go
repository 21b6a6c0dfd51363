package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/service"
)

type MemoryHandler struct {
	ledger *service.Ledger
	index  domain.EnvelopeIndex
}

func NewMemoryHandler(ledger *service.Ledger, idx domain.EnvelopeIndex) *MemoryHandler {
	return &MemoryHandler{ledger: ledger, index: idx}
}

type rememberRequest struct {
	Content     string      `json:"content"`
	ContentType string      `json:"content_type,omitempty"`
	Scope       string      `json:"scope,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	RiskClass   string      `json:"risk_class,omitempty"`
	TopicTags   []string    `json:"topic_tags,omitempty"`
	PolicyID    *uuid.UUID  `json:"policy_id,omitempty"`
	TTLSeconds  int64       `json:"ttl_seconds,omitempty"`
	Parents     []uuid.UUID `json:"parents,omitempty"`
}

func (r rememberRequest) opts() service.RememberOpts {
	return service.RememberOpts{
		ContentType: r.ContentType,
		Scope:       domain.Scope(r.Scope),
		Kind:        domain.Kind(r.Kind),
		RiskClass:   domain.RiskClass(r.RiskClass),
		TopicTags:   r.TopicTags,
		PolicyID:    r.PolicyID,
		TTLHint:     time.Duration(r.TTLSeconds) * time.Second,
		Parents:     r.Parents,
	}
}

func (r rememberRequest) validate() string {
	if r.Content == "" {
		return "content is required"
	}
	if r.Scope != "" && !domain.ValidScope(r.Scope) {
		return "invalid scope"
	}
	if r.Kind != "" && !domain.ValidKind(r.Kind) {
		return "invalid kind"
	}
	if r.RiskClass != "" && !domain.ValidRiskClass(r.RiskClass) {
		return "invalid risk_class"
	}
	return ""
}

func (h *MemoryHandler) Remember(w http.ResponseWriter, r *http.Request) {
	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if domain.Kind(req.Kind) == domain.KindTombstone {
		writeError(w, http.StatusBadRequest, "tombstones are written via the tombstone endpoint")
		return
	}

	envelope, err := h.ledger.Remember(r.Context(), []byte(req.Content), req.opts())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record memory")
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

func (h *MemoryHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope id")
		return
	}

	envelope, err := h.index.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, http.StatusNotFound, "envelope not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load envelope")
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (h *MemoryHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	parentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope id")
		return
	}

	var req rememberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	envelope, err := h.ledger.Supersede(r.Context(), parentID, []byte(req.Content), req.opts())
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, http.StatusNotFound, "superseded envelope not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to supersede memory")
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

type tombstoneRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *MemoryHandler) Tombstone(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope id")
		return
	}

	var req tombstoneRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	envelope, err := h.ledger.Tombstone(r.Context(), targetID, req.Reason)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target envelope not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to tombstone memory")
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

// Shred destroys an envelope's stored ciphertext and writes a
// tombstone. Irreversible.
func (h *MemoryHandler) Shred(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope id")
		return
	}

	envelope, err := h.ledger.Shred(r.Context(), targetID)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, http.StatusNotFound, "target envelope not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

type ingestReflectionsRequest struct {
	Records  []domain.ReflectionRecord `json:"records"`
	Scope    string                    `json:"scope,omitempty"`
	PolicyID *uuid.UUID                `json:"policy_id,omitempty"`
}

func (h *MemoryHandler) IngestReflections(w http.ResponseWriter, r *http.Request) {
	var req ingestReflectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}
	scope := domain.Scope(req.Scope)
	if req.Scope == "" {
		scope = domain.ScopeAgent
	} else if !domain.ValidScope(req.Scope) {
		writeError(w, http.StatusBadRequest, "invalid scope")
		return
	}

	envelopes, err := h.ledger.IngestReflections(r.Context(), req.Records, scope, req.PolicyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest reflections")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ingested":  len(envelopes),
		"envelopes": envelopes,
	})
}
