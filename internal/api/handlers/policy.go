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
)

type PolicyHandler struct {
	policies domain.PolicyStore
}

func NewPolicyHandler(policies domain.PolicyStore) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

type upsertPolicyRequest struct {
	ID          *uuid.UUID         `json:"policy_id,omitempty"`
	OwnerID     string             `json:"owner_id"`
	Principals  []string           `json:"principals,omitempty"`
	Permissions domain.Permissions `json:"permissions"`
	Constraints domain.Constraints `json:"constraints"`
	Redaction   domain.Redaction   `json:"redaction"`
}

func (h *PolicyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	policy := &domain.AccessPolicy{
		OwnerID:     req.OwnerID,
		Principals:  req.Principals,
		Permissions: req.Permissions,
		Constraints: req.Constraints,
		Redaction:   req.Redaction,
		CreatedAt:   time.Now().UTC(),
	}
	if req.ID != nil {
		policy.ID = *req.ID
	} else {
		policy.ID = uuid.New()
	}
	if err := policy.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.policies.Upsert(r.Context(), policy); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store policy")
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *PolicyHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy id")
		return
	}

	policy, err := h.policies.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load policy")
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *PolicyHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	policies, err := h.policies.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list policies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}
