package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/service"
)

type KernelHandler struct {
	identity *service.IdentityManager
}

func NewKernelHandler(identity *service.IdentityManager) *KernelHandler {
	return &KernelHandler{identity: identity}
}

func (h *KernelHandler) Get(w http.ResponseWriter, r *http.Request) {
	kernel, err := h.identity.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load identity kernel")
		return
	}
	writeJSON(w, http.StatusOK, kernel)
}

type invariantRequest struct {
	Value string `json:"value"`
}

func (h *KernelHandler) AddValue(w http.ResponseWriter, r *http.Request) {
	h.addInvariant(w, r, h.identity.AddValue)
}

func (h *KernelHandler) AddBoundary(w http.ResponseWriter, r *http.Request) {
	h.addInvariant(w, r, h.identity.AddBoundary)
}

func (h *KernelHandler) addInvariant(w http.ResponseWriter, r *http.Request, add func(string) (*domain.IdentityKernel, error)) {
	var req invariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	kernel, err := add(req.Value)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateInvariant) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update kernel")
		return
	}
	writeJSON(w, http.StatusOK, kernel)
}

type preferenceRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *KernelHandler) SetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	kernel, err := h.identity.SetPreference(req.Key, req.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update kernel")
		return
	}
	writeJSON(w, http.StatusOK, kernel)
}

type epochRequest struct {
	Trigger string `json:"trigger"`
}

func (h *KernelHandler) TransitionEpoch(w http.ResponseWriter, r *http.Request) {
	var req epochRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Trigger == "" {
		writeError(w, http.StatusBadRequest, "trigger is required")
		return
	}

	kernel, err := h.identity.TransitionEpoch(req.Trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to transition epoch")
		return
	}
	writeJSON(w, http.StatusOK, kernel)
}

// Export streams the encrypted portable kernel file.
func (h *KernelHandler) Export(w http.ResponseWriter, r *http.Request) {
	raw, err := h.identity.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export kernel")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="kernel-export.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// Import installs a kernel from an export file. Requires the matching
// symmetric key; a foreign export fails to decrypt.
func (h *KernelHandler) Import(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read export file")
		return
	}

	kernel, err := h.identity.Import(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kernel)
}
