package handlers

import (
	"net/http"

	"github.com/mnemoslabs/mnemos/internal/service"
)

// ReconcileHandler exposes the offline consistency passes. Nil when the
// content backend cannot list, in which case the routes are not
// mounted.
type ReconcileHandler struct {
	reconciler *service.Reconciler
}

func NewReconcileHandler(reconciler *service.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

func (h *ReconcileHandler) Orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.reconciler.OrphanedBlobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(orphans),
		"addresses": orphans,
	})
}

func (h *ReconcileHandler) Cycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.reconciler.LineageCycles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(cycles),
		"cycles": cycles,
	})
}
