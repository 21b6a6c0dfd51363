package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/service"
)

type CompileHandler struct {
	compiler *service.Compiler
	identity *service.IdentityManager
}

func NewCompileHandler(compiler *service.Compiler, identity *service.IdentityManager) *CompileHandler {
	return &CompileHandler{compiler: compiler, identity: identity}
}

type compileRequest struct {
	Principal    string     `json:"principal,omitempty"`
	Intent       string     `json:"intent,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
	Kinds        []string   `json:"kinds,omitempty"`
	Since        *time.Time `json:"since,omitempty"`
	MaxMemories  int        `json:"max_memories,omitempty"`
	MaxTokens    int        `json:"max_tokens,omitempty"`
	CandidateCap int        `json:"candidate_cap,omitempty"`
}

// Compile assembles a ContextPack for one session. Per-memory failures
// show up in the trace, not as HTTP errors.
func (h *CompileHandler) Compile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := domain.CompileOpts{
		Principal:    req.Principal,
		Intent:       req.Intent,
		Since:        req.Since,
		MaxMemories:  req.MaxMemories,
		MaxTokens:    req.MaxTokens,
		CandidateCap: req.CandidateCap,
	}
	for _, s := range req.Scopes {
		if !domain.ValidScope(s) {
			writeError(w, http.StatusBadRequest, "invalid scope")
			return
		}
		opts.Scopes = append(opts.Scopes, domain.Scope(s))
	}
	for _, k := range req.Kinds {
		if !domain.ValidKind(k) {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		opts.Kinds = append(opts.Kinds, domain.Kind(k))
	}

	kernel, err := h.identity.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load identity kernel")
		return
	}

	pack, err := h.compiler.Compile(r.Context(), kernel, opts)
	if err != nil {
		if errors.Is(err, service.ErrKernelRequired) {
			writeError(w, http.StatusPreconditionFailed, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "compilation failed")
		return
	}

	if _, err := h.identity.MarkCompiled(pack.CompiledAt); err != nil {
		// The pack is already built; a failed stamp is not fatal.
		writeJSON(w, http.StatusOK, pack)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}
