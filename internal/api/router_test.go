package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/service"
	"github.com/mnemoslabs/mnemos/internal/store"
)

// newTestApp wires a full App over a temp local store and an in-memory
// index, the same shape main assembles.
func newTestApp(t *testing.T) *App {
	t.Helper()

	sym := make([]byte, 32)
	_, err := rand.Read(sym)
	require.NoError(t, err)
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := codec.New(sym, signing)
	require.NoError(t, err)

	dir := t.TempDir()
	content, err := store.NewLocalStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	idx, err := index.NewSQLiteIndex(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	app, err := NewApp(Deps{
		Codec:    c,
		Content:  content,
		Index:    idx,
		Policies: idx,
		Identity: service.NewIdentityManager(c, filepath.Join(dir, "kernel.json"), nil),
	})
	require.NoError(t, err)
	return app
}

func doJSON(t *testing.T, app *App, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestMemoryLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/v1/memories/", map[string]any{
		"content":    "the user prefers short answers",
		"kind":       "semantic",
		"topic_tags": []string{"preferences"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEqual(t, uuid.Nil, created.ID)
	require.NotEmpty(t, created.ContentAddress)
	require.Len(t, created.Attestations, 1)

	rec = doJSON(t, app, http.MethodGet, "/v1/memories/"+created.ID.String()+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/v1/memories/"+created.ID.String()+"/supersede", map[string]any{
		"content": "the user now prefers detailed answers",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var child domain.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))
	require.Equal(t, []uuid.UUID{created.ID}, child.Lineage.Supersedes)

	rec = doJSON(t, app, http.MethodPost, "/v1/memories/"+child.ID.String()+"/tombstone", map[string]any{
		"reason": "consent withdrawn",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestRememberRejectsInvalidRequests(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/v1/memories/", map[string]any{"content": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/v1/memories/", map[string]any{
		"content": "x", "kind": "tombstone",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/v1/memories/", map[string]any{
		"content": "x", "scope": "galactic",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, app, http.MethodGet, "/v1/memories/not-a-uuid/", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompileEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/v1/memories/", map[string]any{
		"content": "works on the mnemos ledger",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/v1/context-packs", map[string]any{
		"intent": "learn about current projects",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pack domain.ContextPack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pack))
	require.Equal(t, 1, pack.Trace.Considered)
	require.Equal(t, 1, pack.Trace.Included)
	require.Len(t, pack.Memories, 1)
	require.Equal(t, "works on the mnemos ledger", pack.Memories[0].Content)

	// Compilation stamps the kernel.
	rec = doJSON(t, app, http.MethodGet, "/v1/kernel/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var kernel domain.IdentityKernel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kernel))
	require.NotNil(t, kernel.EpochState.LastCompiledAt)
}

func TestKernelEndpoints(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPost, "/v1/kernel/values", map[string]any{"value": "be useful"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app, http.MethodPost, "/v1/kernel/values", map[string]any{"value": "be useful"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, app, http.MethodPut, "/v1/kernel/preferences", map[string]any{
		"key": "tone", "value": "direct",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var kernel domain.IdentityKernel
	rec = doJSON(t, app, http.MethodGet, "/v1/kernel/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kernel))
	require.Equal(t, []string{"be useful"}, kernel.Invariants.Values)
	require.Equal(t, "direct", kernel.Invariants.Preferences["tone"])
}

func TestPolicyEndpoints(t *testing.T) {
	app := newTestApp(t)

	rec := doJSON(t, app, http.MethodPut, "/v1/policies/", map[string]any{
		"owner_id":    "owner-1",
		"permissions": map[string]any{"read": []string{"*"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var policy domain.AccessPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	require.NotEqual(t, uuid.Nil, policy.ID)

	rec = doJSON(t, app, http.MethodGet, "/v1/policies/"+policy.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app, http.MethodGet, "/v1/policies/?owner_id=owner-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReconcileEndpoints(t *testing.T) {
	app := newTestApp(t)

	// LocalStore supports listing, so the routes are mounted.
	rec := doJSON(t, app, http.MethodGet, "/v1/reconcile/orphans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app, http.MethodGet, "/v1/reconcile/cycles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
