package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := NewSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testEnvelope(kind domain.Kind, createdAt time.Time) *domain.Envelope {
	return &domain.Envelope{
		ID:             uuid.New(),
		ContentAddress: "a1b2c3",
		ContentHash:    "d4e5f6",
		CreatedAt:      createdAt,
		Scope:          domain.ScopeAgent,
		Kind:           kind,
		RiskClass:      domain.RiskLow,
	}
}

func TestSQLiteIndexPutGet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	e := testEnvelope(domain.KindSemantic, time.Now().UTC())
	e.TopicTags = []string{"go", "testing"}
	if err := idx.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := idx.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != e.ID || got.Kind != e.Kind {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if len(got.TopicTags) != 2 {
		t.Fatalf("expected tags to survive, got %v", got.TopicTags)
	}
}

func TestSQLiteIndexAppendOnly(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	e := testEnvelope(domain.KindSemantic, time.Now().UTC())
	if err := idx.Put(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := idx.Put(ctx, e); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on repeat put, got %v", err)
	}
}

func TestSQLiteIndexGetMissing(t *testing.T) {
	idx := newTestIndex(t)

	if _, err := idx.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteIndexQueryFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := testEnvelope(domain.KindSemantic, now.Add(-48*time.Hour))
	recent := testEnvelope(domain.KindEpisodic, now.Add(-1*time.Hour))
	userScoped := testEnvelope(domain.KindSemantic, now)
	userScoped.Scope = domain.ScopeUser
	for _, e := range []*domain.Envelope{old, recent, userScoped} {
		if err := idx.Put(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	// Kind filter.
	results, err := idx.Query(ctx, domain.QueryOpts{Kinds: []domain.Kind{domain.KindEpisodic}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != recent.ID {
		t.Fatalf("expected only the episodic envelope, got %d results", len(results))
	}

	// Scope filter.
	results, _ = idx.Query(ctx, domain.QueryOpts{Scopes: []domain.Scope{domain.ScopeUser}})
	if len(results) != 1 || results[0].ID != userScoped.ID {
		t.Fatalf("expected only the user-scoped envelope, got %d results", len(results))
	}

	// Since bound excludes the old envelope.
	since := now.Add(-2 * time.Hour)
	results, _ = idx.Query(ctx, domain.QueryOpts{Since: &since})
	if len(results) != 2 {
		t.Fatalf("expected 2 recent envelopes, got %d", len(results))
	}

	// Newest first, limit applies.
	results, _ = idx.Query(ctx, domain.QueryOpts{Limit: 2})
	if len(results) != 2 {
		t.Fatalf("expected limit to cap results, got %d", len(results))
	}
	if !results[0].CreatedAt.After(results[1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestSQLiteIndexSupersededIDs(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	target := testEnvelope(domain.KindSemantic, now.Add(-time.Hour))
	if err := idx.Put(ctx, target); err != nil {
		t.Fatalf("put target: %v", err)
	}

	tomb := testEnvelope(domain.KindTombstone, now)
	tomb.Lineage.Supersedes = []uuid.UUID{target.ID}
	if err := idx.Put(ctx, tomb); err != nil {
		t.Fatalf("put tombstone: %v", err)
	}

	superseded, err := idx.SupersededIDs(ctx)
	if err != nil {
		t.Fatalf("superseded ids: %v", err)
	}
	if !superseded[target.ID] {
		t.Fatal("expected target to be superseded")
	}
	if superseded[tomb.ID] {
		t.Fatal("tombstone itself must not be superseded")
	}
}

func TestSQLiteIndexAddressesAndEdges(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	now := time.Now().UTC()

	parent := testEnvelope(domain.KindSemantic, now.Add(-time.Hour))
	parent.ContentAddress = "addr-parent"
	child := testEnvelope(domain.KindSemantic, now)
	child.ContentAddress = "addr-child"
	child.Lineage.Parents = []uuid.UUID{parent.ID}
	child.Lineage.Branches = []uuid.UUID{parent.ID}

	_ = idx.Put(ctx, parent)
	if err := idx.Put(ctx, child); err != nil {
		t.Fatalf("put child: %v", err)
	}

	addresses, err := idx.Addresses(ctx)
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if len(addresses) != 2 {
		t.Fatalf("expected 2 addresses, got %v", addresses)
	}

	edges, err := idx.Edges(ctx)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected parent and branch edges, got %d", len(edges))
	}
	for _, edge := range edges {
		if edge.From != child.ID || edge.To != parent.ID {
			t.Fatalf("unexpected edge %+v", edge)
		}
	}
}

func TestSQLiteIndexPolicyStore(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	policy := &domain.AccessPolicy{
		ID:      uuid.New(),
		OwnerID: "kernel-1",
		Permissions: domain.Permissions{
			Read: []string{"agent-2"},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := idx.Upsert(ctx, policy); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := idx.GetByID(ctx, policy.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerID != "kernel-1" || len(got.Permissions.Read) != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Upsert replaces in place.
	policy.Redaction = domain.Redaction{Enabled: true}
	if err := idx.Upsert(ctx, policy); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, _ = idx.GetByID(ctx, policy.ID)
	if !got.Redaction.Enabled {
		t.Fatal("expected upsert to replace the record")
	}

	owned, err := idx.ListByOwner(ctx, "kernel-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(owned))
	}
	if others, _ := idx.ListByOwner(ctx, "someone-else"); len(others) != 0 {
		t.Fatalf("expected no policies for other owner, got %d", len(others))
	}

	if _, err := idx.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown policy, got %v", err)
	}
}
