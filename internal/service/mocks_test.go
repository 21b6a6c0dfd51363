package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/store"
)

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	sym := make([]byte, 32)
	if _, err := rand.Read(sym); err != nil {
		t.Fatalf("generating symmetric key: %v", err)
	}
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	c, err := codec.New(sym, signing)
	if err != nil {
		t.Fatalf("building codec: %v", err)
	}
	return c
}

// mockContentStore implements domain.ListingContentStore in memory.
type mockContentStore struct {
	objects map[string][]byte
	puts    int
}

func newMockContentStore() *mockContentStore {
	return &mockContentStore{objects: make(map[string][]byte)}
}

func (m *mockContentStore) Put(ctx context.Context, data []byte) (string, error) {
	m.puts++
	address := codec.Hash(data).Hex()
	m.objects[address] = data
	return address, nil
}

func (m *mockContentStore) Get(ctx context.Context, address string) ([]byte, error) {
	data, ok := m.objects[address]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (m *mockContentStore) List(ctx context.Context) ([]string, error) {
	var addresses []string
	for address := range m.objects {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses, nil
}

func (m *mockContentStore) Delete(ctx context.Context, address string) error {
	if _, ok := m.objects[address]; !ok {
		return store.ErrNotFound
	}
	delete(m.objects, address)
	return nil
}

// mockIndex implements domain.EnvelopeIndex in memory.
type mockIndex struct {
	envelopes map[uuid.UUID]*domain.Envelope
	order     []uuid.UUID
}

func newMockIndex() *mockIndex {
	return &mockIndex{envelopes: make(map[uuid.UUID]*domain.Envelope)}
}

func (m *mockIndex) Put(ctx context.Context, e *domain.Envelope) error {
	if _, ok := m.envelopes[e.ID]; ok {
		return index.ErrDuplicate
	}
	clone := *e
	m.envelopes[e.ID] = &clone
	m.order = append(m.order, e.ID)
	return nil
}

func (m *mockIndex) Get(ctx context.Context, id uuid.UUID) (*domain.Envelope, error) {
	e, ok := m.envelopes[id]
	if !ok {
		return nil, index.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *mockIndex) Query(ctx context.Context, opts domain.QueryOpts) ([]domain.Envelope, error) {
	var results []domain.Envelope
	for _, id := range m.order {
		e := m.envelopes[id]
		if len(opts.Scopes) > 0 && !containsScope(opts.Scopes, e.Scope) {
			continue
		}
		if len(opts.Kinds) > 0 && !containsKind(opts.Kinds, e.Kind) {
			continue
		}
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		results = append(results, *e)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *mockIndex) SupersededIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	superseded := make(map[uuid.UUID]bool)
	for _, e := range m.envelopes {
		for _, id := range e.Lineage.Supersedes {
			superseded[id] = true
		}
	}
	return superseded, nil
}

func (m *mockIndex) Addresses(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var addresses []string
	for _, e := range m.envelopes {
		if !seen[e.ContentAddress] {
			seen[e.ContentAddress] = true
			addresses = append(addresses, e.ContentAddress)
		}
	}
	return addresses, nil
}

func (m *mockIndex) Edges(ctx context.Context) ([]domain.LineageEdge, error) {
	var edges []domain.LineageEdge
	for _, e := range m.envelopes {
		for _, id := range e.Lineage.Parents {
			edges = append(edges, domain.LineageEdge{From: e.ID, To: id, Relation: "parent"})
		}
		for _, id := range e.Lineage.Supersedes {
			edges = append(edges, domain.LineageEdge{From: e.ID, To: id, Relation: "supersedes"})
		}
	}
	return edges, nil
}

// mockPolicyStore implements domain.PolicyStore in memory.
type mockPolicyStore struct {
	policies map[uuid.UUID]*domain.AccessPolicy
}

func newMockPolicyStore() *mockPolicyStore {
	return &mockPolicyStore{policies: make(map[uuid.UUID]*domain.AccessPolicy)}
}

func (m *mockPolicyStore) Upsert(ctx context.Context, p *domain.AccessPolicy) error {
	clone := *p
	m.policies[p.ID] = &clone
	return nil
}

func (m *mockPolicyStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessPolicy, error) {
	p, ok := m.policies[id]
	if !ok {
		return nil, index.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *mockPolicyStore) ListByOwner(ctx context.Context, ownerID string) ([]domain.AccessPolicy, error) {
	var results []domain.AccessPolicy
	for _, p := range m.policies {
		if p.OwnerID == ownerID {
			results = append(results, *p)
		}
	}
	return results, nil
}

func containsScope(scopes []domain.Scope, s domain.Scope) bool {
	for _, sc := range scopes {
		if sc == s {
			return true
		}
	}
	return false
}

func containsKind(kinds []domain.Kind, k domain.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
