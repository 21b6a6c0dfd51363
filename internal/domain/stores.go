package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContentStore is the uniform put/get-by-address interface over
// content-addressed backends. Backend selection is configuration; the
// core only ever calls this interface. Get returns the backend's
// not-found sentinel for unknown addresses, which callers must treat as
// permanent and never retry.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, address string) ([]byte, error)
}

// ListingContentStore is the optional listing capability, present on
// local and dev backends only. Used by reconciliation, never by the hot
// read or write path.
type ListingContentStore interface {
	ContentStore
	List(ctx context.Context) ([]string, error)
}

// QueryOpts filter candidate envelopes during the compiler's querying
// stage. Limit caps worst-case work independent of ledger size.
type QueryOpts struct {
	Scopes []Scope
	Kinds  []Kind
	Since  *time.Time
	Limit  int
}

// EnvelopeIndex is the queryable ledger surface: every envelope ever
// written, including tombstones. Put is append-only; there is no update
// or delete.
type EnvelopeIndex interface {
	Put(ctx context.Context, e *Envelope) error
	Get(ctx context.Context, id uuid.UUID) (*Envelope, error)
	Query(ctx context.Context, opts QueryOpts) ([]Envelope, error)
	// SupersededIDs returns every id named in any envelope's
	// lineage.supersedes, for read-path exclusion.
	SupersededIDs(ctx context.Context) (map[uuid.UUID]bool, error)
	// Addresses returns every content address the index references,
	// for orphaned-blob reconciliation.
	Addresses(ctx context.Context) ([]string, error)
	// Edges returns the materialized lineage graph for cycle
	// detection. Debug tooling only.
	Edges(ctx context.Context) ([]LineageEdge, error)
}

// PolicyStore persists access policies.
type PolicyStore interface {
	Upsert(ctx context.Context, p *AccessPolicy) error
	GetByID(ctx context.Context, id uuid.UUID) (*AccessPolicy, error)
	ListByOwner(ctx context.Context, ownerID string) ([]AccessPolicy, error)
}
