package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemoslabs/mnemos/internal/domain"
)

// SQLiteIndex is the local envelope index and policy store. The full
// record is stored as JSON alongside indexed filter columns; lineage
// edges are materialized into their own table for tombstone exclusion
// and reconciliation.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index at dbPath. ":memory:"
// gives an ephemeral index for tests.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("index: opening database: %w", err)
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: initializing schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS envelopes (
		id TEXT PRIMARY KEY,
		content_address TEXT NOT NULL,
		scope TEXT NOT NULL,
		kind TEXT NOT NULL,
		risk_class TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		record TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_envelopes_scope_kind ON envelopes(scope, kind);
	CREATE INDEX IF NOT EXISTS idx_envelopes_created_at ON envelopes(created_at);

	CREATE TABLE IF NOT EXISTS lineage_edges (
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, relation)
	);

	CREATE INDEX IF NOT EXISTS idx_edges_relation ON lineage_edges(relation);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		record TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_owner ON policies(owner_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Put records an envelope and its lineage edges. Append-only: a second
// put for the same id is ErrDuplicate.
func (s *SQLiteIndex) Put(ctx context.Context, e *domain.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("index: encoding envelope: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO envelopes (id, content_address, scope, kind, risk_class, created_at, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.ContentAddress, string(e.Scope), string(e.Kind), string(e.RiskClass),
		e.CreatedAt.UTC().UnixNano(), string(record),
	)
	if err != nil {
		return fmt.Errorf("index: inserting envelope: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}

	for _, edge := range lineageEdges(e) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO lineage_edges (from_id, to_id, relation) VALUES (?, ?, ?)`,
			edge.From.String(), edge.To.String(), edge.Relation,
		); err != nil {
			return fmt.Errorf("index: inserting lineage edge: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteIndex) Get(ctx context.Context, id uuid.UUID) (*domain.Envelope, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM envelopes WHERE id = ?`, id.String(),
	).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: reading envelope: %w", err)
	}
	return decodeEnvelope(record)
}

// Query returns candidate envelopes newest-first, filtered by scope,
// kind allow-list, and an optional time-since bound, capped at Limit.
func (s *SQLiteIndex) Query(ctx context.Context, opts domain.QueryOpts) ([]domain.Envelope, error) {
	var conditions []string
	var args []any

	if len(opts.Scopes) > 0 {
		conditions = append(conditions, "scope IN ("+placeholders(len(opts.Scopes))+")")
		for _, sc := range opts.Scopes {
			args = append(args, string(sc))
		}
	}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, "kind IN ("+placeholders(len(opts.Kinds))+")")
		for _, k := range opts.Kinds {
			args = append(args, string(k))
		}
	}
	if opts.Since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.Since.UTC().UnixNano())
	}

	query := `SELECT record FROM envelopes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query envelopes: %w", err)
	}
	defer rows.Close()

	var results []domain.Envelope
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		e, err := decodeEnvelope(record)
		if err != nil {
			return nil, err
		}
		results = append(results, *e)
	}
	return results, rows.Err()
}

func (s *SQLiteIndex) SupersededIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT to_id FROM lineage_edges WHERE relation = 'supersedes'`)
	if err != nil {
		return nil, fmt.Errorf("index: query superseded ids: %w", err)
	}
	defer rows.Close()

	superseded := make(map[uuid.UUID]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		superseded[id] = true
	}
	return superseded, rows.Err()
}

func (s *SQLiteIndex) Addresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT content_address FROM envelopes`)
	if err != nil {
		return nil, fmt.Errorf("index: query addresses: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

func (s *SQLiteIndex) Edges(ctx context.Context) ([]domain.LineageEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, relation FROM lineage_edges`)
	if err != nil {
		return nil, fmt.Errorf("index: query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.LineageEdge
	for rows.Next() {
		var from, to, relation string
		if err := rows.Scan(&from, &to, &relation); err != nil {
			return nil, err
		}
		fromID, err := uuid.Parse(from)
		if err != nil {
			continue
		}
		toID, err := uuid.Parse(to)
		if err != nil {
			continue
		}
		edges = append(edges, domain.LineageEdge{From: fromID, To: toID, Relation: relation})
	}
	return edges, rows.Err()
}

// Upsert writes a policy. Policies are mutable consent records, unlike
// envelopes.
func (s *SQLiteIndex) Upsert(ctx context.Context, p *domain.AccessPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("index: encoding policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policies (id, owner_id, record) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, record = excluded.record`,
		p.ID.String(), p.OwnerID, string(record),
	)
	if err != nil {
		return fmt.Errorf("index: upserting policy: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessPolicy, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM policies WHERE id = ?`, id.String(),
	).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: reading policy: %w", err)
	}
	p := &domain.AccessPolicy{}
	if err := json.Unmarshal([]byte(record), p); err != nil {
		return nil, fmt.Errorf("index: decoding policy: %w", err)
	}
	return p, nil
}

func (s *SQLiteIndex) ListByOwner(ctx context.Context, ownerID string) ([]domain.AccessPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM policies WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("index: listing policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.AccessPolicy
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var p domain.AccessPolicy
		if err := json.Unmarshal([]byte(record), &p); err != nil {
			return nil, fmt.Errorf("index: decoding policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func decodeEnvelope(record string) (*domain.Envelope, error) {
	e := &domain.Envelope{}
	if err := json.Unmarshal([]byte(record), e); err != nil {
		return nil, fmt.Errorf("index: decoding envelope: %w", err)
	}
	return e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// lineageEdges flattens an envelope's lineage sets into directed edges.
func lineageEdges(e *domain.Envelope) []domain.LineageEdge {
	var edges []domain.LineageEdge
	for _, id := range e.Lineage.Parents {
		edges = append(edges, domain.LineageEdge{From: e.ID, To: id, Relation: "parent"})
	}
	for _, id := range e.Lineage.Supersedes {
		edges = append(edges, domain.LineageEdge{From: e.ID, To: id, Relation: "supersedes"})
	}
	for _, id := range e.Lineage.Branches {
		edges = append(edges, domain.LineageEdge{From: e.ID, To: id, Relation: "branches"})
	}
	return edges
}
