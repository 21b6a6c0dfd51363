package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

// PostgresIndex is the hosted envelope index and policy store, mirror
// of the SQLite backend over pgx.
type PostgresIndex struct {
	db *pgxpool.Pool
}

func NewPostgresIndex(db *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{db: db}
}

// Migrate creates the index tables if they do not exist.
func (s *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS envelopes (
		id UUID PRIMARY KEY,
		content_address TEXT NOT NULL,
		scope TEXT NOT NULL,
		kind TEXT NOT NULL,
		risk_class TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		record JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_envelopes_scope_kind ON envelopes(scope, kind);
	CREATE INDEX IF NOT EXISTS idx_envelopes_created_at ON envelopes(created_at);

	CREATE TABLE IF NOT EXISTS lineage_edges (
		from_id UUID NOT NULL,
		to_id UUID NOT NULL,
		relation TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, relation)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_relation ON lineage_edges(relation);

	CREATE TABLE IF NOT EXISTS policies (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		record JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_policies_owner ON policies(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("index: migrating: %w", err)
	}
	return nil
}

func (s *PostgresIndex) Put(ctx context.Context, e *domain.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("index: encoding envelope: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("index: beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO envelopes (id, content_address, scope, kind, risk_class, created_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ContentAddress, string(e.Scope), string(e.Kind), string(e.RiskClass),
		e.CreatedAt.UTC(), record,
	)
	if err != nil {
		return fmt.Errorf("index: inserting envelope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}

	for _, edge := range lineageEdges(e) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO lineage_edges (from_id, to_id, relation) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			edge.From, edge.To, edge.Relation,
		); err != nil {
			return fmt.Errorf("index: inserting lineage edge: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresIndex) Get(ctx context.Context, id uuid.UUID) (*domain.Envelope, error) {
	var record []byte
	err := s.db.QueryRow(ctx,
		`SELECT record FROM envelopes WHERE id = $1`, id,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: reading envelope: %w", err)
	}
	return decodeEnvelope(string(record))
}

func (s *PostgresIndex) Query(ctx context.Context, opts domain.QueryOpts) ([]domain.Envelope, error) {
	var conditions []string
	var args []any

	if len(opts.Scopes) > 0 {
		scopes := make([]string, len(opts.Scopes))
		for i, sc := range opts.Scopes {
			scopes[i] = string(sc)
		}
		args = append(args, scopes)
		conditions = append(conditions, fmt.Sprintf("scope = ANY($%d)", len(args)))
	}
	if len(opts.Kinds) > 0 {
		kinds := make([]string, len(opts.Kinds))
		for i, k := range opts.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}
	if opts.Since != nil {
		args = append(args, opts.Since.UTC())
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT record FROM envelopes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query envelopes: %w", err)
	}
	defer rows.Close()

	var results []domain.Envelope
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		e, err := decodeEnvelope(string(record))
		if err != nil {
			return nil, err
		}
		results = append(results, *e)
	}
	return results, rows.Err()
}

func (s *PostgresIndex) SupersededIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT to_id FROM lineage_edges WHERE relation = 'supersedes'`)
	if err != nil {
		return nil, fmt.Errorf("index: query superseded ids: %w", err)
	}
	defer rows.Close()

	superseded := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		superseded[id] = true
	}
	return superseded, rows.Err()
}

func (s *PostgresIndex) Addresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT content_address FROM envelopes`)
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

func (s *PostgresIndex) Edges(ctx context.Context) ([]domain.LineageEdge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT from_id, to_id, relation FROM lineage_edges`)
	if err != nil {
		return nil, fmt.Errorf("index: query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.LineageEdge
	for rows.Next() {
		var edge domain.LineageEdge
		if err := rows.Scan(&edge.From, &edge.To, &edge.Relation); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func (s *PostgresIndex) Upsert(ctx context.Context, p *domain.AccessPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("index: encoding policy: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO policies (id, owner_id, record) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, record = EXCLUDED.record`,
		p.ID, p.OwnerID, record,
	)
	if err != nil {
		return fmt.Errorf("index: upserting policy: %w", err)
	}
	return nil
}

func (s *PostgresIndex) GetByID(ctx context.Context, id uuid.UUID) (*domain.AccessPolicy, error) {
	var record []byte
	err := s.db.QueryRow(ctx,
		`SELECT record FROM policies WHERE id = $1`, id,
	).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("index: reading policy: %w", err)
	}
	p := &domain.AccessPolicy{}
	if err := json.Unmarshal(record, p); err != nil {
		return nil, fmt.Errorf("index: decoding policy: %w", err)
	}
	return p, nil
}

func (s *PostgresIndex) ListByOwner(ctx context.Context, ownerID string) ([]domain.AccessPolicy, error) {
	rows, err := s.db.Query(ctx,
		`SELECT record FROM policies WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("index: listing policies: %w", err)
	}
	defer rows.Close()

	var policies []domain.AccessPolicy
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var p domain.AccessPolicy
		if err := json.Unmarshal(record, &p); err != nil {
			return nil, fmt.Errorf("index: decoding policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
