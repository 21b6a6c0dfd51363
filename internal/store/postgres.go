package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mnemoslabs/mnemos/internal/codec"
)

// PostgresStore is a hosted content-addressed backend over a blob
// table. Addresses are still the BLAKE3 digest computed locally, so
// retrieval is integrity-checkable without trusting the database, and
// Put stays idempotent via ON CONFLICT DO NOTHING.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the content table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS content_objects (
			address TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("store: migrating content table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, data []byte) (string, error) {
	address := codec.Hash(data).Hex()
	_, err := s.db.Exec(ctx,
		`INSERT INTO content_objects (address, data) VALUES ($1, $2)
		 ON CONFLICT (address) DO NOTHING`,
		address, data,
	)
	if err != nil {
		return "", fmt.Errorf("store: inserting content object: %w", err)
	}
	return address, nil
}

func (s *PostgresStore) Get(ctx context.Context, address string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM content_objects WHERE address = $1`,
		address,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: reading content object: %w", err)
	}
	if codec.Hash(data).Hex() != address {
		return nil, fmt.Errorf("store: stored content does not match address %s", address)
	}
	return data, nil
}

// List returns every stored address, for reconciliation.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT address FROM content_objects`)
	if err != nil {
		return nil, fmt.Errorf("store: listing content objects: %w", err)
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

// Delete removes an object, for crypto-shredding.
func (s *PostgresStore) Delete(ctx context.Context, address string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM content_objects WHERE address = $1`,
		address,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
