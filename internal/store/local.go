package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mnemoslabs/mnemos/internal/codec"
)

// LocalStore is the filesystem content-addressed backend: one file per
// content address under a single directory. Addresses are the BLAKE3
// hex digest of the content, so Put is idempotent — identical content
// always lands at the identical address and repeat writes are no-ops.
type LocalStore struct {
	dir string
}

// NewLocalStore ensures dir exists and returns a store rooted there.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("store: content directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating content directory: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Put writes data at its content address. Writes go to a temp file and
// rename into place, so a cancelled or crashed put never leaves a
// corrupt partial object addressable.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	address := codec.Hash(data).Hex()
	path := filepath.Join(s.dir, address)

	if _, err := os.Stat(path); err == nil {
		return address, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("store: creating temp object: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("store: writing object: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("store: syncing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("store: closing object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("store: persisting object: %w", err)
	}
	return address, nil
}

// Get reads the object at address, or ErrNotFound.
func (s *LocalStore) Get(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := codec.ParseDigest(address); err != nil {
		return nil, fmt.Errorf("store: invalid address %q: %w", address, err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, address))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: reading object: %w", err)
	}
	return data, nil
}

// List returns every stored address. Dev/reconciliation capability,
// not on the hot path.
func (s *LocalStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: listing content directory: %w", err)
	}
	var addresses []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := codec.ParseDigest(entry.Name()); err != nil {
			continue // temp files and strays
		}
		addresses = append(addresses, entry.Name())
	}
	return addresses, nil
}

// Delete removes an object. Used by crypto-shredding to destroy a
// blob's ciphertext after key custody alone is not enough (the local
// symmetric key also unlocks every other blob).
func (s *LocalStore) Delete(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, address))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
