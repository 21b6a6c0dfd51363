package codec

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	symmetricKeyFile = "symmetric.key"
	signingKeyFile   = "signing.key"
	lockFile         = "keystore.lock"
)

// KeyStore is a directory holding the local symmetric key and signing
// keypair. Key material is generated lazily on first use and persisted
// with owner-only permissions; subsequent opens reuse the persisted
// keys. Generation is guarded by a file lock so concurrent first-use
// callers cannot each mint and write different keys.
type KeyStore struct {
	dir string
}

// OpenKeyStore ensures dir exists (owner-only) and returns a KeyStore
// rooted there.
func OpenKeyStore(dir string) (*KeyStore, error) {
	if dir == "" {
		return nil, errors.New("codec: key store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("codec: creating key store directory: %w", err)
	}
	return &KeyStore{dir: dir}, nil
}

// Dir returns the key store directory.
func (ks *KeyStore) Dir() string {
	return ks.dir
}

// Codec loads (or lazily generates) the key material and returns a
// Codec over it. A key file that exists but cannot be read, or a
// generation write that fails, aborts: proceeding with an unpersisted
// key would make every ciphertext written under it unrecoverable after
// restart.
func (ks *KeyStore) Codec() (*Codec, error) {
	sym, err := ks.loadOrGenerate(symmetricKeyFile, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	signing, err := ks.loadOrGenerateSigning()
	if err != nil {
		return nil, err
	}
	return New(sym, signing)
}

func (ks *KeyStore) loadOrGenerate(name string, size int) ([]byte, error) {
	path := filepath.Join(ks.dir, name)
	key, err := readKeyFile(path, size)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	lock := flock.New(filepath.Join(ks.dir, lockFile))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("codec: locking key store: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another process may have generated the key while we waited.
	key, err = readKeyFile(path, size)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key = make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("codec: generating key: %w", err)
	}
	if err := writeKeyFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (ks *KeyStore) loadOrGenerateSigning() (ed25519.PrivateKey, error) {
	path := filepath.Join(ks.dir, signingKeyFile)
	raw, err := readKeyFile(path, ed25519.PrivateKeySize)
	if err == nil {
		return ed25519.PrivateKey(raw), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	lock := flock.New(filepath.Join(ks.dir, lockFile))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("codec: locking key store: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	raw, err = readKeyFile(path, ed25519.PrivateKeySize)
	if err == nil {
		return ed25519.PrivateKey(raw), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("codec: generating signing keypair: %w", err)
	}
	if err := writeKeyFile(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func readKeyFile(path string, size int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("codec: reading key file %s: %w", path, err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("codec: key file %s is %d bytes, want %d", path, len(raw), size)
	}
	return raw, nil
}

// writeKeyFile persists key material atomically (temp then rename) with
// owner-only permissions, fsyncing before the rename so a crash cannot
// leave a short key file addressable.
func writeKeyFile(path string, key []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return fmt.Errorf("codec: creating temp key file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("codec: restricting key file permissions: %w", err)
	}
	if _, err := tmp.Write(key); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("codec: writing key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("codec: syncing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("codec: closing key file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("codec: persisting key file: %w", err)
	}
	return nil
}
