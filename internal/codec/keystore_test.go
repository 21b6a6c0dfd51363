package codec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKeyStoreGeneratesAndReloads(t *testing.T) {
	dir := t.TempDir()

	ks, err := OpenKeyStore(dir)
	if err != nil {
		t.Fatalf("open keystore: %v", err)
	}
	first, err := ks.Codec()
	if err != nil {
		t.Fatalf("first codec: %v", err)
	}

	sealed, err := first.Encrypt([]byte("persisted key material"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// A second open must load the same keys, not mint new ones.
	ks2, err := OpenKeyStore(dir)
	if err != nil {
		t.Fatalf("reopen keystore: %v", err)
	}
	second, err := ks2.Codec()
	if err != nil {
		t.Fatalf("second codec: %v", err)
	}

	opened, err := second.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt with reloaded key: %v", err)
	}
	if string(opened) != "persisted key material" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}
	if first.PublicKeyHex() != second.PublicKeyHex() {
		t.Fatal("expected reloaded signing key to match")
	}
}

func TestKeyFilePermissions(t *testing.T) {
	dir := t.TempDir()

	ks, err := OpenKeyStore(dir)
	if err != nil {
		t.Fatalf("open keystore: %v", err)
	}
	if _, err := ks.Codec(); err != nil {
		t.Fatalf("codec: %v", err)
	}

	for _, name := range []string{"symmetric.key", "signing.key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Fatalf("expected %s to be 0600, got %o", name, perm)
		}
	}
}

func TestOpenKeyStoreRequiresDir(t *testing.T) {
	if _, err := OpenKeyStore(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}
