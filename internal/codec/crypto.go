package codec

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

// AlgorithmXChaCha20Poly1305 identifies the only AEAD construction the
// ledger currently writes. Stored inside every sealed payload so the
// format can rotate ciphers without breaking old blobs.
const AlgorithmXChaCha20Poly1305 = "xchacha20poly1305"

// AlgorithmEd25519 identifies the signature scheme recorded on
// attestations.
const AlgorithmEd25519 = "ed25519"

// ErrDecryptionFailed is returned whenever AEAD authentication fails.
// Wrong key, rotated key, and tampered ciphertext are deliberately
// indistinguishable in the error to avoid oracle behavior.
var ErrDecryptionFailed = errors.New("codec: decryption failed")

// Digest is a 32-byte BLAKE3 digest. Content addresses and record
// hashes are this size everywhere in the ledger.
type Digest [32]byte

// Hex returns the lowercase hex form of the digest, the canonical
// representation used in envelopes, indexes, and logs.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("codec: parse digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("codec: digest is %d bytes, want %d", len(raw), len(d))
	}
	copy(d[:], raw)
	return d, nil
}

// Hash computes the BLAKE3 digest of data. Used for integrity checks
// and content addressing only, never for confidentiality.
func Hash(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}

// Sealed is an encrypted payload at rest: cipher identifier, per-call
// nonce, and ciphertext with the authentication tag appended. Plaintext
// never appears in this form.
type Sealed struct {
	Algorithm  string `json:"algorithm" cbor:"algorithm"`
	Nonce      []byte `json:"nonce" cbor:"nonce"`
	Ciphertext []byte `json:"ciphertext" cbor:"ciphertext"`
}

// Codec bundles the local symmetric key and signing keypair behind the
// encrypt/decrypt/sign/verify primitives. Construct via New with key
// material from a KeyStore; there is no process-wide instance.
type Codec struct {
	aead       [32]byte
	signingKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// New builds a Codec from a 32-byte symmetric key and an Ed25519
// private key.
func New(symmetricKey []byte, signingKey ed25519.PrivateKey) (*Codec, error) {
	if len(symmetricKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("codec: symmetric key must be %d bytes, got %d", chacha20poly1305.KeySize, len(symmetricKey))
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("codec: signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(signingKey))
	}
	c := &Codec{
		signingKey: signingKey,
		publicKey:  signingKey.Public().(ed25519.PublicKey),
	}
	copy(c.aead[:], symmetricKey)
	return c, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a fresh random
// 24-byte nonce.
func (c *Codec) Encrypt(plaintext []byte) (Sealed, error) {
	aead, err := chacha20poly1305.NewX(c.aead[:])
	if err != nil {
		return Sealed{}, fmt.Errorf("codec: creating cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("codec: generating nonce: %w", err)
	}
	return Sealed{
		Algorithm:  AlgorithmXChaCha20Poly1305,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens a sealed payload. Any authentication failure returns
// ErrDecryptionFailed without detail.
func (c *Codec) Decrypt(sealed Sealed) ([]byte, error) {
	if sealed.Algorithm != AlgorithmXChaCha20Poly1305 {
		return nil, fmt.Errorf("codec: unsupported algorithm %q", sealed.Algorithm)
	}
	aead, err := chacha20poly1305.NewX(c.aead[:])
	if err != nil {
		return nil, fmt.Errorf("codec: creating cipher: %w", err)
	}
	if len(sealed.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Sign produces a detached Ed25519 signature over data.
func (c *Codec) Sign(data []byte) []byte {
	return ed25519.Sign(c.signingKey, data)
}

// PublicKey returns the verifying half of the local signing keypair.
func (c *Codec) PublicKey() ed25519.PublicKey {
	return c.publicKey
}

// PublicKeyHex returns the local public key in hex, the form embedded
// in attestations.
func (c *Codec) PublicKeyHex() string {
	return hex.EncodeToString(c.publicKey)
}

// Verify checks a detached Ed25519 signature. Returns false for any
// malformed key or signature rather than erroring.
func Verify(data, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}
