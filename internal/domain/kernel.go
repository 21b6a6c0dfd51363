package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/codec"
)

// ConflictResolution selects how contradicting identity claims are
// resolved across epochs.
type ConflictResolution string

const (
	ResolveBranch              ConflictResolution = "branch"
	ResolveRequireConfirmation ConflictResolution = "require_confirmation"
	ResolveNewestWins          ConflictResolution = "newest_wins"
)

func ValidConflictResolution(r string) bool {
	switch ConflictResolution(r) {
	case ResolveBranch, ResolveRequireConfirmation, ResolveNewestWins:
		return true
	}
	return false
}

// ThreatPosture is the kernel's strictness stance toward unverified
// records and principals.
type ThreatPosture string

const (
	PostureRelaxed  ThreatPosture = "relaxed"
	PostureStandard ThreatPosture = "standard"
	PostureStrict   ThreatPosture = "strict"
)

// Invariants are the stable core of the identity: ordered value and
// boundary statements plus stable preference pairs. Order is
// significant and preserved.
type Invariants struct {
	Values      []string          `json:"values" cbor:"values"`
	Boundaries  []string          `json:"boundaries" cbor:"boundaries"`
	Preferences map[string]string `json:"preferences,omitempty" cbor:"preferences,omitempty"`
}

// EvolutionRules govern how the kernel may change.
type EvolutionRules struct {
	ConflictResolution   ConflictResolution `json:"conflict_resolution" cbor:"conflict_resolution"`
	ConfirmationRequired []string           `json:"confirmation_required,omitempty" cbor:"confirmation_required,omitempty"`
	ForbiddenInference   []string           `json:"forbidden_inference,omitempty" cbor:"forbidden_inference,omitempty"`
}

// EpochState marks the current bounded period of identity stability.
type EpochState struct {
	Epoch          string     `json:"epoch" cbor:"epoch"`
	StartedAt      time.Time  `json:"started_at" cbor:"started_at"`
	LastCompiledAt *time.Time `json:"last_compiled_at,omitempty" cbor:"last_compiled_at,omitempty"`
	Trigger        string     `json:"trigger,omitempty" cbor:"trigger,omitempty"`
}

// Pointers carries the append-only trail of prior kernel ids. A kernel
// is never deleted, only superseded by an epoch transition.
type Pointers struct {
	KernelHistory []uuid.UUID `json:"kernel_history,omitempty" cbor:"kernel_history,omitempty"`
}

// Cartouche is the optional compact symbolic seal derived from the
// kernel's invariants. Stable under minor edits, it must change on
// epoch transition.
type Cartouche struct {
	Dialect   string `json:"dialect" cbor:"dialect"`
	Version   int    `json:"version" cbor:"version"`
	Glyph     string `json:"glyph" cbor:"glyph"`
	Hash      string `json:"hash" cbor:"hash"`
	Signature []byte `json:"signature,omitempty" cbor:"signature,omitempty"`
}

// IdentityKernel is the portable self: the record every session loads
// first and the signer of every envelope written during its epoch. A
// kernel without a valid signature is treated as unverified for any
// operation requiring attestation.
type IdentityKernel struct {
	ID              uuid.UUID      `json:"kernel_id" cbor:"kernel_id"`
	Invariants      Invariants     `json:"invariants" cbor:"invariants"`
	EvolutionRules  EvolutionRules `json:"evolution_rules" cbor:"evolution_rules"`
	EpochState      EpochState     `json:"epoch_state" cbor:"epoch_state"`
	Pointers        Pointers       `json:"pointers" cbor:"pointers"`
	ThreatPosture   ThreatPosture  `json:"threat_posture" cbor:"threat_posture"`
	Cartouche       *Cartouche     `json:"cartouche,omitempty" cbor:"cartouche,omitempty"`
	SignerPublicKey string         `json:"signer_public_key,omitempty" cbor:"signer_public_key,omitempty"`
	Signature       []byte         `json:"signature,omitempty" cbor:"signature,omitempty"`
}

// ErrDuplicateInvariant rejects idempotent re-additions of an existing
// value or boundary.
var ErrDuplicateInvariant = errors.New("kernel: invariant already present")

func (k *IdentityKernel) Validate() error {
	if k.ID == uuid.Nil {
		return errors.New("kernel: id is required")
	}
	if !ValidConflictResolution(string(k.EvolutionRules.ConflictResolution)) {
		return fmt.Errorf("kernel: invalid conflict resolution %q", k.EvolutionRules.ConflictResolution)
	}
	if k.EpochState.Epoch == "" {
		return errors.New("kernel: epoch is required")
	}
	if k.EpochState.StartedAt.IsZero() {
		return errors.New("kernel: epoch start time is required")
	}
	switch k.ThreatPosture {
	case PostureRelaxed, PostureStandard, PostureStrict:
	default:
		return fmt.Errorf("kernel: invalid threat posture %q", k.ThreatPosture)
	}
	return nil
}

// AddValue appends a value invariant. Duplicate entries are rejected
// with ErrDuplicateInvariant so re-adding is safe to retry but never
// double-records.
func (k *IdentityKernel) AddValue(value string) error {
	for _, v := range k.Invariants.Values {
		if v == value {
			return ErrDuplicateInvariant
		}
	}
	k.Invariants.Values = append(k.Invariants.Values, value)
	return nil
}

// AddBoundary appends a boundary invariant, rejecting duplicates.
func (k *IdentityKernel) AddBoundary(boundary string) error {
	for _, b := range k.Invariants.Boundaries {
		if b == boundary {
			return ErrDuplicateInvariant
		}
	}
	k.Invariants.Boundaries = append(k.Invariants.Boundaries, boundary)
	return nil
}

// SignableForm returns the canonical serialization of the kernel with
// the signature excluded.
func (k *IdentityKernel) SignableForm() ([]byte, error) {
	signable := *k
	signable.Signature = nil
	return codec.Marshal(&signable)
}

// Sign replaces the kernel's signature with one from the local keypair.
// Unlike envelopes, a kernel carries exactly one signature: its owner's.
func (k *IdentityKernel) Sign(c *codec.Codec) error {
	k.SignerPublicKey = c.PublicKeyHex()
	form, err := k.SignableForm()
	if err != nil {
		return fmt.Errorf("kernel: computing signable form: %w", err)
	}
	k.Signature = c.Sign(form)
	return nil
}

// Verified reports whether the kernel's signature checks out against
// its embedded signer key. Unsigned kernels are never verified.
func (k *IdentityKernel) Verified() bool {
	if len(k.Signature) == 0 || k.SignerPublicKey == "" {
		return false
	}
	raw, err := hex.DecodeString(k.SignerPublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	form, err := k.SignableForm()
	if err != nil {
		return false
	}
	return codec.Verify(form, k.Signature, ed25519.PublicKey(raw))
}
