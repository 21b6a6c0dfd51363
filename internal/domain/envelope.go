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

type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeAgent  Scope = "agent"
	ScopeShared Scope = "shared"
	ScopeSystem Scope = "system"
)

func ValidScope(s string) bool {
	switch Scope(s) {
	case ScopeUser, ScopeAgent, ScopeShared, ScopeSystem:
		return true
	}
	return false
}

type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindReflection Kind = "reflection"
	KindKernelRef  Kind = "kernel_ref"
	KindPolicy     Kind = "policy"
	KindTombstone  Kind = "tombstone"
)

func ValidKind(k string) bool {
	switch Kind(k) {
	case KindEpisodic, KindSemantic, KindReflection, KindKernelRef, KindPolicy, KindTombstone:
		return true
	}
	return false
}

type RiskClass string

const (
	RiskLow  RiskClass = "low"
	RiskMed  RiskClass = "med"
	RiskHigh RiskClass = "high"
)

func ValidRiskClass(r string) bool {
	switch RiskClass(r) {
	case RiskLow, RiskMed, RiskHigh:
		return true
	}
	return false
}

type AttesterType string

const (
	AttesterUser    AttesterType = "user"
	AttesterAgent   AttesterType = "agent"
	AttesterHost    AttesterType = "host"
	AttesterWitness AttesterType = "witness"
)

type TrustLevel string

const (
	TrustSelfSigned    TrustLevel = "self_signed"
	TrustHostSigned    TrustLevel = "host_signed"
	TrustWitnessSigned TrustLevel = "witness_signed"
)

// Attestation binds a principal to a claim about a record. Appended,
// never replaced: co-signing adds entries to the envelope's list.
type Attestation struct {
	AttesterID   string       `json:"attester_id" cbor:"attester_id"`
	AttesterType AttesterType `json:"attester_type" cbor:"attester_type"`
	TrustLevel   TrustLevel   `json:"trust_level" cbor:"trust_level"`
	Algorithm    string       `json:"algorithm" cbor:"algorithm"`
	PublicKey    string       `json:"public_key,omitempty" cbor:"public_key,omitempty"`
	Signature    []byte       `json:"signature" cbor:"signature"`
	Timestamp    time.Time    `json:"timestamp" cbor:"timestamp"`
}

// Lineage holds the directed edges from an envelope into the
// append-only graph. Edges only ever point at already-written
// envelopes; nothing here mutates the target.
type Lineage struct {
	Parents    []uuid.UUID `json:"parents,omitempty" cbor:"parents,omitempty"`
	Supersedes []uuid.UUID `json:"supersedes,omitempty" cbor:"supersedes,omitempty"`
	Branches   []uuid.UUID `json:"branches,omitempty" cbor:"branches,omitempty"`
}

// Envelope is the ledger-facing record: metadata, a pointer to the
// encrypted blob, and the attestation chain. It never contains
// plaintext. Envelopes are written once and never mutated; an update is
// a child envelope, a delete is a tombstone or a crypto-shred.
type Envelope struct {
	ID             uuid.UUID     `json:"envelope_id" cbor:"envelope_id"`
	ContentAddress string        `json:"content_address" cbor:"content_address"`
	ContentHash    string        `json:"content_hash" cbor:"content_hash"`
	CreatedAt      time.Time     `json:"created_at" cbor:"created_at"`
	Scope          Scope         `json:"scope" cbor:"scope"`
	Kind           Kind          `json:"kind" cbor:"kind"`
	AccessPolicyID *uuid.UUID    `json:"access_policy_ref,omitempty" cbor:"access_policy_ref,omitempty"`
	Lineage        Lineage       `json:"lineage" cbor:"lineage"`
	TopicTags      []string      `json:"topic_tags,omitempty" cbor:"topic_tags,omitempty"`
	RiskClass      RiskClass     `json:"risk_class" cbor:"risk_class"`
	TTLHint        time.Duration `json:"ttl_hint,omitempty" cbor:"ttl_hint,omitempty"`
	Attestations   []Attestation `json:"attestations" cbor:"attestations"`
}

// Validate checks required fields at construction time. Malformed
// envelopes are rejected immediately, not at first use.
func (e *Envelope) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("envelope: id is required")
	}
	if e.ContentAddress == "" {
		return errors.New("envelope: content address is required")
	}
	if e.ContentHash == "" {
		return errors.New("envelope: content hash is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("envelope: created_at is required")
	}
	if !ValidScope(string(e.Scope)) {
		return fmt.Errorf("envelope: invalid scope %q", e.Scope)
	}
	if !ValidKind(string(e.Kind)) {
		return fmt.Errorf("envelope: invalid kind %q", e.Kind)
	}
	if !ValidRiskClass(string(e.RiskClass)) {
		return fmt.Errorf("envelope: invalid risk class %q", e.RiskClass)
	}
	if e.Kind == KindTombstone && len(e.Lineage.Supersedes) == 0 {
		return errors.New("envelope: tombstone must supersede at least one envelope")
	}
	return nil
}

// SignableForm returns the canonical serialization of the envelope with
// the attestation list excluded, so signing is never self-referential.
func (e *Envelope) SignableForm() ([]byte, error) {
	signable := *e
	signable.Attestations = nil
	return codec.Marshal(&signable)
}

// Attest appends an attestation signed by the local keypair. Existing
// attestations are preserved to support multi-party co-signing.
func (e *Envelope) Attest(c *codec.Codec, attesterID string, attesterType AttesterType, trust TrustLevel, at time.Time) error {
	form, err := e.SignableForm()
	if err != nil {
		return fmt.Errorf("envelope: computing signable form: %w", err)
	}
	e.Attestations = append(e.Attestations, Attestation{
		AttesterID:   attesterID,
		AttesterType: attesterType,
		TrustLevel:   trust,
		Algorithm:    codec.AlgorithmEd25519,
		PublicKey:    c.PublicKeyHex(),
		Signature:    c.Sign(form),
		Timestamp:    at.UTC(),
	})
	return nil
}

// AttestationResult is one attestation's verification outcome.
type AttestationResult struct {
	AttesterID string `json:"attester_id"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
}

// VerifyReport surfaces per-attestation outcomes. Valid is true only
// when every attestation verifies; partial trust is reported, never
// silently collapsed into a pass.
type VerifyReport struct {
	Valid   bool                `json:"valid"`
	Results []AttestationResult `json:"results"`
}

// Verify recomputes the signable form and checks each attestation
// against either an explicitly trusted key for the attester or the key
// embedded in the attestation itself. An envelope with zero
// attestations is invalid.
func (e *Envelope) Verify(trusted map[string]ed25519.PublicKey) VerifyReport {
	report := VerifyReport{Valid: len(e.Attestations) > 0}
	form, err := e.SignableForm()
	if err != nil {
		report.Valid = false
		return report
	}
	for _, att := range e.Attestations {
		result := AttestationResult{AttesterID: att.AttesterID}
		key, ok := trusted[att.AttesterID]
		if !ok && att.PublicKey != "" {
			raw, err := hex.DecodeString(att.PublicKey)
			if err == nil && len(raw) == ed25519.PublicKeySize {
				key = ed25519.PublicKey(raw)
				ok = true
			}
		}
		switch {
		case !ok:
			result.Reason = "no trusted key for attester"
		case !codec.Verify(form, att.Signature, key):
			result.Reason = "signature mismatch"
		default:
			result.Valid = true
		}
		if !result.Valid {
			report.Valid = false
		}
		report.Results = append(report.Results, result)
	}
	return report
}
