package domain

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/codec"
)

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	sym := make([]byte, 32)
	if _, err := rand.Read(sym); err != nil {
		t.Fatalf("generating symmetric key: %v", err)
	}
	_, signing, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating signing key: %v", err)
	}
	c, err := codec.New(sym, signing)
	if err != nil {
		t.Fatalf("building codec: %v", err)
	}
	return c
}

func validEnvelope() *Envelope {
	return &Envelope{
		ID:             uuid.New(),
		ContentAddress: "addr",
		ContentHash:    "hash",
		CreatedAt:      time.Now().UTC(),
		Scope:          ScopeAgent,
		Kind:           KindSemantic,
		RiskClass:      RiskLow,
	}
}

func TestEnvelopeValidate(t *testing.T) {
	e := validEnvelope()
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}

	e = validEnvelope()
	e.ContentAddress = ""
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for missing content address")
	}

	e = validEnvelope()
	e.Kind = "daydream"
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestTombstoneRequiresSupersedes(t *testing.T) {
	e := validEnvelope()
	e.Kind = KindTombstone
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for tombstone without supersedes")
	}

	e.Lineage.Supersedes = []uuid.UUID{uuid.New()}
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid tombstone, got %v", err)
	}
}

func TestAttestAndVerify(t *testing.T) {
	c := newTestCodec(t)
	e := validEnvelope()

	if err := e.Attest(c, "agent-1", AttesterAgent, TrustSelfSigned, time.Now()); err != nil {
		t.Fatalf("attest: %v", err)
	}
	if len(e.Attestations) != 1 {
		t.Fatalf("expected 1 attestation, got %d", len(e.Attestations))
	}
	att := e.Attestations[0]
	if att.Algorithm != codec.AlgorithmEd25519 {
		t.Fatalf("unexpected algorithm %q", att.Algorithm)
	}

	report := e.Verify(nil) // embedded public key is enough
	if !report.Valid {
		t.Fatalf("expected valid report, got %+v", report)
	}
	if len(report.Results) != 1 || !report.Results[0].Valid {
		t.Fatalf("expected per-attestation result, got %+v", report.Results)
	}
}

func TestVerifyWithTrustedKey(t *testing.T) {
	c := newTestCodec(t)
	e := validEnvelope()
	_ = e.Attest(c, "agent-1", AttesterAgent, TrustSelfSigned, time.Now())

	// Strip the embedded key to force the trusted-map path.
	e.Attestations[0].PublicKey = ""

	if report := e.Verify(nil); report.Valid {
		t.Fatal("expected verification to fail without any key")
	}

	trusted := map[string]ed25519.PublicKey{"agent-1": c.PublicKey()}
	if report := e.Verify(trusted); !report.Valid {
		t.Fatalf("expected trusted key to verify, got %+v", report)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	c := newTestCodec(t)
	e := validEnvelope()
	_ = e.Attest(c, "agent-1", AttesterAgent, TrustSelfSigned, time.Now())

	e.ContentHash = "tampered"

	report := e.Verify(nil)
	if report.Valid {
		t.Fatal("expected tampered envelope to fail verification")
	}
	if report.Results[0].Reason != "signature mismatch" {
		t.Fatalf("unexpected reason %q", report.Results[0].Reason)
	}
}

func TestVerifyZeroAttestationsInvalid(t *testing.T) {
	e := validEnvelope()
	if report := e.Verify(nil); report.Valid {
		t.Fatal("expected envelope with zero attestations to be invalid")
	}
}

func TestCoSigningPreservesAttestations(t *testing.T) {
	agent := newTestCodec(t)
	witness := newTestCodec(t)
	e := validEnvelope()

	_ = e.Attest(agent, "agent-1", AttesterAgent, TrustSelfSigned, time.Now())
	_ = e.Attest(witness, "witness-1", AttesterWitness, TrustWitnessSigned, time.Now())

	if len(e.Attestations) != 2 {
		t.Fatalf("expected 2 attestations, got %d", len(e.Attestations))
	}
	report := e.Verify(nil)
	if !report.Valid {
		t.Fatalf("expected both signatures to verify, got %+v", report)
	}
}
