package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validKernel() *IdentityKernel {
	return &IdentityKernel{
		ID: uuid.New(),
		EvolutionRules: EvolutionRules{
			ConflictResolution: ResolveRequireConfirmation,
		},
		EpochState: EpochState{
			Epoch:     "epoch-20260801T000000Z",
			StartedAt: time.Now().UTC(),
		},
		ThreatPosture: PostureStandard,
	}
}

func TestKernelValidate(t *testing.T) {
	k := validKernel()
	if err := k.Validate(); err != nil {
		t.Fatalf("expected valid kernel, got %v", err)
	}

	k = validKernel()
	k.EvolutionRules.ConflictResolution = "coin_flip"
	if err := k.Validate(); err == nil {
		t.Fatal("expected error for unknown conflict resolution")
	}

	k = validKernel()
	k.ThreatPosture = "paranoid"
	if err := k.Validate(); err == nil {
		t.Fatal("expected error for unknown threat posture")
	}
}

func TestAddValueRejectsDuplicates(t *testing.T) {
	k := validKernel()

	if err := k.AddValue("honesty"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := k.AddValue("honesty"); !errors.Is(err, ErrDuplicateInvariant) {
		t.Fatalf("expected ErrDuplicateInvariant, got %v", err)
	}
	if len(k.Invariants.Values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(k.Invariants.Values))
	}
}

func TestAddBoundaryPreservesOrder(t *testing.T) {
	k := validKernel()
	_ = k.AddBoundary("no medical advice")
	_ = k.AddBoundary("no financial advice")

	if k.Invariants.Boundaries[0] != "no medical advice" {
		t.Fatalf("expected insertion order preserved, got %v", k.Invariants.Boundaries)
	}
	if err := k.AddBoundary("no medical advice"); !errors.Is(err, ErrDuplicateInvariant) {
		t.Fatalf("expected ErrDuplicateInvariant, got %v", err)
	}
}

func TestKernelSignAndVerify(t *testing.T) {
	c := newTestCodec(t)
	k := validKernel()

	if k.Verified() {
		t.Fatal("unsigned kernel must not verify")
	}
	if err := k.Sign(c); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !k.Verified() {
		t.Fatal("expected signed kernel to verify")
	}

	// Any mutation after signing invalidates the signature.
	_ = k.AddValue("curiosity")
	if k.Verified() {
		t.Fatal("expected mutated kernel to fail verification")
	}
}
