package service

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

func TestOrphanedBlobs(t *testing.T) {
	content := newMockContentStore()
	idx := newMockIndex()
	ledger := NewLedger(newTestCodec(t), content, idx, "kernel-1", nil, nil)
	reconciler := NewReconciler(content, idx, nil)
	ctx := context.Background()

	if _, err := ledger.Remember(ctx, []byte("referenced"), RememberOpts{}); err != nil {
		t.Fatalf("remember: %v", err)
	}

	orphans, err := reconciler.OrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("orphaned blobs: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", orphans)
	}

	// A blob written without its envelope, as after a crash mid-write.
	stray, err := content.Put(ctx, []byte("never indexed"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	orphans, err = reconciler.OrphanedBlobs(ctx)
	if err != nil {
		t.Fatalf("orphaned blobs: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != stray {
		t.Fatalf("expected the stray address, got %v", orphans)
	}
}

func TestLineageCyclesCleanGraph(t *testing.T) {
	content := newMockContentStore()
	idx := newMockIndex()
	ledger := NewLedger(newTestCodec(t), content, idx, "kernel-1", nil, nil)
	reconciler := NewReconciler(content, idx, nil)
	ctx := context.Background()

	first, _ := ledger.Remember(ctx, []byte("v1"), RememberOpts{})
	second, _ := ledger.Supersede(ctx, first.ID, []byte("v2"), RememberOpts{})
	if _, err := ledger.Supersede(ctx, second.ID, []byte("v3"), RememberOpts{}); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	cycles, err := reconciler.LineageCycles(ctx)
	if err != nil {
		t.Fatalf("lineage cycles: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("expected acyclic graph, got %v", cycles)
	}
}

func TestLineageCyclesDetected(t *testing.T) {
	idx := newMockIndex()
	reconciler := NewReconciler(newMockContentStore(), idx, nil)
	ctx := context.Background()

	// Edges are index-level state; a buggy or hostile writer could close
	// a loop, so the detector must find one regardless of how it got in.
	a, b := uuid.New(), uuid.New()
	idx.envelopes[a] = &domain.Envelope{ID: a, Lineage: domain.Lineage{Parents: []uuid.UUID{b}}}
	idx.envelopes[b] = &domain.Envelope{ID: b, Lineage: domain.Lineage{Parents: []uuid.UUID{a}}}

	cycles, err := reconciler.LineageCycles(ctx)
	if err != nil {
		t.Fatalf("lineage cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected one cycle, got %d", len(cycles))
	}
	if len(cycles[0]) != 2 {
		t.Fatalf("expected a two-node cycle, got %v", cycles[0])
	}
}
