package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

// Reconciler runs the periodic consistency passes the hot path never
// performs: orphaned-blob detection (a crash between blob-store and
// envelope-store is an accepted failure mode) and lineage cycle
// detection (the graph is acyclic by convention only).
type Reconciler struct {
	content domain.ListingContentStore
	index   domain.EnvelopeIndex
	logger  *zap.Logger
}

func NewReconciler(content domain.ListingContentStore, index domain.EnvelopeIndex, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{content: content, index: index, logger: logger}
}

// OrphanedBlobs returns addresses present in the content store with no
// referencing envelope. Requires the listing capability, so it works on
// local and dev backends only.
func (r *Reconciler) OrphanedBlobs(ctx context.Context) ([]string, error) {
	stored, err := r.content.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: listing content store: %w", err)
	}
	referenced, err := r.index.Addresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: listing referenced addresses: %w", err)
	}
	known := make(map[string]bool, len(referenced))
	for _, address := range referenced {
		known[address] = true
	}
	var orphans []string
	for _, address := range stored {
		if !known[address] {
			orphans = append(orphans, address)
		}
	}
	if len(orphans) > 0 {
		r.logger.Warn("orphaned blobs detected", zap.Int("count", len(orphans)))
	}
	return orphans, nil
}

// LineageCycles walks the materialized lineage graph and returns any
// cycles found, each as the ids along the cycle. Debug tooling: the
// compiler never assumes acyclicity.
func (r *Reconciler) LineageCycles(ctx context.Context) ([][]uuid.UUID, error) {
	edges, err := r.index.Edges(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: loading lineage edges: %w", err)
	}
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for _, edge := range edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[uuid.UUID]int)
	var cycles [][]uuid.UUID
	var stack []uuid.UUID

	var visit func(node uuid.UUID)
	visit = func(node uuid.UUID) {
		state[node] = inStack
		stack = append(stack, node)
		for _, next := range adjacency[node] {
			switch state[next] {
			case unvisited:
				visit(next)
			case inStack:
				// Extract the cycle from the stack tail.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := make([]uuid.UUID, len(stack)-i)
						copy(cycle, stack[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
	}

	for node := range adjacency {
		if state[node] == unvisited {
			visit(node)
		}
	}
	if len(cycles) > 0 {
		r.logger.Warn("lineage cycles detected", zap.Int("count", len(cycles)))
	}
	return cycles, nil
}
