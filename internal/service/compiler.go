package service

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/metrics"
)

// Compilation defaults, applied when CompileOpts leave a field zero.
const (
	DefaultMaxMemories  = 10
	DefaultMaxTokens    = 4000
	DefaultCandidateCap = 200
	DefaultFetchWorkers = 8
)

// ErrKernelRequired is the only fatal compiler error: no session can
// proceed without an authenticated identity.
var ErrKernelRequired = errors.New("service: identity kernel is required for compilation")

// Compiler assembles ContextPacks. Stages run strictly in order —
// query, score, verify, fetch, budget — and every per-envelope failure
// downgrades that single item and is tallied, never aborts the
// compilation.
type Compiler struct {
	ledger       *Ledger
	index        domain.EnvelopeIndex
	policies     domain.PolicyStore
	scorer       *RelevanceScorer
	estimator    domain.TokenEstimator
	metrics      metrics.Collector
	logger       *zap.Logger
	fetchWorkers int
}

// NewCompiler wires a compiler. A nil estimator gets the chars/4
// heuristic.
func NewCompiler(ledger *Ledger, index domain.EnvelopeIndex, policies domain.PolicyStore, estimator domain.TokenEstimator, collector metrics.Collector, logger *zap.Logger) *Compiler {
	if estimator == nil {
		estimator = NewHeuristicEstimator()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{
		ledger:       ledger,
		index:        index,
		policies:     policies,
		scorer:       NewRelevanceScorer(),
		estimator:    estimator,
		metrics:      collector,
		logger:       logger,
		fetchWorkers: DefaultFetchWorkers,
	}
}

// fetchResult is one candidate's outcome after the fetch stage,
// slotted by rank so budgeting order never depends on completion order.
type fetchResult struct {
	scored ScoredEnvelope
	blob   *domain.MemoryBlob
	policy *domain.AccessPolicy
	access domain.AccessLevel
	denied bool
}

// Compile runs the full pipeline for one session. It returns
// successfully whenever the kernel is present; per-item failures show
// up as denied counts in the trace, not as errors.
func (c *Compiler) Compile(ctx context.Context, kernel *domain.IdentityKernel, opts domain.CompileOpts) (*domain.ContextPack, error) {
	if kernel == nil {
		return nil, ErrKernelRequired
	}
	start := time.Now()
	now := start.UTC()

	if opts.MaxMemories <= 0 {
		opts.MaxMemories = DefaultMaxMemories
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.CandidateCap <= 0 {
		opts.CandidateCap = DefaultCandidateCap
	}
	if opts.Principal == "" {
		opts.Principal = kernel.ID.String()
	}

	// Querying.
	candidates, err := c.index.Query(ctx, domain.QueryOpts{
		Scopes: opts.Scopes,
		Kinds:  opts.Kinds,
		Since:  opts.Since,
		Limit:  opts.CandidateCap,
	})
	if err != nil {
		return nil, fmt.Errorf("service: querying candidates: %w", err)
	}
	superseded, err := c.index.SupersededIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: loading supersession set: %w", err)
	}

	// Tombstones are markers, not memories: excluded before counting.
	live := candidates[:0]
	for _, e := range candidates {
		if e.Kind != domain.KindTombstone {
			live = append(live, e)
		}
	}

	trace := domain.CompilationTrace{
		Considered:   len(live),
		MaxTokens:    opts.MaxTokens,
		MaxMemories:  opts.MaxMemories,
		CandidateCap: opts.CandidateCap,
		Intent:       opts.Intent,
		Principal:    opts.Principal,
	}

	// Scoring.
	ranked := c.scorer.ScoreAndRank(live, opts.Intent, kernel, now)

	// Verifying + policy evaluation, in ranked order.
	trusted := c.trustedKeys(kernel)
	results := make([]fetchResult, len(ranked))
	policyCache := make(map[uuid.UUID]*domain.AccessPolicy)
	for i, scored := range ranked {
		results[i] = c.gate(ctx, scored, kernel, opts, superseded, trusted, policyCache, now)
	}

	// Fetching: bounded concurrency; results land by rank index.
	c.fetchAll(ctx, results)

	// Budgeting: a single deterministic walk over ranked order.
	pack := &domain.ContextPack{
		Kernel:     *kernel,
		CompiledAt: now,
	}
	seenPolicies := make(map[uuid.UUID]bool)
	tokensUsed := 0
	fullContent := 0
	exhausted := false
	for _, result := range results {
		if result.denied {
			trace.Denied++
			continue
		}
		slice := domain.MemorySlice{
			Envelope: result.scored.Envelope,
			Access:   result.access,
			Score:    result.scored.Score,
		}
		cost := c.estimator.Estimate(string(result.blob.Content))
		// Once the budget is crossed it stays crossed: the item that
		// would exceed it and every item after it are metadata-only,
		// even if a later, smaller one would have fit.
		if tokensUsed+cost > opts.MaxTokens || fullContent >= opts.MaxMemories {
			exhausted = true
		}
		if exhausted {
			// Envelope included, content withheld. Never silently
			// dropped.
			slice.MetadataOnly = true
			trace.MetadataOnly++
		} else {
			slice.ContentType = result.blob.ContentType
			if result.access == domain.AccessRedacted {
				slice.Content = applyRedaction(result.blob.Content, result.policy.Redaction)
				trace.Redacted++
			} else {
				slice.Content = string(result.blob.Content)
			}
			tokensUsed += cost
			fullContent++
			trace.Included++
		}
		if result.policy != nil && !seenPolicies[result.policy.ID] {
			seenPolicies[result.policy.ID] = true
			pack.ActivePolicies = append(pack.ActivePolicies, *result.policy)
		}
		pack.Memories = append(pack.Memories, slice)
	}
	trace.TokensUsed = tokensUsed
	pack.Trace = trace

	c.metrics.ObserveCompile(time.Since(start).Seconds())
	c.metrics.CountMemories(metrics.OutcomeIncluded, trace.Included)
	c.metrics.CountMemories(metrics.OutcomeRedacted, trace.Redacted)
	c.metrics.CountMemories(metrics.OutcomeMetadataOnly, trace.MetadataOnly)
	c.metrics.CountMemories(metrics.OutcomeDenied, trace.Denied)

	c.logger.Info("context pack compiled",
		zap.Int("considered", trace.Considered),
		zap.Int("included", trace.Included),
		zap.Int("metadata_only", trace.MetadataOnly),
		zap.Int("denied", trace.Denied),
		zap.Int("tokens_used", trace.TokensUsed),
	)
	return pack, nil
}

// gate applies the verifying stage to one candidate: supersession,
// attestation verification, and policy evaluation. Failures deny the
// single item.
func (c *Compiler) gate(ctx context.Context, scored ScoredEnvelope, kernel *domain.IdentityKernel, opts domain.CompileOpts, superseded map[uuid.UUID]bool, trusted map[string]ed25519.PublicKey, policyCache map[uuid.UUID]*domain.AccessPolicy, now time.Time) fetchResult {
	result := fetchResult{scored: scored}
	e := scored.Envelope

	if superseded[e.ID] {
		result.denied = true
		return result
	}
	if report := e.Verify(trusted); !report.Valid {
		c.logger.Debug("attestation verification failed",
			zap.String("envelope_id", e.ID.String()))
		result.denied = true
		return result
	}

	owner := kernel.ID.String()
	if e.AccessPolicyID == nil {
		// No consent record: the memory is private to its owner.
		if opts.Principal != owner {
			result.denied = true
			return result
		}
		result.access = domain.AccessFull
		return result
	}

	policy, ok := policyCache[*e.AccessPolicyID]
	if !ok {
		var err error
		policy, err = c.policies.GetByID(ctx, *e.AccessPolicyID)
		if err != nil {
			policy = nil
		}
		policyCache[*e.AccessPolicyID] = policy
	}
	if policy == nil {
		// Missing policy fails closed.
		result.denied = true
		return result
	}
	result.policy = policy
	result.access = policy.AccessLevel(opts.Principal, opts.Intent, now)
	if result.access == domain.AccessDenied {
		result.denied = true
	}
	return result
}

// fetchAll decrypts surviving candidates concurrently under a worker
// bound. Concurrency parallelizes fetching only; results are slotted by
// rank so the budgeting walk stays deterministic.
func (c *Compiler) fetchAll(ctx context.Context, results []fetchResult) {
	sem := make(chan struct{}, c.fetchWorkers)
	var wg sync.WaitGroup
	for i := range results {
		if results[i].denied {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(slot *fetchResult) {
			defer wg.Done()
			defer func() { <-sem }()
			blob, err := c.ledger.Fetch(ctx, &slot.scored.Envelope)
			if err != nil {
				// NotFound and DecryptionFailed are expected partial
				// failures; the item is denied, compilation continues.
				c.logger.Debug("blob fetch failed",
					zap.String("envelope_id", slot.scored.Envelope.ID.String()),
					zap.Error(err))
				slot.denied = true
				return
			}
			slot.blob = blob
		}(&results[i])
	}
	wg.Wait()
}

// trustedKeys collects the verification keys the compiler accepts
// beyond those embedded in attestations: the local keypair and the
// kernel's signer.
func (c *Compiler) trustedKeys(kernel *domain.IdentityKernel) map[string]ed25519.PublicKey {
	trusted := make(map[string]ed25519.PublicKey)
	trusted[kernel.ID.String()] = c.ledger.codec.PublicKey()
	if kernel.SignerPublicKey != "" {
		if raw, err := hex.DecodeString(kernel.SignerPublicKey); err == nil && len(raw) == ed25519.PublicKeySize {
			trusted["kernel:"+kernel.ID.String()] = ed25519.PublicKey(raw)
		}
	}
	return trusted
}

// applyRedaction blanks the policy's named fields when the content is a
// JSON object; otherwise the whole content is replaced. The replacement
// pattern defaults to a fixed marker.
func applyRedaction(content []byte, r domain.Redaction) string {
	replacement := r.Replacement
	if replacement == "" {
		replacement = "[redacted]"
	}
	if len(r.Fields) == 0 {
		return replacement
	}
	var obj map[string]any
	if err := json.Unmarshal(content, &obj); err != nil {
		return replacement
	}
	for _, field := range r.Fields {
		if _, ok := obj[field]; ok {
			obj[field] = replacement
		}
	}
	redacted, err := json.Marshal(obj)
	if err != nil {
		return replacement
	}
	return string(redacted)
}
