package domain

import (
	"time"

	"github.com/google/uuid"
)

// MemorySlice is one selected memory inside a compiled ContextPack.
// Content is present only for full or redacted access; metadata-only
// slices carry the envelope and nothing else.
type MemorySlice struct {
	Envelope     Envelope    `json:"envelope"`
	Content      string      `json:"content,omitempty"`
	ContentType  string      `json:"content_type,omitempty"`
	Access       AccessLevel `json:"access"`
	Score        float64     `json:"score"`
	MetadataOnly bool        `json:"metadata_only"`
}

// CompilationTrace is the audit record of one compilation. It counts
// every candidate's fate and the constraints applied, and never carries
// the content of excluded items.
type CompilationTrace struct {
	Considered   int    `json:"memories_considered"`
	Included     int    `json:"memories_included"`
	Redacted     int    `json:"memories_redacted"`
	MetadataOnly int    `json:"memories_metadata_only"`
	Denied       int    `json:"memories_denied"`
	TokensUsed   int    `json:"tokens_used"`
	MaxTokens    int    `json:"max_tokens"`
	MaxMemories  int    `json:"max_memories"`
	CandidateCap int    `json:"candidate_cap"`
	Intent       string `json:"intent"`
	Principal    string `json:"principal"`
}

// ContextPack is the compiled, budget-constrained bundle handed to one
// session: the kernel, the selected memory slices in ranked order, the
// policies that were in force, and the audit trace.
type ContextPack struct {
	Kernel         IdentityKernel   `json:"kernel"`
	Memories       []MemorySlice    `json:"memory_slices"`
	ActivePolicies []AccessPolicy   `json:"active_policies"`
	Trace          CompilationTrace `json:"compilation_trace"`
	CompiledAt     time.Time        `json:"compiled_at"`
}

// CompileOpts are the caller's constraints for one compilation.
type CompileOpts struct {
	Principal    string
	Intent       string
	Scopes       []Scope
	Kinds        []Kind
	Since        *time.Time
	MaxMemories  int
	MaxTokens    int
	CandidateCap int
}

// ReflectionRecord is the output schema of the external reflection
// pipeline. The ledger accepts these as plaintext payloads for new
// blobs and is agnostic to how they were derived.
type ReflectionRecord struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float32  `json:"confidence"`
}

// TokenEstimator converts content into a token estimate for the
// compiler's budget walk. The right estimate is model-dependent, so the
// strategy is pluggable rather than a fixed constant.
type TokenEstimator interface {
	Estimate(text string) int
}

// LineageEdge is one directed edge in the envelope graph, materialized
// for reconciliation and debug tooling.
type LineageEdge struct {
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Relation string    `json:"relation"`
}
