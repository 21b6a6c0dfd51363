package service

import (
	"sort"
	"strings"
	"time"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

// Sub-score weights. They sum to 1.0 so the final score stays in [0,1]
// when every sub-score does.
const (
	WeightRecency      = 0.20
	WeightKindAffinity = 0.25
	WeightTagOverlap   = 0.25
	WeightValues       = 0.15
	WeightRisk         = 0.15
)

// recencyWindow is the linear decay horizon: an envelope one year old
// scores zero on recency.
const recencyWindow = 365 * 24 * time.Hour

// affinityKeywords maps envelope kinds to intent keywords that boost
// them. An intent containing any keyword for a kind scores that kind
// 1.0 on affinity; unmatched kinds default to 0.5 and tombstones are
// forced to 0.
var affinityKeywords = map[domain.Kind][]string{
	domain.KindSemantic:   {"learn", "know", "fact", "understand", "explain"},
	domain.KindEpisodic:   {"remember", "recall", "happened", "event", "history"},
	domain.KindReflection: {"reflect", "insight", "pattern", "review", "retrospective"},
	domain.KindKernelRef:  {"identity", "self", "values"},
	domain.KindPolicy:     {"consent", "permission", "policy"},
}

// sensitivityKeywords signal that the intent explicitly handles
// sensitive material, unlocking high-risk envelopes.
var sensitivityKeywords = []string{"sensitive", "private", "confidential", "secret", "secure"}

// ScoreBreakdown exposes the five sub-scores for audit and tuning.
type ScoreBreakdown struct {
	Recency      float64 `json:"recency"`
	KindAffinity float64 `json:"kind_affinity"`
	TagOverlap   float64 `json:"tag_overlap"`
	Values       float64 `json:"value_alignment"`
	Risk         float64 `json:"risk_appropriateness"`
	FinalScore   float64 `json:"final_score"`
}

// ScoredEnvelope pairs a candidate with its relevance score.
type ScoredEnvelope struct {
	Envelope  domain.Envelope `json:"envelope"`
	Score     float64         `json:"score"`
	Breakdown ScoreBreakdown  `json:"score_breakdown"`
}

// RelevanceScorer scores envelopes against a session intent and the
// identity kernel. Score is pure: no I/O, no mutation, reproducible for
// identical inputs.
type RelevanceScorer struct{}

func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

// Score computes the weighted relevance of one envelope in [0,1].
func (s *RelevanceScorer) Score(e domain.Envelope, intent string, kernel *domain.IdentityKernel, now time.Time) ScoredEnvelope {
	intentTokens := tokenize(intent)

	breakdown := ScoreBreakdown{
		Recency:      recencyScore(e.CreatedAt, now),
		KindAffinity: kindAffinityScore(e.Kind, intentTokens),
		TagOverlap:   tagOverlapScore(e.TopicTags, intentTokens),
		Values:       valueAlignmentScore(e.TopicTags, kernel),
		Risk:         riskScore(e.RiskClass, intentTokens),
	}
	breakdown.FinalScore = WeightRecency*breakdown.Recency +
		WeightKindAffinity*breakdown.KindAffinity +
		WeightTagOverlap*breakdown.TagOverlap +
		WeightValues*breakdown.Values +
		WeightRisk*breakdown.Risk

	return ScoredEnvelope{Envelope: e, Score: breakdown.FinalScore, Breakdown: breakdown}
}

// ScoreAndRank scores all candidates and orders them descending by
// score, ties broken by created_at descending so the most recent wins.
func (s *RelevanceScorer) ScoreAndRank(candidates []domain.Envelope, intent string, kernel *domain.IdentityKernel, now time.Time) []ScoredEnvelope {
	scored := make([]ScoredEnvelope, 0, len(candidates))
	for _, e := range candidates {
		scored = append(scored, s.Score(e, intent, kernel, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Envelope.CreatedAt.After(scored[j].Envelope.CreatedAt)
	})
	return scored
}

// recencyScore decays linearly from 1 at now to 0 at one year old.
func recencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

func kindAffinityScore(kind domain.Kind, intentTokens map[string]bool) float64 {
	if kind == domain.KindTombstone {
		return 0
	}
	for _, keyword := range affinityKeywords[kind] {
		if intentTokens[keyword] {
			return 1.0
		}
	}
	return 0.5
}

// tagOverlapScore is the intersection of intent tokens and tags,
// normalized by the larger side. Absence of tags is not evidence
// against relevance, so either side empty scores 0.5.
func tagOverlapScore(tags []string, intentTokens map[string]bool) float64 {
	if len(tags) == 0 || len(intentTokens) == 0 {
		return 0.5
	}
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[strings.ToLower(tag)] = true
	}
	overlap := 0
	for token := range intentTokens {
		if tagSet[token] {
			overlap++
		}
	}
	larger := len(tagSet)
	if len(intentTokens) > larger {
		larger = len(intentTokens)
	}
	return float64(overlap) / float64(larger)
}

// valueAlignmentScore is 0.9 when any kernel value shares a token with
// a tag, else the neutral 0.5.
func valueAlignmentScore(tags []string, kernel *domain.IdentityKernel) float64 {
	if kernel == nil || len(tags) == 0 {
		return 0.5
	}
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[strings.ToLower(tag)] = true
	}
	for _, value := range kernel.Invariants.Values {
		for token := range tokenize(value) {
			if tagSet[token] {
				return 0.9
			}
		}
	}
	return 0.5
}

// riskScore gates high-risk envelopes behind explicit sensitivity
// signaling in the intent.
func riskScore(risk domain.RiskClass, intentTokens map[string]bool) float64 {
	switch risk {
	case domain.RiskHigh:
		for _, keyword := range sensitivityKeywords {
			if intentTokens[keyword] {
				return 1.0
			}
		}
		return 0.3
	case domain.RiskMed:
		return 0.7
	default:
		return 1.0
	}
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]")
		if token != "" {
			tokens[token] = true
		}
	}
	return tokens
}
