package service

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

func scorerEnvelope(kind domain.Kind, age time.Duration, tags []string, risk domain.RiskClass, now time.Time) domain.Envelope {
	return domain.Envelope{
		ID:        uuid.New(),
		CreatedAt: now.Add(-age),
		Scope:     domain.ScopeAgent,
		Kind:      kind,
		TopicTags: tags,
		RiskClass: risk,
	}
}

func TestScoreIsInUnitInterval(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	cases := []domain.Envelope{
		scorerEnvelope(domain.KindSemantic, 0, nil, domain.RiskLow, now),
		scorerEnvelope(domain.KindEpisodic, 400*24*time.Hour, []string{"old"}, domain.RiskHigh, now),
		scorerEnvelope(domain.KindTombstone, time.Hour, nil, domain.RiskMed, now),
	}
	for _, e := range cases {
		s := scorer.Score(e, "learn about secure patterns", nil, now)
		if s.Score < 0 || s.Score > 1 {
			t.Fatalf("score %f out of [0,1] for kind %s", s.Score, e.Kind)
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()
	e := scorerEnvelope(domain.KindSemantic, time.Hour, []string{"project"}, domain.RiskLow, now)

	first := scorer.Score(e, "learn about the project", nil, now)
	second := scorer.Score(e, "learn about the project", nil, now)
	if first.Score != second.Score {
		t.Fatalf("expected identical scores, got %f and %f", first.Score, second.Score)
	}
}

// A "learn" intent must prefer semantic memories over episodic ones of
// the same age and tags.
func TestLearnIntentPrefersSemantic(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	semantic := scorerEnvelope(domain.KindSemantic, time.Hour, []string{"project"}, domain.RiskLow, now)
	episodic := scorerEnvelope(domain.KindEpisodic, time.Hour, []string{"project"}, domain.RiskLow, now)

	ranked := scorer.ScoreAndRank([]domain.Envelope{episodic, semantic}, "learn about the project", nil, now)
	if ranked[0].Envelope.ID != semantic.ID {
		t.Fatalf("expected semantic memory ranked first, got %s", ranked[0].Envelope.Kind)
	}
	if ranked[0].Breakdown.KindAffinity != 1.0 {
		t.Fatalf("expected full kind affinity for semantic on learn intent, got %f", ranked[0].Breakdown.KindAffinity)
	}
	if ranked[1].Breakdown.KindAffinity != 0.5 {
		t.Fatalf("expected neutral affinity for episodic, got %f", ranked[1].Breakdown.KindAffinity)
	}
}

func TestTombstoneAffinityIsZero(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()
	tomb := scorerEnvelope(domain.KindTombstone, time.Hour, nil, domain.RiskLow, now)

	s := scorer.Score(tomb, "remember what happened", nil, now)
	if s.Breakdown.KindAffinity != 0 {
		t.Fatalf("expected zero affinity for tombstone, got %f", s.Breakdown.KindAffinity)
	}
}

func TestRecencyDecay(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	fresh := scorer.Score(scorerEnvelope(domain.KindSemantic, 0, nil, domain.RiskLow, now), "", nil, now)
	stale := scorer.Score(scorerEnvelope(domain.KindSemantic, 180*24*time.Hour, nil, domain.RiskLow, now), "", nil, now)
	ancient := scorer.Score(scorerEnvelope(domain.KindSemantic, 400*24*time.Hour, nil, domain.RiskLow, now), "", nil, now)

	if !(fresh.Breakdown.Recency > stale.Breakdown.Recency) {
		t.Fatal("expected fresher envelope to score higher on recency")
	}
	if ancient.Breakdown.Recency != 0 {
		t.Fatalf("expected year-old envelope to score zero recency, got %f", ancient.Breakdown.Recency)
	}
}

// Absence of tags is not evidence against relevance.
func TestEmptyTagsAreNeutral(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	s := scorer.Score(scorerEnvelope(domain.KindSemantic, time.Hour, nil, domain.RiskLow, now), "learn things", nil, now)
	if s.Breakdown.TagOverlap != 0.5 {
		t.Fatalf("expected neutral 0.5 tag overlap for untagged envelope, got %f", s.Breakdown.TagOverlap)
	}
}

func TestTagOverlap(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	tagged := scorerEnvelope(domain.KindSemantic, time.Hour, []string{"scheduler", "race"}, domain.RiskLow, now)
	s := scorer.Score(tagged, "scheduler race", nil, now)
	if s.Breakdown.TagOverlap != 1.0 {
		t.Fatalf("expected full overlap, got %f", s.Breakdown.TagOverlap)
	}

	partial := scorer.Score(tagged, "scheduler design docs review", nil, now)
	if partial.Breakdown.TagOverlap <= 0 || partial.Breakdown.TagOverlap >= 1 {
		t.Fatalf("expected partial overlap in (0,1), got %f", partial.Breakdown.TagOverlap)
	}
}

func TestHighRiskNeedsSensitivityIntent(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()
	risky := scorerEnvelope(domain.KindSemantic, time.Hour, nil, domain.RiskHigh, now)

	plain := scorer.Score(risky, "learn about the project", nil, now)
	if plain.Breakdown.Risk != 0.3 {
		t.Fatalf("expected penalized risk score 0.3, got %f", plain.Breakdown.Risk)
	}

	signaled := scorer.Score(risky, "review sensitive records", nil, now)
	if signaled.Breakdown.Risk != 1.0 {
		t.Fatalf("expected sensitivity keyword to unlock high risk, got %f", signaled.Breakdown.Risk)
	}
}

func TestValueAlignment(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()
	kernel := &domain.IdentityKernel{
		Invariants: domain.Invariants{Values: []string{"protect privacy"}},
	}

	aligned := scorerEnvelope(domain.KindSemantic, time.Hour, []string{"privacy"}, domain.RiskLow, now)
	s := scorer.Score(aligned, "", kernel, now)
	if s.Breakdown.Values != 0.9 {
		t.Fatalf("expected 0.9 for value-aligned tags, got %f", s.Breakdown.Values)
	}

	unrelated := scorerEnvelope(domain.KindSemantic, time.Hour, []string{"cooking"}, domain.RiskLow, now)
	s = scorer.Score(unrelated, "", kernel, now)
	if s.Breakdown.Values != 0.5 {
		t.Fatalf("expected neutral 0.5 for unrelated tags, got %f", s.Breakdown.Values)
	}
}

func TestRankTiesBreakByRecency(t *testing.T) {
	scorer := NewRelevanceScorer()
	now := time.Now().UTC()

	older := scorerEnvelope(domain.KindSemantic, 2*time.Minute, nil, domain.RiskLow, now)
	newer := scorerEnvelope(domain.KindSemantic, time.Minute, nil, domain.RiskLow, now)

	ranked := scorer.ScoreAndRank([]domain.Envelope{older, newer}, "", nil, now)
	if ranked[0].Envelope.ID != newer.ID {
		t.Fatal("expected the more recent envelope to rank first")
	}
}
