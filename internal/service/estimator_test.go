package service

import (
	"strings"
	"testing"
)

func TestHeuristicEstimator(t *testing.T) {
	e := NewHeuristicEstimator()

	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 1},
		{strings.Repeat("x", 40), 10},
		{strings.Repeat("x", 43), 10},
	}
	for _, c := range cases {
		if got := e.Estimate(c.text); got != c.want {
			t.Fatalf("Estimate(%d chars) = %d, want %d", len(c.text), got, c.want)
		}
	}
}

func TestHeuristicEstimatorZeroDivisor(t *testing.T) {
	e := &HeuristicEstimator{CharsPerToken: 0}
	if got := e.Estimate("abcdefgh"); got != 2 {
		t.Fatalf("expected fallback to chars/4, got %d", got)
	}
}
