package service

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mnemoslabs/mnemos/internal/domain"
)

// HeuristicEstimator approximates tokens as characters divided by a
// constant. Cheap, deterministic, and model-agnostic; the default.
type HeuristicEstimator struct {
	CharsPerToken int
}

// NewHeuristicEstimator returns the chars/4 default.
func NewHeuristicEstimator() *HeuristicEstimator {
	return &HeuristicEstimator{CharsPerToken: 4}
}

func (e *HeuristicEstimator) Estimate(text string) int {
	per := e.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := len(text) / per
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// BPEEstimator counts tokens with a real BPE encoding for callers that
// budget against a specific model family.
type BPEEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewBPEEstimator loads the named encoding (e.g. "cl100k_base").
func NewBPEEstimator(encoding string) (*BPEEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("service: loading token encoding %q: %w", encoding, err)
	}
	return &BPEEstimator{enc: enc}, nil
}

func (e *BPEEstimator) Estimate(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

var (
	_ domain.TokenEstimator = (*HeuristicEstimator)(nil)
	_ domain.TokenEstimator = (*BPEEstimator)(nil)
)
