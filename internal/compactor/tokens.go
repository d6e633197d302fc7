package compactor

import (
	"github.com/amcp-dev/amcp/pkg/model"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerTokenFallback matches internal/compaction/compaction.go's
	// CharsPerToken heuristic from the teacher codebase.
	charsPerTokenFallback = 4
	perMessageOverhead    = 4
	perToolCallOverhead   = 8
)

// Estimator counts tokens for a message or a whole history. Real BPE
// counting is provided by TiktokenEstimator when the model's encoding is
// known; FallbackEstimator is the teacher's character-based heuristic,
// used when it is not (spec §4.E: "a tokenizer when available; otherwise
// an overhead-aware character-based fallback").
type Estimator interface {
	EstimateMessage(msg model.Message) int
	EstimateHistory(history []model.Message) int
}

// FallbackEstimator implements the 4-chars-per-token heuristic with
// per-message and per-tool-call overhead, grounded on
// internal/compaction/compaction.go's EstimateTokens.
type FallbackEstimator struct{}

func (FallbackEstimator) EstimateMessage(msg model.Message) int {
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Input) + len(tc.Name)
	}
	tokens := ceilDiv(chars, charsPerTokenFallback) + perMessageOverhead
	tokens += perToolCallOverhead * len(msg.ToolCalls)
	return tokens
}

func (f FallbackEstimator) EstimateHistory(history []model.Message) int {
	total := 0
	for _, m := range history {
		total += f.EstimateMessage(m)
	}
	return total
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// TiktokenEstimator wraps github.com/pkoukk/tiktoken-go's BPE encoder for
// the given model family. When the model's encoding cannot be resolved
// (unknown model id, or the tiktoken vocabulary file failed to load),
// NewTiktokenEstimator returns ok=false; a zero-value TiktokenEstimator,
// which has no encoder, counts with FallbackEstimator.
type TiktokenEstimator struct {
	enc      *tiktoken.Tiktoken
	fallback FallbackEstimator
}

// NewTiktokenEstimator resolves modelID's encoding. ok=false means no
// matching encoding was found and callers should use FallbackEstimator
// directly instead.
func NewTiktokenEstimator(modelID string) (*TiktokenEstimator, bool) {
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		return nil, false
	}
	return &TiktokenEstimator{enc: enc}, true
}

func (t *TiktokenEstimator) EstimateMessage(msg model.Message) int {
	if t.enc == nil {
		return t.fallback.EstimateMessage(msg)
	}
	tokens := len(t.enc.Encode(msg.Content, nil, nil)) + perMessageOverhead
	for _, tc := range msg.ToolCalls {
		tokens += len(t.enc.Encode(string(tc.Input), nil, nil)) + perToolCallOverhead
	}
	return tokens
}

func (t *TiktokenEstimator) EstimateHistory(history []model.Message) int {
	total := 0
	for _, m := range history {
		total += t.EstimateMessage(m)
	}
	return total
}
