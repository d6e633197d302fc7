// Package compactor implements AMCP's smart context compactor (spec §4.E):
// token-threshold-triggered history rewriting via one of four selectable
// strategies, always preserving the most recent preserve_last
// user/assistant pairs and the tool-call/tool-result pairing invariant.
//
// Grounded on internal/compaction/compaction.go (chunking,
// SplitMessagesByTokenShare, SummarizeInStages, PruneHistoryForContextShare)
// and internal/agent/context/{summarize,summary,pruning,packer}.go /
// internal/context/{window,truncation}.go from the teacher codebase.
package compactor

import (
	"context"
	"fmt"

	"github.com/amcp-dev/amcp/pkg/model"
)

// Strategy selects one of spec §4.E's four compaction approaches.
type Strategy string

const (
	StrategySummary  Strategy = "summary"
	StrategyTruncate Strategy = "truncate"
	StrategySliding  Strategy = "sliding_window"
	StrategyHybrid   Strategy = "hybrid"
)

// Summarizer asks a model to rewrite a message prefix into the fixed
// XML-tagged template. Implemented by internal/llm provider adapters; kept
// as an interface here so compactor has no direct LLM dependency, matching
// spec §1's "the LLM HTTP clients themselves [are] out of scope."
type Summarizer interface {
	Summarize(ctx context.Context, modelID string, prefix []model.Message, instructions string) (string, error)
}

// Config bundles the thresholds and knobs from spec §4.E.
type Config struct {
	ModelID          string
	ContextWindow    int // W, in tokens
	ThresholdRatio   float64 // default 0.7
	TargetRatio      float64 // default 0.3
	PreserveLast     int     // default 6 user/assistant pairs
	MaxToolResults   int
	Strategy         Strategy
	Estimator        Estimator
	Summarizer       Summarizer
}

// DefaultConfig fills in spec §4.E's stated defaults and the character-based
// FallbackEstimator, leaving ModelID, ContextWindow and Summarizer for the
// caller to set.
func DefaultConfig() Config {
	return Config{
		ThresholdRatio: 0.7,
		TargetRatio:    0.3,
		PreserveLast:   6,
		MaxToolResults: 20,
		Strategy:       StrategyHybrid,
		Estimator:      FallbackEstimator{},
	}
}

// Result carries the CONTEXT_COMPACTED event payload (spec §4.E).
type Result struct {
	History         []model.Message
	OriginalTokens  int
	CompactedTokens int
	Strategy        Strategy
	Model           string
}

// ShouldCompact reports whether history's estimated token count exceeds
// cfg's threshold.
func ShouldCompact(history []model.Message, cfg Config) bool {
	if cfg.ContextWindow <= 0 {
		return false
	}
	used := cfg.Estimator.EstimateHistory(history)
	return float64(used) > cfg.ThresholdRatio*float64(cfg.ContextWindow)
}

// Compact rewrites history per cfg.Strategy. It never leaves history empty
// and never violates the tool-call/tool-result pairing invariant. A
// one-message history is a no-op (spec §8 boundary behavior). If the
// summary strategy's model call fails, Compact falls back to hybrid
// (spec §4.E failure semantics).
func Compact(ctx context.Context, history []model.Message, cfg Config) (Result, error) {
	original := cfg.Estimator.EstimateHistory(history)

	if len(history) <= 1 {
		return Result{History: history, OriginalTokens: original, CompactedTokens: original, Strategy: cfg.Strategy, Model: cfg.ModelID}, nil
	}

	preserved := lastPairsKeepingToolPairing(history, cfg.PreserveLast)
	prefix := history[:len(history)-len(preserved)]

	var compacted []model.Message
	strategy := cfg.Strategy

	switch strategy {
	case StrategyTruncate:
		compacted = truncate(history, preserved)
	case StrategySliding:
		compacted = slidingWindow(history, preserved, cfg)
	case StrategySummary:
		summary, err := summarizePrefix(ctx, prefix, cfg)
		if err != nil {
			strategy = StrategyHybrid
			compacted = hybrid(ctx, prefix, preserved, cfg, "")
		} else {
			compacted = append([]model.Message{{Role: model.RoleSystem, Content: summary}}, preserved...)
		}
	case StrategyHybrid:
		compacted = hybrid(ctx, prefix, preserved, cfg, "")
	default:
		return Result{}, fmt.Errorf("compactor: unknown strategy %q", strategy)
	}

	compacted = fixPairing(compacted)
	if len(compacted) == 0 {
		// Never leave history empty.
		compacted = preserved
	}

	return Result{
		History:         compacted,
		OriginalTokens:  original,
		CompactedTokens: cfg.Estimator.EstimateHistory(compacted),
		Strategy:        strategy,
		Model:           cfg.ModelID,
	}, nil
}

// lastPairsKeepingToolPairing returns the trailing slice of history
// containing at least n user/assistant exchanges, extended backward as
// needed so no retained tool-result is missing its originating tool-call.
func lastPairsKeepingToolPairing(history []model.Message, n int) []model.Message {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	pairs := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		start = i
		if history[i].Role == model.RoleUser {
			pairs++
			if pairs >= n {
				break
			}
		}
	}
	window := history[start:]
	return fixPairingForward(history, start, window)
}

// fixPairingForward extends the window backward if its first message is a
// tool result whose tool-call lives before start.
func fixPairingForward(history []model.Message, start int, window []model.Message) []model.Message {
	for len(window) > 0 && window[0].Role == model.RoleTool && start > 0 {
		start--
		window = history[start:]
	}
	return window
}

// fixPairing drops every orphaned tool-result message, i.e. one whose
// tool-call does not appear earlier in messages (e.g. a stray tool result
// right after a summary system message), preserving the invariant that
// every retained tool-result is preceded by its tool-call.
func fixPairing(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	pending := make(map[string]bool)
	for _, m := range messages {
		if m.Role == model.RoleTool {
			if !pending[m.ToolCallID] {
				continue // orphan: drop
			}
			delete(pending, m.ToolCallID)
		}
		for _, tc := range m.ToolCalls {
			pending[tc.ID] = true
		}
		out = append(out, m)
	}
	return out
}

func truncate(history, preserved []model.Message) []model.Message {
	var sys []model.Message
	if len(history) > 0 && history[0].Role == model.RoleSystem {
		sys = history[:1]
	}
	out := append([]model.Message{}, sys...)
	out = append(out, preserved...)
	return out
}

func slidingWindow(history, preserved []model.Message, cfg Config) []model.Message {
	target := int(cfg.TargetRatio * float64(cfg.ContextWindow))
	window := append([]model.Message{}, preserved...)
	used := cfg.Estimator.EstimateHistory(window)
	// Walk backward from just before the preserved tail, adding messages
	// while there's budget.
	cut := len(history) - len(preserved)
	var extra []model.Message
	for i := cut - 1; i >= 0 && used < target; i-- {
		extra = append([]model.Message{history[i]}, extra...)
		used += cfg.Estimator.EstimateMessage(history[i])
	}
	return append(extra, window...)
}

func hybrid(ctx context.Context, prefix, preserved []model.Message, cfg Config, note string) []model.Message {
	if len(prefix) == 0 {
		return preserved
	}
	summaryText := note
	if summaryText == "" {
		summaryText = fmt.Sprintf("(%d earlier messages omitted)", len(prefix))
	}
	window := slidingWindow(append(prefix, preserved...), preserved, cfg)
	return append([]model.Message{{Role: model.RoleSystem, Content: summaryText}}, window...)
}

func summarizePrefix(ctx context.Context, prefix []model.Message, cfg Config) (string, error) {
	if cfg.Summarizer == nil {
		return "", fmt.Errorf("compactor: no summarizer configured")
	}
	instructions := "Summarize using exactly these XML tags: <current_task>, <completed>, <code_state>, <important>."
	return cfg.Summarizer.Summarize(ctx, cfg.ModelID, prefix, instructions)
}
