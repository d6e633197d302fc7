package compactor

import (
	"context"
	"testing"

	"github.com/amcp-dev/amcp/pkg/model"
)

func msg(role model.Role, content string) model.Message {
	return model.Message{Role: role, Content: content}
}

func userAssistantPairs(n int) []model.Message {
	var out []model.Message
	for i := 0; i < n; i++ {
		out = append(out, msg(model.RoleUser, "question"), msg(model.RoleAssistant, "answer"))
	}
	return out
}

func TestCompactOneMessageIsNoOp(t *testing.T) {
	history := []model.Message{msg(model.RoleUser, "hello")}
	cfg := DefaultConfig()
	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.History) != 1 || result.History[0].Content != "hello" {
		t.Fatalf("expected no-op, got %+v", result.History)
	}
}

func TestCompactPreservesLastNPairs(t *testing.T) {
	history := userAssistantPairs(20)
	cfg := DefaultConfig()
	cfg.ContextWindow = 10000
	cfg.PreserveLast = 6
	cfg.Strategy = StrategyTruncate

	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}

	wantTail := history[len(history)-6*2:]
	gotTail := result.History[len(result.History)-6*2:]
	if len(gotTail) != len(wantTail) {
		t.Fatalf("tail length = %d, want %d", len(gotTail), len(wantTail))
	}
	for i := range wantTail {
		if gotTail[i].Content != wantTail[i].Content || gotTail[i].Role != wantTail[i].Role {
			t.Fatalf("tail[%d] = %+v, want %+v", i, gotTail[i], wantTail[i])
		}
	}
}

func TestCompactReducesEstimatedTokensBelowTarget(t *testing.T) {
	history := userAssistantPairs(50)
	cfg := DefaultConfig()
	cfg.ContextWindow = 500
	cfg.TargetRatio = 0.3
	cfg.PreserveLast = 3
	cfg.Strategy = StrategyHybrid

	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}
	target := int(cfg.TargetRatio * float64(cfg.ContextWindow))
	if result.CompactedTokens > target+200 { // small slack for the summary note + preserved tail
		t.Fatalf("compacted tokens = %d, want roughly <= %d", result.CompactedTokens, target)
	}
	if result.CompactedTokens >= result.OriginalTokens {
		t.Fatalf("compaction did not reduce size: %d -> %d", result.OriginalTokens, result.CompactedTokens)
	}
}

func TestCompactNeverOrphansToolResult(t *testing.T) {
	history := []model.Message{
		msg(model.RoleUser, "run it"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "tc1", Name: "bash", Input: []byte(`{}`)}}},
		{Role: model.RoleTool, ToolCallID: "tc1", Content: "ok"},
		msg(model.RoleAssistant, "done"),
	}
	history = append(userAssistantPairs(10), history...)

	cfg := DefaultConfig()
	cfg.ContextWindow = 5000
	cfg.PreserveLast = 1
	cfg.Strategy = StrategyTruncate

	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range result.History {
		if m.Role == model.RoleTool {
			found := false
			for _, prior := range result.History {
				for _, tc := range prior.ToolCalls {
					if tc.ID == m.ToolCallID {
						found = true
					}
				}
			}
			if !found {
				t.Fatalf("tool result %+v has no matching tool call in compacted history", m)
			}
		}
	}
}

func TestCompactUnknownStrategyErrors(t *testing.T) {
	history := userAssistantPairs(3)
	cfg := DefaultConfig()
	cfg.ContextWindow = 1000
	cfg.Strategy = Strategy("bogus")
	if _, err := Compact(context.Background(), history, cfg); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestCompactSummaryFailureFallsBackToHybrid(t *testing.T) {
	history := userAssistantPairs(20)
	cfg := DefaultConfig()
	cfg.ContextWindow = 2000
	cfg.Strategy = StrategySummary
	cfg.Summarizer = nil // forces summarizePrefix to fail

	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if result.Strategy != StrategyHybrid {
		t.Fatalf("strategy = %v, want fallback to hybrid", result.Strategy)
	}
}

func TestShouldCompactRespectsThreshold(t *testing.T) {
	history := userAssistantPairs(100)
	cfg := DefaultConfig()
	cfg.ContextWindow = 1_000_000
	if ShouldCompact(history, cfg) {
		t.Fatal("expected ShouldCompact=false well under threshold")
	}
	cfg.ContextWindow = 10
	if !ShouldCompact(history, cfg) {
		t.Fatal("expected ShouldCompact=true once usage exceeds threshold*window")
	}
}

type stubSummarizer struct{ text string }

func (s stubSummarizer) Summarize(ctx context.Context, modelID string, prefix []model.Message, instructions string) (string, error) {
	return s.text, nil
}

func TestCompactSummaryStrategyUsesSummarizerOutput(t *testing.T) {
	history := userAssistantPairs(20)
	cfg := DefaultConfig()
	cfg.ContextWindow = 2000
	cfg.Strategy = StrategySummary
	cfg.Summarizer = stubSummarizer{text: "<current_task>resume work</current_task>"}

	result, err := Compact(context.Background(), history, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if result.Strategy != StrategySummary {
		t.Fatalf("strategy = %v, want summary", result.Strategy)
	}
	if result.History[0].Content != cfg.Summarizer.(stubSummarizer).text {
		t.Fatalf("expected first message to be the summary, got %+v", result.History[0])
	}
}
