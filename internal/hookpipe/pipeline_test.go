package hookpipe

import (
	"context"
	"testing"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

func TestRunAllowsWhenNoHandlers(t *testing.T) {
	p := New()
	result, errs := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse})
	if result.Blocked || len(errs) != 0 {
		t.Fatalf("expected no-op pipeline to pass, got %+v errs=%v", result, errs)
	}
}

func TestRunBlockingHandlerStopsChain(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPreToolUse, []model.HookHandler{
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `echo "denied" >&2; exit 2`, Enabled: true, Timeout: time.Second},
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `echo "should not run" >&2; exit 2`, Enabled: true, Timeout: time.Second},
	})
	result, errs := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse, ToolName: "bash"})
	if !result.Blocked {
		t.Fatal("expected Blocked=true on exit code 2")
	}
	if result.DenialReason == "" {
		t.Fatal("expected DenialReason to carry stderr")
	}
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestRunParsesJSONStdout(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPostToolUse, []model.HookHandler{
		{Event: model.HookPostToolUse, Type: model.HookTypeCommand, Command: `echo '{"feedback":"nice work"}'`, Enabled: true, Timeout: time.Second},
	})
	result, errs := p.Run(context.Background(), Input{HookEventName: model.HookPostToolUse})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if result.Output.Feedback != "nice work" {
		t.Fatalf("Feedback = %q, want %q", result.Output.Feedback, "nice work")
	}
}

func TestRunNonBlockingExitLogsErrorOnly(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPreToolUse, []model.HookHandler{
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `exit 7`, Enabled: true, Timeout: time.Second},
	})
	result, errs := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse})
	if result.Blocked {
		t.Fatal("non-2 exit code must not block")
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one logged error, got %d", len(errs))
	}
}

func TestRunTimeoutIsNonBlocking(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPreToolUse, []model.HookHandler{
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `sleep 2`, Enabled: true, Timeout: 20 * time.Millisecond},
	})
	result, errs := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse})
	if result.Blocked {
		t.Fatal("timeout must not block")
	}
	if len(errs) != 1 {
		t.Fatalf("expected one timeout error, got %d", len(errs))
	}
}

func TestRunSkipsDisabledHandlers(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPreToolUse, []model.HookHandler{
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `exit 2`, Enabled: false},
	})
	result, _ := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse})
	if result.Blocked {
		t.Fatal("disabled handler must not run")
	}
}

func TestRunSkipsNonMatchingNameRegex(t *testing.T) {
	p := New()
	p.SetHandlers(model.HookPreToolUse, []model.HookHandler{
		{Event: model.HookPreToolUse, Type: model.HookTypeCommand, Command: `exit 2`, Enabled: true, NameRegex: `^git$`},
	})
	result, _ := p.Run(context.Background(), Input{HookEventName: model.HookPreToolUse, ToolName: "bash"})
	if result.Blocked {
		t.Fatal("handler with non-matching NameRegex must be skipped")
	}
}
