// Package permission implements AMCP's permission engine (spec §4.C):
// five ordered merge layers, last-matching-rule-wins glob evaluation,
// session-mode overrides, and the ask/delegate suspension flows.
//
// Grounded on internal/tools/policy/resolver.go's multi-layer Policy merge
// and provider-key derivation from the teacher codebase, but the matching
// semantics are regeneralized: the teacher's resolver is "deny always
// wins, first explicit/group match"; spec §4.C requires ordered
// last-match-wins evaluation per layer. The ask suspension channel is
// grounded on internal/hooks/tool_hooks.go's ApprovalWorkflow
// (buffered-channel + select-on-timeout pattern).
package permission

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/amcp-dev/amcp/pkg/model"
)

// Layer identifies one of the five merge layers, in increasing precedence
// order (later layers override earlier ones when both match — but note
// "last matching rule wins" applies *within* a layer; across layers the
// layers themselves are evaluated in this fixed order, each potentially
// overriding the previous layer's base decision if it has a match).
type Layer int

const (
	LayerProcessDefaults Layer = iota
	LayerUserConfig
	LayerProjectConfig
	LayerAgentSpec
	LayerSessionAlwaysAllow
)

// Request is the input to a single permission evaluation.
type Request struct {
	ToolName    string
	ArgsText    string // a rendered form of the arguments, for arg_pattern matching
	SessionID   string
	SessionMode model.SessionMode
	Cwd         string
}

// ApprovalResponder answers a pending "ask" decision.
type ApprovalResponder func(ctx context.Context, req Request) (model.Decision, error)

// Engine evaluates permission rules for tool calls.
type Engine struct {
	mu     sync.RWMutex
	layers map[Layer][]model.PermissionRule

	// ask asks a client to approve/deny a pending request and blocks until
	// it answers or ctx is done. If nil, ask always resolves to deny (spec
	// §8 boundary behavior: "no client answer within the deadline treated
	// as deny").
	ask ApprovalResponder
}

// New constructs an empty Engine. Use SetLayer to load rules and
// SetApprovalResponder to wire the ask flow to a real client.
func New() *Engine {
	return &Engine{layers: make(map[Layer][]model.PermissionRule)}
}

// SetLayer replaces the rule list for layer.
func (e *Engine) SetLayer(layer Layer, rules []model.PermissionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers[layer] = rules
}

// SetApprovalResponder wires the ask flow.
func (e *Engine) SetApprovalResponder(fn ApprovalResponder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ask = fn
}

// AllowAlways installs a per-session rule generalized from req (spec §4.C:
// "allow_always installs a per-session rule generalized from the request,
// e.g. git status → git status*"). The caller is responsible for computing
// the generalized pattern; this just appends it to the session layer.
func (e *Engine) AllowAlways(pattern string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.layers[LayerSessionAlwaysAllow] = append(e.layers[LayerSessionAlwaysAllow], model.PermissionRule{
		Pattern:  pattern,
		Decision: model.DecisionAllow,
	})
}

// Evaluate resolves req to a final model.Decision. For decision=ask it
// suspends on the configured ApprovalResponder (or ctx cancellation);
// for decision=delegate it spawns the helper from the matching rule.
// Rules are not validated before evaluation: a rule takes part only
// through its Pattern/ArgPattern globs and its Decision. The returned
// error is non-nil only when the approval responder fails.
func (e *Engine) Evaluate(ctx context.Context, req Request) (model.Decision, string, error) {
	base, reason := e.baseDecision(req)
	base = applySessionMode(base, req.SessionMode)

	switch base {
	case model.DecisionAllow, model.DecisionDeny:
		return base, reason, nil
	case model.DecisionAsk:
		return e.resolveAsk(ctx, req)
	case model.DecisionDelegate:
		return e.resolveDelegate(ctx, req, reason)
	default:
		return model.DecisionDeny, "no matching rule", nil
	}
}

// baseDecision walks the five layers in precedence order; within a layer,
// rules are evaluated top to bottom and the last match wins. A later
// layer's match overrides an earlier layer's decision.
func (e *Engine) baseDecision(req Request) (model.Decision, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := model.DecisionDeny
	reason := "no matching rule (default deny)"
	layerOrder := []Layer{LayerProcessDefaults, LayerUserConfig, LayerProjectConfig, LayerAgentSpec, LayerSessionAlwaysAllow}

	for _, layer := range layerOrder {
		for _, rule := range e.layers[layer] {
			if !ruleMatches(rule, req) {
				continue
			}
			decision = rule.Decision
			reason = fmt.Sprintf("layer=%d pattern=%q", layer, rule.Pattern)
		}
	}
	return decision, reason
}

func ruleMatches(rule model.PermissionRule, req Request) bool {
	if !matchGlob(rule.Pattern, req.ToolName) {
		return false
	}
	if rule.ArgPattern != "" && !matchGlob(rule.ArgPattern, req.ArgsText) {
		return false
	}
	return true
}

// applySessionMode applies spec §4.C's session-mode override table.
func applySessionMode(base model.Decision, mode model.SessionMode) model.Decision {
	switch mode {
	case model.ModeYolo:
		if base != model.DecisionDeny {
			return model.DecisionAllow
		}
	case model.ModeStrict:
		if base != model.DecisionDeny {
			return model.DecisionAsk
		}
	}
	return base
}

func (e *Engine) resolveAsk(ctx context.Context, req Request) (model.Decision, string, error) {
	e.mu.RLock()
	ask := e.ask
	e.mu.RUnlock()

	if ask == nil {
		return model.DecisionDeny, "no approval responder configured; default deny", nil
	}
	decision, err := ask(ctx, req)
	if err != nil {
		return model.DecisionDeny, "approval wait failed; default deny", err
	}
	return decision, "resolved by client approval", nil
}

// resolveDelegate spawns the rule's delegate command with the request on
// stdin. Exit 0 = allow, 1 = ask, 2 = deny; stderr is propagated as the
// reason on deny. The helper runs under a fixed 5s timeout that is not
// configurable; a timeout is treated as ask per spec §4.C's "helper
// timeout ... treated as ask."
func (e *Engine) resolveDelegate(ctx context.Context, req Request, reason string) (model.Decision, string, error) {
	cmdline := delegateCommandFor(e, req)
	if cmdline == "" {
		return model.DecisionAsk, "no delegate command configured", nil
	}

	delegateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(delegateCtx, "/bin/sh", "-c", cmdline)
	cmd.Stdin = stdinReaderFor(req)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()

	if delegateCtx.Err() != nil {
		return model.DecisionAsk, "delegate helper timed out", nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			switch exitErr.ExitCode() {
			case 1:
				return model.DecisionAsk, "delegate requested ask", nil
			case 2:
				return model.DecisionDeny, stderr.String(), nil
			}
		}
		return model.DecisionAsk, fmt.Sprintf("delegate error: %v", err), nil
	}
	return model.DecisionAllow, reason, nil
}

func delegateCommandFor(e *Engine, req Request) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	layerOrder := []Layer{LayerProcessDefaults, LayerUserConfig, LayerProjectConfig, LayerAgentSpec, LayerSessionAlwaysAllow}
	cmd := ""
	for _, layer := range layerOrder {
		for _, rule := range e.layers[layer] {
			if rule.Decision == model.DecisionDelegate && ruleMatches(rule, req) {
				cmd = rule.DelegateCmd
			}
		}
	}
	return cmd
}
