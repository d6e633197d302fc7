package permission

import (
	"context"
	"testing"

	"github.com/amcp-dev/amcp/pkg/model"
)

func TestLastMatchingRuleWinsWithinLayer(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{
		{Pattern: "bash", Decision: model.DecisionDeny},
		{Pattern: "bash", Decision: model.DecisionAllow},
	})
	decision, _, err := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeNormal})
	if err != nil {
		t.Fatal(err)
	}
	if decision != model.DecisionAllow {
		t.Fatalf("decision = %v, want allow (last rule wins)", decision)
	}
}

func TestLaterLayerOverridesEarlier(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionAllow}})
	e.SetLayer(LayerProjectConfig, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionDeny}})

	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeNormal})
	if decision != model.DecisionDeny {
		t.Fatalf("decision = %v, want deny (project layer overrides process defaults)", decision)
	}
}

func TestDefaultDenyWhenNoRuleMatches(t *testing.T) {
	e := New()
	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeNormal})
	if decision != model.DecisionDeny {
		t.Fatalf("decision = %v, want deny by default", decision)
	}
}

func TestYoloModeUpgradesNonDenyToAllow(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionAsk}})
	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeYolo})
	if decision != model.DecisionAllow {
		t.Fatalf("decision = %v, want allow under yolo mode", decision)
	}
}

func TestYoloModeNeverUpgradesDeny(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionDeny}})
	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeYolo})
	if decision != model.DecisionDeny {
		t.Fatalf("decision = %v, want deny to remain deny under yolo", decision)
	}
}

func TestStrictModeDowngradesAllowToAsk(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionAllow}})
	asked := false
	e.SetApprovalResponder(func(ctx context.Context, req Request) (model.Decision, error) {
		asked = true
		return model.DecisionAllow, nil
	})
	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeStrict})
	if !asked {
		t.Fatal("strict mode did not route the allow rule through the ask responder")
	}
	if decision != model.DecisionAllow {
		t.Fatalf("decision = %v, want the ask to resolve allow via responder", decision)
	}
}

func TestAskWithNoResponderDefaultsToDeny(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionAsk}})
	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeNormal})
	if decision != model.DecisionDeny {
		t.Fatalf("decision = %v, want deny when no responder is wired (boundary behavior)", decision)
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	e := New()
	e.SetLayer(LayerUserConfig, []model.PermissionRule{
		{Pattern: "git *", Decision: model.DecisionAllow},
		{Pattern: "git push*", Decision: model.DecisionAsk},
	})
	e.SetApprovalResponder(func(ctx context.Context, req Request) (model.Decision, error) {
		return model.DecisionDeny, nil
	})
	req := Request{ToolName: "bash", ArgsText: "git push origin main", SessionMode: model.ModeNormal}
	d1, _, _ := e.Evaluate(context.Background(), req)
	d2, _, _ := e.Evaluate(context.Background(), req)
	if d1 != d2 {
		t.Fatalf("evaluation not deterministic: %v vs %v", d1, d2)
	}
}

func TestAllowAlwaysInstallsSessionRule(t *testing.T) {
	e := New()
	e.SetLayer(LayerProcessDefaults, []model.PermissionRule{{Pattern: "bash", Decision: model.DecisionAsk}})
	e.AllowAlways("bash")

	decision, _, _ := e.Evaluate(context.Background(), Request{ToolName: "bash", SessionMode: model.ModeNormal})
	if decision != model.DecisionAllow {
		t.Fatalf("decision = %v, want allow after AllowAlways installs a session rule", decision)
	}
}
