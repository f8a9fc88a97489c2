package permission

import (
	"testing"

	"github.com/tetherhq/tether/internal/model"
)

func TestArbitrateReadOnlyAlwaysAllows(t *testing.T) {
	for _, mode := range []model.PermissionMode{model.ModeBypassPermissions, model.ModeAcceptEdits, model.ModeDefault, model.ModePlan} {
		if got := Arbitrate(mode, "Read"); got != DecisionAllow {
			t.Errorf("mode=%s: expected allow for Read, got %s", mode, got)
		}
	}
}

func TestArbitrateBypassPermissionsAllowsEverything(t *testing.T) {
	for _, tool := range []string{"Write", "Bash", "ExitPlanMode", "AskUserQuestion"} {
		if got := Arbitrate(model.ModeBypassPermissions, tool); got != DecisionAllow {
			t.Errorf("tool=%s: expected allow under bypassPermissions, got %s", tool, got)
		}
	}
}

func TestArbitrateAcceptEditsAllowsEditsPromptsExec(t *testing.T) {
	if got := Arbitrate(model.ModeAcceptEdits, "Write"); got != DecisionAllow {
		t.Errorf("expected allow for Write under acceptEdits, got %s", got)
	}
	if got := Arbitrate(model.ModeAcceptEdits, "Bash"); got != DecisionPrompt {
		t.Errorf("expected prompt for Bash under acceptEdits, got %s", got)
	}
}

func TestArbitrateDefaultPromptsNonReadOnly(t *testing.T) {
	for _, tool := range []string{"Write", "Bash", "ExitPlanMode", "AskUserQuestion"} {
		if got := Arbitrate(model.ModeDefault, tool); got != DecisionPrompt {
			t.Errorf("tool=%s: expected prompt under default, got %s", tool, got)
		}
	}
}

func TestArbitratePlanPromptsNonReadOnly(t *testing.T) {
	for _, tool := range []string{"Write", "Bash", "ExitPlanMode", "AskUserQuestion"} {
		if got := Arbitrate(model.ModePlan, tool); got != DecisionPrompt {
			t.Errorf("tool=%s: expected prompt under plan, got %s", tool, got)
		}
	}
}

func TestArbitrateUnknownModeIsMostRestrictive(t *testing.T) {
	if got := Arbitrate(model.PermissionMode("bogus"), "Write"); got != DecisionPrompt {
		t.Errorf("expected prompt for unknown mode, got %s", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Category{
		"Read":            CategoryReadOnly,
		"Grep":             CategoryReadOnly,
		"Bash":             CategoryExec,
		"ExitPlanMode":     CategoryExitPlan,
		"AskUserQuestion":  CategoryAskQuestion,
		"Write":            CategoryEditWrite,
		"SomeUnknownTool":  CategoryEditWrite,
	}
	for tool, want := range cases {
		if got := Classify(tool); got != want {
			t.Errorf("Classify(%q) = %s, want %s", tool, got, want)
		}
	}
}
