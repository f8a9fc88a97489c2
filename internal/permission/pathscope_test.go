package permission

import (
	"testing"

	"github.com/tetherhq/tether/internal/model"
)

func TestMatchesAutoApproveGlob(t *testing.T) {
	input := map[string]any{"file_path": "/repo/docs/readme.md"}
	if !MatchesAutoApproveGlob(input, []string{"/repo/docs/**"}) {
		t.Errorf("expected /repo/docs/readme.md to match /repo/docs/**")
	}
	if MatchesAutoApproveGlob(input, []string{"/repo/src/**"}) {
		t.Errorf("did not expect /repo/docs/readme.md to match /repo/src/**")
	}
}

func TestMatchesAutoApproveGlobNoPathInInput(t *testing.T) {
	if MatchesAutoApproveGlob(map[string]any{"prompt": "hi"}, []string{"**"}) {
		t.Errorf("expected no match when input carries no path field")
	}
}

func TestArbitrateToolCallGlobOverridesDefaultMode(t *testing.T) {
	input := map[string]any{"file_path": "/repo/docs/readme.md"}
	got := ArbitrateToolCall(model.ModeDefault, "Write", input, []string{"/repo/docs/**"}, nil)
	if got != DecisionAllow {
		t.Errorf("expected glob match to auto-allow under default mode, got %s", got)
	}
}

func TestArbitrateToolCallGlobDoesNotOverrideExec(t *testing.T) {
	input := map[string]any{"file_path": "/repo/docs/readme.md"}
	got := ArbitrateToolCall(model.ModeDefault, "Bash", input, []string{"/repo/docs/**"}, nil)
	if got != DecisionPrompt {
		t.Errorf("expected Bash to still prompt under default mode, got %s", got)
	}
}

func TestArbitrateToolCallNoGlobsFallsBackToArbitrate(t *testing.T) {
	got := ArbitrateToolCall(model.ModeAcceptEdits, "Write", map[string]any{}, nil, nil)
	if got != DecisionAllow {
		t.Errorf("expected acceptEdits to still allow Write with no globs configured, got %s", got)
	}
}
