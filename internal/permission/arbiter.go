// Package permission implements the tool-approval arbitration table (§4.6.1):
// a pure function of permission mode and tool name. It carries no session
// state — internal/process owns the pending-request queue and the
// approve/deny outcome that this package only classifies.
package permission

import "github.com/tetherhq/tether/internal/model"

// Category groups a tool name into one of the table's columns.
type Category string

const (
	CategoryReadOnly    Category = "read-only"
	CategoryEditWrite   Category = "edit-write"
	CategoryExec        Category = "exec"
	CategoryExitPlan    Category = "exit-plan-mode"
	CategoryAskQuestion Category = "ask-user-question"
)

// execTools is the declared set of arbitrary-execution tools (§4.6.1 column
// "Arbitrary exec").
var execTools = map[string]bool{
	"Bash": true,
}

// Classify maps a tool name to its arbitration-table column. Anything not
// explicitly read-only, exec, ExitPlanMode, or AskUserQuestion is treated as
// edit/write-ish — the conservative default.
func Classify(toolName string) Category {
	switch {
	case model.ReadOnlyTools[toolName]:
		return CategoryReadOnly
	case execTools[toolName]:
		return CategoryExec
	case toolName == "ExitPlanMode":
		return CategoryExitPlan
	case toolName == "AskUserQuestion":
		return CategoryAskQuestion
	default:
		return CategoryEditWrite
	}
}

// Decision is the table's cell value before any user interaction: either the
// tool is auto-allowed, auto-denied, or a prompt must be raised and its
// outcome awaited.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionDeny   Decision = "deny"
	DecisionPrompt Decision = "prompt"
)

// Arbitrate looks up the table cell for (mode, toolName). An invalid mode
// arbitrates as the most restrictive ("plan"), consistent with
// model.PermissionMode.Rank's unknown-mode handling.
func Arbitrate(mode model.PermissionMode, toolName string) Decision {
	cat := Classify(toolName)

	if cat == CategoryReadOnly {
		return DecisionAllow
	}

	switch mode {
	case model.ModeBypassPermissions:
		return DecisionAllow
	case model.ModeAcceptEdits:
		if cat == CategoryEditWrite {
			return DecisionAllow
		}
		return DecisionPrompt
	default:
		// default and plan (and any unrecognized mode) both prompt for
		// every non-read-only category; ExitPlanMode approval exiting plan
		// mode back to default is a side effect the caller (internal/process)
		// applies after a DecisionPrompt resolves to approve.
		return DecisionPrompt
	}
}

// ArbitrateToolCall is Arbitrate extended with two operator-configured
// overrides (§4.6.1): an Edit/Write call whose target path matches one of
// autoApproveGlobs is allowed regardless of mode, the same way
// ModeAcceptEdits already allows every edit/write call; a Bash call whose
// parsed command matches a bashPatterns entry is allowed or denied
// outright, bypassing the mode-based prompt entirely.
func ArbitrateToolCall(mode model.PermissionMode, toolName string, input map[string]any, autoApproveGlobs []string, bashPatterns map[string]PermissionAction) Decision {
	cat := Classify(toolName)

	if cat == CategoryEditWrite && MatchesAutoApproveGlob(input, autoApproveGlobs) {
		return DecisionAllow
	}

	if cat == CategoryExec {
		if d := arbitrateBashExec(input, bashPatterns); d != DecisionPrompt {
			return d
		}
	}

	return Arbitrate(mode, toolName)
}

// arbitrateBashExec parses a Bash tool call's command (mvdan.cc/sh/v3) into
// its constituent commands and matches each against bashPatterns via
// MatchBashPermission. Every command must resolve to ActionAllow for the
// call to be auto-allowed; any ActionDeny auto-denies the whole call
// immediately. A parse failure, an empty command, or any command that only
// resolves to ActionAsk (including no pattern configured) returns
// DecisionPrompt, deferring to the mode-based table.
func arbitrateBashExec(input map[string]any, bashPatterns map[string]PermissionAction) Decision {
	if len(bashPatterns) == 0 {
		return DecisionPrompt
	}
	command, _ := input["command"].(string)
	if command == "" {
		return DecisionPrompt
	}
	commands, err := ParseBashCommand(command)
	if err != nil || len(commands) == 0 {
		return DecisionPrompt
	}

	allAllowed := true
	for _, cmd := range commands {
		switch MatchBashPermission(cmd, bashPatterns) {
		case ActionDeny:
			return DecisionDeny
		case ActionAllow:
			continue
		default:
			allAllowed = false
		}
	}
	if allAllowed {
		return DecisionAllow
	}
	return DecisionPrompt
}
