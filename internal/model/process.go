package model

import "time"

// ProcessState is the lifecycle state of a Process (§3, §4.6).
type ProcessState string

const (
	StateSpawning     ProcessState = "spawning"
	StateInTurn       ProcessState = "in-turn"
	StateIdle         ProcessState = "idle"
	StateWaitingInput ProcessState = "waiting-input"
	StateHold         ProcessState = "hold"
	StateTerminated   ProcessState = "terminated"
)

// PermissionMode is totally ordered by permissiveness:
// bypassPermissions > acceptEdits > default > plan.
type PermissionMode string

const (
	ModeBypassPermissions PermissionMode = "bypassPermissions"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModeDefault           PermissionMode = "default"
	ModePlan              PermissionMode = "plan"
)

// modeRank gives the total order; a higher rank is more permissive.
var modeRank = map[PermissionMode]int{
	ModePlan:              0,
	ModeDefault:           1,
	ModeAcceptEdits:       2,
	ModeBypassPermissions: 3,
}

// Rank returns the mode's position in the permissiveness order. Unknown
// modes rank below plan (most restrictive), so malformed input never
// accidentally grants more access than intended.
func (m PermissionMode) Rank() int {
	if r, ok := modeRank[m]; ok {
		return r
	}
	return -1
}

// MoreThan reports whether m is strictly more permissive than other.
func (m PermissionMode) MoreThan(other PermissionMode) bool {
	return m.Rank() > other.Rank()
}

// Valid reports whether m is one of the four declared modes.
func (m PermissionMode) Valid() bool {
	_, ok := modeRank[m]
	return ok
}

// ReadOnlyTools is the declared set of tools that auto-allow in every mode
// (§4.6.1 table footnote).
var ReadOnlyTools = map[string]bool{
	"Read":       true,
	"Glob":       true,
	"Grep":       true,
	"LSP":        true,
	"WebFetch":   true,
	"WebSearch":  true,
	"Task":       true,
	"TaskOutput": true,
}

// PendingInputRequest is a queued tool-approval or user-question prompt.
// A Process has at most one *active* (head) request; additional requests
// queue behind it in arrival order.
type PendingInputRequest struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input"`
	Prompt    string         `json:"prompt"`
	CreatedAt time.Time      `json:"createdAt"`
}

// InputOutcome is the user's answer to a PendingInputRequest.
type InputOutcome string

const (
	OutcomeApprove InputOutcome = "approve"
	OutcomeDeny    InputOutcome = "deny"
)

// ApprovalBehavior is the result handed back to the adapter/tool caller.
type ApprovalBehavior string

const (
	BehaviorAllow ApprovalBehavior = "allow"
	BehaviorDeny  ApprovalBehavior = "deny"
)

// ApprovalResult is the resolved outcome of a tool-approval arbitration,
// including any input rewrite (e.g. AskUserQuestion answers).
type ApprovalResult struct {
	Behavior     ApprovalBehavior
	UpdatedInput map[string]any
}

// StreamFrame is what an Agent Adapter emits on its stream: a normalized
// message plus mutually-exclusive side-channel triggers (§4.1 stream
// frame, §4.2 adapter contract).
type StreamFrame struct {
	Message *Message

	Init             *InitTrigger
	Result           *ResultTrigger
	Error            *ErrorTrigger
	SessionIDChanged *SessionIDChangedTrigger
	LoginFlow        *LoginFlowTrigger
}

// InitTrigger announces the agent's real session id and its cwd.
type InitTrigger struct {
	SessionID string
	Cwd       string
}

// ResultTrigger signals end-of-turn; always the last frame of a turn.
type ResultTrigger struct {
	SessionID string
}

// ErrorTrigger signals a fatal adapter/stream error; the stream ends
// after this frame.
type ErrorTrigger struct {
	SessionID string
	Err       error
}

// SessionIDChangedTrigger fires when the adapter replaces a temporary
// "pending-<timestamp>" placeholder id with the agent's real session id.
type SessionIDChangedTrigger struct {
	OldID string
	NewID string
}

// LoginFlowTrigger surfaces an agent-initiated auth/login flow (family
// specific; the core passes it through opaquely to subscribers).
type LoginFlowTrigger struct {
	Data map[string]any
}
