package process

import "github.com/tetherhq/tether/internal/model"

// EventType is the kind of a process-local event delivered to subscribers.
// These are a finer-grained channel than internal/eventbus: a subscriber
// here sees every message and state transition of one process, not the
// coarse activity feed.
type EventType string

const (
	EventMessage        EventType = "message"
	EventStateChanged   EventType = "state-changed"
	EventModeChanged    EventType = "mode-changed"
	EventSessionIDMoved EventType = "session-id-changed"
	EventLoginFlow      EventType = "login-flow"
	EventTerminated     EventType = "terminated"
	EventComplete       EventType = "complete"
	// EventDoomLoop is advisory only (§3 supplemented feature): it never
	// changes an allow/deny decision, it only surfaces that the same tool
	// call has now repeated permission.DoomLoopThreshold times in a row.
	EventDoomLoop EventType = "doom-loop"
)

// Event is what Subscribe listeners receive.
type Event struct {
	Type EventType

	Message *model.Message

	State model.ProcessState

	Mode        model.PermissionMode
	ModeVersion int

	OldSessionID string
	NewSessionID string

	LoginFlow map[string]any

	// DoomLoopTool is set on EventDoomLoop: the tool name that has been
	// called identically DoomLoopThreshold times in a row.
	DoomLoopTool string

	Err error
}

// Listener receives every Event a Process emits until it unsubscribes.
type Listener func(Event)
