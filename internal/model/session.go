package model

import (
	"strings"
	"time"
)

// OwnershipKind is who is currently writing a session's transcript.
type OwnershipKind string

const (
	OwnershipOwned    OwnershipKind = "owned"
	OwnershipExternal OwnershipKind = "external"
	OwnershipNone     OwnershipKind = "none"
)

// Ownership records which party writes a session transcript right now.
// At most one Process in the supervisor may hold OwnershipOwned for a
// given session id at any instant.
type Ownership struct {
	Kind      OwnershipKind `json:"kind"`
	ProcessID string        `json:"processId,omitempty"`
	// DriftSeenAt is when external mtime drift was last observed; it backs
	// the decay-to-none timer for OwnershipExternal (O3).
	DriftSeenAt time.Time `json:"-"`
}

// ContextUsage summarizes a session's context-window consumption.
type ContextUsage struct {
	InputTokens int `json:"inputTokens"`
	Percent     int `json:"percent"`
}

// Session is one agent conversation, identified by an opaque id chosen by
// the agent itself.
type Session struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"projectId"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	MessageCount int          `json:"messageCount"`
	AutoTitle    string       `json:"autoTitle"`
	CustomTitle  string       `json:"customTitle,omitempty"`
	ContextUsage ContextUsage `json:"contextUsage"`
	AgentFamily  AgentFamily  `json:"agentFamily"`
	ModelID      string       `json:"modelId,omitempty"`
	Ownership    Ownership    `json:"ownership"`
}

// Title returns the custom title if set, else the auto title.
func (s Session) Title() string {
	if s.CustomTitle != "" {
		return s.CustomTitle
	}
	return s.AutoTitle
}

// MaxTitleLen is the hard cap on auto-title length (S8/§4.3).
const MaxTitleLen = 120

// TruncateTitle truncates s to MaxTitleLen, appending "..." when it had to
// cut — trimmed text otherwise. Satisfies the S8 invariant: len(result) <=
// 120 and result == trim(s) or ends in "...".
func TruncateTitle(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= MaxTitleLen {
		return s
	}
	return s[:MaxTitleLen-3] + "..."
}
