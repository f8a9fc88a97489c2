// Package adapter implements the family-specific Agent Adapter contract
// (§4.2): given a working directory, model, resume id and an input queue,
// produce a stream of normalized messages. internal/supervisor starts
// sessions through this package and internal/process consumes the stream.
package adapter

import (
	"context"

	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/queue"
)

// StartOptions are the recognized startSession options (§4.2).
type StartOptions struct {
	Cwd             string // required, absolute
	Model           string
	ResumeSessionID string
	PermissionMode  model.PermissionMode
	InitialMessage  string
	Env             []string
}

// UserInput is one value pushed onto a session's Message Queue.
type UserInput struct {
	Text string
	// RequestID and Answer are set instead of Text when this input is
	// resolving a pending tool-approval/question request rather than
	// starting a new user turn.
	RequestID string
	Answer    map[string]any
}

// Handle is what startSession returns: a finite, non-restartable stream of
// normalized frames, the queue the caller pushes user input into, and a
// cooperative abort.
type Handle struct {
	Stream <-chan model.StreamFrame
	Queue  *queue.Queue[UserInput]
	Abort  func()
}

// Adapter is the per-family shim. StartSession returns an error, and no
// stream, when the agent cannot be started (spawn or handshake failure);
// failures after a successful start surface as an `error` StreamFrame on
// the returned stream.
type Adapter interface {
	StartSession(ctx context.Context, opts StartOptions) (*Handle, error)
}
