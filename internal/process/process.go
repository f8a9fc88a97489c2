// Package process implements the central component (§4.6): one running
// agent, wrapping its adapter stream, Message Queue, pending-input list,
// mode/hold state, and fan-out subscribers. internal/supervisor owns the
// registry of Processes; this package only owns one.
package process

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tetherhq/tether/internal/adapter"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/permission"
)

// Options constructs a Process around an already-started adapter Handle.
type Options struct {
	ID          string // process id; generated if empty
	ProjectID   string
	ProjectPath string
	SessionID   string // placeholder id until session-id-changed
	Family      model.AgentFamily
	Mode        model.PermissionMode
	Handle      *adapter.Handle

	// AutoApproveEditGlobs are doublestar patterns, matched against the tool
	// call's target path exactly as its input gives it, that auto-allow Edit/Write tool calls even outside "accept edits" mode
	// (§4.6.1 path-scoped approvals).
	AutoApproveEditGlobs []string

	// BashPatterns maps a command pattern (e.g. "git commit *") to an
	// explicit allow/deny/ask verdict for Bash tool calls, bypassing the
	// mode-based prompt for patterns with an explicit allow or deny
	// (§4.6.1 arbitrary-exec column).
	BashPatterns map[string]permission.PermissionAction
}

type pendingEntry struct {
	req      *model.PendingInputRequest
	resolver chan model.ApprovalResult
}

// Process wraps one running agent (§4.6).
type Process struct {
	id          string
	projectID   string
	projectPath string
	family      model.AgentFamily
	handle      *adapter.Handle

	autoApproveEditGlobs []string
	bashPatterns         map[string]permission.PermissionAction
	doomLoop             *permission.DoomLoopDetector

	mu           sync.Mutex
	sessionID    string
	state        model.ProcessState
	preHoldState model.ProcessState
	mode         model.PermissionMode
	modeVersion  int
	hold         bool
	wake         chan struct{} // signalled on every hold toggle, so a parked driver re-checks

	pending []*pendingEntry
	history []model.Message

	// streaming holds the in-progress text of the assistant message
	// currently being accumulated, keyed by message id, for resumed-client
	// catch-up (§4.6 O4).
	streaming map[string]string

	subscribers map[uint64]Listener
	nextSubID   uint64

	terminatedErr error

	abortOnce sync.Once
}

// New builds a Process around handle. The caller starts the driver loop by
// calling Run in its own goroutine.
func New(opts Options) *Process {
	id := opts.ID
	if id == "" {
		id = ulid.Make().String()
	}
	mode := opts.Mode
	if !mode.Valid() {
		mode = model.ModeDefault
	}
	p := &Process{
		id:                   id,
		projectID:            opts.ProjectID,
		projectPath:          opts.ProjectPath,
		family:               opts.Family,
		handle:               opts.Handle,
		autoApproveEditGlobs: opts.AutoApproveEditGlobs,
		bashPatterns:         opts.BashPatterns,
		doomLoop:             permission.NewDoomLoopDetector(),
		sessionID:            opts.SessionID,
		state:                model.StateSpawning,
		mode:                 mode,
		streaming:            make(map[string]string),
		subscribers:          make(map[uint64]Listener),
		wake:                 make(chan struct{}, 1),
	}
	return p
}

func (p *Process) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ID returns the process's own identifier (distinct from the session id,
// which may change after spawning).
func (p *Process) ID() string { return p.id }

// ProjectID returns the owning project's id.
func (p *Process) ProjectID() string { return p.projectID }

// SessionID returns the current session id (placeholder until init).
func (p *Process) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// State returns the current lifecycle state.
func (p *Process) State() model.ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers fn for every future event. Per §4.6, a listener
// registered at time T receives every event from then on; no historical
// replay (callers use MessageHistory/StreamingContent for catch-up).
func (p *Process) Subscribe(fn Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

func (p *Process) emit(ev Event) {
	p.mu.Lock()
	fns := make([]Listener, 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *Process) clearSubscribers() {
	p.mu.Lock()
	p.subscribers = make(map[uint64]Listener)
	p.mu.Unlock()
}

// QueueMessage appends userMsg to the Message Queue and records it in
// history. Fails with ErrTerminated if the process is no longer live.
func (p *Process) QueueMessage(text string) error {
	p.mu.Lock()
	if p.state == model.StateTerminated {
		p.mu.Unlock()
		return model.NewError(model.ErrTerminated, "process has terminated")
	}
	msg := model.Message{
		ID:        ulid.Make().String(),
		SessionID: p.sessionID,
		Type:      model.MessageUser,
		CreatedAt: time.Now(),
		Content:   []model.ContentBlock{{Type: model.BlockText, Text: text}},
		Text:      text,
	}
	p.history = append(p.history, msg)
	p.mu.Unlock()

	p.handle.Queue.Push(adapter.UserInput{Text: text})
	p.emit(Event{Type: EventMessage, Message: &msg})
	return nil
}

// MessageHistory returns a snapshot of every message recorded so far,
// including user messages the queue holds.
func (p *Process) MessageHistory() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Message, len(p.history))
	copy(out, p.history)
	return out
}

// StreamingContent returns the in-progress text of messageID, or "" if none
// is accumulating.
func (p *Process) StreamingContent(messageID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming[messageID]
}

// GetPendingInputRequest returns the head pending request, or nil.
func (p *Process) GetPendingInputRequest() *model.PendingInputRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	return p.pending[0].req
}

// SetPermissionMode is idempotent; it bumps modeVersion and emits
// mode-changed only on an actual change (§4.6).
func (p *Process) SetPermissionMode(mode model.PermissionMode) {
	p.mu.Lock()
	if !mode.Valid() || mode == p.mode {
		p.mu.Unlock()
		return
	}
	p.mode = mode
	p.modeVersion++
	version := p.modeVersion
	p.mu.Unlock()
	p.emit(Event{Type: EventModeChanged, Mode: mode, ModeVersion: version})
}

func (p *Process) setPermissionModeLocked(mode model.PermissionMode) (changed bool, version int) {
	if mode == p.mode {
		return false, p.modeVersion
	}
	p.mode = mode
	p.modeVersion++
	return true, p.modeVersion
}

// SetHold pauses the driver before its next stream pull when on; resuming
// it when off. Idempotent; terminated implicitly clears hold.
func (p *Process) SetHold(on bool) {
	p.mu.Lock()
	if p.state == model.StateTerminated {
		p.mu.Unlock()
		return
	}
	changed := false
	if on && !p.hold {
		p.hold = true
		p.preHoldState = p.state
		p.state = model.StateHold
		changed = true
	} else if !on && p.hold {
		p.hold = false
		p.state = p.preHoldState
		changed = true
	}
	p.mu.Unlock()
	if changed {
		p.signalWake()
	}
}

func (p *Process) isHeld() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hold
}

// RespondToInput supplies the answer to the head pending request. Returns
// false if requestID does not match the current head.
func (p *Process) RespondToInput(requestID string, outcome model.InputOutcome, payload map[string]any) bool {
	p.mu.Lock()
	if len(p.pending) == 0 || p.pending[0].req.ID != requestID {
		p.mu.Unlock()
		return false
	}
	entry := p.pending[0]
	p.pending = p.pending[1:]

	result := model.ApprovalResult{Behavior: model.BehaviorDeny}
	var modeChanged bool
	var newMode model.PermissionMode
	var newVersion int

	if outcome == model.OutcomeApprove {
		result.Behavior = model.BehaviorAllow
		switch permission.Classify(entry.req.ToolName) {
		case permission.CategoryExitPlan:
			if changed, v := p.setPermissionModeLocked(model.ModeDefault); changed {
				modeChanged, newMode, newVersion = true, model.ModeDefault, v
			}
		case permission.CategoryAskQuestion:
			updated := make(map[string]any, len(entry.req.Input)+1)
			for k, v := range entry.req.Input {
				updated[k] = v
			}
			updated["answers"] = payload
			result.UpdatedInput = updated
		}
	}

	if len(p.pending) == 0 && p.state == model.StateWaitingInput {
		p.state = model.StateInTurn
	}
	p.mu.Unlock()

	if modeChanged {
		p.emit(Event{Type: EventModeChanged, Mode: newMode, ModeVersion: newVersion})
	}

	answer := map[string]any{"behavior": string(result.Behavior)}
	if result.UpdatedInput != nil {
		answer["updatedInput"] = result.UpdatedInput
	}
	p.handle.Queue.Push(adapter.UserInput{RequestID: requestID, Answer: answer})

	select {
	case entry.resolver <- result:
	default:
	}
	return true
}

// HandleToolApproval is the tool-approval arbiter (§4.6.1): a pure decision
// for auto-allowed tools, or a pending request awaiting respondToInput.
// ctx cancellation resolves the pending request as deny and drops it from
// the queue.
func (p *Process) HandleToolApproval(ctx context.Context, toolName string, input map[string]any) (model.ApprovalResult, error) {
	p.checkDoomLoop(toolName, input)

	p.mu.Lock()
	decision := permission.ArbitrateToolCall(p.mode, toolName, input, p.autoApproveEditGlobs, p.bashPatterns)
	if decision == permission.DecisionAllow {
		p.mu.Unlock()
		return model.ApprovalResult{Behavior: model.BehaviorAllow}, nil
	}
	if decision == permission.DecisionDeny {
		p.mu.Unlock()
		return model.ApprovalResult{Behavior: model.BehaviorDeny}, nil
	}

	req := &model.PendingInputRequest{
		ID:        ulid.Make().String(),
		SessionID: p.sessionID,
		ToolName:  toolName,
		Input:     input,
		CreatedAt: time.Now(),
	}
	entry := &pendingEntry{req: req, resolver: make(chan model.ApprovalResult, 1)}
	p.pending = append(p.pending, entry)
	p.state = model.StateWaitingInput
	p.mu.Unlock()

	p.emit(Event{Type: EventStateChanged, State: model.StateWaitingInput})

	select {
	case result := <-entry.resolver:
		return result, nil
	case <-ctx.Done():
		p.dropPending(req.ID)
		return model.ApprovalResult{Behavior: model.BehaviorDeny}, ctx.Err()
	}
}

// checkDoomLoop surfaces an advisory EventDoomLoop when toolName+input has
// repeated permission.DoomLoopThreshold times in a row for this session. It
// never influences the arbitration decision.
func (p *Process) checkDoomLoop(toolName string, input map[string]any) {
	p.mu.Lock()
	sessionID := p.sessionID
	p.mu.Unlock()

	if p.doomLoop.Check(sessionID, toolName, input) {
		p.emit(Event{Type: EventDoomLoop, DoomLoopTool: toolName})
	}
}

func (p *Process) dropPending(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.pending {
		if e.req.ID == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	if len(p.pending) == 0 && p.state == model.StateWaitingInput {
		p.state = model.StateInTurn
	}
}

// Abort cooperatively cancels the adapter, wakes the queue, emits complete,
// and clears listeners.
func (p *Process) Abort() {
	p.abortOnce.Do(func() {
		p.handle.Abort()
		p.mu.Lock()
		p.state = model.StateTerminated
		p.hold = false
		p.mu.Unlock()
		p.signalWake()
		p.emit(Event{Type: EventComplete})
		p.clearSubscribers()
	})
}

// Run drives the adapter stream until it closes or ctx is cancelled. The
// caller runs it in its own goroutine immediately after New.
func (p *Process) Run(ctx context.Context) {
	for {
		if p.isHeld() {
			select {
			case <-p.wake:
				continue // re-check hold state at the top
			case <-ctx.Done():
				return
			}
		}
		select {
		case frame, ok := <-p.handle.Stream:
			if !ok {
				p.onStreamClosed()
				return
			}
			p.handleFrame(ctx, frame)
		case <-p.wake:
			continue // hold may have just been set; re-check before pulling again
		case <-ctx.Done():
			return
		}
	}
}

func (p *Process) onStreamClosed() {
	p.mu.Lock()
	if p.state == model.StateTerminated {
		p.mu.Unlock()
		return
	}
	p.state = model.StateTerminated
	if p.terminatedErr == nil {
		p.terminatedErr = model.NewError(model.ErrTerminated, "adapter stream closed")
	}
	err := p.terminatedErr
	p.mu.Unlock()
	p.emit(Event{Type: EventTerminated, Err: err})
	p.clearSubscribers()
}

// handleFrame applies every side-channel trigger set on frame. Init and
// SessionIDChanged commonly arrive together (the adapter replacing its
// placeholder id the moment the real session id is known), so these are
// independent checks, not a mutually-exclusive switch.
func (p *Process) handleFrame(ctx context.Context, frame model.StreamFrame) {
	if frame.Init != nil {
		p.handleInit(frame.Init)
	}
	if frame.SessionIDChanged != nil {
		p.handleSessionIDChanged(frame.SessionIDChanged)
	}
	if frame.Message != nil {
		p.handleMessage(ctx, frame.Message)
	}
	if frame.Result != nil {
		p.handleResult()
	}
	if frame.Error != nil {
		p.handleError(frame.Error)
	}
	if frame.LoginFlow != nil {
		p.emit(Event{Type: EventLoginFlow, LoginFlow: frame.LoginFlow.Data})
	}
}

func (p *Process) handleInit(init *model.InitTrigger) {
	p.mu.Lock()
	if init.SessionID != "" {
		p.sessionID = init.SessionID
	}
	next := model.StateInTurn
	if len(p.pending) > 0 {
		next = model.StateWaitingInput
	}
	p.state = next
	p.mu.Unlock()
	p.emit(Event{Type: EventStateChanged, State: next})
}

func (p *Process) handleSessionIDChanged(ch *model.SessionIDChangedTrigger) {
	p.mu.Lock()
	p.sessionID = ch.NewID
	p.mu.Unlock()
	p.emit(Event{Type: EventSessionIDMoved, OldSessionID: ch.OldID, NewSessionID: ch.NewID})
}

func (p *Process) handleMessage(ctx context.Context, msg *model.Message) {
	if msg.Type == model.MessageSystem && msg.Extra != nil && msg.Extra["subtype"] == "input_request" {
		p.handleInputRequestMessage(msg)
		return
	}

	p.mu.Lock()
	msg.SessionID = p.sessionID
	p.history = append(p.history, *msg)
	if msg.Type == model.MessageAssistant && msg.ID != "" {
		p.streaming[msg.ID] += flattenText(msg)
	}
	p.mu.Unlock()

	p.emit(Event{Type: EventMessage, Message: msg})
}

func flattenText(msg *model.Message) string {
	var out string
	for _, b := range msg.Content {
		if b.Type == model.BlockText {
			out += b.Text
		}
	}
	return out
}

func (p *Process) handleInputRequestMessage(msg *model.Message) {
	toolName, _ := msg.Extra["toolName"].(string)
	input, _ := msg.Extra["input"].(map[string]any)
	prompt, _ := msg.Extra["prompt"].(string)

	p.checkDoomLoop(toolName, input)

	p.mu.Lock()
	decision := permission.ArbitrateToolCall(p.mode, toolName, input, p.autoApproveEditGlobs, p.bashPatterns)
	if decision == permission.DecisionAllow {
		p.mu.Unlock()
		p.handle.Queue.Push(adapter.UserInput{
			RequestID: msg.ID,
			Answer:    map[string]any{"behavior": string(model.BehaviorAllow)},
		})
		return
	}
	if decision == permission.DecisionDeny {
		p.mu.Unlock()
		p.handle.Queue.Push(adapter.UserInput{
			RequestID: msg.ID,
			Answer:    map[string]any{"behavior": string(model.BehaviorDeny)},
		})
		return
	}

	req := &model.PendingInputRequest{
		ID:        ulid.Make().String(),
		SessionID: p.sessionID,
		ToolName:  toolName,
		Input:     input,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}
	p.pending = append(p.pending, &pendingEntry{req: req, resolver: make(chan model.ApprovalResult, 1)})
	p.state = model.StateWaitingInput
	p.mu.Unlock()

	p.emit(Event{Type: EventMessage, Message: msg})
	p.emit(Event{Type: EventStateChanged, State: model.StateWaitingInput})
}

func (p *Process) handleResult() {
	p.mu.Lock()
	p.streaming = make(map[string]string)
	if p.state != model.StateWaitingInput {
		p.state = model.StateIdle
	}
	state := p.state
	p.mu.Unlock()
	p.emit(Event{Type: EventStateChanged, State: state})
}

func (p *Process) handleError(errTrig *model.ErrorTrigger) {
	p.mu.Lock()
	p.state = model.StateTerminated
	p.terminatedErr = model.WrapError(model.ErrTerminated, "adapter stream error", errTrig.Err)
	err := p.terminatedErr
	p.mu.Unlock()
	p.emit(Event{Type: EventTerminated, Err: err})
	p.clearSubscribers()
}
