// Package supervisor implements the process registry (§4.7): keyed lookups
// by session id and project id, session spawning, and tracking of
// externally-active (not locally owned) sessions.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tetherhq/tether/internal/adapter"
	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/permission"
	"github.com/tetherhq/tether/internal/process"
)

// externalTTL is how long an observed-but-unowned transcript write keeps a
// session marked "external" before it decays to "none".
const externalTTL = 2 * time.Minute

// Ownership is a session's tracked ownership state (§3 Session/Ownership).
type Ownership string

const (
	OwnershipSelf     Ownership = "self"
	OwnershipExternal Ownership = "external"
	OwnershipNone     Ownership = "none"
)

// Activity is one externally-observed transcript write, as reported by a
// TranscriptObserver.
type Activity struct {
	SessionID string
	ProjectID string
	ModTime   time.Time
}

// TranscriptObserver reports on-disk transcript writes since a point in
// time. internal/transcript implements this against real session files.
type TranscriptObserver interface {
	ActivitySince(since time.Time) ([]Activity, error)
}

type externalEntry struct {
	projectID string
	seenAt    time.Time
}

// Supervisor is the process registry.
type Supervisor struct {
	adapters *adapter.Registry
	bus      *eventbus.Bus

	mu                   sync.Mutex
	bySession            map[string]*process.Process
	external             map[string]externalEntry
	lastPoll             time.Time
	unsubFuncs           map[string]func()
	autoApproveEditGlobs []string
	bashPatterns         map[string]permission.PermissionAction
}

// SetAutoApproveEditGlobs configures the path-scoped auto-approve globs
// (§4.6.1) every session started after this call is given. It does not
// retroactively affect already-running sessions.
func (s *Supervisor) SetAutoApproveEditGlobs(patterns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoApproveEditGlobs = patterns
}

// SetBashPatterns configures the Bash command allow/deny patterns (§4.6.1
// arbitrary-exec column) every session started after this call is given. It
// does not retroactively affect already-running sessions.
func (s *Supervisor) SetBashPatterns(patterns map[string]permission.PermissionAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bashPatterns = patterns
}

// New builds a Supervisor. adapters resolves agent families to their
// Adapter; bus receives activity notifications (may be nil in tests).
func New(adapters *adapter.Registry, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{
		adapters:   adapters,
		bus:        bus,
		bySession:  make(map[string]*process.Process),
		external:   make(map[string]externalEntry),
		unsubFuncs: make(map[string]func()),
	}
}

// GetProcessForSession returns the locally-owned Process for sessionID, if
// any is currently registered.
func (s *Supervisor) GetProcessForSession(sessionID string) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.bySession[sessionID]
	return p, ok
}

// GetProcessesByProject returns every locally-owned Process for projectID.
func (s *Supervisor) GetProcessesByProject(projectID string) []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*process.Process
	for _, p := range s.bySession {
		if p.ProjectID() == projectID {
			out = append(out, p)
		}
	}
	return out
}

// Ownership reports sessionID's current ownership tier.
func (s *Supervisor) Ownership(sessionID string) Ownership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.bySession[sessionID]; ok && p.State() != model.StateTerminated {
		return OwnershipSelf
	}
	if e, ok := s.external[sessionID]; ok && time.Since(e.seenAt) < externalTTL {
		return OwnershipExternal
	}
	return OwnershipNone
}

// StartSession instantiates the adapter for family, wraps its stream in a
// Process, and registers it by placeholder id (rekeyed to the real session
// id once the adapter emits init). Starting a session whose id currently
// shows `external` proceeds normally; ownership transitions to self as soon
// as init fires, clearing the stale external entry (§4.7 conflict rule).
func (s *Supervisor) StartSession(ctx context.Context, projectID, projectPath string, family model.AgentFamily, opts adapter.StartOptions) (*process.Process, error) {
	ad, ok := s.adapters.Get(family)
	if !ok {
		return nil, model.NewError(model.ErrInvalidInput, "no adapter configured for family "+string(family))
	}

	handle, err := ad.StartSession(ctx, opts)
	if err != nil {
		return nil, model.WrapError(model.ErrFatal, "start adapter session", err)
	}

	placeholderID := opts.ResumeSessionID
	if placeholderID == "" {
		placeholderID = "pending-" + uuid.NewString()
	}

	s.mu.Lock()
	globs := s.autoApproveEditGlobs
	bashPatterns := s.bashPatterns
	s.mu.Unlock()

	proc := process.New(process.Options{
		ProjectID:            projectID,
		ProjectPath:          projectPath,
		SessionID:            placeholderID,
		Family:               family,
		Mode:                 opts.PermissionMode,
		Handle:               handle,
		AutoApproveEditGlobs: globs,
		BashPatterns:         bashPatterns,
	})

	s.register(placeholderID, proc)
	go proc.Run(ctx)

	s.publish(eventbus.SessionActive, projectID, placeholderID)
	return proc, nil
}

func (s *Supervisor) register(sessionID string, proc *process.Process) {
	s.mu.Lock()
	s.bySession[sessionID] = proc
	delete(s.external, sessionID)
	s.mu.Unlock()

	unsub := proc.Subscribe(func(ev process.Event) {
		switch ev.Type {
		case process.EventSessionIDMoved:
			s.rekey(ev.OldSessionID, ev.NewSessionID, proc)
		case process.EventTerminated, process.EventComplete:
			s.unregister(proc.SessionID(), proc)
		}
	})

	s.mu.Lock()
	s.unsubFuncs[sessionID] = unsub
	s.mu.Unlock()
}

func (s *Supervisor) rekey(oldID, newID string, proc *process.Process) {
	if oldID == newID || newID == "" {
		return
	}
	s.mu.Lock()
	if cur, ok := s.bySession[oldID]; ok && cur == proc {
		delete(s.bySession, oldID)
	}
	s.bySession[newID] = proc
	delete(s.external, newID)
	if unsub, ok := s.unsubFuncs[oldID]; ok {
		delete(s.unsubFuncs, oldID)
		s.unsubFuncs[newID] = unsub
	}
	s.mu.Unlock()
	s.publish(eventbus.SessionActive, proc.ProjectID(), newID)
}

func (s *Supervisor) unregister(sessionID string, proc *process.Process) {
	s.mu.Lock()
	if cur, ok := s.bySession[sessionID]; ok && cur == proc {
		delete(s.bySession, sessionID)
	}
	if unsub, ok := s.unsubFuncs[sessionID]; ok {
		delete(s.unsubFuncs, sessionID)
		unsub()
	}
	s.mu.Unlock()
	s.publish(eventbus.SessionTerminated, proc.ProjectID(), sessionID)
}

// UpdateExternalTrackers polls observer for transcript writes since the
// last poll and marks any session not locally owned as external. Call
// periodically (e.g. from a background ticker); decay to none happens
// lazily in Ownership via the TTL, no explicit sweep needed.
func (s *Supervisor) UpdateExternalTrackers(observer TranscriptObserver) error {
	s.mu.Lock()
	since := s.lastPoll
	s.mu.Unlock()

	activity, err := observer.ActivitySince(since)
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	for _, a := range activity {
		if _, owned := s.bySession[a.SessionID]; owned {
			continue
		}
		s.external[a.SessionID] = externalEntry{projectID: a.ProjectID, seenAt: now}
	}
	s.lastPoll = now
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) publish(t eventbus.Type, projectID, sessionID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: t, ProjectID: projectID, SessionID: sessionID})
}
