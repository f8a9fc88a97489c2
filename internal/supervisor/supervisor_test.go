package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/internal/adapter"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/queue"
)

// fakeAdapter hands back a Handle the test drives by hand.
type fakeAdapter struct {
	handles []*adapter.Handle
}

func (f *fakeAdapter) StartSession(ctx context.Context, opts adapter.StartOptions) (*adapter.Handle, error) {
	h := f.handles[0]
	f.handles = f.handles[1:]
	return h, nil
}

func newFakeHandle() (*adapter.Handle, chan model.StreamFrame) {
	stream := make(chan model.StreamFrame, 8)
	q := queue.New[adapter.UserInput]()
	return &adapter.Handle{
		Stream: stream,
		Queue:  q,
		Abort:  func() { q.Close(); close(stream) },
	}, stream
}

func newTestSupervisor(t *testing.T, fa *fakeAdapter) *Supervisor {
	t.Helper()
	reg := adapter.NewRegistryFrom(map[model.AgentFamily]adapter.Adapter{model.FamilyClaude: fa})
	return New(reg, nil)
}

func TestStartSessionRegistersByPlaceholderThenRekeys(t *testing.T) {
	handle, stream := newFakeHandle()
	fa := &fakeAdapter{handles: []*adapter.Handle{handle}}
	sup := newTestSupervisor(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc, err := sup.StartSession(ctx, "proj-1", "/tmp/proj", model.FamilyClaude, adapter.StartOptions{Cwd: "/tmp/proj"})
	require.NoError(t, err)

	placeholder := proc.SessionID()
	_, found := sup.GetProcessForSession(placeholder)
	require.True(t, found)

	stream <- model.StreamFrame{
		Init:             &model.InitTrigger{SessionID: "real-session-1"},
		SessionIDChanged: &model.SessionIDChangedTrigger{OldID: placeholder, NewID: "real-session-1"},
	}
	require.Eventually(t, func() bool {
		_, stillPlaceholder := sup.GetProcessForSession(placeholder)
		p, foundReal := sup.GetProcessForSession("real-session-1")
		return !stillPlaceholder && foundReal && p == proc
	}, time.Second, time.Millisecond)
}

func TestStartSessionUnknownFamilyErrors(t *testing.T) {
	sup := newTestSupervisor(t, &fakeAdapter{})
	_, err := sup.StartSession(context.Background(), "proj-1", "/tmp", model.FamilyCodex, adapter.StartOptions{})
	require.Error(t, err)
	require.Equal(t, model.ErrInvalidInput, model.KindOf(err))
}

func TestTerminatedProcessUnregisters(t *testing.T) {
	handle, stream := newFakeHandle()
	fa := &fakeAdapter{handles: []*adapter.Handle{handle}}
	sup := newTestSupervisor(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc, err := sup.StartSession(ctx, "proj-1", "/tmp/proj", model.FamilyClaude, adapter.StartOptions{})
	require.NoError(t, err)
	placeholder := proc.SessionID()

	stream <- model.StreamFrame{Error: &model.ErrorTrigger{Err: model.NewError(model.ErrFatal, "boom")}}
	require.Eventually(t, func() bool {
		_, found := sup.GetProcessForSession(placeholder)
		return !found
	}, time.Second, time.Millisecond)
}

func TestGetProcessesByProjectFiltersByProject(t *testing.T) {
	h1, _ := newFakeHandle()
	h2, _ := newFakeHandle()
	fa := &fakeAdapter{handles: []*adapter.Handle{h1, h2}}
	sup := newTestSupervisor(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p1, err := sup.StartSession(ctx, "proj-1", "/tmp/a", model.FamilyClaude, adapter.StartOptions{})
	require.NoError(t, err)
	p2, err := sup.StartSession(ctx, "proj-2", "/tmp/b", model.FamilyClaude, adapter.StartOptions{})
	require.NoError(t, err)

	procs := sup.GetProcessesByProject("proj-1")
	require.Len(t, procs, 1)
	require.Equal(t, p1.ID(), procs[0].ID())
	require.NotEqual(t, p2.ProjectID(), procs[0].ProjectID())
}

type fakeObserver struct {
	activity []Activity
}

func (f *fakeObserver) ActivitySince(since time.Time) ([]Activity, error) {
	return f.activity, nil
}

func TestUpdateExternalTrackersMarksUnownedSessionsExternal(t *testing.T) {
	sup := newTestSupervisor(t, &fakeAdapter{})
	obs := &fakeObserver{activity: []Activity{{SessionID: "other-session", ProjectID: "proj-1", ModTime: time.Now()}}}

	err := sup.UpdateExternalTrackers(obs)
	require.NoError(t, err)
	require.Equal(t, OwnershipExternal, sup.Ownership("other-session"))
	require.Equal(t, OwnershipNone, sup.Ownership("never-seen"))
}

func TestOwnershipSelfTakesPriorityOverExternal(t *testing.T) {
	handle, stream := newFakeHandle()
	fa := &fakeAdapter{handles: []*adapter.Handle{handle}}
	sup := newTestSupervisor(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc, err := sup.StartSession(ctx, "proj-1", "/tmp", model.FamilyClaude, adapter.StartOptions{})
	require.NoError(t, err)
	placeholder := proc.SessionID()

	obs := &fakeObserver{activity: []Activity{{SessionID: placeholder, ProjectID: "proj-1", ModTime: time.Now()}}}
	require.NoError(t, sup.UpdateExternalTrackers(obs))

	require.Equal(t, OwnershipSelf, sup.Ownership(placeholder))
	_ = stream
}
