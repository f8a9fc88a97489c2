package workerqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueEnqueuePositionIsOneBased(t *testing.T) {
	q := New("proj-1", nil)
	_, pos1 := q.Enqueue(KindNewSession, "", nil)
	_, pos2 := q.Enqueue(KindNewSession, "", nil)
	require.Equal(t, 1, pos1)
	require.Equal(t, 2, pos2)
}

func TestQueueDequeueIsFIFO(t *testing.T) {
	q := New("proj-1", nil)
	first, _ := q.Enqueue(KindNewSession, "", nil)
	second, _ := q.Enqueue(KindNewSession, "", nil)

	require.Equal(t, first.QueueID, q.Dequeue().QueueID)
	require.Equal(t, second.QueueID, q.Dequeue().QueueID)
	require.Nil(t, q.Dequeue())
}

func TestQueueCancelResolvesCancelledAndRemoves(t *testing.T) {
	q := New("proj-1", nil)
	req, _ := q.Enqueue(KindNewSession, "", nil)
	ok := q.Cancel(req.QueueID)
	require.True(t, ok)
	require.True(t, q.IsEmpty())

	res := req.Wait()
	require.Equal(t, "cancelled", res.Status)
}

func TestQueueCancelUnknownIDReturnsFalse(t *testing.T) {
	q := New("proj-1", nil)
	require.False(t, q.Cancel("does-not-exist"))
}

func TestQueueFindBySessionID(t *testing.T) {
	q := New("proj-1", nil)
	q.Enqueue(KindNewSession, "", nil)
	resume, _ := q.Enqueue(KindResumeSession, "sess-1", nil)

	found := q.FindBySessionID("sess-1")
	require.NotNil(t, found)
	require.Equal(t, resume.QueueID, found.QueueID)
	require.Nil(t, q.FindBySessionID("nope"))
}

func TestQueuePositionReflectsHeadDistance(t *testing.T) {
	q := New("proj-1", nil)
	first, _ := q.Enqueue(KindNewSession, "", nil)
	second, _ := q.Enqueue(KindNewSession, "", nil)

	require.Equal(t, 1, q.Position(first.QueueID))
	require.Equal(t, 2, q.Position(second.QueueID))

	q.Dequeue()
	require.Equal(t, 1, q.Position(second.QueueID))
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	q := New("proj-1", nil)
	req, _ := q.Enqueue(KindNewSession, "", nil)
	require.Equal(t, req.QueueID, q.Peek().QueueID)
	require.Equal(t, 1, q.Length())
}

func TestQueueGetQueueInfoTracksMaxWait(t *testing.T) {
	q := New("proj-1", nil)
	require.Zero(t, q.GetQueueInfo().MaxWait)

	q.Enqueue(KindNewSession, "", nil)
	time.Sleep(5 * time.Millisecond)
	q.Dequeue()

	info := q.GetQueueInfo()
	require.Equal(t, "proj-1", info.ProjectID)
	require.GreaterOrEqual(t, info.MaxWait, 5*time.Millisecond)
}

func TestRequestResolveIsObservedByWait(t *testing.T) {
	q := New("proj-1", nil)
	req, _ := q.Enqueue(KindNewSession, "", nil)
	go req.Resolve(Result{Status: "ok", Value: "session-123"})

	res := req.Wait()
	require.Equal(t, "ok", res.Status)
	require.Equal(t, "session-123", res.Value)
}
