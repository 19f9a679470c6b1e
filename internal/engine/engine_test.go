package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/matheus3301/talk/internal/backoff"
	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/poll"
	"github.com/matheus3301/talk/internal/remote"
	"github.com/matheus3301/talk/internal/remote/remotetest"
	"github.com/matheus3301/talk/internal/state"
	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions() Options {
	policy := backoff.Policy{Curve: backoff.Exponential, Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, RateLimitFloor: 10 * time.Millisecond}
	return Options{
		SelfID:           remotetest.SelfID,
		SelfName:         "Me",
		RoomListInterval: 20 * time.Millisecond,
		FeedCapacity:     64,
		Poll: poll.Options{
			ActiveInterval:     5 * time.Millisecond,
			BackgroundInterval: 10 * time.Millisecond,
			FetchTimeout:       time.Second,
			Backoff:            policy,
		},
		Outbox: outbox.Options{
			MaxAttempts: 3,
			SendTimeout: time.Second,
			Backoff:     policy,
		},
	}
}

// start runs e until the test ends. Subscriptions made before start see every
// event.
func start(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func subscribe(t *testing.T, e *Engine, ns string) *feed.Subscription {
	t.Helper()
	sub := e.Subscribe(ns)
	t.Cleanup(sub.Close)
	return sub
}

// next returns the first event on sub satisfying match, failing after a
// timeout. Events before it are dropped.
func next(t *testing.T, sub *feed.Subscription, match func(feed.Event) bool) feed.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-sub.C:
			if match(evt) {
				return evt
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return feed.Event{}
		}
	}
}

// drain returns the events already buffered on sub.
func drain(sub *feed.Subscription) []feed.Event {
	var out []feed.Event
	for {
		select {
		case evt := <-sub.C:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func kind(k string) func(feed.Event) bool {
	return func(evt feed.Event) bool { return evt.Kind == k }
}

func roomReady(t *testing.T, e *Engine, room string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot(room)
		return ok
	}, 3*time.Second, 5*time.Millisecond)
}

func TestOptimisticSendThenEcho(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	e := New(svc, testOptions())
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")

	view, err := e.Submit(context.Background(), "r1", "hello")
	require.NoError(t, err)
	assert.Equal(t, feed.Pending, view.State)
	assert.Equal(t, view.TempID, view.ID)

	appended := next(t, sub, kind(feed.MessagesAppended))
	msgs := appended.Payload.(feed.MessagesPayload).Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, feed.Pending, msgs[0].State)

	changed := next(t, sub, kind(feed.MessageStateChanged))
	assert.Greater(t, changed.Seq, appended.Seq)
	st := changed.Payload.(feed.StatePayload)
	assert.Equal(t, feed.Sent, st.State)
	assert.Equal(t, view.TempID, st.TempID)
	assert.NotEqual(t, view.TempID, st.ID)

	snap, ok := e.Snapshot("r1")
	require.True(t, ok)
	want := []feed.MessageView{{
		ID:        st.ID,
		TempID:    view.TempID,
		Room:      "r1",
		ActorID:   remotetest.SelfID,
		ActorName: "Me",
		Body:      "hello",
		Kind:      remote.KindComment,
		State:     feed.Sent,
	}}
	if diff := cmp.Diff(want, snap.Messages, cmpopts.IgnoreFields(feed.MessageView{}, "Timestamp"), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("room messages (-want +got):\n%s", diff)
	}
	assert.Empty(t, e.Pending())
}

func TestSendReceiptReconcilesImmediately(t *testing.T) {
	svc := remotetest.NewFake()
	svc.SendReturnsBody = true
	svc.AddRoom("r1", "Room")
	opts := testOptions()
	opts.Poll.ActiveInterval = time.Hour
	opts.Poll.BackgroundInterval = time.Hour
	e := New(svc, opts)
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")
	require.Eventually(t, func() bool { return svc.FetchCalls("r1") >= 1 }, 3*time.Second, 5*time.Millisecond)

	view, err := e.Submit(context.Background(), "r1", "hi")
	require.NoError(t, err)
	changed := next(t, sub, kind(feed.MessageStateChanged))
	assert.Equal(t, view.TempID, changed.Payload.(feed.StatePayload).TempID)

	// The echo arriving through polling afterwards adds nothing.
	calls := svc.FetchCalls("r1")
	e.SetActive("r1")
	require.Eventually(t, func() bool { return svc.FetchCalls("r1") > calls }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	snap, _ := e.Snapshot("r1")
	assert.Len(t, snap.Messages, 1)
}

func TestEchoBeforeFailureKeepsMessageSent(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	release := svc.BlockSend()
	defer release()
	svc.FailSend(&remote.Error{Kind: remote.NotFound, Status: 404})
	e := New(svc, testOptions())
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")

	view, err := e.Submit(context.Background(), "r1", "race")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(svc.Sent()) == 1 }, 3*time.Second, 5*time.Millisecond)

	// The server already has the message; the poll sees it before the send
	// call returns.
	svc.Post("r1", remote.Message{ReferenceID: view.TempID, ActorID: remotetest.SelfID, Body: "race"})
	e.SetActive("r1")
	changed := next(t, sub, kind(feed.MessageStateChanged))
	assert.Equal(t, feed.Sent, changed.Payload.(feed.StatePayload).State)

	// The late failure lost the race and must not produce a second terminal
	// event.
	release()
	require.Eventually(t, func() bool { return len(e.Pending()) == 0 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	for _, evt := range drain(sub) {
		assert.NotEqual(t, feed.MessageStateChanged, evt.Kind, "unexpected second terminal event")
	}
	snap, _ := e.Snapshot("r1")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, feed.Sent, snap.Messages[0].State)
}

func TestSendFailureMarksFailed(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	boom := &remote.Error{Kind: remote.Transient, Err: errors.New("boom")}
	svc.FailSend(boom, boom, boom)
	e := New(svc, testOptions())
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")

	view, err := e.Submit(context.Background(), "r1", "doomed")
	require.NoError(t, err)
	changed := next(t, sub, kind(feed.MessageStateChanged))
	st := changed.Payload.(feed.StatePayload)
	assert.Equal(t, feed.Failed, st.State)
	assert.Equal(t, view.TempID, st.ID)
	assert.Len(t, svc.Sent(), 3)

	snap, _ := e.Snapshot("r1")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, feed.Failed, snap.Messages[0].State, "failed messages stay visible")
}

func TestSubmitValidation(t *testing.T) {
	svc := remotetest.NewFake()
	e := New(svc, testOptions())
	start(t, e)

	_, err := e.Submit(context.Background(), "r1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = e.Submit(context.Background(), "unknown", "hi")
	assert.Error(t, err)
}

func TestTransientPollFailuresBackOff(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	svc.Post("r1", remote.Message{Body: "first", ActorID: "alice"})
	boom := &remote.Error{Kind: remote.Transient, Err: errors.New("reset")}
	svc.FailFetch("r1", boom, boom, boom)
	opts := testOptions()
	e := New(svc, opts)
	sub := subscribe(t, e, "poll.")
	start(t, e)

	var delays []time.Duration
	for range 3 {
		evt := next(t, sub, func(evt feed.Event) bool { return evt.Kind == feed.PollErrored && evt.Room == "r1" })
		pl := evt.Payload.(feed.PollErrorPayload)
		assert.Equal(t, remote.Transient, pl.Kind)
		delays = append(delays, pl.RetryIn)
		snap, _ := e.Snapshot("r1")
		assert.Empty(t, snap.Cursor, "cursor must not advance on failure")
	}
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
		assert.LessOrEqual(t, delays[i], opts.Poll.Backoff.Max)
	}

	require.Eventually(t, func() bool {
		snap, _ := e.Snapshot("r1")
		return snap.Cursor == "101" && len(snap.Messages) == 1
	}, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return e.Status() == status.Ready }, 3*time.Second, 5*time.Millisecond)
}

func TestRoomNotFoundRemovesRoom(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "One")
	svc.AddRoom("r2", "Two")
	e := New(svc, testOptions())
	sub := subscribe(t, e, "room.")
	start(t, e)
	roomReady(t, e, "r2")

	svc.RemoveRoom("r2")
	next(t, sub, func(evt feed.Event) bool {
		if evt.Kind == feed.RoomRemoved && evt.Room == "r2" {
			return true
		}
		pl, ok := evt.Payload.(feed.RoomListPayload)
		return ok && len(pl.Removed) == 1 && pl.Removed[0] == "r2"
	})
	_, ok := e.Snapshot("r2")
	assert.False(t, ok)
	_, ok = e.Snapshot("r1")
	assert.True(t, ok)
}

func TestRemovedRoomFailsAcknowledgedSend(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "One")
	svc.AddRoom("r2", "Two")
	opts := testOptions()
	opts.Poll.ActiveInterval = time.Hour
	opts.Poll.BackgroundInterval = time.Hour
	e := New(svc, opts)
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")
	require.Eventually(t, func() bool { return svc.FetchCalls("r1") >= 1 }, 3*time.Second, 5*time.Millisecond)

	view, err := e.Submit(context.Background(), "r1", "into the void")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p := e.Pending()
		return len(p) == 1 && p[0].ServerID != ""
	}, 3*time.Second, 5*time.Millisecond, "send acknowledged, echo not yet polled")

	svc.RemoveRoom("r1")
	changed := next(t, sub, kind(feed.MessageStateChanged))
	st := changed.Payload.(feed.StatePayload)
	assert.Equal(t, view.TempID, st.TempID)
	assert.Equal(t, feed.Failed, st.State)
	assert.Equal(t, "into the void", st.Message.Body)
	assert.Empty(t, e.Pending())

	time.Sleep(50 * time.Millisecond)
	for _, evt := range drain(sub) {
		assert.NotEqual(t, feed.MessageStateChanged, evt.Kind, "one terminal event per send")
	}
}

func TestOldOwnMessageIsNotTakenForEcho(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	old := svc.Post("r1", remote.Message{ActorID: remotetest.SelfID, ActorName: "Me", Body: "ok", Timestamp: time.Now().Add(-72 * time.Hour)})
	started, releaseFetch := svc.Block("r1")
	defer releaseFetch()
	releaseSend := svc.BlockSend()
	defer releaseSend()
	e := New(svc, testOptions())
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")
	<-started

	view, err := e.Submit(context.Background(), "r1", "ok")
	require.NoError(t, err)
	next(t, sub, kind(feed.MessagesAppended))

	// The first fetch brings in a days-old message with the same body.
	releaseFetch()
	next(t, sub, func(evt feed.Event) bool {
		pl, ok := evt.Payload.(feed.MessagesPayload)
		return ok && len(pl.Messages) == 1 && pl.Messages[0].ID == old.ID
	})
	for _, evt := range drain(sub) {
		assert.NotEqual(t, feed.MessageStateChanged, evt.Kind, "old message confirmed the new send")
	}
	pending := e.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, view.TempID, pending[0].TempID)

	releaseSend()
	changed := next(t, sub, kind(feed.MessageStateChanged))
	st := changed.Payload.(feed.StatePayload)
	assert.Equal(t, view.TempID, st.TempID)
	assert.Equal(t, feed.Sent, st.State)
	assert.NotEqual(t, old.ID, st.ID)

	snap, _ := e.Snapshot("r1")
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, old.ID, snap.Messages[0].ID)
	assert.Equal(t, st.ID, snap.Messages[1].ID)
}

func TestAuthFailureHaltsUntilResume(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	svc.FailFetch("r1", &remote.Error{Kind: remote.AuthFailure, Status: 401})
	e := New(svc, testOptions())
	sub := subscribe(t, e, "poll.")
	start(t, e)

	evt := next(t, sub, kind(feed.PollErrored))
	assert.Equal(t, remote.AuthFailure, evt.Payload.(feed.PollErrorPayload).Kind)
	require.Eventually(t, func() bool { return e.Status() == status.AuthRequired }, 3*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	calls := svc.FetchCalls("r1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, svc.FetchCalls("r1"), "polling must stay halted")
	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected second poll error: %+v", extra)
	default:
	}

	require.NoError(t, e.Resume(context.Background()))
	require.Eventually(t, func() bool { return svc.FetchCalls("r1") > calls }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return e.Status() == status.Ready }, 3*time.Second, 5*time.Millisecond)
}

func TestCancelledCompletionIsDiscarded(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	opts := testOptions()
	opts.Poll.ActiveInterval = time.Hour
	opts.Poll.BackgroundInterval = time.Hour
	e := New(svc, opts)
	sub := subscribe(t, e, "message.")
	start(t, e)
	roomReady(t, e, "r1")
	before, _ := e.Snapshot("r1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := remote.MessageBatch{
		Messages: []remote.Message{{ID: "500", Room: "r1", Body: "late", Kind: remote.KindComment, Timestamp: time.Now()}},
		Cursor:   "500",
	}
	advanced, err := e.Deliver(ctx, "r1", batch)
	assert.Error(t, err)
	assert.False(t, advanced)

	after, _ := e.Snapshot("r1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("store changed by a cancelled completion (-before +after):\n%s", diff)
	}
	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event %s", evt.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelDuringFetchDropsResult(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	svc.Post("r1", remote.Message{Body: "never merged"})
	opts := testOptions()
	opts.RoomListInterval = time.Hour
	e := New(svc, opts)
	started, release := svc.Block("r1")
	defer release()
	start(t, e)
	roomReady(t, e, "r1")

	<-started
	e.sched.Cancel("r1")
	release()

	snap, _ := e.Snapshot("r1")
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.Cursor)
}

func TestMarkReadUpdatesLocallyAndRemotely(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	svc.Post("r1", remote.Message{Body: "unread", ActorID: "alice"})
	e := New(svc, testOptions())
	sub := subscribe(t, e, "room.read")
	start(t, e)
	require.Eventually(t, func() bool {
		snap, ok := e.Snapshot("r1")
		return ok && len(snap.Messages) == 1
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, e.MarkRead(context.Background(), "r1"))
	evt := next(t, sub, kind(feed.RoomRead))
	assert.Equal(t, "101", evt.Payload.(feed.ReadPayload).LastReadID)
	require.Eventually(t, func() bool { return svc.ReadMarker("r1") == "101" }, 3*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, e.MarkRead(context.Background(), "nope"), state.ErrUnknownRoom)
}

func TestRestoreResumesFromCachedCursor(t *testing.T) {
	svc := remotetest.NewFake()
	svc.AddRoom("r1", "Room")
	svc.Post("r1", remote.Message{ID: "10", Body: "old"})
	svc.Post("r1", remote.Message{ID: "11", Body: "new"})
	e := New(svc, testOptions())
	sub := subscribe(t, e, "")

	require.NoError(t, e.Restore(&store.Snapshot{
		Rooms: []feed.RoomSummary{{Token: "r1", DisplayName: "Room"}},
		Messages: map[string][]feed.MessageView{"r1": {
			{ID: "10", Room: "r1", Body: "old", State: feed.Sent, Timestamp: time.Now().Add(-time.Hour)},
		}},
		Cursors: map[string]string{"r1": "10"},
	}))
	assert.Empty(t, drain(sub), "restore publishes nothing")
	sub.Close()

	start(t, e)
	require.Eventually(t, func() bool {
		snap, _ := e.Snapshot("r1")
		return len(snap.Messages) == 2 && snap.Cursor == "11"
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, "10", svc.Cursors("r1")[0])
	assert.Error(t, e.Restore(nil), "restore after start")
}
