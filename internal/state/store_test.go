package state

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/remote"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, body string) remote.Message {
	return remote.Message{
		ID:        id,
		Room:      "r1",
		ActorID:   "alice",
		ActorName: "Alice",
		Body:      body,
		Kind:      remote.KindComment,
		Timestamp: t0.Add(offset),
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	added, removed := s.ApplyRoomList([]remote.RoomSummary{{Token: "r1", DisplayName: "Room One"}})
	require.Equal(t, []string{"r1"}, added)
	require.Empty(t, removed)
	return s
}

func ids(t *testing.T, s *Store, room string) []string {
	t.Helper()
	view, ok := s.Snapshot(room)
	require.True(t, ok)
	out := make([]string, 0, len(view.Messages))
	for _, m := range view.Messages {
		out = append(out, m.ID)
	}
	return out
}

func TestApplyRemoteSnapshotIdempotent(t *testing.T) {
	s := newTestStore(t)
	batch := []remote.Message{msg("1", 0, "a"), msg("2", time.Second, "b")}

	first, err := s.ApplyRemoteSnapshot("r1", batch, "2", false)
	require.NoError(t, err)
	assert.Len(t, first.Appended, 2)
	assert.True(t, first.CursorAdvanced)
	before, _ := s.Snapshot("r1")

	second, err := s.ApplyRemoteSnapshot("r1", batch, "2", false)
	require.NoError(t, err)
	assert.Empty(t, second.Appended)
	assert.Empty(t, second.Updated)
	assert.False(t, second.CursorAdvanced)

	after, _ := s.Snapshot("r1")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("snapshot changed on re-apply (-before +after):\n%s", diff)
	}
}

func TestApplyRemoteSnapshotOrdersByTimestamp(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyRemoteSnapshot("r1", []remote.Message{msg("1", 0, "a"), msg("3", 3*time.Second, "c")}, "3", false)
	require.NoError(t, err)

	_, err = s.ApplyRemoteSnapshot("r1", []remote.Message{msg("2", time.Second, "b")}, "3", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(t, s, "r1"))

	// Equal timestamps keep arrival order.
	_, err = s.ApplyRemoteSnapshot("r1", []remote.Message{msg("4", time.Second, "d")}, "4", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "4", "3"}, ids(t, s, "r1"))
}

func TestApplyRemoteSnapshotReportsUpdates(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyRemoteSnapshot("r1", []remote.Message{msg("1", 0, "a")}, "1", false)
	require.NoError(t, err)

	edited := msg("1", 0, "a (edited)")
	edited.Reactions = map[string]int{"👍": 2}
	res, err := s.ApplyRemoteSnapshot("r1", []remote.Message{edited}, "1", false)
	require.NoError(t, err)
	assert.Empty(t, res.Appended)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, "a (edited)", res.Updated[0].Body)
	assert.Equal(t, map[string]int{"👍": 2}, res.Updated[0].Reactions)
}

func TestCursorOnlyAdvancesOnDataOrUpToDate(t *testing.T) {
	s := newTestStore(t)

	res, err := s.ApplyRemoteSnapshot("r1", nil, "9", false)
	require.NoError(t, err)
	assert.False(t, res.CursorAdvanced)
	assert.Equal(t, "", s.Cursor("r1"))

	res, err = s.ApplyRemoteSnapshot("r1", nil, "9", true)
	require.NoError(t, err)
	assert.True(t, res.CursorAdvanced)
	assert.Equal(t, "9", s.Cursor("r1"))
}

func TestApplyRemoteSnapshotUnknownRoom(t *testing.T) {
	s := New()
	_, err := s.ApplyRemoteSnapshot("nope", []remote.Message{msg("1", 0, "a")}, "1", false)
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestReconcilePendingInPlace(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyRemoteSnapshot("r1", []remote.Message{msg("1", 0, "a")}, "1", false)
	require.NoError(t, err)

	pending, err := s.AddPending("r1", "tmp-1", "me", "Me", "hello", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, feed.Pending, pending.State)
	_, err = s.ApplyRemoteSnapshot("r1", []remote.Message{msg("2", 2*time.Minute, "later")}, "2", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "tmp-1", "2"}, ids(t, s, "r1"))

	echo := msg("5", time.Minute+time.Second, "hello")
	echo.ActorID = "me"
	echo.ReferenceID = "tmp-1"
	rec, err := s.ReconcilePending("tmp-1", echo)
	require.NoError(t, err)
	assert.True(t, rec.InPlace)
	assert.Equal(t, feed.Sent, rec.Message.State)
	assert.Equal(t, "5", rec.Message.ID)
	assert.Equal(t, "tmp-1", rec.Message.TempID)

	assert.Equal(t, []string{"1", "5", "2"}, ids(t, s, "r1"))

	// The echo arriving again through polling is not a second message.
	res, err := s.ApplyRemoteSnapshot("r1", []remote.Message{echo}, "5", false)
	require.NoError(t, err)
	assert.Empty(t, res.Appended)
	assert.Equal(t, []string{"1", "5", "2"}, ids(t, s, "r1"))
}

func TestReconcilePendingAfterServerCopyAppended(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddPending("r1", "tmp-1", "me", "Me", "hello", t0)
	require.NoError(t, err)

	echo := msg("7", time.Second, "hello")
	echo.ActorID = "me"
	_, err = s.ApplyRemoteSnapshot("r1", []remote.Message{echo}, "7", false)
	require.NoError(t, err)

	rec, err := s.ReconcilePending("tmp-1", echo)
	require.NoError(t, err)
	assert.True(t, rec.InPlace)
	assert.Equal(t, []string{"7"}, ids(t, s, "r1"))
	assert.Equal(t, feed.Sent, rec.Message.State)
}

func TestReconcileWithoutPendingAppends(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.ReconcilePending("ghost", msg("3", 0, "x"))
	require.NoError(t, err)
	assert.False(t, rec.InPlace)
	require.Len(t, rec.Applied.Appended, 1)
	assert.Equal(t, "3", rec.Message.ID)
}

func TestMarkFailedKeepsMessage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddPending("r1", "tmp-1", "me", "Me", "hello", t0)
	require.NoError(t, err)

	v, ok := s.MarkFailed("r1", "tmp-1")
	require.True(t, ok)
	assert.Equal(t, feed.Failed, v.State)

	_, ok = s.MarkFailed("r1", "tmp-1")
	assert.False(t, ok, "a failed message cannot fail twice")

	view, _ := s.Snapshot("r1")
	require.Len(t, view.Messages, 1)
	assert.Equal(t, feed.Failed, view.Messages[0].State)
}

func TestApplyRoomListRemovesMissing(t *testing.T) {
	s := New()
	s.ApplyRoomList([]remote.RoomSummary{{Token: "a"}, {Token: "b"}})
	added, removed := s.ApplyRoomList([]remote.RoomSummary{{Token: "b", UnreadCount: 3}, {Token: "c"}})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)
	assert.False(t, s.HasRoom("a"))

	rooms := s.Rooms()
	require.Len(t, rooms, 2)
	for _, r := range rooms {
		if r.Token == "b" {
			assert.Equal(t, 3, r.UnreadCount)
			assert.Equal(t, "b", r.DisplayName)
		}
	}
}

func TestMarkReadClearsUnread(t *testing.T) {
	s := New()
	s.ApplyRoomList([]remote.RoomSummary{{Token: "r1", UnreadCount: 4}})
	require.True(t, s.MarkRead("r1", "42"))
	view, _ := s.Snapshot("r1")
	assert.Equal(t, 0, view.Room.UnreadCount)
	assert.Equal(t, "42", view.Room.LastReadID)
	assert.False(t, s.MarkRead("missing", "1"))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore(t)
	m := msg("1", 0, "a")
	m.Reactions = map[string]int{"❤": 1}
	_, err := s.ApplyRemoteSnapshot("r1", []remote.Message{m}, "1", false)
	require.NoError(t, err)

	view, _ := s.Snapshot("r1")
	view.Messages[0].Reactions["❤"] = 99
	view.Messages[0].Body = "mutated"

	again, _ := s.Snapshot("r1")
	assert.Equal(t, 1, again.Messages[0].Reactions["❤"])
	assert.Equal(t, "a", again.Messages[0].Body)
}

func TestRoomsSortedByActivity(t *testing.T) {
	s := New()
	s.ApplyRoomList([]remote.RoomSummary{
		{Token: "old", LastActivity: t0},
		{Token: "new", LastActivity: t0.Add(time.Hour)},
	})
	rooms := s.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "new", rooms[0].Token)
	assert.Equal(t, "old", rooms[1].Token)
}

func TestLoadAndLatestServerID(t *testing.T) {
	s := New()
	s.Load(
		[]feed.RoomSummary{{Token: "r1", DisplayName: "R"}},
		map[string][]feed.MessageView{"r1": {
			{ID: "1", Room: "r1", State: feed.Sent, Timestamp: t0},
			{ID: "2", Room: "r1", State: feed.Sent, Timestamp: t0.Add(time.Second)},
			{ID: "tmp", TempID: "tmp", Room: "r1", State: feed.Pending, Timestamp: t0.Add(2 * time.Second)},
		}},
		map[string]string{"r1": "2"},
	)
	assert.Equal(t, "2", s.Cursor("r1"))
	assert.Equal(t, "2", s.LatestServerID("r1"))
	_, ok := s.PendingFor("r1", "tmp")
	assert.True(t, ok)
}
