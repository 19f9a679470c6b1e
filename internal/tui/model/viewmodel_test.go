package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/state"
	"github.com/matheus3301/talk/internal/status"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, min int) feed.MessageView {
	return feed.MessageView{ID: id, Room: "r1", Body: "m" + id, State: feed.Sent, Timestamp: t0.Add(time.Duration(min) * time.Minute)}
}

func ids(msgs []feed.MessageView) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func openRoom(vm *ViewModel, unread int, lastRead string, msgs ...feed.MessageView) {
	vm.Open(state.RoomView{
		Room:     feed.RoomSummary{Token: "r1", UnreadCount: unread, LastReadID: lastRead},
		Messages: msgs,
	})
}

func TestAppendToActiveRoomIsIdempotent(t *testing.T) {
	vm := NewViewModel()
	vm.Load([]feed.RoomSummary{{Token: "r1"}, {Token: "r2"}}, status.Syncing)
	openRoom(vm, 0, "", msg("1", 0), msg("2", 1))

	evt := feed.Event{Seq: 1, Kind: feed.MessagesAppended, Room: "r1", Payload: feed.MessagesPayload{
		Messages: []feed.MessageView{msg("2", 1), msg("3", 2)},
	}}
	ch, notice := vm.Apply(evt)
	assert.True(t, ch.Has(ChangedThread))
	assert.Nil(t, notice)

	// Replayed sequence numbers are ignored.
	ch, _ = vm.Apply(evt)
	assert.Zero(t, ch)

	thread, _ := vm.Thread()
	assert.Equal(t, []string{"1", "2", "3"}, ids(thread))
}

func TestAppendKeepsTimestampOrder(t *testing.T) {
	vm := NewViewModel()
	openRoom(vm, 0, "", msg("1", 0), msg("3", 5))
	vm.Apply(feed.Event{Kind: feed.MessagesAppended, Room: "r1", Payload: feed.MessagesPayload{
		Messages: []feed.MessageView{msg("2", 3)},
	}})
	thread, _ := vm.Thread()
	assert.Equal(t, []string{"1", "2", "3"}, ids(thread))
}

func TestOtherRoomOnlyTouchesList(t *testing.T) {
	vm := NewViewModel()
	vm.Load([]feed.RoomSummary{
		{Token: "r1", LastActivity: t0.Add(time.Hour)},
		{Token: "r2", LastActivity: t0},
	}, status.Ready)
	openRoom(vm, 0, "", msg("1", 0))

	m := msg("9", 120)
	m.Room = "r2"
	ch, _ := vm.Apply(feed.Event{Kind: feed.MessagesAppended, Room: "r2", Payload: feed.MessagesPayload{Messages: []feed.MessageView{m}}})
	assert.Equal(t, ChangedRooms, ch)

	rooms := vm.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "r2", rooms[0].Token, "most recent activity first")
	thread, _ := vm.Thread()
	assert.Equal(t, []string{"1"}, ids(thread))
}

func TestPendingMessageBecomesSent(t *testing.T) {
	vm := NewViewModel()
	pending := feed.MessageView{ID: "tmp", TempID: "tmp", Room: "r1", Body: "hi", State: feed.Pending, Timestamp: t0.Add(time.Minute)}
	openRoom(vm, 0, "", msg("1", 0), pending)
	assert.Equal(t, 1, vm.Pending())

	sent := pending
	sent.ID = "7"
	sent.State = feed.Sent
	ch, notice := vm.Apply(feed.Event{Kind: feed.MessageStateChanged, Room: "r1", Payload: feed.StatePayload{
		ID: "7", TempID: "tmp", State: feed.Sent, Message: sent,
	}})
	assert.Equal(t, ChangedThread, ch)
	assert.Nil(t, notice)

	thread, _ := vm.Thread()
	assert.Equal(t, []string{"1", "7"}, ids(thread))
	assert.Equal(t, feed.Sent, thread[1].State)
	assert.Zero(t, vm.Pending())
}

func TestPendingDroppedWhenServerCopyAlreadyShown(t *testing.T) {
	vm := NewViewModel()
	pending := feed.MessageView{ID: "tmp", TempID: "tmp", Room: "r1", State: feed.Pending, Timestamp: t0}
	openRoom(vm, 0, "", pending, msg("7", 1))

	vm.Apply(feed.Event{Kind: feed.MessageStateChanged, Room: "r1", Payload: feed.StatePayload{
		ID: "7", TempID: "tmp", State: feed.Sent, Message: msg("7", 1),
	}})
	thread, _ := vm.Thread()
	assert.Equal(t, []string{"7"}, ids(thread))
	assert.Equal(t, "tmp", thread[0].TempID)
}

func TestFailedSendFlashes(t *testing.T) {
	vm := NewViewModel()
	pending := feed.MessageView{ID: "tmp", TempID: "tmp", Room: "r1", State: feed.Pending, Timestamp: t0}
	openRoom(vm, 0, "", pending)

	failed := pending
	failed.State = feed.Failed
	_, notice := vm.Apply(feed.Event{Kind: feed.MessageStateChanged, Room: "r1", Payload: feed.StatePayload{
		ID: "tmp", TempID: "tmp", State: feed.Failed, Message: failed,
	}})
	require.NotNil(t, notice)
	assert.True(t, notice.Warn)
	thread, _ := vm.Thread()
	assert.Equal(t, feed.Failed, thread[0].State)
}

func TestRemovedActiveRoomCloses(t *testing.T) {
	vm := NewViewModel()
	vm.Load([]feed.RoomSummary{{Token: "r1"}, {Token: "r2"}}, status.Ready)
	openRoom(vm, 0, "", msg("1", 0))

	ch, notice := vm.Apply(feed.Event{Kind: feed.RoomRemoved, Room: "r1"})
	assert.True(t, ch.Has(ChangedThread))
	assert.NotNil(t, notice)
	assert.Empty(t, vm.Active())
	assert.Len(t, vm.Rooms(), 1)
}

func TestRoomListRemovalClosesActiveRoom(t *testing.T) {
	vm := NewViewModel()
	openRoom(vm, 0, "", msg("1", 0))
	ch, _ := vm.Apply(feed.Event{Kind: feed.RoomListUpdated, Payload: feed.RoomListPayload{
		Rooms:   []feed.RoomSummary{{Token: "r2"}},
		Removed: []string{"r1"},
	}})
	assert.True(t, ch.Has(ChangedRooms|ChangedThread))
	assert.Empty(t, vm.Active())
}

func TestUnreadMarkerSurvivesMarkRead(t *testing.T) {
	vm := NewViewModel()
	vm.Load([]feed.RoomSummary{{Token: "r1", UnreadCount: 2, LastReadID: "1"}}, status.Ready)
	openRoom(vm, 2, "1", msg("1", 0), msg("2", 1), msg("3", 2))

	vm.Apply(feed.Event{Kind: feed.RoomRead, Room: "r1", Payload: feed.ReadPayload{LastReadID: "3"}})
	room, ok := vm.Room("r1")
	require.True(t, ok)
	assert.Zero(t, room.UnreadCount)
	assert.Equal(t, "3", room.LastReadID)

	_, unreadFrom := vm.Thread()
	assert.Equal(t, "1", unreadFrom)
}

func TestStatusChange(t *testing.T) {
	vm := NewViewModel()
	ch, _ := vm.Apply(feed.Event{Kind: feed.StatusChanged, Payload: status.StatusChange{From: status.Ready, To: status.AuthRequired}})
	assert.Equal(t, ChangedStatus, ch)
	assert.Equal(t, status.AuthRequired, vm.Status())
}
