package model

import (
	"slices"
	"sort"
	"sync"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/state"
	"github.com/matheus3301/talk/internal/status"
)

// Change tells the view which parts of the screen an event touched.
type Change uint8

const (
	ChangedRooms Change = 1 << iota
	ChangedThread
	ChangedStatus
)

// Has reports whether c includes other.
func (c Change) Has(other Change) bool { return c&other != 0 }

// Notice is a message the view should flash.
type Notice struct {
	Text string
	Warn bool
}

// ViewModel mirrors engine state for the view. It is fed by the event pump and
// read by the UI goroutine.
type ViewModel struct {
	mu sync.RWMutex

	rooms  []feed.RoomSummary
	status status.State

	active     string
	thread     []feed.MessageView
	unreadFrom string
	lastSeq    uint64
}

// NewViewModel creates an empty view model.
func NewViewModel() *ViewModel {
	return &ViewModel{status: status.Booting}
}

// Load sets the initial room list and status. Take it after subscribing so
// nothing is missed; events already reflected here are applied idempotently.
func (vm *ViewModel) Load(rooms []feed.RoomSummary, st status.State) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.rooms = slices.Clone(rooms)
	vm.status = st
}

// Open makes view the active thread. Messages after the room's last read
// marker are flagged as new until another room is opened.
func (vm *ViewModel) Open(view state.RoomView) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.active = view.Room.Token
	vm.thread = slices.Clone(view.Messages)
	vm.unreadFrom = ""
	if view.Room.UnreadCount > 0 {
		vm.unreadFrom = view.Room.LastReadID
	}
}

// Close leaves the active thread.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.active = ""
	vm.thread = nil
	vm.unreadFrom = ""
}

// Apply folds one event into the model.
func (vm *ViewModel) Apply(evt feed.Event) (Change, *Notice) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if evt.Seq != 0 {
		if evt.Seq <= vm.lastSeq {
			return 0, nil
		}
		vm.lastSeq = evt.Seq
	}

	switch evt.Kind {
	case feed.RoomListUpdated:
		pl, _ := evt.Payload.(feed.RoomListPayload)
		vm.rooms = slices.Clone(pl.Rooms)
		ch := ChangedRooms
		if vm.active != "" && slices.Contains(pl.Removed, vm.active) {
			vm.closeLocked()
			ch |= ChangedThread
			return ch, &Notice{Text: "Room is no longer available", Warn: true}
		}
		return ch, nil

	case feed.RoomRemoved:
		vm.rooms = slices.DeleteFunc(vm.rooms, func(r feed.RoomSummary) bool { return r.Token == evt.Room })
		if evt.Room == vm.active {
			vm.closeLocked()
			return ChangedRooms | ChangedThread, &Notice{Text: "Room is no longer available", Warn: true}
		}
		return ChangedRooms, nil

	case feed.RoomRead:
		pl, _ := evt.Payload.(feed.ReadPayload)
		if i := vm.roomIndex(evt.Room); i >= 0 {
			vm.rooms[i].UnreadCount = 0
			vm.rooms[i].LastReadID = pl.LastReadID
		}
		return ChangedRooms, nil

	case feed.RoomReadFailed:
		return 0, &Notice{Text: "Could not update the read marker", Warn: true}

	case feed.MessagesAppended:
		pl, _ := evt.Payload.(feed.MessagesPayload)
		vm.touchRoom(evt.Room, pl.Messages)
		if evt.Room != vm.active {
			return ChangedRooms, nil
		}
		for _, m := range pl.Messages {
			vm.upsert(m)
		}
		for _, m := range pl.Updated {
			vm.upsert(m)
		}
		return ChangedRooms | ChangedThread, nil

	case feed.MessageStateChanged:
		pl, _ := evt.Payload.(feed.StatePayload)
		var notice *Notice
		if pl.State == feed.Failed {
			notice = &Notice{Text: "Message could not be sent", Warn: true}
		}
		if evt.Room != vm.active {
			return 0, notice
		}
		msg := pl.Message
		msg.State = pl.State
		if msg.TempID == "" {
			msg.TempID = pl.TempID
		}
		vm.replace(pl.TempID, msg)
		return ChangedThread, notice

	case feed.PollErrored:
		pl, _ := evt.Payload.(feed.PollErrorPayload)
		return 0, &Notice{Text: "Sync problem: " + pl.Err, Warn: true}

	case feed.StatusChanged:
		pl, _ := evt.Payload.(status.StatusChange)
		vm.status = pl.To
		return ChangedStatus, nil
	}
	return 0, nil
}

func (vm *ViewModel) closeLocked() {
	vm.active = ""
	vm.thread = nil
	vm.unreadFrom = ""
}

func (vm *ViewModel) roomIndex(token string) int {
	return slices.IndexFunc(vm.rooms, func(r feed.RoomSummary) bool { return r.Token == token })
}

// touchRoom bumps the room's activity so the list keeps its most recent first
// order between listings.
func (vm *ViewModel) touchRoom(token string, msgs []feed.MessageView) {
	i := vm.roomIndex(token)
	if i < 0 {
		return
	}
	for _, m := range msgs {
		if m.Timestamp.After(vm.rooms[i].LastActivity) {
			vm.rooms[i].LastActivity = m.Timestamp
		}
	}
	sort.SliceStable(vm.rooms, func(a, b int) bool {
		return vm.rooms[a].LastActivity.After(vm.rooms[b].LastActivity)
	})
}

// upsert replaces a known message or inserts it after every message with an
// equal or earlier timestamp.
func (vm *ViewModel) upsert(m feed.MessageView) {
	for i := range vm.thread {
		if vm.thread[i].ID == m.ID || (m.TempID != "" && vm.thread[i].ID == m.TempID) {
			vm.thread[i] = m
			return
		}
	}
	pos := len(vm.thread)
	for pos > 0 && vm.thread[pos-1].Timestamp.After(m.Timestamp) {
		pos--
	}
	vm.thread = slices.Insert(vm.thread, pos, m)
}

// replace swaps the pending entry tempID for msg, or drops it when msg is
// already shown under its server id.
func (vm *ViewModel) replace(tempID string, msg feed.MessageView) {
	pending := slices.IndexFunc(vm.thread, func(m feed.MessageView) bool { return m.ID == tempID })
	existing := -1
	if msg.ID != tempID {
		existing = slices.IndexFunc(vm.thread, func(m feed.MessageView) bool { return m.ID == msg.ID })
	}
	switch {
	case pending >= 0 && existing >= 0:
		vm.thread[existing] = msg
		vm.thread = slices.Delete(vm.thread, pending, pending+1)
	case pending >= 0:
		vm.thread[pending] = msg
	case existing >= 0:
		vm.thread[existing] = msg
	default:
		vm.upsert(msg)
	}
}

// Rooms returns a copy of the room list.
func (vm *ViewModel) Rooms() []feed.RoomSummary {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.rooms)
}

// Room returns the summary of token.
func (vm *ViewModel) Room(token string) (feed.RoomSummary, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if i := vm.roomIndex(token); i >= 0 {
		return vm.rooms[i], true
	}
	return feed.RoomSummary{}, false
}

// Active returns the token of the open room, or "".
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Thread returns the open room's messages and the id after which messages are
// new ("" when there is nothing new).
func (vm *ViewModel) Thread() ([]feed.MessageView, string) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.thread), vm.unreadFrom
}

// Status returns the last known engine state.
func (vm *ViewModel) Status() status.State {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Pending counts messages of the open room still waiting for the server.
func (vm *ViewModel) Pending() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	n := 0
	for _, m := range vm.thread {
		if m.State == feed.Pending {
			n++
		}
	}
	return n
}
