package feed

import (
	"time"

	"github.com/matheus3301/talk/internal/remote"
)

// Event kinds. Subscribers filter on prefixes such as "message." or "room.".
const (
	RoomListUpdated     = "room.list_updated"
	RoomRemoved         = "room.removed"
	RoomRead            = "room.read"
	RoomReadFailed      = "room.read_failed"
	MessagesAppended    = "message.appended"
	MessageStateChanged = "message.state_changed"
	PollErrored         = "poll.error"
	StatusChanged       = "sync.status_changed"
)

// Event is one state change delivered to subscribers. Seq is assigned by the
// feed and increases by one per published event.
type Event struct {
	Seq       uint64
	Kind      string
	Room      string
	Timestamp time.Time
	Payload   any
}

// DeliveryState is the delivery state of a message.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// MessageView is the read-only message shape carried in events and snapshots.
type MessageView struct {
	ID            string
	TempID        string
	Room          string
	ActorID       string
	ActorName     string
	Body          string
	Kind          string
	SystemMessage string
	Reactions     map[string]int
	Timestamp     time.Time
	State         DeliveryState
}

// RoomSummary mirrors a room's listing metadata.
type RoomSummary struct {
	Token        string
	DisplayName  string
	UnreadCount  int
	LastActivity time.Time
	LastReadID   string
}

// RoomListPayload accompanies RoomListUpdated.
type RoomListPayload struct {
	Rooms   []RoomSummary
	Added   []string
	Removed []string
}

// MessagesPayload accompanies MessagesAppended. Updated lists known messages
// whose content changed (edits, reactions).
type MessagesPayload struct {
	Messages []MessageView
	Updated  []MessageView
}

// StatePayload accompanies MessageStateChanged. ID is the current id of the
// message: the server id once Sent, the temporary id otherwise.
type StatePayload struct {
	ID      string
	TempID  string
	State   DeliveryState
	Message MessageView
}

// ReadPayload accompanies RoomRead.
type ReadPayload struct {
	LastReadID string
}

// ReadFailedPayload accompanies RoomReadFailed. The optimistic read state is
// kept; the marker is simply not confirmed by the server.
type ReadFailedPayload struct {
	MessageID string
	Err       string
}

// PollErrorPayload accompanies PollErrored.
type PollErrorPayload struct {
	Kind    remote.ErrorKind
	Err     string
	RetryIn time.Duration
}
