package remote

import (
	"context"
	"time"
)

// Message kinds as reported by the server.
const (
	KindComment        = "comment"
	KindSystem         = "system"
	KindCommentDeleted = "comment_deleted"
)

// RoomSummary is one entry of a room listing.
type RoomSummary struct {
	Token         string
	DisplayName   string
	UnreadCount   int
	LastActivity  time.Time
	LastReadID    string
	LastMessageID string
}

// Message is a message as seen by the server.
type Message struct {
	ID            string
	ReferenceID   string
	Room          string
	ActorID       string
	ActorName     string
	Body          string
	Kind          string
	SystemMessage string
	Reactions     map[string]int
	Timestamp     time.Time
}

// MessageBatch is the result of one fetch: a snapshot plus the cursor to resume from.
// UpToDate marks an empty batch that still confirms the cursor position.
type MessageBatch struct {
	Messages []Message
	Cursor   string
	UpToDate bool
}

// SendReceipt is returned by a successful send. Message is set when the server
// answered with the authoritative message body.
type SendReceipt struct {
	ID      string
	Message *Message
}

// Service is the conversation backend consumed by the engine.
type Service interface {
	ListRooms(ctx context.Context) ([]RoomSummary, error)
	FetchMessages(ctx context.Context, room, cursor string) (MessageBatch, error)
	SendMessage(ctx context.Context, room, body, referenceID string) (SendReceipt, error)
	SetReadMarker(ctx context.Context, room, messageID string) error
}
