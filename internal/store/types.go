package store

// Room is a cached conversation.
type Room struct {
	Token        string
	DisplayName  string
	UnreadCount  int
	LastActivity int64
	LastReadID   string
}

// Message is a cached message. MsgID is the server id, or the temporary id
// while the message is still pending.
type Message struct {
	ID            int64
	RoomToken     string
	MsgID         string
	TempID        string
	ActorID       string
	ActorName     string
	Body          string
	Kind          string
	SystemMessage string
	Reactions     map[string]int
	State         string // pending, sent, failed
	Timestamp     int64
}

// OutboxEntry is a journaled pending action.
type OutboxEntry struct {
	ID           int64
	TempID       string
	Kind         string // send, read
	RoomToken    string
	Body         string
	TargetID     string
	Attempts     int
	ServerID     string
	Status       string // pending, failed
	ErrorMessage string
	CreatedAt    int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
