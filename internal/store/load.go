package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/talk/internal/feed"
)

// Snapshot is the cached state used for a warm start.
type Snapshot struct {
	Rooms    []feed.RoomSummary
	Messages map[string][]feed.MessageView
	Cursors  map[string]string
	Outbox   []OutboxEntry
}

// LoadSnapshot reads rooms, the newest perRoom messages of each room, the
// cursors and the pending outbox.
func (db *DB) LoadSnapshot(ctx context.Context, perRoom int) (*Snapshot, error) {
	rooms, err := db.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	snap := &Snapshot{Messages: make(map[string][]feed.MessageView, len(rooms))}
	for _, r := range rooms {
		snap.Rooms = append(snap.Rooms, r.Summary())
		msgs, err := db.RecentMessages(ctx, r.Token, perRoom)
		if err != nil {
			return nil, fmt.Errorf("load messages of %s: %w", r.Token, err)
		}
		views := make([]feed.MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, m.View())
		}
		snap.Messages[r.Token] = views
	}
	if snap.Cursors, err = NewReconciler(db, nil).Cursors(ctx); err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	if snap.Outbox, err = db.PendingOutbox(ctx); err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	return snap, nil
}

// Summary converts a cached room into a feed summary.
func (r Room) Summary() feed.RoomSummary {
	return feed.RoomSummary{
		Token:        r.Token,
		DisplayName:  r.DisplayName,
		UnreadCount:  r.UnreadCount,
		LastActivity: time.UnixMilli(r.LastActivity),
		LastReadID:   r.LastReadID,
	}
}

// View converts a cached message into a feed message.
func (m Message) View() feed.MessageView {
	return feed.MessageView{
		ID:            m.MsgID,
		TempID:        m.TempID,
		Room:          m.RoomToken,
		ActorID:       m.ActorID,
		ActorName:     m.ActorName,
		Body:          m.Body,
		Kind:          m.Kind,
		SystemMessage: m.SystemMessage,
		Reactions:     m.Reactions,
		Timestamp:     time.UnixMilli(m.Timestamp),
		State:         feed.DeliveryState(m.State),
	}
}
