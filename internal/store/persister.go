package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/feed"
)

// Persister mirrors feed events into the offline cache. It must be
// subscribed before the engine starts publishing.
type Persister struct {
	db     *DB
	sub    *feed.Subscription
	logger *zap.Logger
}

// NewPersister subscribes to every event kind the cache cares about.
func NewPersister(db *DB, f *feed.Feed, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{db: db, sub: f.Subscribe(""), logger: logger.Named("persister")}
}

// drainTimeout bounds the writes made after Run is cancelled.
const drainTimeout = 5 * time.Second

// Run consumes events until ctx is done, then writes whatever is still
// buffered.
func (p *Persister) Run(ctx context.Context) error {
	defer p.sub.Close()
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case evt := <-p.sub.C:
			p.persist(wctx, evt)
		}
	}
}

// drain persists buffered events. Cursors are checkpointed as soon as a batch
// merges, so these messages are already behind the saved cursor.
func (p *Persister) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	n := 0
	for ctx.Err() == nil {
		select {
		case evt := <-p.sub.C:
			p.persist(ctx, evt)
			n++
		default:
			if n > 0 {
				p.logger.Debug("drained buffered events", zap.Int("events", n))
			}
			return
		}
	}
	p.logger.Warn("drain timed out", zap.Int("events", n))
}

func (p *Persister) persist(ctx context.Context, evt feed.Event) {
	if err := p.apply(ctx, evt); err != nil {
		p.logger.Error("persist event failed",
			zap.String("kind", evt.Kind),
			zap.Uint64("seq", evt.Seq),
			zap.Error(err),
		)
	}
}

func (p *Persister) apply(ctx context.Context, evt feed.Event) error {
	switch evt.Kind {
	case feed.RoomListUpdated:
		pl, ok := evt.Payload.(feed.RoomListPayload)
		if !ok {
			return nil
		}
		for _, token := range pl.Removed {
			if err := p.db.DeleteRoom(ctx, token); err != nil {
				return err
			}
		}
		for _, r := range pl.Rooms {
			if err := p.db.UpsertRoom(ctx, RoomFromSummary(r)); err != nil {
				return err
			}
		}
	case feed.RoomRemoved:
		return p.db.DeleteRoom(ctx, evt.Room)
	case feed.RoomRead:
		pl, ok := evt.Payload.(feed.ReadPayload)
		if !ok {
			return nil
		}
		return p.db.MarkRoomRead(ctx, evt.Room, pl.LastReadID)
	case feed.MessagesAppended:
		pl, ok := evt.Payload.(feed.MessagesPayload)
		if !ok {
			return nil
		}
		for _, batch := range [][]feed.MessageView{pl.Messages, pl.Updated} {
			for _, v := range batch {
				if err := p.db.UpsertMessage(ctx, MessageFromView(v)); err != nil {
					return err
				}
			}
		}
	case feed.MessageStateChanged:
		pl, ok := evt.Payload.(feed.StatePayload)
		if !ok {
			return nil
		}
		if pl.State == feed.Sent && pl.TempID != "" && pl.ID != pl.TempID {
			return p.db.ReconcileMessage(ctx, pl.TempID, MessageFromView(pl.Message))
		}
		return p.db.SetMessageState(ctx, evt.Room, pl.ID, string(pl.State))
	}
	return nil
}

// RoomFromSummary converts a feed summary into its cached form.
func RoomFromSummary(r feed.RoomSummary) *Room {
	return &Room{
		Token:        r.Token,
		DisplayName:  r.DisplayName,
		UnreadCount:  r.UnreadCount,
		LastActivity: r.LastActivity.UnixMilli(),
		LastReadID:   r.LastReadID,
	}
}

// MessageFromView converts a feed message into its cached form.
func MessageFromView(v feed.MessageView) *Message {
	return &Message{
		RoomToken:     v.Room,
		MsgID:         v.ID,
		TempID:        v.TempID,
		ActorID:       v.ActorID,
		ActorName:     v.ActorName,
		Body:          v.Body,
		Kind:          v.Kind,
		SystemMessage: v.SystemMessage,
		Reactions:     v.Reactions,
		State:         string(v.State),
		Timestamp:     v.Timestamp.UnixMilli(),
	}
}
