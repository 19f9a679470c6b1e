package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/remote"
	"github.com/matheus3301/talk/internal/status"
)

// listKey marks the room listing in the failing set.
const listKey = ""

// listRooms polls the room listing until ctx is done.
func (e *Engine) listRooms(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-e.relist:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := e.opts.RoomListInterval
		if !e.sched.Halted() {
			lctx, cancel := context.WithTimeout(ctx, e.opts.Poll.FetchTimeout)
			rooms, err := e.svc.ListRooms(lctx)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				failures++
				delay := e.opts.Poll.Backoff.Delay(failures)
				if remote.KindOf(err) == remote.RateLimited {
					delay = e.opts.Poll.Backoff.RateLimited(failures, remote.RetryHint(err))
				}
				next = max(next, delay)
				_ = e.do(ctx, func(octx context.Context) { e.fetchFailed(octx, listKey, err, delay) })
			} else {
				failures = 0
				_ = e.do(ctx, func(octx context.Context) { e.applyRoomList(octx, rooms) })
			}
		}
		timer.Reset(next)
	}
}

func (e *Engine) applyRoomList(ctx context.Context, rooms []remote.RoomSummary) {
	added, removed := e.store.ApplyRoomList(rooms)
	for _, token := range removed {
		e.sched.Drop(token)
		delete(e.failing, token)
		e.dropActions(ctx, token)
	}
	for _, r := range e.store.Rooms() {
		e.sched.Schedule(r.Token, e.store.Cursor(r.Token))
	}
	if len(added) > 0 || len(removed) > 0 {
		e.log.Info("room list changed", zap.Strings("added", added), zap.Strings("removed", removed))
	}
	e.publish(ctx, feed.Event{
		Kind:    feed.RoomListUpdated,
		Payload: feed.RoomListPayload{Rooms: e.store.Rooms(), Added: added, Removed: removed},
	})
	e.healthy(ctx, listKey)
}

// Deliver implements poll.Sink. The batch is merged atomically on the owner
// goroutine; if ctx was cancelled before the merge starts the batch is
// dropped without touching the store.
func (e *Engine) Deliver(ctx context.Context, room string, batch remote.MessageBatch) (bool, error) {
	var advanced bool
	var merr error
	err := e.do(ctx, func(octx context.Context) {
		if ctx.Err() != nil {
			merr = errDiscarded
			return
		}
		advanced, merr = e.merge(octx, room, batch)
	})
	if err != nil {
		return false, err
	}
	return advanced, merr
}

// merge correlates pending sends first, then appends everything else.
func (e *Engine) merge(ctx context.Context, room string, batch remote.MessageBatch) (bool, error) {
	if !e.store.HasRoom(room) {
		return false, errDiscarded
	}
	var confirmed []feed.Event
	var appended []feed.MessageView
	rest := make([]remote.Message, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		if m.Room == "" {
			m.Room = room
		}
		tempID, ok := e.tracker.Match(room, m, e.store.Has(room, m.ID))
		if !ok {
			rest = append(rest, m)
			continue
		}
		if _, won := e.tracker.Resolve(tempID, nil); !won {
			rest = append(rest, m)
			continue
		}
		evt, more, err := e.reconcile(tempID, m)
		if err != nil {
			return false, err
		}
		if evt != nil {
			confirmed = append(confirmed, *evt)
		}
		appended = append(appended, more...)
	}

	applied, err := e.store.ApplyRemoteSnapshot(room, rest, batch.Cursor, batch.UpToDate || len(batch.Messages) > 0)
	if err != nil {
		return false, err
	}

	for _, evt := range confirmed {
		e.publish(ctx, evt)
	}
	appended = append(appended, applied.Appended...)
	if len(appended) > 0 || len(applied.Updated) > 0 {
		e.publish(ctx, feed.Event{
			Kind:    feed.MessagesAppended,
			Room:    room,
			Payload: feed.MessagesPayload{Messages: appended, Updated: applied.Updated},
		})
	}
	e.healthy(ctx, room)
	return applied.CursorAdvanced, nil
}

// reconcile replaces the pending message tempID with msg. It returns the
// state-change event, or the appended messages when no pending entry was left.
func (e *Engine) reconcile(tempID string, msg remote.Message) (*feed.Event, []feed.MessageView, error) {
	rec, err := e.store.ReconcilePending(tempID, msg)
	if err != nil {
		return nil, nil, err
	}
	if !rec.InPlace {
		return nil, rec.Applied.Appended, nil
	}
	return &feed.Event{
		Kind: feed.MessageStateChanged,
		Room: msg.Room,
		Payload: feed.StatePayload{
			ID:      rec.Message.ID,
			TempID:  tempID,
			State:   feed.Sent,
			Message: rec.Message,
		},
	}, nil, nil
}

// Failed implements poll.Sink.
func (e *Engine) Failed(ctx context.Context, room string, err error, retryIn time.Duration) {
	_ = e.do(ctx, func(octx context.Context) {
		if ctx.Err() != nil {
			return
		}
		e.fetchFailed(octx, room, err, retryIn)
	})
}

func (e *Engine) fetchFailed(ctx context.Context, room string, err error, retryIn time.Duration) {
	switch kind := remote.KindOf(err); kind {
	case remote.AuthFailure:
		e.authFailed(ctx, room, err)
	case remote.NotFound:
		if room == listKey {
			e.degraded(ctx, room, kind, err, retryIn)
			return
		}
		e.removeRoom(ctx, room)
	default:
		e.degraded(ctx, room, kind, err, retryIn)
	}
}

func (e *Engine) degraded(ctx context.Context, room string, kind remote.ErrorKind, err error, retryIn time.Duration) {
	e.failing[room] = true
	e.publish(ctx, feed.Event{
		Kind:    feed.PollErrored,
		Room:    room,
		Payload: feed.PollErrorPayload{Kind: kind, Err: err.Error(), RetryIn: retryIn},
	})
	switch e.status.Current() {
	case status.Syncing, status.Ready:
		e.setStatus(ctx, status.Degraded)
	}
}

func (e *Engine) healthy(ctx context.Context, key string) {
	delete(e.failing, key)
	if len(e.failing) > 0 {
		return
	}
	switch e.status.Current() {
	case status.Syncing, status.Degraded:
		e.setStatus(ctx, status.Ready)
	}
}

// authFailed halts all polling until Resume. The error is reported once.
func (e *Engine) authFailed(ctx context.Context, room string, err error) {
	if e.status.Current() == status.AuthRequired {
		return
	}
	e.sched.Halt()
	e.log.Warn("credentials rejected, polling halted", zap.Error(err))
	e.setStatus(ctx, status.AuthRequired)
	e.publish(ctx, feed.Event{
		Kind:    feed.PollErrored,
		Room:    room,
		Payload: feed.PollErrorPayload{Kind: remote.AuthFailure, Err: err.Error()},
	})
}

func (e *Engine) removeRoom(ctx context.Context, room string) {
	e.sched.Drop(room)
	delete(e.failing, room)
	e.dropActions(ctx, room)
	if !e.store.RemoveRoom(room) {
		return
	}
	e.log.Info("room removed by server", zap.String("room", room))
	e.publish(ctx, feed.Event{Kind: feed.RoomRemoved, Room: room})
	e.healthy(ctx, room)
}

// dropActions fails every pending action of a room the server no longer
// lists. Acknowledged sends would otherwise wait forever for an echo that
// can no longer be fetched.
func (e *Engine) dropActions(ctx context.Context, room string) {
	for _, a := range e.tracker.DropRoom(room, ErrRoomRemoved) {
		if a.Kind == outbox.Read {
			e.publish(ctx, feed.Event{
				Kind:    feed.RoomReadFailed,
				Room:    room,
				Payload: feed.ReadFailedPayload{MessageID: a.Target, Err: ErrRoomRemoved.Error()},
			})
			continue
		}
		v, ok := e.store.MarkFailed(room, a.TempID)
		if !ok {
			v = feed.MessageView{
				ID:        a.TempID,
				TempID:    a.TempID,
				Room:      room,
				ActorID:   e.opts.SelfID,
				ActorName: e.opts.SelfName,
				Body:      a.Body,
				Kind:      remote.KindComment,
				Timestamp: a.CreatedAt,
				State:     feed.Failed,
			}
		}
		e.publish(ctx, feed.Event{
			Kind:    feed.MessageStateChanged,
			Room:    room,
			Payload: feed.StatePayload{ID: v.ID, TempID: a.TempID, State: feed.Failed, Message: v},
		})
	}
}

// Delivered implements outbox.Handler.
func (e *Engine) Delivered(ctx context.Context, a outbox.Action, receipt remote.SendReceipt) {
	_ = e.do(ctx, func(octx context.Context) {
		switch {
		case a.Kind == outbox.Read:
			e.tracker.Resolve(a.TempID, nil)
		case receipt.Message != nil:
			if _, won := e.tracker.Resolve(a.TempID, nil); !won {
				return
			}
			msg := *receipt.Message
			if msg.Room == "" {
				msg.Room = a.Room
			}
			evt, appended, err := e.reconcile(a.TempID, msg)
			if err != nil {
				e.log.Debug("receipt for unknown room", zap.String("room", a.Room), zap.Error(err))
				return
			}
			if evt != nil {
				e.publish(octx, *evt)
			}
			if len(appended) > 0 {
				e.publish(octx, feed.Event{
					Kind:    feed.MessagesAppended,
					Room:    a.Room,
					Payload: feed.MessagesPayload{Messages: appended},
				})
			}
		}
		// Without the message in the receipt, the next poll carrying the
		// server id reconciles it.
	})
}

// Rejected implements outbox.Handler.
func (e *Engine) Rejected(ctx context.Context, a outbox.Action, cause error) {
	_ = e.do(ctx, func(octx context.Context) {
		if _, won := e.tracker.Resolve(a.TempID, cause); !won {
			return
		}
		switch a.Kind {
		case outbox.Read:
			e.publish(octx, feed.Event{
				Kind:    feed.RoomReadFailed,
				Room:    a.Room,
				Payload: feed.ReadFailedPayload{MessageID: a.Target, Err: cause.Error()},
			})
		default:
			if v, ok := e.store.MarkFailed(a.Room, a.TempID); ok {
				e.publish(octx, feed.Event{
					Kind:    feed.MessageStateChanged,
					Room:    a.Room,
					Payload: feed.StatePayload{ID: v.ID, TempID: a.TempID, State: feed.Failed, Message: v},
				})
			}
		}
		if remote.KindOf(cause) == remote.AuthFailure {
			e.authFailed(octx, a.Room, cause)
		}
	})
}
