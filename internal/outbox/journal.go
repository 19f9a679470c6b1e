package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/store"
)

// StoreJournal keeps actions in the outbox table of the offline cache.
type StoreJournal struct {
	DB *store.DB
}

// Save implements Journal.
func (j StoreJournal) Save(ctx context.Context, a Action) error {
	return j.DB.SaveOutbox(ctx, &store.OutboxEntry{
		TempID:    a.TempID,
		Kind:      string(a.Kind),
		RoomToken: a.Room,
		Body:      a.Body,
		TargetID:  a.Target,
		Attempts:  a.Attempts,
		ServerID:  a.ServerID,
		CreatedAt: a.CreatedAt.UnixMilli(),
	})
}

// Finish implements Journal. Delivered actions are dropped; failed ones are
// kept for inspection.
func (j StoreJournal) Finish(ctx context.Context, a Action, err error) error {
	if err == nil {
		return j.DB.DeleteOutbox(ctx, a.TempID)
	}
	return j.DB.MarkOutboxFailed(ctx, a.TempID, err.Error())
}

// FromEntry rebuilds an action from its journaled form.
func FromEntry(e store.OutboxEntry) Action {
	return Action{
		TempID:    e.TempID,
		Kind:      Kind(e.Kind),
		Room:      e.RoomToken,
		Body:      e.Body,
		Target:    e.TargetID,
		Attempts:  e.Attempts,
		CreatedAt: time.UnixMilli(e.CreatedAt),
		ServerID:  e.ServerID,
	}
}

// journalOp is one queued journal write.
type journalOp struct {
	action Action
	finish bool
	cause  error
}

// journalLocked queues op for the journal writer, starting it when idle. Ops
// are written in the order they were queued, so a late Save never revives a
// finished action. Once the tracker is stopped and the writer has exited it
// returns true and the caller writes op itself.
func (t *Tracker) journalLocked(op journalOp) bool {
	if t.opts.Journal == nil {
		return false
	}
	if !t.writing && t.base.Err() != nil {
		return true
	}
	t.queue = append(t.queue, op)
	if !t.writing {
		t.writing = true
		t.wg.Add(1)
		go t.writeJournal()
	}
	return false
}

// writeJournal drains the queue and exits when it is empty.
func (t *Tracker) writeJournal() {
	defer t.wg.Done()
	ctx := context.WithoutCancel(t.base)
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.writing = false
			t.mu.Unlock()
			return
		}
		op := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		t.write(ctx, op)
	}
}

func (t *Tracker) write(ctx context.Context, op journalOp) {
	if op.finish {
		if err := t.opts.Journal.Finish(ctx, op.action, op.cause); err != nil {
			t.log.Warn("journal finish failed", zap.String("temp_id", op.action.TempID), zap.Error(err))
		}
		return
	}
	if err := t.opts.Journal.Save(ctx, op.action); err != nil {
		t.log.Warn("journal save failed", zap.String("temp_id", op.action.TempID), zap.Error(err))
	}
}
