// Package engine is the single writer of the sync engine. One owner goroutine
// applies every store mutation and publishes the resulting events, so the
// order of the feed is the order in which changes were committed.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matheus3301/talk/internal/backoff"
	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/outbox"
	"github.com/matheus3301/talk/internal/poll"
	"github.com/matheus3301/talk/internal/remote"
	"github.com/matheus3301/talk/internal/state"
	"github.com/matheus3301/talk/internal/status"
	"github.com/matheus3301/talk/internal/store"
)

var (
	// ErrStopped is returned by calls made after the engine stopped.
	ErrStopped = errors.New("engine stopped")
	// ErrEmptyMessage is returned by Submit for a blank body.
	ErrEmptyMessage = errors.New("empty message")
	// ErrRoomRemoved fails actions addressed to a room the server dropped.
	ErrRoomRemoved = errors.New("room removed")

	errDiscarded = errors.New("completion discarded")
)

// Options configures an Engine.
type Options struct {
	// SelfID and SelfName describe the signed-in account.
	SelfID   string
	SelfName string

	RoomListInterval time.Duration
	FeedCapacity     int

	Poll   poll.Options
	Outbox outbox.Options
	Logger *zap.Logger
}

// Engine owns the reconciliation store and drives polling and sending.
type Engine struct {
	svc  remote.Service
	opts Options
	log  *zap.Logger

	store   *state.Store
	feed    *feed.Feed
	status  *status.Machine
	sched   *poll.Scheduler
	tracker *outbox.Tracker

	ops     chan func(context.Context)
	done    chan struct{}
	relist  chan struct{}
	started atomic.Bool

	// Owned by the owner goroutine.
	failing  map[string]bool
	restored []outbox.Action
}

// New wires an engine around svc. Nothing runs until Run.
func New(svc remote.Service, opts Options) *Engine {
	if opts.RoomListInterval <= 0 {
		opts.RoomListInterval = time.Minute
	}
	if opts.Poll.FetchTimeout <= 0 {
		opts.Poll.FetchTimeout = time.Minute
	}
	if opts.Poll.Backoff.Validate() != nil {
		opts.Poll.Backoff = backoff.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Poll.Logger == nil {
		opts.Poll.Logger = log
	}
	if opts.Outbox.Logger == nil {
		opts.Outbox.Logger = log
	}
	if opts.Outbox.SelfID == "" {
		opts.Outbox.SelfID = opts.SelfID
	}

	f := feed.New(opts.FeedCapacity)
	e := &Engine{
		svc:     svc,
		opts:    opts,
		log:     log.Named("engine"),
		store:   state.New(),
		feed:    f,
		status:  status.NewMachine(f),
		ops:     make(chan func(context.Context)),
		done:    make(chan struct{}),
		relist:  make(chan struct{}, 1),
		failing: make(map[string]bool),
	}
	e.sched = poll.New(svc, e, opts.Poll)
	e.tracker = outbox.New(svc, e, opts.Outbox)
	return e
}

// Feed returns the engine's event feed, for consumers that must attach
// before Run (the cache persister).
func (e *Engine) Feed() *feed.Feed { return e.feed }

// Subscribe attaches a consumer to events whose kind starts with namespace.
// Subscribe before taking a Snapshot so no change falls in between.
func (e *Engine) Subscribe(namespace string) *feed.Subscription {
	return e.feed.Subscribe(namespace)
}

// Snapshot returns a consistent copy of one room.
func (e *Engine) Snapshot(room string) (state.RoomView, bool) {
	return e.store.Snapshot(room)
}

// Rooms returns all rooms, most recently active first.
func (e *Engine) Rooms() []feed.RoomSummary {
	return e.store.Rooms()
}

// Status returns the engine state.
func (e *Engine) Status() status.State {
	return e.status.Current()
}

// Pending returns the unresolved local actions.
func (e *Engine) Pending() []outbox.Action {
	return e.tracker.Pending()
}

// Restore seeds the engine from the offline cache. It must be called before
// Run and publishes nothing.
func (e *Engine) Restore(snap *store.Snapshot) error {
	if e.started.Load() {
		return errors.New("restore: engine already running")
	}
	if snap == nil {
		return nil
	}
	e.store.Load(snap.Rooms, snap.Messages, snap.Cursors)
	for _, entry := range snap.Outbox {
		e.restored = append(e.restored, outbox.FromEntry(entry))
	}
	e.log.Info("restored from cache",
		zap.Int("rooms", len(snap.Rooms)),
		zap.Int("actions", len(snap.Outbox)),
	)
	return nil
}

// Run drives the engine until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.own(gctx) })
	g.Go(func() error { return e.sched.Run(gctx) })
	g.Go(func() error { return e.tracker.Run(gctx) })
	g.Go(func() error { return e.listRooms(gctx) })
	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.status.Transition(stopCtx, status.Stopped); err != nil {
		e.log.Debug("stop transition not published", zap.Error(err))
	}
	e.log.Info("engine stopped")
	return err
}

// own is the owner goroutine.
func (e *Engine) own(ctx context.Context) error {
	defer close(e.done)
	e.bootstrap(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.ops:
			fn(ctx)
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	wrapped := func(octx context.Context) {
		defer close(finished)
		fn(octx)
	}
	select {
	case e.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	<-finished
	return nil
}

func (e *Engine) publish(ctx context.Context, evt feed.Event) {
	if _, err := e.feed.Publish(ctx, evt); err != nil {
		e.log.Debug("event not delivered", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (e *Engine) setStatus(ctx context.Context, to status.State) {
	if e.status.Current() == to {
		return
	}
	if err := e.status.Transition(ctx, to); err != nil {
		e.log.Debug("status unchanged", zap.Error(err))
		return
	}
	e.log.Info("status changed", zap.String("status", string(to)))
}

func (e *Engine) bootstrap(ctx context.Context) {
	e.setStatus(ctx, status.Syncing)
	for _, r := range e.store.Rooms() {
		e.sched.Schedule(r.Token, e.store.Cursor(r.Token))
	}
	var live []outbox.Action
	for _, a := range e.restored {
		if a.Kind == outbox.Send && a.ServerID != "" && e.store.Has(a.Room, a.ServerID) {
			// Echo already merged before the restart.
			e.tracker.Track(a)
			e.tracker.Resolve(a.TempID, nil)
			continue
		}
		live = append(live, a)
	}
	e.tracker.Resume(live)
	e.restored = nil
}

// SetActive gives room the fast polling cadence and fetches it now.
func (e *Engine) SetActive(room string) {
	e.sched.SetActive(room)
}

// Resume restarts polling after an authentication failure, typically once the
// credentials were fixed.
func (e *Engine) Resume(ctx context.Context) error {
	return e.do(ctx, func(octx context.Context) {
		if e.status.Current() != status.AuthRequired {
			return
		}
		clear(e.failing)
		e.setStatus(octx, status.Syncing)
		e.sched.Resume()
		select {
		case e.relist <- struct{}{}:
		default:
		}
	})
}

// Submit sends body to room. The message is shown at once as Pending and
// later becomes Sent or Failed.
func (e *Engine) Submit(ctx context.Context, room, body string) (feed.MessageView, error) {
	if strings.TrimSpace(body) == "" {
		return feed.MessageView{}, ErrEmptyMessage
	}
	a := e.tracker.NewSend(room, body)

	var view feed.MessageView
	var serr error
	err := e.do(ctx, func(octx context.Context) {
		view, serr = e.store.AddPending(room, a.TempID, e.opts.SelfID, e.opts.SelfName, body, a.CreatedAt)
		if serr != nil {
			return
		}
		e.publish(octx, feed.Event{
			Kind:    feed.MessagesAppended,
			Room:    room,
			Payload: feed.MessagesPayload{Messages: []feed.MessageView{view}},
		})
		e.tracker.Track(a)
	})
	if err != nil {
		return feed.MessageView{}, err
	}
	return view, serr
}

// MarkRead marks room as read up to its newest confirmed message. The local
// state changes immediately; the server marker follows.
func (e *Engine) MarkRead(ctx context.Context, room string) error {
	var rerr error
	err := e.do(ctx, func(octx context.Context) {
		last := e.store.LatestServerID(room)
		if last == "" {
			if !e.store.HasRoom(room) {
				rerr = state.ErrUnknownRoom
			}
			return
		}
		if !e.store.MarkRead(room, last) {
			rerr = state.ErrUnknownRoom
			return
		}
		e.publish(octx, feed.Event{Kind: feed.RoomRead, Room: room, Payload: feed.ReadPayload{LastReadID: last}})
		e.tracker.Track(e.tracker.NewRead(room, last))
	})
	if err != nil {
		return err
	}
	return rerr
}
