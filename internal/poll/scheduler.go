// Package poll runs one periodic fetch loop per room.
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/backoff"
	"github.com/matheus3301/talk/internal/remote"
)

// Cursor is the scheduler's position in a room's message stream.
type Cursor struct {
	Token       string
	LastSuccess time.Time
}

// Sink receives fetch outcomes. The engine implements it.
type Sink interface {
	// Deliver merges a batch and reports whether the room cursor advanced.
	// A non-nil error means the batch was discarded.
	Deliver(ctx context.Context, room string, batch remote.MessageBatch) (bool, error)
	// Failed reports a failed fetch and the delay before the next attempt.
	Failed(ctx context.Context, room string, err error, retryIn time.Duration)
}

// Checkpointer persists cursors after a successful merge.
type Checkpointer interface {
	SaveCursor(ctx context.Context, room, cursor string) error
}

// Options configures a Scheduler.
type Options struct {
	ActiveInterval     time.Duration
	BackgroundInterval time.Duration
	FetchTimeout       time.Duration
	Backoff            backoff.Policy
	Checkpointer       Checkpointer
	Logger             *zap.Logger
}

type task struct {
	room   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
	rearm  chan time.Duration

	inFlight atomic.Bool
	skipped  atomic.Int64
	fetches  sync.WaitGroup

	mu       sync.Mutex
	failures int
	retryAt  time.Time
}

// Scheduler owns the per-room fetch tasks.
type Scheduler struct {
	svc  remote.Service
	sink Sink
	opts Options
	log  *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]*task
	cursors map[string]Cursor
	active  string
	halted  bool
}

// New creates a scheduler. Nothing is fetched until Schedule is called.
func New(svc remote.Service, sink Sink, opts Options) *Scheduler {
	if opts.ActiveInterval <= 0 {
		opts.ActiveInterval = 3 * time.Second
	}
	if opts.BackgroundInterval <= 0 {
		opts.BackgroundInterval = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Minute
	}
	if opts.Backoff.Validate() != nil {
		opts.Backoff = backoff.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		svc:     svc,
		sink:    sink,
		opts:    opts,
		log:     log.Named("poll"),
		base:    base,
		stop:    stop,
		tasks:   make(map[string]*task),
		cursors: make(map[string]Cursor),
	}
}

// Run blocks until ctx is done, then stops every task and waits for them.
func (s *Scheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop cancels all tasks and waits for their loops and fetches to exit.
func (s *Scheduler) Stop() {
	s.stop()
	s.mu.Lock()
	for room := range s.tasks {
		delete(s.tasks, room)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Schedule starts polling room from cursor. Scheduling a known room is a
// no-op. While halted the room is remembered and started on Resume.
func (s *Scheduler) Schedule(room, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base.Err() != nil {
		return
	}
	if _, ok := s.tasks[room]; ok {
		return
	}
	if _, ok := s.cursors[room]; !ok {
		s.cursors[room] = Cursor{Token: cursor}
	}
	if s.halted {
		s.tasks[room] = nil
		return
	}
	s.tasks[room] = s.startLocked(room)
}

func (s *Scheduler) startLocked(room string) *task {
	ctx, cancel := context.WithCancel(s.base)
	t := &task{
		room:   room,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		rearm:  make(chan time.Duration, 1),
	}
	s.wg.Add(1)
	go s.loop(t)
	return t
}

// Cancel stops polling room and waits for its loop and any in-flight fetch to
// finish. A completion racing with Cancel is discarded. Must not be called
// from inside a Sink callback; use Drop there.
func (s *Scheduler) Cancel(room string) {
	t := s.remove(room)
	if t != nil {
		<-t.done
	}
}

// Drop stops polling room without waiting.
func (s *Scheduler) Drop(room string) {
	s.remove(room)
}

func (s *Scheduler) remove(room string) *task {
	s.mu.Lock()
	t := s.tasks[room]
	delete(s.tasks, room)
	delete(s.cursors, room)
	if s.active == room {
		s.active = ""
	}
	s.mu.Unlock()
	if t != nil {
		t.cancel()
	}
	return t
}

// SetActive gives room the active cadence and triggers an immediate fetch.
// Every other room falls back to the background cadence.
func (s *Scheduler) SetActive(room string) {
	s.mu.Lock()
	s.active = room
	t := s.tasks[room]
	s.mu.Unlock()
	if t != nil {
		t.poke()
	}
}

// Halt stops all fetching, keeping the set of rooms and their cursors.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return
	}
	s.halted = true
	for room, t := range s.tasks {
		if t != nil {
			t.cancel()
		}
		s.tasks[room] = nil
	}
	s.log.Warn("polling halted", zap.Int("rooms", len(s.tasks)))
}

// Resume restarts every known room after Halt.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.halted || s.base.Err() != nil {
		return
	}
	s.halted = false
	for room := range s.tasks {
		s.tasks[room] = s.startLocked(room)
	}
	s.log.Info("polling resumed", zap.Int("rooms", len(s.tasks)))
}

// Halted reports whether polling is halted.
func (s *Scheduler) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Rooms returns the number of scheduled rooms.
func (s *Scheduler) Rooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Cursor returns the scheduler's cursor for room.
func (s *Scheduler) Cursor(room string) (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[room]
	return c, ok
}

// Skipped returns how many ticks for room found a fetch still in flight.
func (s *Scheduler) Skipped(room string) int64 {
	s.mu.Lock()
	t := s.tasks[room]
	s.mu.Unlock()
	if t == nil {
		return 0
	}
	return t.skipped.Load()
}

func (s *Scheduler) interval(room string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room == s.active {
		return s.opts.ActiveInterval
	}
	return s.opts.BackgroundInterval
}

func (t *task) poke() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(t *task) {
	defer s.wg.Done()
	defer close(t.done)
	defer t.fetches.Wait()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-timer.C:
		case <-t.wake:
			stopTimer(timer)
		case d := <-t.rearm:
			stopTimer(timer)
			timer.Reset(max(d, s.interval(t.room)))
			continue
		}
		s.tick(t)
		timer.Reset(s.interval(t.room))
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (s *Scheduler) tick(t *task) {
	t.mu.Lock()
	waiting := time.Now().Before(t.retryAt)
	t.mu.Unlock()
	if waiting {
		return
	}
	if !t.inFlight.CompareAndSwap(false, true) {
		n := t.skipped.Add(1)
		s.log.Debug("tick skipped, fetch in flight", zap.String("room", t.room), zap.Int64("skipped", n))
		return
	}
	t.fetches.Add(1)
	go s.fetch(t)
}

func (s *Scheduler) fetch(t *task) {
	defer t.fetches.Done()
	defer t.inFlight.Store(false)

	s.mu.Lock()
	cursor := s.cursors[t.room].Token
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.ctx, s.opts.FetchTimeout)
	batch, err := s.svc.FetchMessages(ctx, t.room, cursor)
	cancel()
	if t.ctx.Err() != nil {
		return
	}
	if err != nil {
		s.fail(t, err)
		return
	}

	advanced, err := s.sink.Deliver(t.ctx, t.room, batch)
	if err != nil {
		s.log.Debug("batch discarded", zap.String("room", t.room), zap.Error(err))
		return
	}

	t.mu.Lock()
	t.failures = 0
	t.retryAt = time.Time{}
	t.mu.Unlock()

	s.mu.Lock()
	c, known := s.cursors[t.room]
	if known {
		c.LastSuccess = time.Now()
		if advanced {
			c.Token = batch.Cursor
		}
		s.cursors[t.room] = c
	}
	s.mu.Unlock()

	if advanced && known && s.opts.Checkpointer != nil {
		if err := s.opts.Checkpointer.SaveCursor(t.ctx, t.room, batch.Cursor); err != nil {
			s.log.Warn("save cursor failed", zap.String("room", t.room), zap.Error(err))
		}
	}
	if len(batch.Messages) > 0 && !batch.UpToDate {
		t.poke()
	}
}

func (s *Scheduler) fail(t *task, err error) {
	kind := remote.KindOf(err)

	t.mu.Lock()
	t.failures++
	var delay time.Duration
	switch kind {
	case remote.RateLimited:
		delay = s.opts.Backoff.RateLimited(t.failures, remote.RetryHint(err))
	case remote.Transient:
		delay = s.opts.Backoff.Delay(t.failures)
	}
	t.retryAt = time.Now().Add(delay)
	failures := t.failures
	t.mu.Unlock()

	s.log.Warn("fetch failed",
		zap.String("room", t.room),
		zap.Stringer("kind", kind),
		zap.Int("failures", failures),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)
	s.sink.Failed(t.ctx, t.room, err, delay)
	select {
	case t.rearm <- delay:
	default:
	}

	if kind == remote.NotFound {
		s.mu.Lock()
		if s.tasks[t.room] == t {
			delete(s.tasks, t.room)
			delete(s.cursors, t.room)
		}
		s.mu.Unlock()
		t.cancel()
	}
}
