// Package outbox tracks local actions (sends and read markers) from the
// moment they are submitted until the server confirms or rejects them.
package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/talk/internal/backoff"
	"github.com/matheus3301/talk/internal/remote"
)

// Kind distinguishes pending actions.
type Kind string

const (
	Send Kind = "send"
	Read Kind = "read"
)

// Action is one unresolved local action. For sends TempID is also the
// reference id handed to the server.
type Action struct {
	TempID    string
	Kind      Kind
	Room      string
	Body      string
	Target    string
	Attempts  int
	CreatedAt time.Time
	ServerID  string
}

// Handler receives delivery outcomes. The engine implements it and decides,
// through Resolve, whether the outcome still matters.
type Handler interface {
	Delivered(ctx context.Context, a Action, receipt remote.SendReceipt)
	Rejected(ctx context.Context, a Action, err error)
}

// Journal persists actions so they survive a restart.
type Journal interface {
	Save(ctx context.Context, a Action) error
	Finish(ctx context.Context, a Action, err error) error
}

// Options configures a Tracker.
type Options struct {
	MaxAttempts int
	SendTimeout time.Duration
	Backoff     backoff.Policy
	// SelfID is the account's actor id, used to match echoes that carry no
	// reference id.
	SelfID  string
	Journal Journal
	Logger  *zap.Logger
}

// Tracker owns pending actions and their delivery goroutines.
type Tracker struct {
	svc     remote.Service
	handler Handler
	opts    Options
	log     *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	actions  map[string]*Action
	order    []string
	byServer map[string]string
	queue    []journalOp
	writing  bool
}

// echoSkew bounds how much older than its action a body-matched echo may
// look, covering clock drift between this host and the server.
const echoSkew = time.Minute

// New creates a tracker.
func New(svc remote.Service, handler Handler, opts Options) *Tracker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Backoff.Validate() != nil {
		opts.Backoff = backoff.Default()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Tracker{
		svc:      svc,
		handler:  handler,
		opts:     opts,
		log:      log.Named("outbox"),
		base:     base,
		stop:     stop,
		actions:  make(map[string]*Action),
		byServer: make(map[string]string),
	}
}

// NewSend allocates a send action. It is not tracked until Track.
func (t *Tracker) NewSend(room, body string) Action {
	return Action{TempID: uuid.NewString(), Kind: Send, Room: room, Body: body, CreatedAt: time.Now()}
}

// NewRead allocates a read-marker action.
func (t *Tracker) NewRead(room, messageID string) Action {
	return Action{TempID: uuid.NewString(), Kind: Read, Room: room, Target: messageID, CreatedAt: time.Now()}
}

// Track registers a and starts delivering it. Actions already acknowledged by
// the server (restored from the journal) only wait for their echo.
func (t *Tracker) Track(a Action) {
	t.mu.Lock()
	if _, ok := t.actions[a.TempID]; ok || t.base.Err() != nil {
		t.mu.Unlock()
		return
	}
	stored := a
	t.actions[a.TempID] = &stored
	t.order = append(t.order, a.TempID)
	if a.ServerID != "" {
		t.byServer[a.ServerID] = a.TempID
	}
	if a.ServerID == "" {
		t.wg.Add(1)
		go t.deliver(a)
	}
	t.mu.Unlock()
}

// Resume re-arms journaled actions after a restart, oldest first.
func (t *Tracker) Resume(actions []Action) {
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b Action) int { return a.CreatedAt.Compare(b.CreatedAt) })
	for _, a := range sorted {
		t.Track(a)
	}
	if len(sorted) > 0 {
		t.log.Info("outbox resumed", zap.Int("actions", len(sorted)))
	}
}

// Match finds the pending send a server message confirms: by server id, then
// by reference id, then by own authorship and identical body among sends not
// yet acknowledged, oldest first. known reports that msg is already in the
// room history; such messages and ones timestamped before the action was
// created never match by body.
func (t *Tracker) Match(room string, msg remote.Message, known bool) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byServer[msg.ID]; ok {
		return id, true
	}
	if msg.ReferenceID != "" {
		if a, ok := t.actions[msg.ReferenceID]; ok && a.Kind == Send && a.Room == room {
			return a.TempID, true
		}
	}
	if known || t.opts.SelfID == "" || msg.ActorID != t.opts.SelfID {
		return "", false
	}
	for _, id := range t.order {
		a := t.actions[id]
		if a.Kind != Send || a.Room != room || a.ServerID != "" || a.Body != msg.Body {
			continue
		}
		if msg.Timestamp.Before(a.CreatedAt.Add(-echoSkew)) {
			continue
		}
		return id, true
	}
	return "", false
}

// Resolve removes the action and queues its outcome for the journal. It
// returns true for exactly one caller per action; only that caller may emit
// the terminal event.
func (t *Tracker) Resolve(tempID string, cause error) (Action, bool) {
	t.mu.Lock()
	if _, ok := t.actions[tempID]; !ok {
		t.mu.Unlock()
		return Action{}, false
	}
	op := journalOp{action: t.removeLocked(tempID), finish: true, cause: cause}
	inline := t.journalLocked(op)
	t.mu.Unlock()

	if inline {
		t.write(context.WithoutCancel(t.base), op)
	}
	return op.action, true
}

// DropRoom resolves every action addressed to room with cause and returns
// them oldest first. Deliveries still running for them are ignored when they
// complete.
func (t *Tracker) DropRoom(room string, cause error) []Action {
	t.mu.Lock()
	var dropped []Action
	for _, id := range slices.Clone(t.order) {
		if t.actions[id].Room == room {
			dropped = append(dropped, t.removeLocked(id))
		}
	}
	var inline []journalOp
	for _, a := range dropped {
		op := journalOp{action: a, finish: true, cause: cause}
		if t.journalLocked(op) {
			inline = append(inline, op)
		}
	}
	t.mu.Unlock()

	for _, op := range inline {
		t.write(context.WithoutCancel(t.base), op)
	}
	if len(dropped) > 0 {
		t.log.Info("room actions dropped", zap.String("room", room), zap.Int("actions", len(dropped)))
	}
	return dropped
}

func (t *Tracker) removeLocked(tempID string) Action {
	a := t.actions[tempID]
	delete(t.actions, tempID)
	if a.ServerID != "" {
		delete(t.byServer, a.ServerID)
	}
	if i := slices.Index(t.order, tempID); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	return *a
}

// Get returns a tracked action.
func (t *Tracker) Get(tempID string) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.actions[tempID]
	if !ok {
		return Action{}, false
	}
	return *a, true
}

// Pending returns all tracked actions, oldest first.
func (t *Tracker) Pending() []Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Action, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.actions[id])
	}
	return out
}

// Run blocks until ctx is done, then stops delivery.
func (t *Tracker) Run(ctx context.Context) error {
	<-ctx.Done()
	t.Stop()
	return nil
}

// Stop aborts in-flight deliveries and waits for them and for queued journal
// writes. Unresolved actions stay in the journal.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stop()
	t.mu.Unlock()
	t.wg.Wait()
}

// record updates the stored copy of a and queues it for the journal. It
// reports false once a is no longer tracked.
func (t *Tracker) record(a Action) bool {
	t.mu.Lock()
	stored, ok := t.actions[a.TempID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	stored.Attempts = a.Attempts
	if a.ServerID != "" && stored.ServerID == "" {
		stored.ServerID = a.ServerID
		t.byServer[a.ServerID] = a.TempID
	}
	op := journalOp{action: *stored}
	inline := t.journalLocked(op)
	t.mu.Unlock()

	if inline {
		t.write(context.WithoutCancel(t.base), op)
	}
	return true
}
