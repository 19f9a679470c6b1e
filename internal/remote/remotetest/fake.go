// Package remotetest provides an in-memory remote.Service for tests.
package remotetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/talk/internal/remote"
)

// SelfID is the actor id the fake assigns to messages sent through it.
const SelfID = "me"

// SentCall records one SendMessage invocation.
type SentCall struct {
	Room        string
	Body        string
	ReferenceID string
}

// Fake is a scriptable remote.Service. Rooms without history return NotFound
// on fetch.
type Fake struct {
	// SendReturnsBody makes SendMessage include the stored message in the receipt.
	SendReturnsBody bool

	mu          sync.Mutex
	rooms       []remote.RoomSummary
	listErrs    []error
	history     map[string][]remote.Message
	fetchErrs   map[string][]error
	gates       map[string]chan struct{}
	started     map[string]chan struct{}
	sendErrs    []error
	sendGate    chan struct{}
	nextID      int64
	inFlight    map[string]int
	maxInFlight map[string]int
	fetchCalls  map[string]int
	cursors     map[string][]string
	sent        []SentCall
	readMarkers map[string]string
}

// NewFake creates an empty fake service.
func NewFake() *Fake {
	return &Fake{
		history:     make(map[string][]remote.Message),
		fetchErrs:   make(map[string][]error),
		gates:       make(map[string]chan struct{}),
		started:     make(map[string]chan struct{}),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
		fetchCalls:  make(map[string]int),
		cursors:     make(map[string][]string),
		readMarkers: make(map[string]string),
		nextID:      100,
	}
}

// AddRoom registers a room in the listing and creates its (empty) history.
func (f *Fake) AddRoom(token, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, remote.RoomSummary{Token: token, DisplayName: name, LastActivity: time.Now()})
	if _, ok := f.history[token]; !ok {
		f.history[token] = nil
	}
}

// RemoveRoom drops a room from the listing and its history.
func (f *Fake) RemoveRoom(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rooms {
		if r.Token == token {
			f.rooms = append(f.rooms[:i], f.rooms[i+1:]...)
			break
		}
	}
	delete(f.history, token)
}

// Post appends a message to a room's server-side history, assigning an id when
// msg.ID is empty. It returns the stored message.
func (f *Fake) Post(room string, msg remote.Message) remote.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postLocked(room, msg)
}

func (f *Fake) postLocked(room string, msg remote.Message) remote.Message {
	if msg.ID == "" {
		f.nextID++
		msg.ID = strconv.FormatInt(f.nextID, 10)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Kind == "" {
		msg.Kind = remote.KindComment
	}
	msg.Room = room
	f.history[room] = append(f.history[room], msg)
	return msg
}

// FailList queues errors returned by the next ListRooms calls.
func (f *Fake) FailList(errs ...error) {
	f.mu.Lock()
	f.listErrs = append(f.listErrs, errs...)
	f.mu.Unlock()
}

// FailFetch queues errors returned by the next FetchMessages calls for room.
func (f *Fake) FailFetch(room string, errs ...error) {
	f.mu.Lock()
	f.fetchErrs[room] = append(f.fetchErrs[room], errs...)
	f.mu.Unlock()
}

// FailSend queues errors returned by the next SendMessage calls.
func (f *Fake) FailSend(errs ...error) {
	f.mu.Lock()
	f.sendErrs = append(f.sendErrs, errs...)
	f.mu.Unlock()
}

// Block makes fetches for room wait until the returned release func is called
// or the caller's context ends. The returned channel receives once per fetch
// that reaches the gate.
func (f *Fake) Block(room string) (started <-chan struct{}, release func()) {
	gate := make(chan struct{})
	st := make(chan struct{}, 16)
	f.mu.Lock()
	f.gates[room] = gate
	f.started[room] = st
	f.mu.Unlock()
	var once sync.Once
	return st, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, room)
			f.mu.Unlock()
			close(gate)
		})
	}
}

// BlockSend makes SendMessage wait until release is called.
func (f *Fake) BlockSend() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.sendGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.sendGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

// ListRooms implements remote.Service.
func (f *Fake) ListRooms(ctx context.Context) ([]remote.RoomSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	out := make([]remote.RoomSummary, len(f.rooms))
	copy(out, f.rooms)
	return out, ctx.Err()
}

// FetchMessages implements remote.Service. The cursor is the id of the last
// message already seen.
func (f *Fake) FetchMessages(ctx context.Context, room, cursor string) (remote.MessageBatch, error) {
	f.mu.Lock()
	f.fetchCalls[room]++
	f.cursors[room] = append(f.cursors[room], cursor)
	f.inFlight[room]++
	if f.inFlight[room] > f.maxInFlight[room] {
		f.maxInFlight[room] = f.inFlight[room]
	}
	gate := f.gates[room]
	started := f.started[room]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[room]--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.MessageBatch{}, &remote.Error{Kind: remote.Transient, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.fetchErrs[room]; len(errs) > 0 {
		f.fetchErrs[room] = errs[1:]
		return remote.MessageBatch{}, errs[0]
	}
	hist, ok := f.history[room]
	if !ok {
		return remote.MessageBatch{}, &remote.Error{Kind: remote.NotFound, Status: 404}
	}

	after, _ := strconv.ParseInt(cursor, 10, 64)
	batch := remote.MessageBatch{Cursor: cursor}
	for _, m := range hist {
		id, _ := strconv.ParseInt(m.ID, 10, 64)
		if cursor != "" && id <= after {
			continue
		}
		batch.Messages = append(batch.Messages, m)
		batch.Cursor = m.ID
	}
	batch.UpToDate = len(batch.Messages) == 0
	return batch, nil
}

// SendMessage implements remote.Service.
func (f *Fake) SendMessage(ctx context.Context, room, body, referenceID string) (remote.SendReceipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, SentCall{Room: room, Body: body, ReferenceID: referenceID})
	gate := f.sendGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return remote.SendReceipt{}, &remote.Error{Kind: remote.Transient, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return remote.SendReceipt{}, err
	}
	if _, ok := f.history[room]; !ok {
		return remote.SendReceipt{}, &remote.Error{Kind: remote.NotFound, Status: 404}
	}
	msg := f.postLocked(room, remote.Message{
		ReferenceID: referenceID,
		ActorID:     SelfID,
		ActorName:   "Me",
		Body:        body,
	})
	receipt := remote.SendReceipt{ID: msg.ID}
	if f.SendReturnsBody {
		receipt.Message = &msg
	}
	return receipt, nil
}

// SetReadMarker implements remote.Service.
func (f *Fake) SetReadMarker(_ context.Context, room, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.history[room]; !ok {
		return &remote.Error{Kind: remote.NotFound, Status: 404}
	}
	f.readMarkers[room] = messageID
	return nil
}

// FetchCalls returns how many fetches were issued for room.
func (f *Fake) FetchCalls(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[room]
}

// MaxInFlight returns the highest number of concurrent fetches seen for room.
func (f *Fake) MaxInFlight(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight[room]
}

// Cursors returns the cursors passed to each fetch for room, in call order.
func (f *Fake) Cursors(room string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cursors[room]...)
}

// Sent returns all SendMessage calls.
func (f *Fake) Sent() []SentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentCall(nil), f.sent...)
}

// ReadMarker returns the last read marker set for room.
func (f *Fake) ReadMarker(room string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readMarkers[room]
}
