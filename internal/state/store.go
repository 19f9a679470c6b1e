// Package state holds the authoritative in-memory model of rooms and messages.
//
// Every mutation is expected to come from a single owner goroutine (the
// engine); the internal lock only lets readers take consistent snapshots while
// a merge is in progress. No method performs I/O.
package state

import (
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/talk/internal/feed"
	"github.com/matheus3301/talk/internal/remote"
)

// ErrUnknownRoom is returned for operations on a room the store has not seen.
var ErrUnknownRoom = errors.New("unknown room")

type message struct {
	view        feed.MessageView
	referenceID string
}

type room struct {
	summary feed.RoomSummary
	order   []string
	byID    map[string]*message
	cursor  string
}

// RoomView is a consistent copy of one room.
type RoomView struct {
	Room     feed.RoomSummary
	Messages []feed.MessageView
	Cursor   string
}

// Applied describes the effect of merging one remote snapshot.
type Applied struct {
	Appended       []feed.MessageView
	Updated        []feed.MessageView
	CursorAdvanced bool
}

// Store is the reconciliation store.
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// New creates an empty store.
func New() *Store {
	return &Store{rooms: make(map[string]*room)}
}

func newRoom(token string) *room {
	return &room{
		summary: feed.RoomSummary{Token: token, DisplayName: token},
		byID:    make(map[string]*message),
	}
}

// ApplyRoomList merges a full room listing. Rooms missing from the listing are
// treated as deleted by the server and removed.
func (s *Store) ApplyRoomList(list []remote.RoomSummary) (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(list))
	for _, rs := range list {
		seen[rs.Token] = true
		r, ok := s.rooms[rs.Token]
		if !ok {
			r = newRoom(rs.Token)
			s.rooms[rs.Token] = r
			added = append(added, rs.Token)
		}
		r.summary.DisplayName = rs.DisplayName
		if r.summary.DisplayName == "" {
			r.summary.DisplayName = rs.Token
		}
		r.summary.UnreadCount = rs.UnreadCount
		if rs.LastActivity.After(r.summary.LastActivity) {
			r.summary.LastActivity = rs.LastActivity
		}
		if rs.LastReadID != "" {
			r.summary.LastReadID = rs.LastReadID
		}
	}
	for token := range s.rooms {
		if !seen[token] {
			delete(s.rooms, token)
			removed = append(removed, token)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// RemoveRoom drops a room after the server confirmed it is gone.
func (s *Store) RemoveRoom(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[token]; !ok {
		return false
	}
	delete(s.rooms, token)
	return true
}

// HasRoom reports whether the room is known.
func (s *Store) HasRoom(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[token]
	return ok
}

// ApplyRemoteSnapshot merges a batch of server messages into a room. Messages
// already known by id are not appended again; changed content is reported in
// Updated. The cursor is stored only when the batch is non-empty or upToDate.
// Applying the same batch twice appends nothing and leaves the cursor as is.
func (s *Store) ApplyRemoteSnapshot(token string, msgs []remote.Message, cursor string, upToDate bool) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[token]
	if !ok {
		return Applied{}, ErrUnknownRoom
	}

	var res Applied
	for _, m := range msgs {
		if existing, ok := r.byID[m.ID]; ok {
			if updateContent(existing, m) {
				res.Updated = append(res.Updated, copyView(existing.view))
			}
			continue
		}
		res.Appended = append(res.Appended, copyView(r.insert(m)))
	}

	if (len(msgs) > 0 || upToDate) && cursor != r.cursor {
		r.cursor = cursor
		res.CursorAdvanced = true
	}
	return res, nil
}

// insert places a new server message after every message with an equal or
// earlier timestamp.
func (r *room) insert(m remote.Message) feed.MessageView {
	msg := &message{view: viewOf(m, feed.Sent), referenceID: m.ReferenceID}
	pos := len(r.order)
	for pos > 0 && r.byID[r.order[pos-1]].view.Timestamp.After(m.Timestamp) {
		pos--
	}
	r.order = append(r.order, "")
	copy(r.order[pos+1:], r.order[pos:])
	r.order[pos] = m.ID
	r.byID[m.ID] = msg
	if m.Timestamp.After(r.summary.LastActivity) {
		r.summary.LastActivity = m.Timestamp
	}
	return msg.view
}

// AddPending appends an optimistic local message at the tail of the room.
func (s *Store) AddPending(token, tempID, actorID, actorName, body string, at time.Time) (feed.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[token]
	if !ok {
		return feed.MessageView{}, ErrUnknownRoom
	}
	msg := &message{
		view: feed.MessageView{
			ID:        tempID,
			TempID:    tempID,
			Room:      token,
			ActorID:   actorID,
			ActorName: actorName,
			Body:      body,
			Kind:      remote.KindComment,
			Timestamp: at,
			State:     feed.Pending,
		},
		referenceID: tempID,
	}
	r.order = append(r.order, tempID)
	r.byID[tempID] = msg
	if at.After(r.summary.LastActivity) {
		r.summary.LastActivity = at
	}
	return copyView(msg.view), nil
}

// Reconciled is the outcome of ReconcilePending.
type Reconciled struct {
	Message feed.MessageView
	// InPlace is true when a pending entry was replaced. When false the
	// message went through the normal append path and Applied says what
	// happened.
	InPlace bool
	Applied Applied
}

// ReconcilePending replaces the pending entry tempID with its server-confirmed
// form, keeping its position in the room sequence, and marks it Sent. If the
// server id is already present the pending entry is dropped instead so the
// message appears once. Without a matching pending entry msg is appended like
// any remote message.
func (s *Store) ReconcilePending(tempID string, msg remote.Message) (Reconciled, error) {
	s.mu.Lock()
	r, ok := s.rooms[msg.Room]
	if !ok {
		s.mu.Unlock()
		return Reconciled{}, ErrUnknownRoom
	}
	pending, ok := r.byID[tempID]
	if !ok || tempID == msg.ID {
		cursor := r.cursor
		s.mu.Unlock()
		applied, err := s.ApplyRemoteSnapshot(msg.Room, []remote.Message{msg}, cursor, false)
		return Reconciled{Applied: applied, Message: firstView(applied)}, err
	}
	defer s.mu.Unlock()

	idx := indexOf(r.order, tempID)
	delete(r.byID, tempID)

	if existing, dup := r.byID[msg.ID]; dup {
		r.order = append(r.order[:idx], r.order[idx+1:]...)
		existing.view.TempID = tempID
		existing.view.State = feed.Sent
		return Reconciled{Message: copyView(existing.view), InPlace: true}, nil
	}

	v := viewOf(msg, feed.Sent)
	v.TempID = tempID
	if v.ActorName == "" {
		v.ActorName = pending.view.ActorName
	}
	pending.view = v
	pending.referenceID = msg.ReferenceID
	r.order[idx] = msg.ID
	r.byID[msg.ID] = pending
	if msg.Timestamp.After(r.summary.LastActivity) {
		r.summary.LastActivity = msg.Timestamp
	}
	return Reconciled{Message: copyView(v), InPlace: true}, nil
}

// MarkFailed flags a pending message as Failed. The message stays visible.
func (s *Store) MarkFailed(token, tempID string) (feed.MessageView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[token]
	if !ok {
		return feed.MessageView{}, false
	}
	m, ok := r.byID[tempID]
	if !ok || m.view.State != feed.Pending {
		return feed.MessageView{}, false
	}
	m.view.State = feed.Failed
	return copyView(m.view), true
}

// PendingFor returns the pending message tempID in room, if any.
func (s *Store) PendingFor(token, tempID string) (feed.MessageView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[token]
	if !ok {
		return feed.MessageView{}, false
	}
	m, ok := r.byID[tempID]
	if !ok || m.view.State != feed.Pending {
		return feed.MessageView{}, false
	}
	return copyView(m.view), true
}

// MarkRead clears the unread counter and records the last read message.
func (s *Store) MarkRead(token, lastReadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[token]
	if !ok {
		return false
	}
	r.summary.UnreadCount = 0
	r.summary.LastReadID = lastReadID
	return true
}

// LatestServerID returns the id of the newest confirmed message in room.
func (s *Store) LatestServerID(token string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[token]
	if !ok {
		return ""
	}
	for i := len(r.order) - 1; i >= 0; i-- {
		if m := r.byID[r.order[i]]; m.view.State == feed.Sent {
			return m.view.ID
		}
	}
	return ""
}

// Cursor returns the stored cursor for room.
func (s *Store) Cursor(token string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[token]; ok {
		return r.cursor
	}
	return ""
}

// Snapshot returns a copy of the room's current state.
func (s *Store) Snapshot(token string) (RoomView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[token]
	if !ok {
		return RoomView{}, false
	}
	view := RoomView{
		Room:     r.summary,
		Messages: make([]feed.MessageView, 0, len(r.order)),
		Cursor:   r.cursor,
	}
	for _, id := range r.order {
		view.Messages = append(view.Messages, copyView(r.byID[id].view))
	}
	return view, true
}

// Rooms returns all room summaries, most recently active first.
func (s *Store) Rooms() []feed.RoomSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.RoomSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Load seeds the store from a persisted copy. Messages must be given in room
// order. Existing state for the same rooms is replaced.
func (s *Store) Load(rooms []feed.RoomSummary, messages map[string][]feed.MessageView, cursors map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range rooms {
		r := newRoom(rs.Token)
		r.summary = rs
		r.cursor = cursors[rs.Token]
		for _, v := range messages[rs.Token] {
			if _, dup := r.byID[v.ID]; dup {
				continue
			}
			r.order = append(r.order, v.ID)
			ref := v.TempID
			r.byID[v.ID] = &message{view: copyView(v), referenceID: ref}
		}
		s.rooms[rs.Token] = r
	}
}

func updateContent(m *message, in remote.Message) bool {
	changed := m.view.Body != in.Body ||
		m.view.Kind != in.Kind ||
		m.view.SystemMessage != in.SystemMessage ||
		!maps.Equal(m.view.Reactions, in.Reactions)
	if !changed {
		return false
	}
	m.view.Body = in.Body
	m.view.Kind = in.Kind
	m.view.SystemMessage = in.SystemMessage
	m.view.Reactions = maps.Clone(in.Reactions)
	return true
}

func viewOf(m remote.Message, st feed.DeliveryState) feed.MessageView {
	return feed.MessageView{
		ID:            m.ID,
		Room:          m.Room,
		ActorID:       m.ActorID,
		ActorName:     m.ActorName,
		Body:          m.Body,
		Kind:          m.Kind,
		SystemMessage: m.SystemMessage,
		Reactions:     maps.Clone(m.Reactions),
		Timestamp:     m.Timestamp,
		State:         st,
	}
}

func copyView(v feed.MessageView) feed.MessageView {
	v.Reactions = maps.Clone(v.Reactions)
	return v
}

func firstView(a Applied) feed.MessageView {
	if len(a.Appended) > 0 {
		return a.Appended[0]
	}
	if len(a.Updated) > 0 {
		return a.Updated[0]
	}
	return feed.MessageView{}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Has reports whether a message id is present in room.
func (s *Store) Has(token, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[token]
	if !ok {
		return false
	}
	_, ok = r.byID[id]
	return ok
}
