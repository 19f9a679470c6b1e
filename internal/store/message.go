package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

const messageColumns = `id, room_token, msg_id, temp_id, actor_id, actor_name, body, kind, system_message, reactions, state, timestamp`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, extra ...any) (Message, error) {
	var m Message
	var reactions string
	dest := append([]any{
		&m.ID, &m.RoomToken, &m.MsgID, &m.TempID, &m.ActorID, &m.ActorName,
		&m.Body, &m.Kind, &m.SystemMessage, &reactions, &m.State, &m.Timestamp,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return m, err
	}
	if reactions != "" && reactions != "{}" {
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return m, fmt.Errorf("decode reactions of %s: %w", m.MsgID, err)
		}
	}
	return m, nil
}

func encodeReactions(r map[string]int) (string, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode reactions: %w", err)
	}
	return string(b), nil
}

// UpsertMessage inserts or updates a message (idempotent on room_token + msg_id).
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	reactions, err := encodeReactions(m.Reactions)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO messages (room_token, msg_id, temp_id, actor_id, actor_name, body, kind, system_message, reactions, state, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_token, msg_id) DO UPDATE SET
			temp_id = CASE WHEN excluded.temp_id != '' THEN excluded.temp_id ELSE messages.temp_id END,
			actor_name = excluded.actor_name,
			body = excluded.body,
			kind = excluded.kind,
			system_message = excluded.system_message,
			reactions = excluded.reactions,
			state = excluded.state`,
		m.RoomToken, m.MsgID, m.TempID, m.ActorID, m.ActorName, m.Body, m.Kind, m.SystemMessage,
		reactions, m.State, m.Timestamp, time.Now().UnixMilli())
	return err
}

// ReconcileMessage swaps a pending row for its server-confirmed form in one
// transaction, so the cache never holds both.
func (db *DB) ReconcileMessage(ctx context.Context, tempID string, m *Message) error {
	reactions, err := encodeReactions(m.Reactions)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_token = ? AND msg_id = ?`, m.RoomToken, tempID); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (room_token, msg_id, temp_id, actor_id, actor_name, body, kind, system_message, reactions, state, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_token, msg_id) DO UPDATE SET
			temp_id = excluded.temp_id,
			state = excluded.state`,
		m.RoomToken, m.MsgID, tempID, m.ActorID, m.ActorName, m.Body, m.Kind, m.SystemMessage,
		reactions, m.State, m.Timestamp, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert confirmed: %w", err)
	}
	return tx.Commit()
}

// SetMessageState updates the delivery state of one message.
func (db *DB) SetMessageState(ctx context.Context, room, msgID, state string) error {
	_, err := db.ExecContext(ctx, `UPDATE messages SET state = ? WHERE room_token = ? AND msg_id = ?`, state, room, msgID)
	return err
}

// ListMessages returns messages for a room using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(ctx context.Context, room string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = math.MaxInt64
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room_token = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, room, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the newest limit messages of a room in timeline
// order, oldest first.
func (db *DB) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	msgs, err := db.ListMessages(ctx, room, 0, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
