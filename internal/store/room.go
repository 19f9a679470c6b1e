package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertRoom inserts or updates a room record.
func (db *DB) UpsertRoom(ctx context.Context, r *Room) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO rooms (token, display_name, unread_count, last_activity, last_read_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			display_name = excluded.display_name,
			unread_count = excluded.unread_count,
			last_activity = MAX(rooms.last_activity, excluded.last_activity),
			last_read_id = CASE WHEN excluded.last_read_id != '' THEN excluded.last_read_id ELSE rooms.last_read_id END,
			updated_at = excluded.updated_at`,
		r.Token, r.DisplayName, r.UnreadCount, r.LastActivity, r.LastReadID, now)
	return err
}

// DeleteRoom removes a room together with its messages, cursor and journal.
func (db *DB) DeleteRoom(ctx context.Context, token string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM messages WHERE room_token = ?`,
		`DELETE FROM outbox WHERE room_token = ?`,
		`DELETE FROM rooms WHERE token = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, token); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?`, cursorKey(token)); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return tx.Commit()
}

// MarkRoomRead clears the unread counter and stores the read marker.
func (db *DB) MarkRoomRead(ctx context.Context, token, lastReadID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE rooms SET unread_count = 0, last_read_id = ?, updated_at = ? WHERE token = ?`,
		lastReadID, time.Now().UnixMilli(), token)
	return err
}

// ListRooms returns rooms sorted by last activity, newest first.
func (db *DB) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT token, COALESCE(NULLIF(display_name, ''), token), unread_count, last_activity, last_read_id
		FROM rooms
		ORDER BY last_activity DESC, token ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Token, &r.DisplayName, &r.UnreadCount, &r.LastActivity, &r.LastReadID); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// GetRoom returns a single room, or nil when it is not cached.
func (db *DB) GetRoom(ctx context.Context, token string) (*Room, error) {
	var r Room
	err := db.QueryRowContext(ctx, `
		SELECT token, COALESCE(NULLIF(display_name, ''), token), unread_count, last_activity, last_read_id
		FROM rooms WHERE token = ?`, token).
		Scan(&r.Token, &r.DisplayName, &r.UnreadCount, &r.LastActivity, &r.LastReadID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
