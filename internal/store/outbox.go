package store

import (
	"context"
	"time"
)

// SaveOutbox journals a pending action, replacing an earlier copy.
func (db *DB) SaveOutbox(ctx context.Context, e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	created := e.CreatedAt
	if created == 0 {
		created = now
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (temp_id, kind, room_token, body, target_id, attempts, server_id, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', '', ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET
			attempts = excluded.attempts,
			server_id = excluded.server_id,
			updated_at = excluded.updated_at`,
		e.TempID, e.Kind, e.RoomToken, e.Body, e.TargetID, e.Attempts, e.ServerID, created, now)
	return err
}

// DeleteOutbox drops a resolved action.
func (db *DB) DeleteOutbox(ctx context.Context, tempID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM outbox WHERE temp_id = ?`, tempID)
	return err
}

// MarkOutboxFailed keeps a failed action for inspection.
func (db *DB) MarkOutboxFailed(ctx context.Context, tempID, errMsg string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE temp_id = ?`,
		errMsg, time.Now().UnixMilli(), tempID)
	return err
}

// PendingOutbox returns actions that are still unresolved, oldest first.
func (db *DB) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	return db.queryOutbox(ctx, `WHERE status = 'pending'`)
}

// ListOutbox returns every journaled action, oldest first.
func (db *DB) ListOutbox(ctx context.Context) ([]OutboxEntry, error) {
	return db.queryOutbox(ctx, ``)
}

func (db *DB) queryOutbox(ctx context.Context, where string) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, temp_id, kind, room_token, body, target_id, attempts, server_id, status, error_message, created_at
		FROM outbox `+where+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.TempID, &e.Kind, &e.RoomToken, &e.Body, &e.TargetID,
			&e.Attempts, &e.ServerID, &e.Status, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
