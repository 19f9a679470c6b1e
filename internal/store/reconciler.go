package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

const cursorPrefix = "cursor:"

func cursorKey(room string) string { return cursorPrefix + room }

// Reconciler manages sync checkpoints: per-room poll cursors and other
// engine bookkeeping kept in sync_state.
type Reconciler struct {
	db     *DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. A missing key yields "".
func (r *Reconciler) GetCheckpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SaveCursor persists the poll cursor of a room.
func (r *Reconciler) SaveCursor(ctx context.Context, room, cursor string) error {
	if err := r.UpdateCheckpoint(ctx, cursorKey(room), cursor); err != nil {
		return err
	}
	r.logger.Debug("cursor saved", zap.String("room", room), zap.String("cursor", cursor))
	return nil
}

// Cursors returns every stored room cursor.
func (r *Reconciler) Cursors(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM sync_state WHERE key LIKE ?`, cursorPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cursors := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		cursors[strings.TrimPrefix(key, cursorPrefix)] = value
	}
	return cursors, rows.Err()
}
