package store

import "context"

// SearchMessages performs a full-text search on message bodies, newest first.
func (db *DB) SearchMessages(ctx context.Context, query string, room string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.room_token, m.msg_id, m.temp_id, m.actor_id, m.actor_name, m.body,
		       m.kind, m.system_message, m.reactions, m.state, m.timestamp,
		       snippet(messages_fts, '<<', '>>', '...', -1, 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if room != "" {
		q += " AND m.room_token = ?"
		args = append(args, room)
	}
	q += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m, err := scanMessage(rows, &r.Snippet)
		if err != nil {
			return nil, err
		}
		r.Message = m
		results = append(results, r)
	}
	return results, rows.Err()
}
