package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/session"
)

// SessionAttempts collects the attempt records of every live session, in
// session creation order. Sessions whose state cannot be decoded are skipped.
func (s *Store) SessionAttempts() ([]model.AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, state FROM sessions WHERE expires_at >= ? ORDER BY created_at, id`,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.AttemptRecord
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var st session.State
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			slog.Warn("skipping undecodable session", "id", id, "error", err)
			continue
		}
		out = append(out, st.Attempts...)
	}
	return out, rows.Err()
}
