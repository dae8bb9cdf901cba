package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/session"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 7 * 24 * time.Hour

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// SaveSession upserts st and pushes its expiry ttl into the future.
func (s *Store) SaveSession(st *session.State, ttl time.Duration) error {
	if st.ID == "" {
		return errors.New("save session: empty id")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", st.ID, err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, state, page, created_at, updated_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, page = excluded.page,
		 updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		st.ID, string(data), string(st.Page), now, now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", st.ID, err)
	}
	return nil
}

// LoadSession returns the stored state for id, or nil if it does not exist
// or has expired.
func (s *Store) LoadSession(id string) (*session.State, error) {
	var data string
	var expiresAt time.Time
	err := s.db.QueryRow(`SELECT state, expires_at FROM sessions WHERE id = ?`, id).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if time.Now().After(expiresAt) {
		_ = s.DeleteSession(id)
		return nil, nil
	}

	var st session.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	st.ID = id
	st.Normalize()
	return &st, nil
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// CleanupExpiredSessions removes all expired sessions and reports how many
// were deleted.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SessionCount returns the number of stored sessions, grouped by page.
func (s *Store) SessionCount() (map[model.Page]int, error) {
	rows, err := s.db.Query(`SELECT page, COUNT(*) FROM sessions GROUP BY page`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[model.Page]int)
	for rows.Next() {
		var page string
		var n int
		if err := rows.Scan(&page, &n); err != nil {
			return nil, err
		}
		counts[model.Page(page)] = n
	}
	return counts, rows.Err()
}
