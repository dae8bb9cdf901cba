package store

import (
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// ServerInfo describes the configuration the server last started with.
type ServerInfo struct {
	CatalogPath   string
	CaseCount     int
	PromptVariant string
	Model         string
	StartedAt     string
}

// SetMetadata upserts a key-value pair in the server_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO server_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key, or "" if it is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM server_metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// RecordStartup stores info, stamping StartedAt when it is empty.
func (s *Store) RecordStartup(info ServerInfo) error {
	if info.StartedAt == "" {
		info.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	pairs := []struct{ k, v string }{
		{"catalog_path", info.CatalogPath},
		{"case_count", strconv.Itoa(info.CaseCount)},
		{"prompt_variant", info.PromptVariant},
		{"model", info.Model},
		{"started_at", info.StartedAt},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// LastStartup reads back what RecordStartup stored.
func (s *Store) LastStartup() (ServerInfo, error) {
	var info ServerInfo
	var err error
	if info.CatalogPath, err = s.GetMetadata("catalog_path"); err != nil {
		return info, err
	}
	if info.PromptVariant, err = s.GetMetadata("prompt_variant"); err != nil {
		return info, err
	}
	if info.Model, err = s.GetMetadata("model"); err != nil {
		return info, err
	}
	if info.StartedAt, err = s.GetMetadata("started_at"); err != nil {
		return info, err
	}
	n, err := s.GetMetadata("case_count")
	if err != nil {
		return info, err
	}
	if n != "" {
		if info.CaseCount, err = strconv.Atoi(n); err != nil {
			return info, err
		}
	}
	return info, nil
}
