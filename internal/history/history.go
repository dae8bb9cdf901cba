// Package history is the append-only attempt log shared by all sessions.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pavelanni/docquest/internal/model"
)

// one lock per cleaned path, shared by every Store in the process
var (
	locksMu sync.Mutex
	locks   = map[string]*sync.Mutex{}
)

func lockFor(path string) *sync.Mutex {
	locksMu.Lock()
	defer locksMu.Unlock()
	mu, ok := locks[path]
	if !ok {
		mu = &sync.Mutex{}
		locks[path] = mu
	}
	return mu
}

// Store reads and appends AttemptRecords to a JSONL file.
type Store struct {
	path string
	mu   *sync.Mutex
}

// New returns a Store for the file at path. The file is created on first append.
func New(path string) *Store {
	clean := filepath.Clean(path)
	return &Store{path: clean, mu: lockFor(clean)}
}

// Path returns the log file location.
func (s *Store) Path() string {
	return s.path
}

// Append writes rec as one line. Appends from any goroutine using the same
// path are serialized; each record is a single write to an O_APPEND file.
func (s *Store) Append(rec model.AttemptRecord) error {
	if err := Valid(rec); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append attempt: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close history: %w", err)
	}
	return nil
}

// Load reads every valid record. Lines that do not decode or fail Valid
// are skipped, including a torn final line. A missing file yields no
// records and no error.
func (s *Store) Load() ([]model.AttemptRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.AttemptRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	records := []model.AttemptRecord{}
	r := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			rec, perr := parseLine(trimmed)
			if perr != nil {
				slog.Debug("skipping history line", "path", s.path, "line", lineNo, "error", perr)
			} else {
				records = append(records, rec)
			}
		}
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("read history: %w", err)
		}
	}
}

func parseLine(line []byte) (model.AttemptRecord, error) {
	var rec model.AttemptRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return rec, err
	}
	if err := Valid(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Valid reports whether rec has a usable case id, score and date.
func Valid(rec model.AttemptRecord) error {
	if rec.CaseID <= 0 {
		return fmt.Errorf("invalid case_id %d", rec.CaseID)
	}
	if rec.Score < 0 || rec.Score > model.MaxTotalScore {
		return fmt.Errorf("score %d out of range", rec.Score)
	}
	if rec.Date == "" {
		return errors.New("missing date")
	}
	return nil
}
