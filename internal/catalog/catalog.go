// Package catalog loads the immutable case catalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/docquest/internal/model"
)

// LoadError reports a catalog that cannot be used at all.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load case catalog %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Quarantined describes a catalog record that was rejected at load time.
type Quarantined struct {
	Index  int
	ID     int
	Reason string
}

// Catalog is the read-only list of cases.
type Catalog struct {
	cases       []model.Case
	byID        map[int]int
	quarantined []Quarantined
}

type document struct {
	Cases []json.RawMessage `json:"cases"`
}

// Load reads and validates the catalog document at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	c, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	for _, q := range c.quarantined {
		slog.Warn("quarantined case record", "path", path, "index", q.Index, "id", q.ID, "reason", q.Reason)
	}
	slog.Info("loaded case catalog", "path", path, "cases", len(c.cases), "categories", len(c.Categories()), "quarantined", len(c.quarantined))
	return c, nil
}

// Parse builds a catalog from the raw document. Records that do not match
// the case schema are quarantined instead of failing the whole load.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	c := &Catalog{byID: make(map[int]int)}
	for i, raw := range doc.Cases {
		var cs model.Case
		if err := json.Unmarshal(raw, &cs); err != nil {
			c.quarantined = append(c.quarantined, Quarantined{Index: i, Reason: err.Error()})
			continue
		}
		if reason := validate(cs); reason != "" {
			c.quarantined = append(c.quarantined, Quarantined{Index: i, ID: cs.ID, Reason: reason})
			continue
		}
		if _, dup := c.byID[cs.ID]; dup {
			c.quarantined = append(c.quarantined, Quarantined{Index: i, ID: cs.ID, Reason: "duplicate id"})
			continue
		}
		c.byID[cs.ID] = len(c.cases)
		c.cases = append(c.cases, cs)
	}

	if len(c.cases) == 0 {
		return nil, fmt.Errorf("no valid cases (%d quarantined)", len(c.quarantined))
	}
	return c, nil
}

func validate(cs model.Case) string {
	var missing []string
	if cs.ID <= 0 {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(cs.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(cs.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(cs.Description) == "" {
		missing = append(missing, "description")
	}
	if cs.Symptoms == nil {
		missing = append(missing, "symptoms")
	}
	if len(missing) > 0 {
		return "missing " + strings.Join(missing, ", ")
	}
	return ""
}

// All returns every case in catalog order.
func (c *Catalog) All() []model.Case {
	return c.cases
}

// Len returns the number of valid cases.
func (c *Catalog) Len() int {
	return len(c.cases)
}

// Quarantined returns the records rejected at load time.
func (c *Catalog) Quarantined() []Quarantined {
	return c.quarantined
}

// ByID returns the case with the given id.
func (c *Catalog) ByID(id int) (model.Case, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Case{}, false
	}
	return c.cases[i], true
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, cs := range c.cases {
		if !seen[cs.Category] {
			seen[cs.Category] = true
			out = append(out, cs.Category)
		}
	}
	sort.Strings(out)
	return out
}

// InCategory returns the cases of one category in catalog order.
func (c *Catalog) InCategory(category string) []model.Case {
	var out []model.Case
	for _, cs := range c.cases {
		if cs.Category == category {
			out = append(out, cs)
		}
	}
	return out
}

// DailyChallenge picks the case of the day. The same calendar day always
// yields the same case for a given catalog.
func (c *Catalog) DailyChallenge(day time.Time) (model.Case, bool) {
	if c == nil || len(c.cases) == 0 {
		return model.Case{}, false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(day.Format("2006-01-02")))
	return c.cases[int(h.Sum32()%uint32(len(c.cases)))], true
}
