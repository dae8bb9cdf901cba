package history

import (
	"sort"
	"time"

	"github.com/pavelanni/docquest/internal/model"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// MergeBestByCase keeps one record per case id, the one with the highest
// score. On equal scores the first record seen wins, scanning session
// before global, each in input order. The result is ordered by date,
// newest first, then by case id ascending. Neither input is modified.
func MergeBestByCase(session, global []model.AttemptRecord) []model.AttemptRecord {
	best := make(map[int]model.AttemptRecord)
	var order []int
	for _, src := range [][]model.AttemptRecord{session, global} {
		for _, rec := range src {
			cur, ok := best[rec.CaseID]
			if !ok {
				order = append(order, rec.CaseID)
				best[rec.CaseID] = rec
				continue
			}
			if rec.Score > cur.Score {
				best[rec.CaseID] = rec
			}
		}
	}

	out := make([]model.AttemptRecord, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := compareDates(out[i].Date, out[j].Date); c != 0 {
			return c > 0
		}
		return out[i].CaseID < out[j].CaseID
	})
	return out
}

// compareDates orders two date strings, parsing them when both parse and
// falling back to string comparison otherwise.
func compareDates(a, b string) int {
	ta, okA := parseDate(a)
	tb, okB := parseDate(b)
	if okA && okB {
		return ta.Compare(tb)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
