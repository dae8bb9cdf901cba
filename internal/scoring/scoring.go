// Package scoring aggregates evaluator feedback into averages and badges and
// turns raw evaluator replies into validated Feedback values.
package scoring

import (
	"fmt"

	"github.com/pavelanni/docquest/internal/model"
)

// NoAverage is displayed instead of a number when nothing has been scored yet.
const NoAverage = "—"

// Badge thresholds on the 0-10 average.
const (
	ProThreshold          = 8.0
	IntermediateThreshold = 5.0
)

// Average returns the mean total score, or 0 for an empty slice.
func Average(scores []model.Feedback) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, f := range scores {
		sum += f.Total()
	}
	return float64(sum) / float64(len(scores))
}

// FormatAverage renders the average with one decimal, or NoAverage when
// there are no scores, so "no data" never reads as a zero score.
func FormatAverage(scores []model.Feedback) string {
	if len(scores) == 0 {
		return NoAverage
	}
	return fmt.Sprintf("%.1f", Average(scores))
}

// BadgeFor maps an average to a badge. Ranges are closed-open.
func BadgeFor(avg float64) model.Badge {
	switch {
	case avg >= ProThreshold:
		return model.BadgePro
	case avg >= IntermediateThreshold:
		return model.BadgeIntermediate
	case avg > 0:
		return model.BadgeBeginner
	default:
		return model.BadgeNone
	}
}

// Progress is the sidebar summary of a session.
type Progress struct {
	Completed int
	Average   string
	Badge     model.Badge
}

// Summarize computes the sidebar summary for a session's scores.
func Summarize(scores []model.Feedback) Progress {
	return Progress{
		Completed: len(scores),
		Average:   FormatAverage(scores),
		Badge:     BadgeFor(Average(scores)),
	}
}
