// Package session holds the per-browser navigation state and the named
// transitions that move it between pages.
package session

import (
	"strings"

	"github.com/pavelanni/docquest/internal/model"
)

// DefaultChatWindow is how many transcript turns the case page shows.
const DefaultChatWindow = 20

// State is everything one student session owns. It is serialized as JSON
// between requests.
type State struct {
	ID         string                      `json:"id"`
	Page       model.Page                  `json:"page"`
	Category   string                      `json:"category,omitempty"`
	CaseID     int                         `json:"case_id,omitempty"`
	Transcript []model.Turn                `json:"transcript"`
	Answers    map[int]model.StudentAnswer `json:"answers"`
	Latest     *model.Feedback             `json:"latest,omitempty"`
	Scores     []model.Feedback            `json:"scores"`
	Attempts   []model.AttemptRecord       `json:"attempts"`

	// Flash is the inline error from the last failed action, shown once.
	Flash string `json:"flash,omitempty"`
}

// NewState returns a fresh session on the home page.
func NewState(id string) *State {
	return &State{
		ID:         id,
		Page:       model.PageHome,
		Transcript: []model.Turn{},
		Answers:    map[int]model.StudentAnswer{},
		Scores:     []model.Feedback{},
		Attempts:   []model.AttemptRecord{},
	}
}

// Normalize repairs a decoded state so callers never see nil collections or
// an unknown page.
func (s *State) Normalize() {
	switch s.Page {
	case model.PageHome, model.PageCategorySelect, model.PageCaseDetail, model.PageFeedback:
	default:
		s.Page = model.PageHome
	}
	if s.Transcript == nil {
		s.Transcript = []model.Turn{}
	}
	if s.Answers == nil {
		s.Answers = map[int]model.StudentAnswer{}
	}
	if s.Scores == nil {
		s.Scores = []model.Feedback{}
	}
	if s.Attempts == nil {
		s.Attempts = []model.AttemptRecord{}
	}
}

// TakeFlash returns the pending flash message and clears it.
func (s *State) TakeFlash() string {
	f := s.Flash
	s.Flash = ""
	return f
}

func (s *State) resetCase() {
	s.CaseID = 0
	s.Transcript = []model.Turn{}
	s.Latest = nil
}

// Window returns the last n turns, oldest first. n <= 0 returns everything.
func Window(transcript []model.Turn, n int) []model.Turn {
	if n <= 0 || len(transcript) <= n {
		return transcript
	}
	return transcript[len(transcript)-n:]
}

// ParseSolveForm builds a StudentAnswer from the raw form fields. Tests are
// comma separated; blank entries are dropped and order is kept.
func ParseSolveForm(diagnosis, testsInput, plan string) model.StudentAnswer {
	tests := []string{}
	for _, t := range strings.Split(testsInput, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tests = append(tests, t)
		}
	}
	return model.StudentAnswer{
		Diagnosis: strings.TrimSpace(diagnosis),
		Tests:     tests,
		Plan:      strings.TrimSpace(plan),
	}
}
