package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/docquest/internal/catalog"
	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/llm/prompts"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/scoring"
)

var (
	ErrInvalidTransition = errors.New("action not available on this page")
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrUnknownCase       = errors.New("case not found")
	ErrUnknownCategory   = errors.New("category not found")
	ErrNoChallenge       = errors.New("no challenge case available today")
)

// Completer is the slice of the completion client the machine needs.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error)
}

// Recorder receives every scored attempt. *history.Store implements it.
type Recorder interface {
	Append(rec model.AttemptRecord) error
}

// Sampling parameters for the two LLM roles.
var (
	PatientOptions = llm.Options{
		Temperature:      0.7,
		TopP:             0.7,
		FrequencyPenalty: 1,
	}
	EvaluatorOptions = llm.Options{
		JSON:        true,
		Schema:      scoring.FeedbackSchema,
		Temperature: 0.7,
	}
)

// Machine applies transitions to a State. It holds no per-session data and
// is safe for concurrent use across sessions.
type Machine struct {
	cases    *catalog.Catalog
	llm      Completer
	recorder Recorder
	variant  prompts.PromptVariant
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithVariant selects the evaluator prompt variant.
func WithVariant(v prompts.PromptVariant) Option {
	return func(m *Machine) { m.variant = v }
}

// WithClock overrides the time source used to stamp attempts.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine wires the catalog, completion client and history recorder.
// recorder may be nil, in which case attempts are kept in the session only.
func NewMachine(cases *catalog.Catalog, c Completer, recorder Recorder, opts ...Option) *Machine {
	m := &Machine{
		cases:    cases,
		llm:      c,
		recorder: recorder,
		variant:  prompts.PromptStandard,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Catalog returns the case catalog the machine navigates.
func (m *Machine) Catalog() *catalog.Catalog {
	return m.cases
}

func expect(s *State, action string, pages ...model.Page) error {
	for _, p := range pages {
		if s.Page == p {
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, s.Page)
}

// StartSimulation moves from Home to the category list.
func (m *Machine) StartSimulation(s *State) error {
	if err := expect(s, "start", model.PageHome); err != nil {
		return err
	}
	s.Page = model.PageCategorySelect
	return nil
}

// PickCategory moves from Home to the category list with category selected.
func (m *Machine) PickCategory(s *State, category string) error {
	if err := expect(s, "pick category", model.PageHome); err != nil {
		return err
	}
	if err := m.checkCategory(category); err != nil {
		return err
	}
	s.Category = category
	s.Page = model.PageCategorySelect
	return nil
}

// TakeChallenge opens the case of the day straight from Home.
func (m *Machine) TakeChallenge(s *State, day time.Time) error {
	if err := expect(s, "take challenge", model.PageHome); err != nil {
		return err
	}
	c, ok := m.cases.DailyChallenge(day)
	if !ok {
		return ErrNoChallenge
	}
	m.enterCase(s, c)
	return nil
}

// SelectCategory changes the category filter on the category page. An
// empty category clears the filter.
func (m *Machine) SelectCategory(s *State, category string) error {
	if err := expect(s, "select category", model.PageCategorySelect); err != nil {
		return err
	}
	if category != "" {
		if err := m.checkCategory(category); err != nil {
			return err
		}
	}
	s.Category = category
	return nil
}

// OpenCase enters the case page for id. Opening a different case starts a
// fresh interview; opening the current one keeps its transcript.
func (m *Machine) OpenCase(s *State, id int) error {
	if err := expect(s, "open case", model.PageCategorySelect); err != nil {
		return err
	}
	c, ok := m.cases.ByID(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCase, id)
	}
	m.enterCase(s, c)
	return nil
}

func (m *Machine) enterCase(s *State, c model.Case) {
	if s.CaseID != c.ID {
		s.resetCase()
	}
	s.CaseID = c.ID
	s.Category = c.Category
	s.Latest = nil
	s.Page = model.PageCaseDetail
}

// Ask sends one interview question to the simulated patient and appends the
// question and the reply. On any failure the transcript is left untouched.
func (m *Machine) Ask(ctx context.Context, s *State, question string) error {
	if err := expect(s, "ask", model.PageCaseDetail); err != nil {
		return err
	}
	// The transcript keeps exactly what the patient model was shown.
	question = prompts.SanitizeInput(question)
	if question == "" {
		return ErrEmptyQuestion
	}
	c, err := m.currentCase(s)
	if err != nil {
		return err
	}

	msgs, err := prompts.BuildPatientPrompt(c, question, s.Transcript)
	if err != nil {
		return fmt.Errorf("build patient prompt: %w", err)
	}
	reply, err := m.llm.Complete(llm.WithPurpose(ctx, "patient"), msgs, PatientOptions)
	if err != nil {
		return err
	}

	s.Transcript = append(s.Transcript,
		model.Turn{Speaker: model.SpeakerStudent, Text: question},
		model.Turn{Speaker: model.SpeakerPatient, Text: reply},
	)
	return nil
}

// Submit grades the student's answer and moves to the feedback page. The
// answer, score and attempt are recorded only when the evaluator returns
// valid feedback.
func (m *Machine) Submit(ctx context.Context, s *State, answer model.StudentAnswer) error {
	if err := expect(s, "submit", model.PageCaseDetail); err != nil {
		return err
	}
	c, err := m.currentCase(s)
	if err != nil {
		return err
	}

	msgs, err := prompts.BuildEvaluatorPromptVariant(m.variant, c, answer)
	if err != nil {
		return fmt.Errorf("build evaluator prompt: %w", err)
	}
	raw, err := m.llm.Complete(llm.WithPurpose(ctx, "evaluator"), msgs, EvaluatorOptions)
	if err != nil {
		return err
	}
	fb, err := scoring.ParseFeedback(raw)
	if err != nil {
		return err
	}

	rec := model.NewAttemptRecord(c.ID, fb.Total(), m.now())
	if s.Answers == nil {
		s.Answers = map[int]model.StudentAnswer{}
	}
	s.Answers[c.ID] = answer
	s.Latest = &fb
	s.Scores = append(s.Scores, fb)
	s.Attempts = append(s.Attempts, rec)
	s.Page = model.PageFeedback

	if m.recorder != nil {
		if err := m.recorder.Append(rec); err != nil {
			slog.Error("failed to record attempt", "session", s.ID, "case_id", rec.CaseID, "error", err)
		}
	}
	return nil
}

// Back returns to the category list, discarding the current case.
func (m *Machine) Back(s *State) error {
	if err := expect(s, "back", model.PageCaseDetail, model.PageFeedback); err != nil {
		return err
	}
	s.resetCase()
	s.Page = model.PageCategorySelect
	return nil
}

// TryAnother leaves the feedback page for the category list.
func (m *Machine) TryAnother(s *State) error {
	if err := expect(s, "try another", model.PageFeedback); err != nil {
		return err
	}
	return m.Back(s)
}

// CurrentCase returns the case the session is working on, if any.
func (m *Machine) CurrentCase(s *State) (model.Case, bool) {
	if s.CaseID == 0 {
		return model.Case{}, false
	}
	return m.cases.ByID(s.CaseID)
}

func (m *Machine) currentCase(s *State) (model.Case, error) {
	c, ok := m.CurrentCase(s)
	if !ok {
		return model.Case{}, fmt.Errorf("%w: %d", ErrUnknownCase, s.CaseID)
	}
	return c, nil
}

func (m *Machine) checkCategory(category string) error {
	if len(m.cases.InCategory(category)) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return nil
}
