package model

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrConfigMissing is returned at startup when the API credential is not configured.
var ErrConfigMissing = errors.New("API key is required: set --api-key, DOCQUEST_API_KEY or API_KEY in .env")

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Page is a node of the session navigation state machine.
type Page string

const (
	PageHome           Page = "home"
	PageCategorySelect Page = "category_select"
	PageCaseDetail     Page = "case_detail"
	PageFeedback       Page = "feedback"
)

// Speaker identifies who said a transcript line.
type Speaker string

const (
	SpeakerStudent Speaker = "student"
	SpeakerPatient Speaker = "patient"
)

// Turn is one line of the patient interview.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// GoldCase holds the reference answer used only by the evaluator.
type GoldCase struct {
	Diagnosis   string            `json:"diagnosis"`
	Tests       []string          `json:"tests"`
	Plan        string            `json:"plan"`
	History     string            `json:"history,omitempty"`
	Vitals      map[string]string `json:"vitals,omitempty"`
	TestResults map[string]string `json:"test_results,omitempty"`
}

// Case is a clinical scenario from the catalog. It is never mutated after load.
type Case struct {
	ID          int      `json:"id"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Symptoms    []string `json:"symptoms"`
	Gold        GoldCase `json:"gold_case"`

	// Extra carries catalog fields that have no dedicated struct field.
	Extra map[string]json.RawMessage `json:"-"`
}

// StudentAnswer is what the student submits from the solve form.
type StudentAnswer struct {
	Diagnosis string   `json:"diagnosis"`
	Tests     []string `json:"tests"`
	Plan      string   `json:"plan"`
}

// Maximum sub-scores of the evaluation rubric.
const (
	MaxDiagnosisScore = 4
	MaxTestsScore     = 3
	MaxPlanScore      = 3
	MaxTotalScore     = MaxDiagnosisScore + MaxTestsScore + MaxPlanScore
)

// Feedback is the parsed evaluator result for one submission.
type Feedback struct {
	DiagnosisScore int      `json:"diagnosis_score"`
	TestsScore     int      `json:"tests_score"`
	PlanScore      int      `json:"plan_score"`
	Feedback       []string `json:"feedback"`
	LearningPoints []string `json:"learning_points"`
	RedFlags       bool     `json:"red_flags"`
}

// Total returns the sum of the three sub-scores.
func (f Feedback) Total() int {
	return f.DiagnosisScore + f.TestsScore + f.PlanScore
}

// AttemptRecord is one completed, scored submission.
type AttemptRecord struct {
	CaseID int    `json:"case_id"`
	Score  int    `json:"score"`
	Date   string `json:"date"`
}

// NewAttemptRecord builds a record stamped with t in RFC 3339.
func NewAttemptRecord(caseID, score int, t time.Time) AttemptRecord {
	return AttemptRecord{CaseID: caseID, Score: score, Date: t.UTC().Format(time.RFC3339)}
}

// Badge is a coarse skill tier derived from the running average.
type Badge string

const (
	BadgeNone         Badge = ""
	BadgeBeginner     Badge = "beginner"
	BadgeIntermediate Badge = "intermediate"
	BadgePro          Badge = "pro"
)

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	ChatWindow    int    // transcript entries shown on the case page
	BasePath      string // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant string // Evaluator prompt variant (strict, standard, lenient)
	SessionTTL    time.Duration
}
