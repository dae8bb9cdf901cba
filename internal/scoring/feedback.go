package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/model"
)

// FeedbackSchema is the contract the evaluator reply must satisfy. Extra
// keys are tolerated.
var FeedbackSchema = &llm.Schema{
	Name:        "case-feedback",
	Description: "Structured evaluation of a student's answer to a clinical case",
	Definition: map[string]any{
		"type": "object",
		"required": []any{
			"diagnosis_score", "tests_score", "plan_score",
			"feedback", "learning_points", "red_flags",
		},
		"properties": map[string]any{
			"diagnosis_score": scoreProperty(model.MaxDiagnosisScore),
			"tests_score":     scoreProperty(model.MaxTestsScore),
			"plan_score":      scoreProperty(model.MaxPlanScore),
			"feedback":        stringList(),
			"learning_points": stringList(),
			"red_flags":       map[string]any{"type": "boolean"},
		},
	},
}

func scoreProperty(limit int) map[string]any {
	return map[string]any{"type": "integer", "minimum": 0, "maximum": limit}
}

func stringList() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// MalformedFeedbackError reports an evaluator reply that could not be turned
// into Feedback.
type MalformedFeedbackError struct {
	Raw string
	Err error
}

func (e *MalformedFeedbackError) Error() string {
	return fmt.Sprintf("malformed evaluator feedback: %v", e.Err)
}

func (e *MalformedFeedbackError) Unwrap() error { return e.Err }

// wire shape; scores arrive as JSON numbers and 3.0 is as good as 3
type rawFeedback struct {
	DiagnosisScore float64  `json:"diagnosis_score"`
	TestsScore     float64  `json:"tests_score"`
	PlanScore      float64  `json:"plan_score"`
	Feedback       []string `json:"feedback"`
	LearningPoints []string `json:"learning_points"`
	RedFlags       bool     `json:"red_flags"`
}

// ParseFeedback validates an evaluator reply and decodes it.
func ParseFeedback(raw string) (model.Feedback, error) {
	raw = stripCodeFence(raw)
	if err := llm.ValidateJSON(FeedbackSchema, json.RawMessage(raw)); err != nil {
		return model.Feedback{}, &MalformedFeedbackError{Raw: raw, Err: err}
	}

	var rf rawFeedback
	if err := json.Unmarshal([]byte(raw), &rf); err != nil {
		return model.Feedback{}, &MalformedFeedbackError{Raw: raw, Err: err}
	}

	fb := model.Feedback{
		Feedback:       nonNil(rf.Feedback),
		LearningPoints: nonNil(rf.LearningPoints),
		RedFlags:       rf.RedFlags,
	}
	var err error
	if fb.DiagnosisScore, err = subScore("diagnosis_score", rf.DiagnosisScore, model.MaxDiagnosisScore); err != nil {
		return model.Feedback{}, &MalformedFeedbackError{Raw: raw, Err: err}
	}
	if fb.TestsScore, err = subScore("tests_score", rf.TestsScore, model.MaxTestsScore); err != nil {
		return model.Feedback{}, &MalformedFeedbackError{Raw: raw, Err: err}
	}
	if fb.PlanScore, err = subScore("plan_score", rf.PlanScore, model.MaxPlanScore); err != nil {
		return model.Feedback{}, &MalformedFeedbackError{Raw: raw, Err: err}
	}
	return fb, nil
}

func subScore(name string, v float64, limit int) (int, error) {
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%s must be an integer, got %v", name, v)
	}
	if v < 0 || v > float64(limit) {
		return 0, fmt.Errorf("%s out of range 0-%d: %v", name, limit, v)
	}
	return int(v), nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add even in
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
