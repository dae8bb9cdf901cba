package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/model"
)

// Templates holds the built-in prompt files.
//
//go:embed templates/*.txt
var Templates embed.FS

// NotAvailable is what the patient says about a test the case does not list.
const NotAvailable = "Not available."

const maxInputRunes = 4000

var roleTagRegex = regexp.MustCompile(`(?i)</?\s*(system|assistant|gold[-_]case)\b[^>]*>`)

// PromptVariant selects how strictly the evaluator grades.
type PromptVariant string

const (
	PromptStrict   PromptVariant = "strict"
	PromptStandard PromptVariant = "standard"
	PromptLenient  PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce        sync.Once
	loadErr         error
	patientTemplate *template.Template
	evalTemplates   map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

type patientData struct {
	NotAvailable string
}

type evalData struct {
	MinScore     int
	MaxDiagnosis int
	MaxTests     int
	MaxPlan      int
}

// Load parses prompt templates from fsys, which must contain a templates/
// directory laid out like Templates. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		patientTemplate, loadErr = template.ParseFS(fsys, "templates/patient.txt")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse patient prompt: %w", loadErr)
			return
		}

		evalTemplates = make(map[PromptVariant]*template.Template, len(validVariants))
		for v := range validVariants {
			file := "templates/evaluator_" + string(v) + ".txt"
			tmpl, err := template.ParseFS(fsys, file, "templates/contract.txt")
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			evalTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildPatientPrompt assembles the roleplay conversation: persona
// instructions, the serialized case, every prior turn in order, then the
// new student message.
func BuildPatientPrompt(c model.Case, studentMessage string, prior []model.Turn) ([]llm.Message, error) {
	if err := Load(Templates); err != nil {
		return nil, err
	}

	var sys bytes.Buffer
	if err := patientTemplate.Execute(&sys, patientData{NotAvailable: NotAvailable}); err != nil {
		return nil, fmt.Errorf("render patient prompt: %w", err)
	}
	caseJSON, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("serialize case %d: %w", c.ID, err)
	}

	msgs := make([]llm.Message, 0, len(prior)+3)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: strings.TrimSpace(sys.String())},
		llm.Message{Role: llm.RoleUser, Content: string(caseJSON)},
	)
	for _, t := range prior {
		role := llm.RoleUser
		if t.Speaker == model.SpeakerPatient {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: SanitizeInput(studentMessage)})
	return msgs, nil
}

// BuildEvaluatorPrompt assembles the grading request with the standard rubric.
func BuildEvaluatorPrompt(c model.Case, a model.StudentAnswer) ([]llm.Message, error) {
	return BuildEvaluatorPromptVariant(PromptStandard, c, a)
}

// BuildEvaluatorPromptVariant assembles the grading request: the rubric and
// output contract for variant, then one message carrying the student answer
// next to the gold case. Unknown variants grade as standard.
func BuildEvaluatorPromptVariant(variant PromptVariant, c model.Case, a model.StudentAnswer) ([]llm.Message, error) {
	if err := Load(Templates); err != nil {
		return nil, err
	}
	if !validVariants[variant] {
		variant = PromptStandard
	}
	tmpl, ok := evalTemplates[variant]
	if !ok {
		return nil, errors.New("evaluator template missing for variant " + string(variant))
	}

	var sys bytes.Buffer
	err := tmpl.ExecuteTemplate(&sys, "evaluator_"+string(variant)+".txt", evalData{
		MinScore:     0,
		MaxDiagnosis: model.MaxDiagnosisScore,
		MaxTests:     model.MaxTestsScore,
		MaxPlan:      model.MaxPlanScore,
	})
	if err != nil {
		return nil, fmt.Errorf("render evaluator prompt: %w", err)
	}

	answer := model.StudentAnswer{
		Diagnosis: SanitizeInput(a.Diagnosis),
		Tests:     a.Tests,
		Plan:      SanitizeInput(a.Plan),
	}
	if answer.Tests == nil {
		answer.Tests = []string{}
	}
	payload, err := json.Marshal(struct {
		StudentAnswer model.StudentAnswer `json:"student_answer"`
		GoldCase      model.Case          `json:"gold_case"`
	}{answer, c})
	if err != nil {
		return nil, fmt.Errorf("serialize evaluation payload: %w", err)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: strings.TrimSpace(sys.String())},
		{Role: llm.RoleUser, Content: string(payload)},
	}, nil
}

// SanitizeInput strips role-like markup and caps the length of free text
// typed by the student. Applying it twice gives the same result as once.
func SanitizeInput(s string) string {
	for roleTagRegex.MatchString(s) {
		s = roleTagRegex.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxInputRunes {
		s = string([]rune(s)[:maxInputRunes]) + " [truncated]"
	}
	return s
}
