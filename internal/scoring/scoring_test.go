package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/model"
)

func fb(d, t, p int) model.Feedback {
	return model.Feedback{DiagnosisScore: d, TestsScore: t, PlanScore: p}
}

func TestAverage(t *testing.T) {
	tests := []struct {
		name   string
		scores []model.Feedback
		want   float64
	}{
		{"empty", nil, 0},
		{"single zero", []model.Feedback{fb(0, 0, 0)}, 0},
		{"single", []model.Feedback{fb(3, 2, 2)}, 7},
		{"mixed", []model.Feedback{fb(4, 3, 3), fb(2, 1, 2)}, 7.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Average(tt.scores), 1e-9)
		})
	}
}

func TestFormatAverage_DistinguishesEmptyFromZero(t *testing.T) {
	assert.Equal(t, NoAverage, FormatAverage(nil))
	assert.Equal(t, "0.0", FormatAverage([]model.Feedback{fb(0, 0, 0)}))
	assert.Equal(t, "7.5", FormatAverage([]model.Feedback{fb(4, 3, 3), fb(2, 1, 2)}))
}

func TestBadgeFor(t *testing.T) {
	tests := []struct {
		avg  float64
		want model.Badge
	}{
		{0, model.BadgeNone},
		{0.1, model.BadgeBeginner},
		{4.999, model.BadgeBeginner},
		{5, model.BadgeIntermediate},
		{7.999, model.BadgeIntermediate},
		{8, model.BadgePro},
		{10, model.BadgePro},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BadgeFor(tt.avg), "BadgeFor(%v)", tt.avg)
	}
}

func TestSummarize(t *testing.T) {
	p := Summarize([]model.Feedback{fb(4, 3, 3), fb(3, 3, 2)})
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, "9.0", p.Average)
	assert.Equal(t, model.BadgePro, p.Badge)

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Completed)
	assert.Equal(t, NoAverage, empty.Average)
	assert.Equal(t, model.BadgeNone, empty.Badge)
}

func TestParseFeedback(t *testing.T) {
	got, err := ParseFeedback(`{"diagnosis_score":3,"tests_score":2,"plan_score":2,"feedback":["ok"],"learning_points":[],"red_flags":false}`)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Total())
	assert.Equal(t, []string{"ok"}, got.Feedback)
	assert.Empty(t, got.LearningPoints)
	assert.NotNil(t, got.LearningPoints)
	assert.False(t, got.RedFlags)
}

func TestParseFeedback_Accepts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"float scores", `{"diagnosis_score":4.0,"tests_score":3,"plan_score":0,"feedback":[],"learning_points":[],"red_flags":true}`},
		{"extra keys", `{"diagnosis_score":1,"tests_score":1,"plan_score":1,"feedback":[],"learning_points":[],"red_flags":false,"comment":"x"}`},
		{"code fence", "```json\n{\"diagnosis_score\":1,\"tests_score\":1,\"plan_score\":1,\"feedback\":[],\"learning_points\":[],\"red_flags\":false}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedback(tt.raw)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got.Total(), 0)
			assert.LessOrEqual(t, got.Total(), model.MaxTotalScore)
		})
	}
}

func TestParseFeedback_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `The student did well.`},
		{"empty", ``},
		{"missing key", `{"diagnosis_score":3,"tests_score":2,"plan_score":2,"feedback":["ok"],"learning_points":[]}`},
		{"diagnosis out of range", `{"diagnosis_score":5,"tests_score":2,"plan_score":2,"feedback":[],"learning_points":[],"red_flags":false}`},
		{"negative", `{"diagnosis_score":-1,"tests_score":2,"plan_score":2,"feedback":[],"learning_points":[],"red_flags":false}`},
		{"fractional", `{"diagnosis_score":2.5,"tests_score":2,"plan_score":2,"feedback":[],"learning_points":[],"red_flags":false}`},
		{"feedback not list", `{"diagnosis_score":2,"tests_score":2,"plan_score":2,"feedback":"good","learning_points":[],"red_flags":false}`},
		{"red flags not bool", `{"diagnosis_score":2,"tests_score":2,"plan_score":2,"feedback":[],"learning_points":[],"red_flags":"no"}`},
		{"array", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFeedback(tt.raw)
			var mf *MalformedFeedbackError
			require.ErrorAs(t, err, &mf)
		})
	}
}

func TestOfflineFeedbackIsValid(t *testing.T) {
	resp, err := llm.NewOfflineProvider().Generate(context.Background(), llm.Request{JSON: true})
	require.NoError(t, err)

	got, err := ParseFeedback(resp.Content)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Total())
	assert.NotEmpty(t, got.Feedback)
}
