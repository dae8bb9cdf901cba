package history

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pavelanni/docquest/internal/model"
)

func rec(caseID, score int, date string) model.AttemptRecord {
	return model.AttemptRecord{CaseID: caseID, Score: score, Date: date}
}

func TestMergeBestByCase_KeepsHighestScore(t *testing.T) {
	session := []model.AttemptRecord{rec(1, 6, "2024-03-01")}
	global := []model.AttemptRecord{rec(1, 9, "2024-02-01"), rec(2, 3, "2024-01-01")}

	got := MergeBestByCase(session, global)

	assert.Equal(t, []model.AttemptRecord{
		rec(1, 9, "2024-02-01"),
		rec(2, 3, "2024-01-01"),
	}, got)
}

func TestMergeBestByCase(t *testing.T) {
	tests := []struct {
		name    string
		session []model.AttemptRecord
		global  []model.AttemptRecord
		want    []model.AttemptRecord
	}{
		{
			name: "both empty",
			want: []model.AttemptRecord{},
		},
		{
			name:    "tie keeps session record",
			session: []model.AttemptRecord{rec(1, 7, "2024-05-01")},
			global:  []model.AttemptRecord{rec(1, 7, "2024-01-01")},
			want:    []model.AttemptRecord{rec(1, 7, "2024-05-01")},
		},
		{
			name:   "tie within one source keeps first",
			global: []model.AttemptRecord{rec(1, 7, "2024-01-01"), rec(1, 7, "2024-09-01")},
			want:   []model.AttemptRecord{rec(1, 7, "2024-01-01")},
		},
		{
			name:    "ordered newest first",
			session: []model.AttemptRecord{rec(1, 1, "2024-01-01T10:00:00Z")},
			global:  []model.AttemptRecord{rec(2, 2, "2024-06-01T10:00:00Z"), rec(3, 3, "2024-03-01")},
			want: []model.AttemptRecord{
				rec(2, 2, "2024-06-01T10:00:00Z"),
				rec(3, 3, "2024-03-01"),
				rec(1, 1, "2024-01-01T10:00:00Z"),
			},
		},
		{
			name:   "equal dates ordered by case id",
			global: []model.AttemptRecord{rec(5, 1, "2024-01-01"), rec(2, 1, "2024-01-01")},
			want:   []model.AttemptRecord{rec(2, 1, "2024-01-01"), rec(5, 1, "2024-01-01")},
		},
		{
			name:   "timezones compared as instants",
			global: []model.AttemptRecord{rec(1, 1, "2024-01-01T12:00:00+03:00"), rec(2, 1, "2024-01-01T10:00:00Z")},
			want:   []model.AttemptRecord{rec(2, 1, "2024-01-01T10:00:00Z"), rec(1, 1, "2024-01-01T12:00:00+03:00")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeBestByCase(tt.session, tt.global))
		})
	}
}

func TestMergeBestByCase_Deterministic(t *testing.T) {
	session := []model.AttemptRecord{rec(3, 4, "2024-02-02"), rec(1, 8, "2024-02-01")}
	global := []model.AttemptRecord{rec(1, 8, "2023-12-31"), rec(3, 9, "2024-01-15"), rec(2, 0, "2024-02-01")}

	first := MergeBestByCase(session, global)
	for range 10 {
		assert.Equal(t, first, MergeBestByCase(session, global))
	}
	assert.Len(t, first, 3)
	assert.Equal(t, session, []model.AttemptRecord{rec(3, 4, "2024-02-02"), rec(1, 8, "2024-02-01")}, "input mutated")
}
