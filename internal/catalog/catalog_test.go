package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `{"cases": [
  {"id": 1, "category": "Cardiology", "title": "Chest pain", "description": "55M crushing pain",
   "symptoms": ["chest pain", "sweating"], "gold_case": {"diagnosis": "STEMI", "tests": ["ECG", "Troponin"], "plan": "PCI"}},
  {"id": 2, "category": "Pulmonology", "title": "Cough", "description": "30F productive cough",
   "symptoms": ["cough", "fever"], "gold_case": {"diagnosis": "CAP", "tests": ["CXR"], "plan": "Antibiotics"}},
  {"id": 3, "category": "Cardiology", "title": "Palpitations", "description": "25F racing heart",
   "symptoms": ["palpitations"], "gold_case": {"diagnosis": "SVT", "tests": ["ECG"], "plan": "Vagal maneuvers"}},
  {"id": 4, "category": "Neurology", "title": "", "description": "no title", "symptoms": []},
  {"id": 1, "category": "Cardiology", "title": "Duplicate", "description": "dup", "symptoms": []},
  {"id": "five"}
]}`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadQuarantinesInvalidRecords(t *testing.T) {
	c, err := Load(writeCatalog(t, testDoc))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Len())
	assert.Len(t, c.Quarantined(), 3)

	reasons := map[int]string{}
	for _, q := range c.Quarantined() {
		reasons[q.Index] = q.Reason
	}
	assert.Contains(t, reasons[3], "title")
	assert.Equal(t, "duplicate id", reasons[4])
	assert.NotEmpty(t, reasons[5])
}

func TestLoadLogsOneSummary(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	_, err := Load(writeCatalog(t, testDoc))
	require.NoError(t, err)

	var summaries []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry["msg"] == "loaded case catalog" {
			summaries = append(summaries, entry)
		}
	}
	require.Len(t, summaries, 1)
	assert.Equal(t, float64(3), summaries[0]["cases"])
	assert.Equal(t, float64(2), summaries[0]["categories"])
	assert.Equal(t, float64(3), summaries[0]["quarantined"])
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "not json"},
		{"no valid cases", `{"cases": [{"id": 1}]}`},
		{"empty", `{"cases": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeCatalog(t, tt.content))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le))
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestCategoriesAndLookup(t *testing.T) {
	c, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	assert.Equal(t, []string{"Cardiology", "Pulmonology"}, c.Categories())

	cardio := c.InCategory("Cardiology")
	require.Len(t, cardio, 2)
	assert.Equal(t, 1, cardio[0].ID)
	assert.Equal(t, 3, cardio[1].ID)

	cs, ok := c.ByID(2)
	require.True(t, ok)
	assert.Equal(t, "Cough", cs.Title)
	assert.Equal(t, []string{"CXR"}, cs.Gold.Tests)

	_, ok = c.ByID(99)
	assert.False(t, ok)
}

func TestDailyChallengeIsStablePerDay(t *testing.T) {
	c, err := Parse([]byte(testDoc))
	require.NoError(t, err)

	morning := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)

	a, ok := c.DailyChallenge(morning)
	require.True(t, ok)
	b, _ := c.DailyChallenge(evening)
	assert.Equal(t, a.ID, b.ID)

	var nilCatalog *Catalog
	_, ok = nilCatalog.DailyChallenge(morning)
	assert.False(t, ok)
}
