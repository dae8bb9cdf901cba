package i18n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/docquest/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "DocQuest" {
		t.Errorf("T(AppTitle) = %q, want 'DocQuest'", got)
	}
	if got := T(ctx, "StartSimulation"); got != "Start simulation" {
		t.Errorf("T(StartSimulation) = %q, want 'Start simulation'", got)
	}
	if got := T(ctx, "CaseDescription"); got != "Description" {
		t.Errorf("T(CaseDescription) = %q, want 'Description'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "StartSimulation"); got != "Начать симуляцию" {
		t.Errorf("T(StartSimulation) = %q, want 'Начать симуляцию'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "CasesAvailable", 1); got != "1 case available." {
		t.Errorf("Tp(CasesAvailable, 1) = %q", got)
	}
	if got := Tp(ctx, "CasesAvailable", 5); got != "5 cases available." {
		t.Errorf("Tp(CasesAvailable, 5) = %q", got)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "CasesAvailable", 5); got != "Доступно 5 случаев." {
		t.Errorf("Tp(ru CasesAvailable, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Td(ctx, "CaseN", map[string]any{"ID": 42}); got != "Case 42" {
		t.Errorf("Td(CaseN, ID=42) = %q, want 'Case 42'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestBadgeName(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		badge model.Badge
		want  string
	}{
		{model.BadgeNone, ""},
		{model.BadgeBeginner, "Beginner"},
		{model.BadgeIntermediate, "Intermediate"},
		{model.BadgePro, "Pro"},
	}
	for _, tt := range tests {
		if got := BadgeName(ctx, tt.badge); got != tt.want {
			t.Errorf("BadgeName(%q) = %q, want %q", tt.badge, got, tt.want)
		}
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	read := func(name string) map[string]json.RawMessage {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		return m
	}
	en, ru := read("en.json"), read("ru.json")
	for k := range en {
		if _, ok := ru[k]; !ok {
			t.Errorf("ru.json missing key %q", k)
		}
	}
	for k := range ru {
		if _, ok := en[k]; !ok {
			t.Errorf("en.json missing key %q", k)
		}
	}
}

// go-i18n reads these top-level keys as message fields, not message IDs.
var reservedKeys = []string{"id", "description", "hash", "leftdelim", "rightdelim", "zero", "one", "two", "few", "many", "other"}

func TestLocalesAvoidReservedKeys(t *testing.T) {
	for _, name := range []string{"en.json", "ru.json"} {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for k := range m {
			for _, r := range reservedKeys {
				if strings.EqualFold(k, r) {
					t.Errorf("%s: key %q is reserved by go-i18n", name, k)
				}
			}
		}
	}
}

func TestNegotiate(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name   string
		url    string
		cookie string
		accept string
		want   string
	}{
		{"default", "/", "", "", "en"},
		{"accept language", "/", "", "ru-RU,ru;q=0.9,en;q=0.5", "ru"},
		{"unsupported accept", "/", "", "de-DE", "en"},
		{"query wins", "/?lang=en", "", "ru", "en"},
		{"cookie", "/", "ru", "en", "ru"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: LangCookie, Value: tt.cookie})
			}
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			if got := Negotiate(r, "en"); got != tt.want {
				t.Errorf("Negotiate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	initLang(t, "en")

	var title string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = T(r.Context(), "StartSimulation")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?lang=ru", nil))
	if title != "Начать симуляцию" {
		t.Errorf("title = %q", title)
	}
	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == LangCookie && c.Value == "ru" {
			found = true
		}
	}
	if !found {
		t.Error("language cookie not set")
	}
}
