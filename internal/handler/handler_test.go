package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/docquest/internal/catalog"
	"github.com/pavelanni/docquest/internal/history"
	appI18n "github.com/pavelanni/docquest/internal/i18n"
	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/scoring"
	"github.com/pavelanni/docquest/internal/session"
	"github.com/pavelanni/docquest/internal/store"
)

const testCatalog = `{"cases": [
  {"id": 1, "category": "Cardiology", "title": "Chest pain", "description": "58M with crushing chest pain", "symptoms": ["chest pain", "sweating"],
   "gold_case": {"diagnosis": "STEMI", "tests": ["ECG", "Troponin"], "plan": "cath lab"}},
  {"id": 2, "category": "Respiratory", "title": "Wheeze", "description": "12F with wheeze", "symptoms": ["wheeze"],
   "gold_case": {"diagnosis": "Asthma", "tests": ["Peak flow"], "plan": "salbutamol"}}
]}`

const goodFeedback = `{"diagnosis_score":3,"tests_score":2,"plan_score":2,"feedback":["Good history"],"learning_points":["Check troponin twice"],"red_flags":true}`

type testEnv struct {
	t       *testing.T
	srv     *httptest.Server
	client  *http.Client
	mock    *llm.MockProvider
	history *history.Store
	db      *store.Store
	h       *Handler
	base    string
}

func newTestEnv(t *testing.T, basePath string, responses ...llm.MockResponse) *testEnv {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	db, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := llm.NewMockProvider(responses...)
	hist := history.New(filepath.Join(t.TempDir(), "history.jsonl"))
	m := session.NewMachine(cat, llm.NewClient(mock, time.Second), hist)

	h, err := New(db, m, hist, model.AppConfig{BasePath: basePath, ChatWindow: 4})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testEnv{
		t:       t,
		srv:     srv,
		client:  &http.Client{Jar: jar},
		mock:    mock,
		history: hist,
		db:      db,
		h:       h,
		base:    basePath,
	}
}

func (e *testEnv) url(p string) string {
	return e.srv.URL + e.base + p
}

func (e *testEnv) get(p string) string {
	e.t.Helper()
	resp, err := e.client.Get(e.url(p))
	require.NoError(e.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(body))
	return string(body)
}

func (e *testEnv) csrfToken() string {
	u, _ := url.Parse(e.url("/"))
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == csrfCookieName {
			return c.Value
		}
	}
	return ""
}

// post submits form with the current CSRF token and follows the redirect
// back to the page router.
func (e *testEnv) post(p string, form url.Values) string {
	e.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", e.csrfToken())
	resp, err := e.client.PostForm(e.url(p), form)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	require.Equal(e.t, http.StatusOK, resp.StatusCode, string(body))
	return string(body)
}

func TestFullCaseFlow(t *testing.T) {
	env := newTestEnv(t, "",
		llm.MockResponse{Content: "It started an hour ago."},
		llm.MockResponse{Content: goodFeedback},
	)

	body := env.get("/")
	assert.Contains(t, body, "Start simulation")
	assert.Contains(t, body, `<dd id="average">—</dd>`)
	assert.Contains(t, body, "Cardiology (1)")

	body = env.post("/start", nil)
	assert.Contains(t, body, "Select case category")
	assert.NotContains(t, body, "Chest pain")

	body = env.post("/category", url.Values{"category": {"Cardiology"}})
	assert.Contains(t, body, "Cases in Cardiology")
	assert.Contains(t, body, "1 case available.")
	assert.Contains(t, body, "Chest pain")
	assert.NotContains(t, body, "Wheeze</li>")

	body = env.post("/cases/1/open", nil)
	assert.Contains(t, body, "Interview the patient")
	assert.Contains(t, body, "58M with crushing chest pain")
	assert.Contains(t, body, "No questions asked yet.")

	body = env.post("/case/ask", url.Values{"question": {"When did the pain start?"}})
	assert.Contains(t, body, "When did the pain start?")
	assert.Contains(t, body, "It started an hour ago.")

	body = env.post("/case/submit", url.Values{
		"diagnosis": {"STEMI"},
		"tests":     {"ECG, Troponin"},
		"plan":      {"PCI"},
	})
	assert.Contains(t, body, "3/4")
	assert.Contains(t, body, "7/10")
	assert.Contains(t, body, "Good history")
	assert.Contains(t, body, "Check troponin twice")
	assert.Contains(t, body, "Red flags detected!")
	assert.Contains(t, body, `<dd id="completed">1</dd>`)
	assert.Contains(t, body, `<dd id="average">7.0</dd>`)
	assert.Contains(t, body, "Intermediate")

	recs, err := env.history.Load()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].CaseID)
	assert.Equal(t, 7, recs[0].Score)

	body = env.get("/history")
	assert.Contains(t, body, "Chest pain")
	assert.Contains(t, body, "7/10")

	body = env.post("/another", nil)
	assert.Contains(t, body, "Select case category")
	assert.Contains(t, body, `<dd id="completed">1</dd>`)

	require.Len(t, env.mock.Calls, 2)
	assert.Contains(t, env.mock.Calls[1].System, "STRICT JSON")
}

func TestCompletionFailureShowsFlash(t *testing.T) {
	env := newTestEnv(t, "", llm.MockResponse{Err: errors.New("upstream down")})

	env.get("/")
	env.post("/start", nil)
	env.post("/category", url.Values{"category": {"Cardiology"}})
	env.post("/cases/1/open", nil)

	body := env.post("/case/ask", url.Values{"question": {"Any allergies?"}})
	assert.Contains(t, body, "The AI service did not answer.")
	assert.Contains(t, body, "No questions asked yet.")

	// The flash is shown once.
	body = env.get("/")
	assert.NotContains(t, body, "The AI service did not answer.")
}

func TestMalformedFeedbackRecordsNothing(t *testing.T) {
	env := newTestEnv(t, "", llm.MockResponse{Content: `{"diagnosis_score": 9}`})

	env.get("/")
	env.post("/start", nil)
	env.post("/category", url.Values{"category": {"Respiratory"}})
	env.post("/cases/2/open", nil)

	body := env.post("/case/submit", url.Values{"diagnosis": {"Asthma"}})
	assert.Contains(t, body, "unreadable result")
	assert.Contains(t, body, "Interview the patient")
	assert.Contains(t, body, `<dd id="completed">0</dd>`)

	recs, err := env.history.Load()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUserErrorsShowFlash(t *testing.T) {
	env := newTestEnv(t, "")
	env.get("/")

	body := env.post("/back", nil)
	assert.Contains(t, body, "That action is not available right now.")
	assert.Contains(t, body, "Start simulation")

	env.post("/start", nil)
	body = env.post("/category", url.Values{"category": {"Dermatology"}})
	assert.Contains(t, body, "Category not found.")

	body = env.post("/cases/99/open", nil)
	assert.Contains(t, body, "Case not found.")

	body = env.post("/cases/abc/open", nil)
	assert.Contains(t, body, "The form could not be read.")

	env.post("/cases/1/open", nil)
	body = env.post("/case/ask", url.Values{"question": {"   "}})
	assert.Contains(t, body, "Please type a question first.")
	assert.Equal(t, 0, env.mock.CallCount())
}

func TestBackKeepsCategory(t *testing.T) {
	env := newTestEnv(t, "")
	env.get("/")
	env.post("/category", url.Values{"category": {"Respiratory"}})
	env.post("/cases/2/open", nil)

	body := env.post("/back", nil)
	assert.Contains(t, body, "Cases in Respiratory")
	assert.Contains(t, body, "Wheeze")
}

func TestChatWindow(t *testing.T) {
	var replies []llm.MockResponse
	for i := range 3 {
		replies = append(replies, llm.MockResponse{Content: fmt.Sprintf("reply-%d", i)})
	}
	env := newTestEnv(t, "", replies...)
	env.get("/")
	env.post("/start", nil)
	env.post("/category", url.Values{"category": {"Cardiology"}})
	env.post("/cases/1/open", nil)

	var body string
	for i := range 3 {
		body = env.post("/case/ask", url.Values{"question": {fmt.Sprintf("question-%d", i)}})
	}
	// Window of 4 turns out of 6.
	assert.NotContains(t, body, "question-0")
	assert.NotContains(t, body, "reply-0")
	assert.Contains(t, body, "question-1")
	assert.Contains(t, body, "reply-2")
	assert.Contains(t, body, "Showing the last 4 of 6 messages.")
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t, "")
	env.get("/")

	resp, err := env.client.PostForm(env.url("/start"), url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = env.client.PostForm(env.url("/start"), url.Values{"csrf_token": {"forged"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBasePath(t *testing.T) {
	env := newTestEnv(t, "/dq")

	body := env.get("/")
	assert.Contains(t, body, `action="/dq/start"`)
	assert.Contains(t, body, `href="/dq/history"`)

	body = env.post("/start", nil)
	assert.Contains(t, body, "Select case category")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	env.get("/")

	resp, err := env.client.Get(env.url("/healthz"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Status   string          `json:"status"`
		Cases    int             `json:"cases"`
		Sessions map[string]int  `json:"sessions"`
		Startup  json.RawMessage `json:"startup"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 2, got.Cases)
	assert.Equal(t, 1, got.Sessions[string(model.PageHome)])
	assert.Empty(t, got.Startup, "no startup recorded yet")
}

func TestHealthz_ReportsLastStartup(t *testing.T) {
	env := newTestEnv(t, "")
	require.NoError(t, env.db.RecordStartup(store.ServerInfo{
		CatalogPath:   "cases.json",
		CaseCount:     2,
		PromptVariant: "strict",
		Model:         "mock",
		StartedAt:     "2025-04-02T09:30:00Z",
	}))

	resp, err := env.client.Get(env.url("/healthz"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Startup struct {
			StartedAt     string `json:"started_at"`
			CatalogPath   string `json:"catalog_path"`
			CaseCount     int    `json:"case_count"`
			PromptVariant string `json:"prompt_variant"`
			Model         string `json:"model"`
		} `json:"startup"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "2025-04-02T09:30:00Z", got.Startup.StartedAt)
	assert.Equal(t, "cases.json", got.Startup.CatalogPath)
	assert.Equal(t, 2, got.Startup.CaseCount)
	assert.Equal(t, "strict", got.Startup.PromptVariant)
	assert.Equal(t, "mock", got.Startup.Model)
}

func TestFlashFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.ErrEmptyQuestion, "ErrEmptyQuestion"},
		{fmt.Errorf("wrap: %w", session.ErrInvalidTransition), "ErrInvalidTransition"},
		{session.ErrUnknownCase, "ErrUnknownCase"},
		{session.ErrUnknownCategory, "ErrUnknownCategory"},
		{session.ErrNoChallenge, "ErrNoChallenge"},
		{errBadRequest, "ErrBadRequest"},
		{&llm.CompletionError{Purpose: "patient", Err: errors.New("x")}, "ErrCompletion"},
		{&scoring.MalformedFeedbackError{Raw: "{}", Err: errors.New("x")}, "ErrMalformedFeedback"},
		{errors.New("disk full"), "ErrInternal"},
	}
	for _, tt := range tests {
		if got := flashFor(tt.err); got != tt.want {
			t.Errorf("flashFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSessionCookieIsUUID(t *testing.T) {
	env := newTestEnv(t, "")
	env.get("/")
	u, _ := url.Parse(env.url("/"))
	var id string
	for _, c := range env.client.Jar.Cookies(u) {
		if c.Name == sessionCookieName {
			id = c.Value
		}
	}
	require.NotEmpty(t, id)
	assert.Len(t, strings.Split(id, "-"), 5)
}

func TestSlowCompletionBlocksOnlyItsSession(t *testing.T) {
	env := newTestEnv(t, "")
	entered := make(chan struct{})
	release := make(chan struct{})
	env.mock.Fallback = func(llm.Request) (string, error) {
		close(entered)
		<-release
		return "Since this morning.", nil
	}

	env.get("/")
	env.post("/start", nil)
	env.post("/category", url.Values{"category": {"Cardiology"}})
	env.post("/cases/1/open", nil)

	form := url.Values{"question": {"When did it start?"}, "csrf_token": {env.csrfToken()}}
	done := make(chan string, 1)
	go func() {
		resp, err := env.client.PostForm(env.url("/case/ask"), form)
		if err != nil {
			done <- err.Error()
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		done <- string(body)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("completion never started")
	}

	// A second browser with its own session cookie.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &http.Client{Jar: jar, Timeout: 2 * time.Second}
	for range 8 {
		resp, err := other.Get(env.url("/"))
		require.NoError(t, err, "another session waited on a pending completion")
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "Start simulation")
		jar, _ = cookiejar.New(nil)
		other.Jar = jar
	}

	close(release)
	select {
	case body := <-done:
		assert.Contains(t, body, "Since this morning.")
	case <-time.After(2 * time.Second):
		t.Fatal("pending question never finished")
	}
	assert.Eventually(t, func() bool {
		env.h.locks.mu.Lock()
		defer env.h.locks.mu.Unlock()
		return len(env.h.locks.held) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSessionLocks(t *testing.T) {
	l := sessionLocks{held: make(map[string]*sessionLock)}

	unlockA := l.lock("a")
	unlockB := l.lock("b")

	acquired := make(chan struct{})
	go func() {
		unlock := l.lock("a")
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("second request for the same session did not wait")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()

	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.held) == 0
	}, time.Second, 10*time.Millisecond)
}
