package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/docquest/internal/handler/views"
	"github.com/pavelanni/docquest/internal/history"
	"github.com/pavelanni/docquest/internal/llm"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/scoring"
	"github.com/pavelanni/docquest/internal/session"
	"github.com/pavelanni/docquest/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	machine *session.Machine
	history *history.Store
	config  model.AppConfig
	now     func() time.Time

	locks sessionLocks
}

// New creates a new Handler. hist may be nil, in which case the history page
// shows session attempts only.
func New(s *store.Store, m *session.Machine, hist *history.Store, cfg model.AppConfig) (*Handler, error) {
	if s == nil || m == nil {
		return nil, errors.New("handler: store and machine are required")
	}
	if cfg.ChatWindow <= 0 {
		cfg.ChatWindow = session.DefaultChatWindow
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = store.DefaultSessionTTL
	}
	return &Handler{
		store:   s,
		machine: m,
		history: hist,
		config:  cfg,
		now:     time.Now,
		locks:   sessionLocks{held: make(map[string]*sessionLock)},
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Get("/history", h.handleHistory)
		r.Post("/start", h.handleStart)
		r.Post("/category", h.handleCategory)
		r.Post("/challenge", h.handleChallenge)
		r.Post("/cases/{caseID}/open", h.handleOpenCase)
		r.Post("/case/ask", h.handleAsk)
		r.Post("/case/submit", h.handleSubmit)
		r.Post("/back", h.handleBack)
		r.Post("/another", h.handleTryAnother)
	})
}

// BasePathMiddleware injects the configured base path into the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath == "" {
		return "/"
	}
	return h.config.BasePath + "/"
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(w, r)
	unlock := h.lock(id)
	st, fresh, err := h.loadState(id)
	if err != nil {
		unlock()
		slog.Error("failed to load session", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ch := views.Chrome{Flash: st.TakeFlash(), Progress: scoring.Summarize(st.Scores)}
	view := h.project(st)
	if fresh || ch.Flash != "" || st.Page != view.page {
		st.Page = view.page
		if err := h.store.SaveSession(st, h.config.SessionTTL); err != nil {
			slog.Error("failed to save session", "session", id, "error", err)
		}
	}
	unlock()

	h.render(w, r, view.component(ch))
}

type projection struct {
	page      model.Page
	component func(views.Chrome) templ.Component
}

// project maps the session's page to its view. A case page whose case has
// left the catalog falls back to the category list.
func (h *Handler) project(st *session.State) projection {
	cat := h.machine.Catalog()
	switch st.Page {
	case model.PageCategorySelect:
		return h.categoryView(st)
	case model.PageCaseDetail:
		c, ok := h.machine.CurrentCase(st)
		if !ok {
			st.CaseID = 0
			return h.categoryView(st)
		}
		v := views.CaseView{
			Case:   c,
			Turns:  session.Window(st.Transcript, h.config.ChatWindow),
			Total:  len(st.Transcript),
			Answer: st.Answers[c.ID],
		}
		return projection{page: model.PageCaseDetail, component: func(ch views.Chrome) templ.Component {
			return views.CasePage(ch, v)
		}}
	case model.PageFeedback:
		c, _ := h.machine.CurrentCase(st)
		fb := st.Latest
		return projection{page: model.PageFeedback, component: func(ch views.Chrome) templ.Component {
			return views.FeedbackPage(ch, c, fb)
		}}
	default:
		var tiles []views.CategoryTile
		for _, name := range cat.Categories() {
			tiles = append(tiles, views.CategoryTile{Name: name, Count: len(cat.InCategory(name))})
		}
		var challenge *model.Case
		if c, ok := cat.DailyChallenge(h.now()); ok {
			challenge = &c
		}
		return projection{page: model.PageHome, component: func(ch views.Chrome) templ.Component {
			return views.HomePage(ch, tiles, challenge)
		}}
	}
}

func (h *Handler) categoryView(st *session.State) projection {
	cat := h.machine.Catalog()
	selected := st.Category
	var cases []model.Case
	if selected != "" {
		cases = cat.InCategory(selected)
	}
	categories := cat.Categories()
	return projection{page: model.PageCategorySelect, component: func(ch views.Chrome) templ.Component {
		return views.CategoryPage(ch, categories, selected, cases)
	}}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(_ context.Context, st *session.State) error {
		return h.machine.StartSimulation(st)
	})
}

// handleCategory serves both the home page tiles and the category selector.
func (h *Handler) handleCategory(w http.ResponseWriter, r *http.Request) {
	category := r.FormValue("category")
	h.act(w, r, func(_ context.Context, st *session.State) error {
		if st.Page == model.PageHome {
			return h.machine.PickCategory(st, category)
		}
		return h.machine.SelectCategory(st, category)
	})
}

func (h *Handler) handleChallenge(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(_ context.Context, st *session.State) error {
		return h.machine.TakeChallenge(st, h.now())
	})
}

func (h *Handler) handleOpenCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := strconv.Atoi(chi.URLParam(r, "caseID"))
	h.act(w, r, func(_ context.Context, st *session.State) error {
		if err != nil {
			return errBadRequest
		}
		return h.machine.OpenCase(st, caseID)
	})
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	question := r.FormValue("question")
	h.act(w, r, func(ctx context.Context, st *session.State) error {
		return h.machine.Ask(ctx, st, question)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	answer := session.ParseSolveForm(r.FormValue("diagnosis"), r.FormValue("tests"), r.FormValue("plan"))
	h.act(w, r, func(ctx context.Context, st *session.State) error {
		return h.machine.Submit(ctx, st, answer)
	})
}

func (h *Handler) handleBack(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(_ context.Context, st *session.State) error {
		return h.machine.Back(st)
	})
}

func (h *Handler) handleTryAnother(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(_ context.Context, st *session.State) error {
		return h.machine.TryAnother(st)
	})
}

var errBadRequest = errors.New("malformed request")

// act runs one transition against the caller's session, stores the result
// and redirects back to the router. A failed transition leaves the state as
// the machine left it and queues a flash message.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, transition func(context.Context, *session.State) error) {
	id := h.sessionID(w, r)
	unlock := h.lock(id)
	defer unlock()

	st, _, err := h.loadState(id)
	if err != nil {
		slog.Error("failed to load session", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := transition(r.Context(), st); err != nil {
		msgID := flashFor(err)
		slog.Warn("action failed", "session", id, "page", st.Page, "path", r.URL.Path, "flash", msgID, "error", err)
		st.Flash = msgID
	}

	if err := h.store.SaveSession(st, h.config.SessionTTL); err != nil {
		slog.Error("failed to save session", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

// flashFor maps a transition error to the i18n message shown to the student.
func flashFor(err error) string {
	var completion *llm.CompletionError
	var malformed *scoring.MalformedFeedbackError
	switch {
	case errors.Is(err, session.ErrEmptyQuestion):
		return "ErrEmptyQuestion"
	case errors.Is(err, session.ErrInvalidTransition):
		return "ErrInvalidTransition"
	case errors.Is(err, session.ErrUnknownCase):
		return "ErrUnknownCase"
	case errors.Is(err, session.ErrUnknownCategory):
		return "ErrUnknownCategory"
	case errors.Is(err, session.ErrNoChallenge):
		return "ErrNoChallenge"
	case errors.Is(err, errBadRequest):
		return "ErrBadRequest"
	case errors.As(err, &malformed):
		return "ErrMalformedFeedback"
	case errors.As(err, &completion):
		return "ErrCompletion"
	default:
		return "ErrInternal"
	}
}

// lock serializes actions of one session. Other sessions never wait on it,
// even while a completion is in flight.
func (h *Handler) lock(id string) func() {
	return h.locks.lock(id)
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session id. An entry lives only while
// some request holds or waits for it.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]*sessionLock
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.held[id]
	if !ok {
		sl = &sessionLock{}
		l.held[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

func (h *Handler) loadState(id string) (*session.State, bool, error) {
	st, err := h.store.LoadSession(id)
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		return session.NewState(id), true, nil
	}
	return st, false, nil
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
