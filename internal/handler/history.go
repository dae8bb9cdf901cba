package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pavelanni/docquest/internal/handler/views"
	"github.com/pavelanni/docquest/internal/history"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/scoring"
)

// handleHistory shows the best attempt per case, combining this session's
// attempts with the shared history file.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := h.sessionID(w, r)
	st, _, err := h.loadState(id)
	if err != nil {
		slog.Error("failed to load session", "session", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var global []model.AttemptRecord
	if h.history != nil {
		global, err = h.history.Load()
		if err != nil {
			slog.Error("failed to read history", "path", h.history.Path(), "error", err)
		}
	}

	cat := h.machine.Catalog()
	var rows []views.HistoryRow
	for _, rec := range history.MergeBestByCase(st.Attempts, global) {
		row := views.HistoryRow{CaseID: rec.CaseID, Score: rec.Score, Date: rec.Date}
		if c, ok := cat.ByID(rec.CaseID); ok {
			row.Title = c.Title
			row.Category = c.Category
		}
		rows = append(rows, row)
	}

	ch := views.Chrome{Progress: scoring.Summarize(st.Scores)}
	h.render(w, r, views.HistoryPage(ch, rows))
}

type healthResponse struct {
	Status   string             `json:"status"`
	Cases    int                `json:"cases"`
	Sessions map[model.Page]int `json:"sessions"`
	Startup  *startupInfo       `json:"startup,omitempty"`
}

// startupInfo echoes the configuration recorded at the last server start.
type startupInfo struct {
	StartedAt     string `json:"started_at"`
	CatalogPath   string `json:"catalog_path"`
	CaseCount     int    `json:"case_count"`
	PromptVariant string `json:"prompt_variant"`
	Model         string `json:"model"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Cases: h.machine.Catalog().Len()}
	counts, err := h.store.SessionCount()
	if err != nil {
		slog.Error("failed to count sessions", "error", err)
		resp.Status = "degraded"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}
	resp.Sessions = counts
	if info, err := h.store.LastStartup(); err != nil {
		slog.Warn("failed to read startup metadata", "error", err)
	} else if info.StartedAt != "" {
		resp.Startup = &startupInfo{
			StartedAt:     info.StartedAt,
			CatalogPath:   info.CatalogPath,
			CaseCount:     info.CaseCount,
			PromptVariant: info.PromptVariant,
			Model:         info.Model,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
