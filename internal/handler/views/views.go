// Package views holds the DocQuest templ components.
package views

import (
	"context"
	"strconv"
	"strings"

	appI18n "github.com/pavelanni/docquest/internal/i18n"
	"github.com/pavelanni/docquest/internal/model"
	"github.com/pavelanni/docquest/internal/scoring"
)

// Chrome is the per-request data every page shares: the sidebar summary and
// the one-shot flash message (an i18n message ID).
type Chrome struct {
	Flash    string
	Progress scoring.Progress
}

// CategoryTile is one category shortcut on the home page.
type CategoryTile struct {
	Name  string
	Count int
}

// CaseView is the data behind the case page.
type CaseView struct {
	Case   model.Case
	Turns  []model.Turn // already windowed
	Total  int          // full transcript length
	Answer model.StudentAnswer
}

// HistoryRow is one best-attempt line of the history table.
type HistoryRow struct {
	CaseID   int
	Title    string // empty when the case is no longer in the catalog
	Category string
	Score    int
	Date     string
}

// pathTo prefixes p with the deployment base path.
func pathTo(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func pageTitle(ctx context.Context, title string) string {
	app := appI18n.T(ctx, "AppTitle")
	if title == "" {
		return app
	}
	return title + " · " + app
}

func caseLabel(ctx context.Context, id int) string {
	return appI18n.Td(ctx, "CaseN", map[string]any{"ID": id})
}

func openCasePath(id int) string {
	return "/cases/" + strconv.Itoa(id) + "/open"
}

func speakerLabel(ctx context.Context, s model.Speaker) string {
	if s == model.SpeakerPatient {
		return appI18n.T(ctx, "SpeakerPatient")
	}
	return appI18n.T(ctx, "SpeakerStudent")
}

func showingLast(ctx context.Context, v CaseView) string {
	return appI18n.Td(ctx, "ShowingLast", map[string]any{"Shown": len(v.Turns), "Total": v.Total})
}

func fraction(score, limit int) string {
	return strconv.Itoa(score) + "/" + strconv.Itoa(limit)
}

func joinList(items []string) string {
	return strings.Join(items, ", ")
}
