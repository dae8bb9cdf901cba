package model

import "time"

// HistoryExport is the top-level JSON structure for history export.
type HistoryExport struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	HistoryFile  string           `json:"history_file"`
	TotalRecords int              `json:"total_records"`
	Results      []CaseBestResult `json:"results"`
}

// CaseBestResult is the best attempt for one case with catalog context.
type CaseBestResult struct {
	CaseID   int    `json:"case_id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Date     string `json:"date"`
}
