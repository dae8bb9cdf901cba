package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return entry
}

func TestPurposeFrom(t *testing.T) {
	if got := PurposeFrom(context.Background()); got != "unknown" {
		t.Errorf("PurposeFrom(empty) = %q, want unknown", got)
	}
	if got := PurposeFrom(WithPurpose(context.Background(), "evaluator")); got != "evaluator" {
		t.Errorf("PurposeFrom = %q, want evaluator", got)
	}
}

func TestLoggingProvider_Success(t *testing.T) {
	buf := captureLogs(t)
	inner := NewMockProvider(MockResponse{Content: "Since this morning."})
	p := WithLogging(inner)

	ctx := WithPurpose(context.Background(), "patient")
	resp, err := p.Generate(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "when?"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Since this morning." {
		t.Errorf("content = %q", resp.Content)
	}
	if p.ModelID() != "mock" {
		t.Errorf("ModelID = %q, want mock", p.ModelID())
	}

	entry := decodeLogLine(t, buf)
	if entry["level"] != "DEBUG" || entry["msg"] != "LLM request" {
		t.Errorf("entry = %v", entry)
	}
	if entry["purpose"] != "patient" || entry["model"] != "mock" || entry["raw"] != "Since this morning." {
		t.Errorf("entry attrs = %v", entry)
	}
	if entry["messages"] != float64(1) {
		t.Errorf("messages = %v, want 1", entry["messages"])
	}
}

func TestLoggingProvider_Failure(t *testing.T) {
	buf := captureLogs(t)
	want := &ErrRateLimit{Err: errors.New("slow down")}
	p := WithLogging(NewMockProvider(MockResponse{Err: want}))

	ctx := WithPurpose(context.Background(), "evaluator")
	_, err := p.Generate(ctx, Request{JSON: true})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want the inner error unchanged", err)
	}

	entry := decodeLogLine(t, buf)
	if entry["level"] != "WARN" || entry["msg"] != "LLM request failed" {
		t.Errorf("entry = %v", entry)
	}
	if entry["purpose"] != "evaluator" || entry["json"] != true {
		t.Errorf("entry attrs = %v", entry)
	}
	if _, ok := entry["error"]; !ok {
		t.Error("error attribute missing")
	}
}
