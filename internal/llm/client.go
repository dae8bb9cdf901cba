package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options tune a single completion call.
type Options struct {
	// JSON asks the model for a single JSON object.
	JSON bool

	// Schema, when set with JSON, is forwarded to providers that accept
	// one and used to validate the reply.
	Schema *Schema

	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	MaxTokens        int
}

// Client is the completion client the rest of DocQuest talks to.
type Client struct {
	provider Provider
	timeout  time.Duration
}

// NewClient wraps a Provider. A zero timeout disables the deadline.
func NewClient(p Provider, timeout time.Duration) *Client {
	return &Client{provider: p, timeout: timeout}
}

// ModelID returns the underlying model identifier.
func (c *Client) ModelID() string {
	return c.provider.ModelID()
}

// Complete sends a role-tagged message sequence and returns the raw text of
// the reply. System messages are folded into the request's system prompt in
// order; all other messages keep their order. Every failure is returned as a
// *CompletionError.
func (c *Client) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := Request{
		Messages:         make([]Message, 0, len(msgs)),
		JSON:             opts.JSON,
		Schema:           opts.Schema,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		FrequencyPenalty: opts.FrequencyPenalty,
	}
	var system []string
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, m)
	}
	req.System = strings.Join(system, "\n\n")

	purpose := PurposeFrom(ctx)
	resp, err := c.provider.Generate(ctx, req)
	if err != nil {
		return "", &CompletionError{Purpose: purpose, Err: err}
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", &CompletionError{Purpose: purpose, Err: &ErrInvalidResponse{Err: fmt.Errorf("empty response")}}
	}
	return content, nil
}

// Ping sends a minimal request to verify the provider is reachable and the
// credential is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Complete(WithPurpose(ctx, "ping"), []Message{
		{Role: RoleUser, Content: "Reply with the single word: pong"},
	}, Options{MaxTokens: 8})
	if err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}
