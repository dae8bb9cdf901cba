package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/docquest/internal/model"
)

// Config holds the completion client configuration.
type Config struct {
	// Provider selects the backend: "openai", "anthropic", "gemini" or "mock".
	Provider string
	APIKey   string
	Model    string

	// BaseURL applies to the OpenAI-compatible provider only.
	BaseURL string

	// Timeout bounds a single Complete call, retries included.
	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns the configuration DocQuest starts from.
func DefaultConfig() Config {
	return Config{
		Provider: "openai",
		Model:    "openai/gpt-5-chat-latest",
		BaseURL:  DefaultOpenAIBaseURL,
		Timeout:  60 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 1,
			InitialWait: 1 * time.Second,
			MaxWait:     10 * time.Second,
			Multiplier:  2.0,
		},
	}
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	if c.Provider == "mock" {
		return nil
	}
	if c.APIKey == "" {
		return fmt.Errorf("LLM API key for provider %q: %w", c.Provider, model.ErrConfigMissing)
	}
	if c.Model == "" {
		return fmt.Errorf("LLM model name is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("LLM timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// NewProvider creates a Provider from configuration, wrapped with retry
// and logging.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var base Provider
	var err error
	switch cfg.Provider {
	case "openai", "":
		base, err = NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case "mock":
		return NewOfflineProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// caller → retry → logging → base
	return WithRetry(WithLogging(base), cfg.Retry), nil
}
