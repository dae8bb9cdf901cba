package llm

import "context"

// Provider is the core abstraction over a hosted chat-completion API.
type Provider interface {
	// Generate sends a prompt to the model. When req.JSON is set the
	// provider asks for a JSON object using its native mechanism; the
	// caller still validates the result.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the model.
type Request struct {
	// System is the system prompt.
	System string

	// Messages is the conversation after the system prompt, oldest first.
	Messages []Message

	// JSON requests a single JSON object as the response.
	JSON bool

	// Schema optionally describes the expected JSON object.
	Schema *Schema

	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
}

// Message is a single role-tagged chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role is the message sender role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the model.
type Schema struct {
	// Name identifies this schema, kebab-case, e.g. "case-feedback".
	Name string

	// Description is sent to providers that support it.
	Description string

	// Definition is the JSON Schema definition as a map.
	Definition map[string]any
}

// Response holds the model output.
type Response struct {
	// Content is the raw text of the first choice.
	Content string

	Usage Usage

	// Model is the actual model that served the request.
	Model string

	// StopReason is normalized to "end" or "max_tokens".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
