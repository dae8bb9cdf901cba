package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

var pointSchema = &Schema{
	Name: "test-point",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"x", "tags"},
		"properties": map[string]any{
			"x":    map[string]any{"type": "integer", "minimum": 0, "maximum": 4},
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	},
}

func TestValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"x":3,"tags":["a"]}`, false},
		{"extra keys allowed", `{"x":0,"tags":[],"more":1}`, false},
		{"missing key", `{"x":3}`, true},
		{"out of range", `{"x":5,"tags":[]}`, true},
		{"wrong type", `{"x":"3","tags":[]}`, true},
		{"not json", `x=3`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSON(pointSchema, json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var inv *ErrInvalidResponse
				if !errors.As(err, &inv) {
					t.Errorf("expected ErrInvalidResponse, got %T", err)
				}
			}
		})
	}
}

func TestValidateJSON_NilSchema(t *testing.T) {
	if err := ValidateJSON(nil, json.RawMessage(`garbage`)); err != nil {
		t.Fatalf("nil schema should accept anything, got %v", err)
	}
}
