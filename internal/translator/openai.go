package translator

import (
	"encoding/json"
	"fmt"
	"strings"
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ValidationError reports a request field that failed validation. Param
// names the offending field in the error envelope.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ResponseFormat selects the output mode requested by the caller.
type ResponseFormat struct {
	Type   string          `json:"type"`
	Schema json.RawMessage `json:"json_schema,omitempty"`
}

// ToolCall is one function invocation requested by the assistant. Arguments
// is always a JSON-encoded string, never a nested object.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the function and carries its serialized arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON accepts arguments as either a JSON string or an inline
// object, normalizing the latter to its serialized form.
func (f *ToolFunction) UnmarshalJSON(data []byte) error {
	type alias struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode tool function: %w", err)
	}

	f.Name = raw.Name
	f.Arguments = normalizeArguments(raw.Arguments)
	return nil
}

func normalizeArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// UnmarshalJSON supports string, null, and array-of-parts content formats.
// Only text parts are meaningful; non-text parts are dropped, not rejected.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		Name       string          `json:"name"`
		ToolCallID string          `json:"tool_call_id"`
		ToolCalls  []ToolCall      `json:"tool_calls"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := flattenContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Name = strings.TrimSpace(raw.Name)
	m.ToolCallID = raw.ToolCallID
	m.ToolCalls = raw.ToolCalls
	return nil
}

// flattenContent coerces multi-part content into a flat string: text parts
// joined by single spaces, everything else skipped.
func flattenContent(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if len(raw) == 0 || trimmed == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			if part.Type != "text" {
				continue
			}
			texts = append(texts, part.Text)
		}
		return strings.Join(texts, " "), nil
	}

	return "", &ValidationError{Param: "messages", Message: "unsupported message content structure"}
}

// ChatCompletionRequest models the public chat/completions request payload.
type ChatCompletionRequest struct {
	Model            string
	Messages         []ChatMessage
	Stream           bool
	MaxTokens        *int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Stop             []string
	ResponseFormat   *ResponseFormat
	Tools            json.RawMessage
}

// UnmarshalJSON normalizes the loosely shaped wire fields (stop as string or
// list, content as string or parts) without enforcing presence rules; those
// are checked by Validate so the dispatcher can name the offending param.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model            string          `json:"model"`
		Messages         []ChatMessage   `json:"messages"`
		Stream           bool            `json:"stream"`
		MaxTokens        *int            `json:"max_tokens"`
		Temperature      *float64        `json:"temperature"`
		TopP             *float64        `json:"top_p"`
		FrequencyPenalty *float64        `json:"frequency_penalty"`
		PresencePenalty  *float64        `json:"presence_penalty"`
		Stop             json.RawMessage `json:"stop"`
		ResponseFormat   *ResponseFormat `json:"response_format"`
		Tools            json.RawMessage `json:"tools"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	stop, err := parseStop(raw.Stop)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.FrequencyPenalty = raw.FrequencyPenalty
	r.PresencePenalty = raw.PresencePenalty
	r.Stop = stop
	r.ResponseFormat = raw.ResponseFormat
	r.Tools = raw.Tools
	return nil
}

// Validate checks presence and range of the scalar fields.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Param: "model", Message: "model is required"}
	}
	if len(r.Messages) == 0 {
		return &ValidationError{Param: "messages", Message: "messages is required and must not be empty"}
	}
	for i, msg := range r.Messages {
		if _, ok := allowedRoles[msg.Role]; !ok {
			return &ValidationError{
				Param:   "messages",
				Message: fmt.Sprintf("message[%d] has invalid role %q", i, msg.Role),
			}
		}
		if msg.Role == "tool" && msg.ToolCallID == "" {
			return &ValidationError{
				Param:   "messages",
				Message: fmt.Sprintf("message[%d] with role tool must carry tool_call_id", i),
			}
		}
	}
	return nil
}

// WantsJSON reports whether the caller requested json_object output.
func (r *ChatCompletionRequest) WantsJSON() bool {
	return r.ResponseFormat != nil && r.ResponseFormat.Type == "json_object"
}

// HasTools reports whether the request carries tool specifications.
func (r *ChatCompletionRequest) HasTools() bool {
	return len(r.Tools) > 0 && string(r.Tools) != "null"
}

// parseStop normalizes a stop value that is a single string into a
// one-element list.
func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}

	return nil, &ValidationError{Param: "stop", Message: "stop must be a string or a list of strings"}
}

// ChatCompletionResponse models the public chat response envelope.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage mirrors the token usage block of public responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelList is the public /v1/models envelope.
type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelRecord `json:"data"`
}

// ModelRecord is one public model listing entry.
type ModelRecord struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
