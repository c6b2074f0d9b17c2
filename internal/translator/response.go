package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmptyContentPlaceholder is substituted when a plain chat turn produced no
// content; some downstream clients assert that an assistant message always
// carries a non-empty body.
const EmptyContentPlaceholder = "I was unable to generate a response. Please try again."

// NewCompletionID generates a fresh opaque completion identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// FromNativeChat wraps the backend's single completion into the public
// envelope. The requested model name is echoed verbatim, never the backend's
// internal name.
func FromNativeChat(req ChatCompletionRequest, result ChatResult) ChatCompletionResponse {
	content := result.Message.Content
	toolCalls := fromNativeToolCalls(result.Message.ToolCalls)

	if strings.TrimSpace(content) == "" && !req.HasTools() {
		content = EmptyContentPlaceholder
	}
	if req.WantsJSON() && !json.Valid([]byte(content)) {
		wrapped, _ := json.Marshal(map[string]string{"response": result.Message.Content})
		content = string(wrapped)
	}

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	usage := Usage{
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{
			{
				Index: 0,
				Message: ChatMessage{
					Role:      "assistant",
					Content:   content,
					ToolCalls: toolCalls,
				},
				FinishReason: finishReason,
			},
		},
		Usage: usage,
	}
}

func fromNativeToolCalls(native []NativeToolCall) []ToolCall {
	if len(native) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(native))
	for i, tc := range native {
		args := string(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:   fmt.Sprintf("call_%s_%d", uuid.NewString()[:8], i),
			Type: "function",
			Function: ToolFunction{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		})
	}
	return out
}

// StreamChunk is one translated SSE frame of a streaming chat response.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice carries the incremental delta of a stream chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta is a partial update to the in-progress assistant message.
type StreamDelta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func newChunk(id string, created int64, model string, delta StreamDelta, finish *string) StreamChunk {
	return StreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []StreamChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finish,
			},
		},
	}
}

// RoleChunk is the synthetic opening chunk announcing the assistant role.
func RoleChunk(id string, created int64, model string) StreamChunk {
	empty := ""
	return newChunk(id, created, model, StreamDelta{Role: "assistant", Content: &empty}, nil)
}

// ContentChunk carries one increment of assistant content.
func ContentChunk(id string, created int64, model, content string) StreamChunk {
	return newChunk(id, created, model, StreamDelta{Content: &content}, nil)
}

// ToolCallChunk carries streamed tool invocations.
func ToolCallChunk(id string, created int64, model string, calls []NativeToolCall) StreamChunk {
	return newChunk(id, created, model, StreamDelta{ToolCalls: fromNativeToolCalls(calls)}, nil)
}

// FinishChunk is the single terminal chunk carrying the finish reason and an
// empty delta.
func FinishChunk(id string, created int64, model, reason string) StreamChunk {
	return newChunk(id, created, model, StreamDelta{}, &reason)
}

// EmbeddingList is the public /v1/embeddings envelope.
type EmbeddingList struct {
	Object string            `json:"object"`
	Data   []EmbeddingRecord `json:"data"`
	Model  string            `json:"model"`
	Usage  Usage             `json:"usage"`
}

// EmbeddingRecord is one embedding vector keyed by input index.
type EmbeddingRecord struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingsRequest models the public embeddings request; input may be a
// single string or a list of strings.
type EmbeddingsRequest struct {
	Model string
	Input []string
}

// UnmarshalJSON normalizes single-string input into a one-element list.
func (r *EmbeddingsRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model string          `json:"model"`
		Input json.RawMessage `json:"input"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Model = strings.TrimSpace(raw.Model)

	if len(raw.Input) == 0 || string(raw.Input) == "null" {
		r.Input = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(raw.Input, &single); err == nil {
		r.Input = []string{single}
		return nil
	}

	var multi []string
	if err := json.Unmarshal(raw.Input, &multi); err == nil {
		r.Input = multi
		return nil
	}

	return &ValidationError{Param: "input", Message: "input must be a string or a list of strings"}
}

// Validate checks presence of the required embedding fields.
func (r *EmbeddingsRequest) Validate() error {
	if r.Model == "" {
		return &ValidationError{Param: "model", Message: "model is required"}
	}
	if len(r.Input) == 0 {
		return &ValidationError{Param: "input", Message: "input is required and must not be empty"}
	}
	return nil
}
