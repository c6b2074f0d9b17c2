package translator

import (
	"encoding/json"
	"time"
)

// ChatPayload is the backend-native chat call body.
type ChatPayload struct {
	Model    string          `json:"model"`
	Messages []NativeMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *Options        `json:"options,omitempty"`
	Tools    json.RawMessage `json:"tools,omitempty"`
}

// NativeMessage is a chat message in the backend runtime's format.
type NativeMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []NativeToolCall `json:"tool_calls,omitempty"`
}

// NativeToolCall is a tool invocation in the backend's format; unlike the
// public shape, arguments is a nested JSON object on the wire.
type NativeToolCall struct {
	Function NativeToolFunction `json:"function"`
}

// NativeToolFunction carries the function name and raw argument object.
type NativeToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Options is the backend's sampling option bag. Only explicitly set fields
// are forwarded; the backend supplies its own defaults for the rest.
type Options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	NumPredict       *int     `json:"num_predict,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

func (o *Options) empty() bool {
	return o.Temperature == nil && o.TopP == nil && o.NumPredict == nil &&
		o.FrequencyPenalty == nil && o.PresencePenalty == nil && len(o.Stop) == 0
}

// ToNativeChat converts a public chat request into the backend-native call.
// The stream flag is set by the caller rather than copied so the dispatcher
// can force non-streaming collection when streaming is disabled.
func ToNativeChat(req ChatCompletionRequest, stream bool) ChatPayload {
	payload := ChatPayload{
		Model:    req.Model,
		Messages: toNativeMessages(req.Messages),
		Stream:   stream,
	}

	opts := &Options{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		NumPredict:       req.MaxTokens,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
	}
	if !opts.empty() {
		payload.Options = opts
	}

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "json_object":
			payload.Format = json.RawMessage(`"json"`)
		case "json_schema":
			if len(req.ResponseFormat.Schema) > 0 {
				payload.Format = req.ResponseFormat.Schema
			}
		}
	}

	if req.HasTools() {
		payload.Tools = req.Tools
	}

	return payload
}

func toNativeMessages(msgs []ChatMessage) []NativeMessage {
	out := make([]NativeMessage, 0, len(msgs))
	for _, m := range msgs {
		native := NativeMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		for _, tc := range m.ToolCalls {
			native.ToolCalls = append(native.ToolCalls, NativeToolCall{
				Function: NativeToolFunction{
					Name:      tc.Function.Name,
					Arguments: argumentsToObject(tc.Function.Arguments),
				},
			})
		}
		out = append(out, native)
	}
	return out
}

// argumentsToObject turns the public JSON-text arguments back into the raw
// object the backend expects.
func argumentsToObject(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	// Not valid JSON: preserve it as a quoted string rather than dropping it.
	quoted, _ := json.Marshal(args)
	return quoted
}

// ChatResult is the backend's non-streaming chat response, and also the
// shape of each streamed NDJSON frame.
type ChatResult struct {
	Model           string        `json:"model"`
	CreatedAt       time.Time     `json:"created_at"`
	Message         NativeMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// EmbedPayload is the backend-native embedding call body.
type EmbedPayload struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// EmbedResult is the backend's embedding response.
type EmbedResult struct {
	Embeddings      [][]float64 `json:"embeddings"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
}
