package translator

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestChatMessageMultiPartContent(t *testing.T) {
	payload := `{
		"role": "user",
		"content": [
			{"type": "text", "text": "a"},
			{"type": "image_url", "image_url": {"url": "http://example.com/x.png"}},
			{"type": "text", "text": "b"}
		]
	}`

	var msg ChatMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content != "a b" {
		t.Errorf("Content = %q, want %q", msg.Content, "a b")
	}
}

func TestChatMessageStringContent(t *testing.T) {
	var msg ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", msg.Content, "hello")
	}
}

func TestChatMessageNullContent(t *testing.T) {
	payload := `{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{\"x\":1}"}}]}`

	var msg ChatMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content != "" {
		t.Errorf("Content = %q, want empty", msg.Content)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("ToolCalls length = %d, want 1", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Function.Arguments != `{"x":1}` {
		t.Errorf("Arguments = %q, want serialized JSON text", msg.ToolCalls[0].Function.Arguments)
	}
}

func TestToolFunctionObjectArguments(t *testing.T) {
	// Some clients send arguments as an inline object; it must be normalized
	// into JSON text, never kept as a nested object.
	var fn ToolFunction
	if err := json.Unmarshal([]byte(`{"name":"f","arguments":{"x":1}}`), &fn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !json.Valid([]byte(fn.Arguments)) {
		t.Errorf("Arguments %q is not valid JSON text", fn.Arguments)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(fn.Arguments), &decoded); err != nil {
		t.Fatalf("decode arguments: %v", err)
	}
	if decoded["x"] != float64(1) {
		t.Errorf("arguments round trip lost data: %v", decoded)
	}
}

func TestParseStopSingleString(t *testing.T) {
	var req ChatCompletionRequest
	payload := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stop":"END"}`
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Errorf("Stop = %v, want [END]", req.Stop)
	}
}

func TestParseStopList(t *testing.T) {
	var req ChatCompletionRequest
	payload := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stop":["a","b"]}`
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(req.Stop) != 2 {
		t.Errorf("Stop = %v, want two entries", req.Stop)
	}
}

func TestValidateMissingMessages(t *testing.T) {
	req := ChatCompletionRequest{Model: "llama3"}
	err := req.Validate()

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() = %v, want ValidationError", err)
	}
	if ve.Param != "messages" {
		t.Errorf("Param = %q, want %q", ve.Param, "messages")
	}
}

func TestValidateMissingModel(t *testing.T) {
	req := ChatCompletionRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}}
	err := req.Validate()

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() = %v, want ValidationError", err)
	}
	if ve.Param != "model" {
		t.Errorf("Param = %q, want %q", ve.Param, "model")
	}
}

func TestValidateInvalidRole(t *testing.T) {
	req := ChatCompletionRequest{
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "robot", Content: "hi"}},
	}
	if err := req.Validate(); err == nil {
		t.Error("Validate() accepted invalid role")
	}
}

func TestValidateToolMessageNeedsCallID(t *testing.T) {
	req := ChatCompletionRequest{
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "tool", Content: "result"}},
	}
	if err := req.Validate(); err == nil {
		t.Error("Validate() accepted tool message without tool_call_id")
	}

	req.Messages[0].ToolCallID = "call_1"
	if err := req.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil with tool_call_id set", err)
	}
}

func TestWantsJSON(t *testing.T) {
	req := ChatCompletionRequest{ResponseFormat: &ResponseFormat{Type: "json_object"}}
	if !req.WantsJSON() {
		t.Error("WantsJSON() = false for json_object")
	}
	req.ResponseFormat.Type = "text"
	if req.WantsJSON() {
		t.Error("WantsJSON() = true for text")
	}
	req.ResponseFormat = nil
	if req.WantsJSON() {
		t.Error("WantsJSON() = true with no response_format")
	}
}
