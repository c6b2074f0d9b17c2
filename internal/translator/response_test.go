package translator

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFromNativeChatBasics(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`)
	result := ChatResult{
		Model:           "llama3:latest",
		Message:         NativeMessage{Role: "assistant", Content: "hello"},
		Done:            true,
		PromptEvalCount: 10,
		EvalCount:       5,
	}

	resp := FromNativeChat(req, result)

	if resp.Object != "chat.completion" {
		t.Errorf("Object = %q", resp.Object)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Errorf("ID = %q, want chatcmpl- prefix", resp.ID)
	}
	// The requested name is echoed, not the backend's internal name.
	if resp.Model != "llama3" {
		t.Errorf("Model = %q, want requested name echoed", resp.Model)
	}
	choice := resp.Choices[0]
	if choice.Message.Role != "assistant" {
		t.Errorf("Role = %q, want assistant", choice.Message.Role)
	}
	if choice.Message.Content != "hello" {
		t.Errorf("Content = %q", choice.Message.Content)
	}
	if choice.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", choice.FinishReason)
	}
	if resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestFromNativeChatEmptyContentPlaceholder(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`)
	result := ChatResult{Message: NativeMessage{Role: "assistant", Content: "  "}, Done: true}

	resp := FromNativeChat(req, result)
	if strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		t.Error("plain chat turn returned empty content")
	}
}

func TestFromNativeChatEmptyContentWithToolsKept(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"f"}}]}`)
	result := ChatResult{
		Message: NativeMessage{
			Role:      "assistant",
			Content:   "",
			ToolCalls: []NativeToolCall{{Function: NativeToolFunction{Name: "f", Arguments: json.RawMessage(`{"x":1}`)}}},
		},
		Done: true,
	}

	resp := FromNativeChat(req, result)
	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		t.Errorf("Content = %q, want empty for tool-call response", choice.Message.Content)
	}
	if choice.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want tool_calls", choice.FinishReason)
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls length = %d, want 1", len(choice.Message.ToolCalls))
	}
	if choice.Message.ToolCalls[0].Function.Arguments != `{"x":1}` {
		t.Errorf("Arguments = %q, want JSON text", choice.Message.ToolCalls[0].Function.Arguments)
	}
}

func TestFromNativeChatJSONModeWrapsInvalid(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"response_format":{"type":"json_object"}}`)
	result := ChatResult{Message: NativeMessage{Role: "assistant", Content: "not json at all"}, Done: true}

	resp := FromNativeChat(req, result)
	content := resp.Choices[0].Message.Content

	var decoded map[string]string
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		t.Fatalf("json_object content does not parse: %v", err)
	}
	if decoded["response"] != "not json at all" {
		t.Errorf("wrapped content = %v", decoded)
	}
}

func TestFromNativeChatJSONModeValidUntouched(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"response_format":{"type":"json_object"}}`)
	result := ChatResult{Message: NativeMessage{Role: "assistant", Content: `{"ok":true}`}, Done: true}

	resp := FromNativeChat(req, result)
	if resp.Choices[0].Message.Content != `{"ok":true}` {
		t.Errorf("valid JSON content was rewritten: %q", resp.Choices[0].Message.Content)
	}
}

func TestFromNativeChatMissingUsageDefaultsZero(t *testing.T) {
	req := chatReq(t, `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`)
	result := ChatResult{Message: NativeMessage{Role: "assistant", Content: "x"}, Done: true}

	resp := FromNativeChat(req, result)
	if resp.Usage.PromptTokens != 0 || resp.Usage.CompletionTokens != 0 || resp.Usage.TotalTokens != 0 {
		t.Errorf("Usage = %+v, want zeros", resp.Usage)
	}
}

func TestStreamChunkShapes(t *testing.T) {
	role := RoleChunk("id1", 1, "m")
	data, _ := json.Marshal(role)
	if !strings.Contains(string(data), `"role":"assistant"`) {
		t.Errorf("role chunk missing role announcement: %s", data)
	}
	if !strings.Contains(string(data), `"finish_reason":null`) {
		t.Errorf("role chunk must carry null finish_reason: %s", data)
	}

	finish := FinishChunk("id1", 1, "m", "stop")
	data, _ = json.Marshal(finish)
	if !strings.Contains(string(data), `"finish_reason":"stop"`) {
		t.Errorf("finish chunk missing reason: %s", data)
	}
	if strings.Contains(string(data), `"content"`) {
		t.Errorf("finish chunk delta must be empty: %s", data)
	}
}

func TestEmbeddingsRequestInputForms(t *testing.T) {
	var single EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"model":"m","input":"one"}`), &single); err != nil {
		t.Fatalf("unmarshal single: %v", err)
	}
	if len(single.Input) != 1 || single.Input[0] != "one" {
		t.Errorf("Input = %v, want [one]", single.Input)
	}

	var multi EmbeddingsRequest
	if err := json.Unmarshal([]byte(`{"model":"m","input":["a","b"]}`), &multi); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(multi.Input) != 2 {
		t.Errorf("Input = %v, want two entries", multi.Input)
	}

	missing := EmbeddingsRequest{Model: "m"}
	if err := missing.Validate(); err == nil {
		t.Error("Validate() accepted empty input")
	}
}
