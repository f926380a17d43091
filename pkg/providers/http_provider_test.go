package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProvider_Chat(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test-key", server.URL, "default-model", 5*time.Second)
	resp, err := p.Chat(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	}, ChatOptions{MaxTokens: 256})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "default-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if _, ok := gotBody["temperature"]; ok {
		t.Error("temperature sent without HasTemp")
	}
}

func TestHTTPProvider_ChatModelOverride(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("k", server.URL, "default-model", 5*time.Second)
	if _, err := p.Chat(context.Background(), nil, ChatOptions{Model: "other-model"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotModel != "other-model" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestHTTPProvider_ChatErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("k", server.URL, "m", 5*time.Second)
	_, err := p.Chat(context.Background(), nil, ChatOptions{})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code: %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry the body: %v", err)
	}
}

func TestHTTPProvider_ChatEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("k", server.URL, "m", 5*time.Second)
	resp, err := p.Chat(context.Background(), nil, ChatOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHTTPProvider_Defaults(t *testing.T) {
	p := NewHTTPProvider("k", "", "", 0)
	if p.GetDefaultModel() != defaultOpenRouterModel {
		t.Errorf("default model = %q", p.GetDefaultModel())
	}
	if p.apiBase != defaultOpenRouterAPIBase {
		t.Errorf("api base = %q", p.apiBase)
	}
}
