package groq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

func TestChatCompletionSendsPayloadAndParsesContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/openai/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload["model"] != "meta-llama/llama-4-scout-17b-16e-instruct" {
			t.Fatalf("unexpected model: %v", payload["model"])
		}
		if payload["temperature"] != 0.7 || payload["max_tokens"] != float64(2048) || payload["stream"] != false {
			t.Fatalf("unexpected sampling fields: %s", body)
		}
		if !strings.Contains(string(body), `"content":[{"type":"text","text":"hi"}]`) {
			t.Fatalf("expected content parts forwarded unchanged: %s", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{GroqAPIKey: "test-key", GroqAPIURL: server.URL + "/openai/v1/chat/completions"}, server.Client())
	completion, err := client.ChatCompletion(context.Background(), CompletionRequest{
		Model:       "meta-llama/llama-4-scout-17b-16e-instruct",
		Messages:    []Message{{Role: "user", Content: []json.RawMessage{json.RawMessage(`{"type":"text","text":"hi"}`)}}},
		Temperature: 0.7,
		MaxTokens:   2048,
	})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if completion.Content != "Hello there" {
		t.Fatalf("unexpected content: %q", completion.Content)
	}
	if completion.Model != "meta-llama/llama-4-scout-17b-16e-instruct" {
		t.Fatalf("unexpected model: %q", completion.Model)
	}
	if completion.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage: %+v", completion.Usage)
	}
}

func TestChatCompletionReturnsAPIErrorWithBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model overloaded\n"))
	}))
	defer server.Close()

	client := NewClient(config.Config{GroqAPIKey: "test-key", GroqAPIURL: server.URL}, server.Client())
	_, err := client.ChatCompletion(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if err.Error() != "Groq API error 503: model overloaded" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}

func TestChatCompletionMissingContentIsEmpty(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{GroqAPIKey: "test-key", GroqAPIURL: server.URL}, server.Client())
	completion, err := client.ChatCompletion(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat completion: %v", err)
	}
	if completion.Content != "" {
		t.Fatalf("expected empty content, got %q", completion.Content)
	}
}

func TestChatCompletionUndecodableBodyIsMalformed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer server.Close()

	client := NewClient(config.Config{GroqAPIKey: "test-key", GroqAPIURL: server.URL}, server.Client())
	_, err := client.ChatCompletion(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestChatCompletionRequiresAPIKey(t *testing.T) {
	t.Parallel()

	client := NewClient(config.Config{GroqAPIURL: "http://unused"}, nil)
	if client.Configured() {
		t.Fatal("expected client without key to be unconfigured")
	}
	_, err := client.ChatCompletion(context.Background(), CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestListModelsUsesSiblingEndpoint(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/openai/v1/models" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"openai/gpt-oss-120b","owned_by":"OpenAI","context_window":131072},{"id":"meta-llama/llama-4-scout-17b-16e-instruct","owned_by":"Meta","active":false},{"id":" "}]}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{GroqAPIKey: "test-key", GroqAPIURL: server.URL + "/openai/v1/chat/completions"}, server.Client())
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].ID != "meta-llama/llama-4-scout-17b-16e-instruct" || models[0].Active {
		t.Fatalf("unexpected first model: %+v", models[0])
	}
	if models[1].ContextWindow != 131072 || !models[1].Active {
		t.Fatalf("unexpected second model: %+v", models[1])
	}
}

func TestModelsURL(t *testing.T) {
	if got := modelsURL("https://api.groq.com/openai/v1/chat/completions/"); got != "https://api.groq.com/openai/v1/models" {
		t.Fatalf("unexpected models url: %s", got)
	}
}
