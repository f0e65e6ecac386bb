package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ansarisultan/lexachat-server/internal/assistant"
	"github.com/ansarisultan/lexachat-server/internal/groq"
	"github.com/ansarisultan/lexachat-server/internal/ratelimit"
	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

func chatBody(raw string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", strings.NewReader(raw))
	req.RemoteAddr = "192.0.2.10:4321"
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestChatCompletionReturnsReply(t *testing.T) {
	provider := "tavily"
	stub := &stubAssistant{reply: assistant.Reply{
		Content: "Answer",
		Model:   assistant.DefaultGeneralModel,
		WebSearch: assistant.WebSearchSummary{
			Used:     true,
			Provider: &provider,
			Sources:  []websearch.Source{{Title: "Doc", URL: "https://example.com", Snippet: "s"}},
		},
	}}
	h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub})

	resp := serve(h, chatBody(`{"messages":[{"role":"user","content":"latest news"}]}`))
	expectStatus(t, resp, http.StatusOK)
	body := decodeEnvelope(t, resp)
	if !body.Success {
		t.Fatalf("expected success, got %+v", body)
	}
	var reply assistant.Reply
	decodeData(t, body, &reply)
	if reply.Content != "Answer" || reply.Model != assistant.DefaultGeneralModel {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !reply.WebSearch.Used || reply.WebSearch.Provider == nil || *reply.WebSearch.Provider != "tavily" || len(reply.WebSearch.Sources) != 1 {
		t.Fatalf("unexpected web search summary %+v", reply.WebSearch)
	}

	requests := stub.Requests()
	if len(requests) != 1 {
		t.Fatalf("expected one completion request, got %d", len(requests))
	}
	if !requests[0].WebSearchEnabled {
		t.Fatal("web search must default to enabled")
	}
	if got := requests[0].Messages[0].Text(); got != "latest news" {
		t.Fatalf("unexpected message text %q", got)
	}
}

func TestChatCompletionPassesWebSearchFlag(t *testing.T) {
	stub := &stubAssistant{reply: assistant.Reply{Content: "ok", Model: "m"}}
	h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub})

	resp := serve(h, chatBody(`{"messages":[{"role":"user","content":"hi"}],"webSearchEnabled":false}`))
	expectStatus(t, resp, http.StatusOK)
	if requests := stub.Requests(); len(requests) != 1 || requests[0].WebSearchEnabled {
		t.Fatalf("expected web search disabled, got %+v", requests)
	}
}

func TestChatCompletionValidation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		message string
	}{
		{"empty object", `{}`, "messages must be a non-empty array"},
		{"empty array", `{"messages":[]}`, "messages must be a non-empty array"},
		{"not an array", `{"messages":"hello"}`, "messages must be a non-empty array"},
		{"string flag", `{"messages":[{"role":"user","content":"hi"}],"webSearchEnabled":"yes"}`, "webSearchEnabled must be a boolean"},
		{"null flag", `{"messages":[{"role":"user","content":"hi"}],"webSearchEnabled":null}`, "webSearchEnabled must be a boolean"},
		{"missing role", `{"messages":[{"content":"hi"}]}`, "messages[0].role must be user, assistant or system"},
		{"unknown role", `{"messages":[{"role":"user","content":"hi"},{"role":"robot","content":"beep"}]}`, "messages[1].role must be user, assistant or system"},
		{"null message", `{"messages":[null]}`, "messages[0].role must be user, assistant or system"},
		{"numeric content", `{"messages":[{"role":"user","content":42}]}`, "messages[0].content must be a string or an array"},
		{"missing content", `{"messages":[{"role":"system"}]}`, "messages[0].content must be a string or an array"},
		{"array body", `[]`, "Invalid JSON body"},
		{"broken json", `{"messages":`, "Invalid JSON body"},
		{"empty body", ``, "request body is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAssistant{}
			h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub})
			resp := serve(h, chatBody(tc.body))
			expectError(t, resp, http.StatusBadRequest, tc.message)
			if len(stub.Requests()) != 0 {
				t.Fatal("invalid input must not reach the assistant")
			}
		})
	}
}

func TestChatCompletionAcceptsContentParts(t *testing.T) {
	stub := &stubAssistant{reply: assistant.Reply{Content: "ok", Model: "m"}}
	h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub})

	resp := serve(h, chatBody(`{"messages":[{"role":"system","content":"be brief"},{"role":"assistant","content":"hello"},{"role":"user","content":[{"type":"text","text":"hi"}]}]}`))
	expectStatus(t, resp, http.StatusOK)
	requests := stub.Requests()
	if len(requests) != 1 || len(requests[0].Messages) != 3 {
		t.Fatalf("expected three forwarded messages, got %+v", requests)
	}
}

func TestChatCompletionErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"missing key", assistant.ErrNotConfigured, http.StatusInternalServerError, "Missing GROQ_API_KEY on server"},
		{"upstream", &assistant.CompletionError{Kind: assistant.ErrorUpstream, Message: "groq returned status 503"}, http.StatusBadGateway, "groq returned status 503"},
		{"format", &assistant.CompletionError{Kind: assistant.ErrorFormat, Message: "Invalid Groq API response format"}, http.StatusBadGateway, "Invalid Groq API response format"},
		{"empty conversation", assistant.ErrEmptyConversation, http.StatusBadRequest, "messages must be a non-empty array"},
		{"wrapped upstream", fmt.Errorf("complete: %w", &assistant.CompletionError{Kind: assistant.ErrorUpstream, Message: "groq request failed"}), http.StatusBadGateway, "groq request failed"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, testConfig(), Dependencies{Assistant: &stubAssistant{err: tc.err}})
			resp := serve(h, chatBody(`{"messages":[{"role":"user","content":"hi"}]}`))
			expectError(t, resp, tc.status, tc.message)
		})
	}
}

func TestChatCompletionRateLimitsPerClient(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(2, time.Minute)
	t.Cleanup(limiter.Close)
	stub := &stubAssistant{reply: assistant.Reply{Content: "ok", Model: "m"}}
	h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub, Limiter: limiter})

	for i := 0; i < 2; i++ {
		expectStatus(t, serve(h, chatBody(`{"messages":[{"role":"user","content":"hi"}]}`)), http.StatusOK)
	}
	resp := serve(h, chatBody(`{"messages":[{"role":"user","content":"hi"}]}`))
	expectError(t, resp, http.StatusTooManyRequests, "Too many requests, please try again later")

	other := chatBody(`{"messages":[{"role":"user","content":"hi"}]}`)
	other.RemoteAddr = "198.51.100.7:1000"
	expectStatus(t, serve(h, other), http.StatusOK)
}

func TestChatCompletionRateLimitsSignedInUserByID(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(1, time.Minute)
	t.Cleanup(limiter.Close)
	stub := &stubAssistant{reply: assistant.Reply{Content: "ok", Model: "m"}}
	h := newTestHandler(t, testConfig(), Dependencies{Assistant: stub, Limiter: limiter})
	createUser(t, h, "ada@example.com", true)
	token := login(t, h, "ada@example.com", testPassword)

	expectStatus(t, serve(h, withBearer(chatBody(`{"messages":[{"role":"user","content":"hi"}]}`), token)), http.StatusOK)

	second := withBearer(chatBody(`{"messages":[{"role":"user","content":"hi"}]}`), token)
	second.RemoteAddr = "198.51.100.7:1000"
	expectError(t, serve(h, second), http.StatusTooManyRequests, "Too many requests, please try again later")

	expectStatus(t, serve(h, chatBody(`{"messages":[{"role":"user","content":"hi"}]}`)), http.StatusOK)
}

func TestListModels(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/ai/models", nil))
	expectStatus(t, resp, http.StatusOK)
	var tiers modelsPayload
	decodeData(t, decodeEnvelope(t, resp), &tiers)
	if tiers.General != assistant.DefaultGeneralModel || tiers.Coding != assistant.DefaultCodingModel || tiers.Fallback != assistant.DefaultFallbackModel {
		t.Fatalf("unexpected tiers %+v", tiers)
	}
	if tiers.Available != nil {
		t.Fatalf("expected no catalogue without a provider, got %+v", tiers.Available)
	}
}

type stubCatalog struct {
	models []groq.Model
	err    error
}

func (c stubCatalog) Configured() bool { return true }

func (c stubCatalog) ListModels(context.Context) ([]groq.Model, error) {
	return c.models, c.err
}

func TestListModelsIncludesProviderCatalogue(t *testing.T) {
	catalog := stubCatalog{models: []groq.Model{{ID: "openai/gpt-oss-120b", Active: true}}}
	h := newTestHandler(t, testConfig(), Dependencies{Catalog: catalog})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/ai/models", nil))
	expectStatus(t, resp, http.StatusOK)
	var payload modelsPayload
	decodeData(t, decodeEnvelope(t, resp), &payload)
	if len(payload.Available) != 1 || payload.Available[0].ID != "openai/gpt-oss-120b" {
		t.Fatalf("unexpected catalogue %+v", payload.Available)
	}
}

func TestListModelsIgnoresCatalogueFailure(t *testing.T) {
	h := newTestHandler(t, testConfig(), Dependencies{Catalog: stubCatalog{err: errors.New("upstream down")}})

	resp := serve(h, httptest.NewRequest(http.MethodGet, "/api/ai/models", nil))
	expectStatus(t, resp, http.StatusOK)
	var payload modelsPayload
	decodeData(t, decodeEnvelope(t, resp), &payload)
	if payload.General != assistant.DefaultGeneralModel || payload.Available != nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

