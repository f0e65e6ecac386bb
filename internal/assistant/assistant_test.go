package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ansarisultan/lexachat-server/internal/groq"
	"github.com/ansarisultan/lexachat-server/internal/logging"
	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

type fakeCompleter struct {
	mu         sync.Mutex
	configured bool
	requests   []groq.CompletionRequest
	respond    func(ctx context.Context, req groq.CompletionRequest) (groq.Completion, error)
}

func (f *fakeCompleter) Configured() bool {
	return f.configured
}

func (f *fakeCompleter) ChatCompletion(ctx context.Context, req groq.CompletionRequest) (groq.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond == nil {
		return groq.Completion{Model: req.Model, Content: "ok"}, nil
	}
	return f.respond(ctx, req)
}

func (f *fakeCompleter) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, req := range f.requests {
		out = append(out, req.Model)
	}
	return out
}

type fakeSearcher struct {
	queries []string
	result  websearch.Result
	err     error
}

func (f *fakeSearcher) Attempt(_ context.Context, query string) (websearch.Result, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func userMessage(text string) Message {
	return TextMessage(RoleUser, text)
}

func rawContent(t *testing.T, content any) string {
	t.Helper()
	raw, ok := content.(json.RawMessage)
	require.True(t, ok, "content type %T", content)
	var text string
	require.NoError(t, json.Unmarshal(raw, &text))
	return text
}

func newTestOrchestrator(completer *fakeCompleter, searcher websearch.Searcher) *Orchestrator {
	return New(Options{
		Completer: completer,
		Searcher:  searcher,
		FAQ:       DefaultFAQ(),
		Logger:    logging.Discard(),
	})
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "string", content: `"  hello there  "`, want: "hello there"},
		{name: "parts", content: `[{"type":"text","text":"first"},"second",{"type":"image_url","image_url":{"url":"x"}}]`, want: "first second"},
		{name: "only non-text parts", content: `[{"type":"image_url"}]`, want: ""},
		{name: "null", content: `null`, want: ""},
		{name: "object", content: `{"text":"ignored"}`, want: ""},
		{name: "missing", content: ``, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Message{Role: RoleUser, Content: json.RawMessage(tt.content)}
			assert.Equal(t, tt.want, msg.Text())
		})
	}
}

func TestLastUserTextUsesMostRecentUserMessage(t *testing.T) {
	messages := []Message{
		userMessage("first question"),
		TextMessage(RoleAssistant, "an answer"),
		userMessage("second question"),
		TextMessage(RoleAssistant, "another answer"),
	}
	assert.Equal(t, "second question", LastUserText(messages))
	assert.Empty(t, LastUserText([]Message{TextMessage(RoleSystem, "be nice")}))
}

func TestSearchAndCodeIntent(t *testing.T) {
	tests := []struct {
		text   string
		search bool
		coding bool
	}{
		{text: "what is the latest news today", search: true},
		{text: "Can you look up the weather", search: true},
		{text: "real-time stock prices", search: true},
		{text: "tell me a joke"},
		{text: "fix this bug in my python script", coding: true},
		{text: "explain `map[string]int`", coding: true},
		{text: "```go\nfmt.Println()\n```", coding: true},
		{text: "how do templates work in C++ ?", coding: true},
		{text: "latest news on rust programming language", search: true, coding: true},
		{text: "research the findings", search: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.search, NeedsRealtimeSearch(tt.text))
			assert.Equal(t, tt.coding, IsCodingRequest(tt.text))
		})
	}
	assert.False(t, NeedsRealtimeSearch(""))
	assert.False(t, IsCodingRequest(""))
}

func TestClassifyWithoutUserText(t *testing.T) {
	intent := NewClassifier(DefaultFAQ()).Classify([]Message{TextMessage(RoleSystem, "search the latest code")})
	assert.Equal(t, Intent{}, intent)
}

func TestMatchFAQ(t *testing.T) {
	faq := DefaultFAQ()

	answer, ok := MatchFAQ(faq, "Hey, who MADE you?")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(answer, "I was created by Sultan Salauddin Ansari"))

	answer, ok = MatchFAQ(faq, "tell me about LexaChat")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(answer, "LexaChat is a developer-focused AI chat assistant"))

	_, ok = MatchFAQ(faq, "what's for dinner")
	assert.False(t, ok)
}

func TestLoadFAQFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[faq]]
pattern = '\bopening\s+hours\b'
answer = "We are always open."
`), 0o600))

	entries, err := LoadFAQFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	answer, ok := MatchFAQ(entries, "What are your OPENING hours?")
	require.True(t, ok)
	assert.Equal(t, "We are always open.", answer)
}

func TestLoadFAQFileRejectsBadEntries(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte("title = 'nothing'\n"), 0o600))
	_, err := LoadFAQFile(empty)
	require.Error(t, err)

	badPattern := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPattern, []byte("[[faq]]\npattern = '('\nanswer = 'x'\n"), 0o600))
	_, err = LoadFAQFile(badPattern)
	require.Error(t, err)

	_, err = LoadFAQFile(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestBuildSearchContext(t *testing.T) {
	got := BuildSearchContext(websearch.Result{
		Provider: websearch.ProviderTavily,
		Answer:   "Short answer",
		Sources: []websearch.Source{
			{Title: "Go 1.24", URL: "https://go.dev/doc/go1.24", Snippet: "Release notes"},
			{},
		},
	})

	want := strings.Join([]string{
		"Live web search context (use this if relevant and cite links):",
		"Summary: Short answer",
		"[1] Go 1.24\nURL: https://go.dev/doc/go1.24\nSnippet: Release notes",
		"[2] Untitled\nURL: N/A\nSnippet: N/A",
		"If sources are weak or missing, explicitly say that and ask the user to refine the query.",
	}, "\n\n")
	assert.Equal(t, want, got)
}

func TestWithSearchContextLeavesInputUntouched(t *testing.T) {
	original := []Message{userMessage("latest go release")}
	extended := WithSearchContext(original, "context")

	require.Len(t, original, 1)
	require.Len(t, extended, 2)
	assert.Equal(t, RoleSystem, extended[1].Role)
	assert.Equal(t, "context", extended[1].Text())
}

func TestAppendSources(t *testing.T) {
	sources := []websearch.Source{
		{Title: "No link"},
		{Title: "One", URL: "https://one.example"},
		{URL: "https://two.example"},
		{Title: "Three", URL: "https://three.example"},
		{Title: "Four", URL: "https://four.example"},
	}

	got := AppendSources("Here you go.", sources)
	assert.Equal(t, "Here you go.\n\nSources:\n"+
		"1. One - https://one.example\n"+
		"2. https://two.example - https://two.example\n"+
		"3. Three - https://three.example", got)

	withLink := "See https://already.example for details."
	assert.Equal(t, withLink, AppendSources(withLink, sources))
	assert.Equal(t, "plain", AppendSources("plain", nil))
	assert.Equal(t, "plain", AppendSources("plain", []websearch.Source{{Title: "no url"}}))
}

func TestIsFallbackEligible(t *testing.T) {
	assert.True(t, IsFallbackEligible("meta-llama/llama-4-scout-17b-16e-instruct"))
	assert.True(t, IsFallbackEligible("Meta/llama"))
	assert.False(t, IsFallbackEligible("openai/gpt-oss-120b"))
	assert.False(t, IsFallbackEligible("metamorph"))
}

func TestDispatchPrimarySucceeds(t *testing.T) {
	completer := &fakeCompleter{configured: true}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	outcome, err := dispatcher.Dispatch(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, DispatchSucceeded, outcome.State)
	assert.Equal(t, DefaultGeneralModel, outcome.Final.Model)
	assert.Equal(t, []string{DefaultGeneralModel}, completer.models())

	req := completer.requests[0]
	assert.InDelta(t, 0.7, req.Temperature, 0.0001)
	assert.Equal(t, 2048, req.MaxTokens)
}

func TestDispatchFallsBackOnceForMetaModels(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(_ context.Context, req groq.CompletionRequest) (groq.Completion, error) {
			if req.Model == DefaultCodingModel {
				return groq.Completion{}, &groq.APIError{StatusCode: 503, Body: "overloaded"}
			}
			return groq.Completion{Content: "from fallback"}, nil
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	outcome, err := dispatcher.Dispatch(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, DispatchSucceeded, outcome.State)
	assert.Equal(t, DefaultFallbackModel, outcome.Final.Model)
	assert.Equal(t, "from fallback", outcome.Final.Content)
	assert.Equal(t, []string{DefaultCodingModel, DefaultFallbackModel}, completer.models())
}

func TestDispatchReportsFallbackFailure(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(_ context.Context, req groq.CompletionRequest) (groq.Completion, error) {
			if req.Model == DefaultFallbackModel {
				return groq.Completion{}, &groq.APIError{StatusCode: 429, Body: "slow down"}
			}
			return groq.Completion{}, &groq.APIError{StatusCode: 500, Body: "boom"}
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	outcome, err := dispatcher.Dispatch(context.Background(), nil, false)
	var completionErr *CompletionError
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, ErrorUpstream, completionErr.Kind)
	assert.Equal(t, "Groq API error 429: slow down", completionErr.Message)
	assert.Equal(t, DispatchFailed, outcome.State)
	assert.Len(t, outcome.Attempts, 2)
}

func TestDispatchDoesNotRetryIneligibleModel(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(context.Context, groq.CompletionRequest) (groq.Completion, error) {
			return groq.Completion{}, &groq.APIError{StatusCode: 500, Body: "boom"}
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{General: "openai/gpt-oss-20b"}, 0, logging.Discard())

	_, err := dispatcher.Dispatch(context.Background(), nil, false)
	require.Error(t, err)
	assert.Equal(t, []string{"openai/gpt-oss-20b"}, completer.models())
}

func TestDispatchEmptyContentIsFormatErrorWithoutRetry(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(context.Context, groq.CompletionRequest) (groq.Completion, error) {
			return groq.Completion{}, nil
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	_, err := dispatcher.Dispatch(context.Background(), nil, false)
	var completionErr *CompletionError
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, ErrorFormat, completionErr.Kind)
	assert.Equal(t, "Invalid Groq API response format", completionErr.Message)
	assert.Len(t, completer.models(), 1)
}

func TestDispatchMalformedBodyIsFormatErrorWithoutRetry(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(context.Context, groq.CompletionRequest) (groq.Completion, error) {
			return groq.Completion{}, groq.ErrMalformedResponse
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	_, err := dispatcher.Dispatch(context.Background(), nil, false)
	var completionErr *CompletionError
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, ErrorFormat, completionErr.Kind)
	assert.Len(t, completer.models(), 1)
}

func TestDispatchSkipsFallbackWhenCallerIsGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &fakeCompleter{
		configured: true,
		respond: func(context.Context, groq.CompletionRequest) (groq.Completion, error) {
			cancel()
			return groq.Completion{}, context.Canceled
		},
	}
	dispatcher := NewDispatcher(completer, ModelTiers{}, 0, logging.Discard())

	_, err := dispatcher.Dispatch(ctx, nil, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, completer.models(), 1)
}

func TestCompleteRequiresConfiguredProvider(t *testing.T) {
	orchestrator := newTestOrchestrator(&fakeCompleter{}, nil)

	_, err := orchestrator.Complete(context.Background(), Request{Messages: []Message{userMessage("hi")}})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompleteRejectsEmptyConversation(t *testing.T) {
	orchestrator := newTestOrchestrator(&fakeCompleter{configured: true}, nil)

	_, err := orchestrator.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrEmptyConversation)
}

func TestCompleteAnswersFAQWithoutProviders(t *testing.T) {
	completer := &fakeCompleter{configured: true}
	searcher := &fakeSearcher{}
	orchestrator := newTestOrchestrator(completer, searcher)

	reply, err := orchestrator.Complete(context.Background(), Request{
		Messages:         []Message{userMessage("search who created you")},
		WebSearchEnabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StaticModel, reply.Model)
	assert.False(t, reply.WebSearch.Used)
	assert.Nil(t, reply.WebSearch.Provider)
	assert.Empty(t, reply.WebSearch.Sources)
	assert.Empty(t, completer.models())
	assert.Empty(t, searcher.queries)
}

func TestCompleteSearchesAndCitesForCodingQuestion(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(_ context.Context, req groq.CompletionRequest) (groq.Completion, error) {
			return groq.Completion{Content: "Rust 2024 edition shipped."}, nil
		},
	}
	searcher := &fakeSearcher{result: websearch.Result{
		Provider: websearch.ProviderSerper,
		Sources: []websearch.Source{
			{Title: "Rust Blog", URL: "https://blog.rust-lang.org", Snippet: "Announcing"},
		},
	}}
	orchestrator := newTestOrchestrator(completer, searcher)

	original := []Message{userMessage("latest news on rust programming language")}
	reply, err := orchestrator.Complete(context.Background(), Request{Messages: original, WebSearchEnabled: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"latest news on rust programming language"}, searcher.queries)
	require.Len(t, completer.requests, 1)
	sent := completer.requests[0]
	assert.Equal(t, DefaultCodingModel, sent.Model)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, RoleSystem, sent.Messages[1].Role)
	assert.Contains(t, rawContent(t, sent.Messages[1].Content), "[1] Rust Blog\nURL: https://blog.rust-lang.org")
	assert.Len(t, original, 1)

	assert.Equal(t, DefaultCodingModel, reply.Model)
	assert.Equal(t, "Rust 2024 edition shipped.\n\nSources:\n1. Rust Blog - https://blog.rust-lang.org", reply.Content)
	assert.True(t, reply.WebSearch.Used)
	require.NotNil(t, reply.WebSearch.Provider)
	assert.Equal(t, websearch.ProviderSerper, *reply.WebSearch.Provider)
	assert.Len(t, reply.WebSearch.Sources, 1)
}

func TestCompleteContinuesWhenSearchFails(t *testing.T) {
	completer := &fakeCompleter{configured: true}
	searcher := &fakeSearcher{err: errors.New("all providers failed")}
	orchestrator := newTestOrchestrator(completer, searcher)

	reply, err := orchestrator.Complete(context.Background(), Request{
		Messages:         []Message{userMessage("what happened today")},
		WebSearchEnabled: true,
	})
	require.NoError(t, err)
	assert.False(t, reply.WebSearch.Used)
	assert.Nil(t, reply.WebSearch.Provider)
	assert.Equal(t, "ok", reply.Content)
	require.Len(t, completer.requests, 1)
	assert.Len(t, completer.requests[0].Messages, 1)
}

func TestCompleteSearchWithoutSourcesInjectsNothing(t *testing.T) {
	completer := &fakeCompleter{configured: true}
	searcher := &fakeSearcher{result: websearch.Result{Provider: websearch.ProviderDuckDuckGo}}
	orchestrator := newTestOrchestrator(completer, searcher)

	reply, err := orchestrator.Complete(context.Background(), Request{
		Messages:         []Message{userMessage("latest weather")},
		WebSearchEnabled: true,
	})
	require.NoError(t, err)
	assert.True(t, reply.WebSearch.Used)
	require.NotNil(t, reply.WebSearch.Provider)
	assert.Equal(t, websearch.ProviderDuckDuckGo, *reply.WebSearch.Provider)
	assert.NotNil(t, reply.WebSearch.Sources)
	assert.Empty(t, reply.WebSearch.Sources)
	assert.Len(t, completer.requests[0].Messages, 1)
	assert.Equal(t, "ok", reply.Content)
}

func TestCompleteSkipsSearchWhenDisabled(t *testing.T) {
	completer := &fakeCompleter{configured: true}
	searcher := &fakeSearcher{}
	orchestrator := newTestOrchestrator(completer, searcher)

	reply, err := orchestrator.Complete(context.Background(), Request{
		Messages: []Message{userMessage("latest news")},
	})
	require.NoError(t, err)
	assert.Empty(t, searcher.queries)
	assert.False(t, reply.WebSearch.Used)
	assert.Equal(t, DefaultGeneralModel, reply.Model)
}

func TestCompleteSurfacesCompletionError(t *testing.T) {
	completer := &fakeCompleter{
		configured: true,
		respond: func(context.Context, groq.CompletionRequest) (groq.Completion, error) {
			return groq.Completion{}, &groq.APIError{StatusCode: 401, Body: "bad key"}
		},
	}
	orchestrator := newTestOrchestrator(completer, nil)

	_, err := orchestrator.Complete(context.Background(), Request{Messages: []Message{userMessage("hello")}})
	var completionErr *CompletionError
	require.ErrorAs(t, err, &completionErr)
	assert.Equal(t, "Groq API error 401: bad key", completionErr.Message)
	assert.Equal(t, []string{DefaultGeneralModel, DefaultFallbackModel}, completer.models())
}
