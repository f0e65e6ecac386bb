package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

var ErrMissingTavilyKey = errors.New("tavily api key is not configured")

type TavilyClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
	SearchDepth   string `json:"search_depth"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func NewTavilyClient(cfg config.Config, httpClient *http.Client) TavilyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return TavilyClient{
		apiKey:     strings.TrimSpace(cfg.TavilyAPIKey),
		url:        strings.TrimSpace(cfg.TavilyAPIURL),
		httpClient: httpClient,
	}
}

func (c TavilyClient) Attempt(ctx context.Context, query string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrMissingTavilyKey
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    MaxSources,
		IncludeAnswer: true,
		SearchDepth:   "basic",
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal tavily request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build tavily request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{}, &APIError{Provider: "Tavily", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode tavily response: %w", err)
	}

	sources := make([]Source, 0, MaxSources)
	for _, item := range parsed.Results {
		if len(sources) >= MaxSources {
			break
		}
		sources = append(sources, Source{
			Title:   firstNonEmpty(item.Title, item.URL, "Untitled"),
			URL:     item.URL,
			Snippet: item.Content,
		})
	}

	return Result{Provider: ProviderTavily, Answer: parsed.Answer, Sources: sources}, nil
}
