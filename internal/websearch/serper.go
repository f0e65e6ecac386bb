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

var ErrMissingSerperKey = errors.New("serper api key is not configured")

type SerperClient struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

type serperRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func NewSerperClient(cfg config.Config, httpClient *http.Client) SerperClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return SerperClient{
		apiKey:     strings.TrimSpace(cfg.SerperAPIKey),
		url:        strings.TrimSpace(cfg.SerperAPIURL),
		httpClient: httpClient,
	}
}

func (c SerperClient) Attempt(ctx context.Context, query string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrMissingSerperKey
	}

	payload, err := json.Marshal(serperRequest{Query: query, Num: MaxSources})
	if err != nil {
		return Result{}, fmt.Errorf("marshal serper request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build serper request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request serper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{}, &APIError{Provider: "Serper", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode serper response: %w", err)
	}

	sources := make([]Source, 0, MaxSources)
	for _, item := range parsed.Organic {
		if len(sources) >= MaxSources {
			break
		}
		sources = append(sources, Source{
			Title:   firstNonEmpty(item.Title, item.Link, "Untitled"),
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}

	return Result{Provider: ProviderSerper, Sources: sources}, nil
}
