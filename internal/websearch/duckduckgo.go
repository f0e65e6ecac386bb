package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

// DuckDuckGoClient queries the instant answer API. It needs no credential.
type DuckDuckGoClient struct {
	baseURL    string
	httpClient *http.Client
}

type duckDuckGoTopic struct {
	Text     string            `json:"Text"`
	FirstURL string            `json:"FirstURL"`
	Topics   []duckDuckGoTopic `json:"Topics"`
}

type duckDuckGoResponse struct {
	Heading        string            `json:"Heading"`
	AbstractSource string            `json:"AbstractSource"`
	AbstractText   string            `json:"AbstractText"`
	AbstractURL    string            `json:"AbstractURL"`
	RelatedTopics  []duckDuckGoTopic `json:"RelatedTopics"`
}

func NewDuckDuckGoClient(cfg config.Config, httpClient *http.Client) DuckDuckGoClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return DuckDuckGoClient{
		baseURL:    strings.TrimSpace(cfg.DuckDuckGoAPIURL),
		httpClient: httpClient,
	}
}

func (c DuckDuckGoClient) Attempt(ctx context.Context, query string) (Result, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse duckduckgo endpoint: %w", err)
	}

	params := endpoint.Query()
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build duckduckgo request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request duckduckgo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{}, &APIError{Provider: "DuckDuckGo", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// The API answers with application/x-javascript, so decode regardless of content type.
	var parsed duckDuckGoResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode duckduckgo response: %w", err)
	}

	return Result{Provider: ProviderDuckDuckGo, Sources: duckDuckGoSources(parsed)}, nil
}

// duckDuckGoSources takes the abstract first, then related topics with one
// level of nested topics, stopping at MaxSources.
func duckDuckGoSources(parsed duckDuckGoResponse) []Source {
	sources := make([]Source, 0, MaxSources)

	if parsed.AbstractURL != "" || parsed.AbstractText != "" {
		sources = append(sources, Source{
			Title:   firstNonEmpty(parsed.Heading, parsed.AbstractSource, "DuckDuckGo Result"),
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
		})
	}

	for _, topic := range parsed.RelatedTopics {
		if len(sources) >= MaxSources {
			break
		}
		if topic.Text != "" || topic.FirstURL != "" {
			sources = append(sources, topicSource(topic))
		}
		for _, nested := range topic.Topics {
			if len(sources) >= MaxSources {
				break
			}
			if nested.Text != "" || nested.FirstURL != "" {
				sources = append(sources, topicSource(nested))
			}
		}
	}
	return sources
}

func topicSource(topic duckDuckGoTopic) Source {
	title := strings.TrimSpace(strings.SplitN(topic.Text, "-", 2)[0])
	return Source{
		Title:   firstNonEmpty(title, "Related Topic"),
		URL:     topic.FirstURL,
		Snippet: topic.Text,
	}
}
