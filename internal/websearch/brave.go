package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

const maxBraveQueryWords = 50

var ErrMissingBraveKey = errors.New("brave api key is not configured")

// BraveClient queries the Brave web search API. It only joins the chain when
// a key is configured.
type BraveClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type braveResult struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ExtraSnippets []string `json:"extra_snippets"`
}

type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

func NewBraveClient(cfg config.Config, httpClient *http.Client) BraveClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return BraveClient{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BraveAPIURL), "/"),
		httpClient: httpClient,
	}
}

func (c BraveClient) Attempt(ctx context.Context, query string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrMissingBraveKey
	}

	endpoint, err := url.Parse(c.baseURL + "/web/search")
	if err != nil {
		return Result{}, fmt.Errorf("parse brave endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set("q", limitWords(query, maxBraveQueryWords))
	params.Set("count", strconv.Itoa(MaxSources))
	params.Set("text_decorations", "0")
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build brave request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Result{}, &APIError{Provider: "Brave", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode brave response: %w", err)
	}

	sources := make([]Source, 0, MaxSources)
	seen := make(map[string]struct{}, len(parsed.Web.Results))
	for _, item := range parsed.Web.Results {
		if len(sources) >= MaxSources {
			break
		}
		link := strings.TrimSpace(item.URL)
		if link != "" {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
		}
		snippet := strings.TrimSpace(item.Description)
		if snippet == "" && len(item.ExtraSnippets) > 0 {
			snippet = strings.TrimSpace(item.ExtraSnippets[0])
		}
		sources = append(sources, Source{
			Title:   firstNonEmpty(strings.TrimSpace(item.Title), link, "Untitled"),
			URL:     link,
			Snippet: snippet,
		})
	}

	return Result{Provider: ProviderBrave, Sources: sources}, nil
}

func limitWords(input string, maxWords int) string {
	words := strings.Fields(input)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}
