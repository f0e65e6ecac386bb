package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var (
	ErrMissingAPIKey     = errors.New("groq api key is not configured")
	ErrMalformedResponse = errors.New("malformed groq response")
)

// Message content is either a string or a list of content parts and is
// forwarded to the API unchanged.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type Completion struct {
	Model   string
	Content string
	Usage   Usage
}

type Model struct {
	ID            string `json:"id"`
	OwnedBy       string `json:"ownedBy,omitempty"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	Active        bool   `json:"active"`
}

// APIError is a non-2xx answer from the completion API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Groq API error %d: %s", e.StatusCode, e.Body)
}

type chatAPIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatAPIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type listModelsAPIResponse struct {
	Data []struct {
		ID            string `json:"id"`
		OwnedBy       string `json:"owned_by"`
		ContextWindow int    `json:"context_window"`
		Active        *bool  `json:"active"`
	} `json:"data"`
}

type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.GroqAPIKey),
		url:        strings.TrimSpace(cfg.GroqAPIURL),
		httpClient: httpClient,
	}
}

func (c Client) Configured() bool {
	return c.apiKey != ""
}

// ChatCompletion issues one non-streaming completion call. A 2xx answer
// without message content yields a Completion with empty Content.
func (c Client) ChatCompletion(ctx context.Context, req CompletionRequest) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Model) == "" {
		return Completion{}, errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return Completion{}, errors.New("messages are required")
	}

	payload, err := json.Marshal(chatAPIRequest{
		Model:       strings.TrimSpace(req.Model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal groq request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("build groq request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("request groq: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Completion{}, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed chatAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	out := Completion{Model: strings.TrimSpace(req.Model)}
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != nil {
		out.Content = *parsed.Choices[0].Message.Content
	}
	if parsed.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ListModels reads the provider catalogue from the models endpoint that sits
// next to the configured chat completions URL.
func (c Client) ListModels(ctx context.Context) ([]Model, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL(c.url), nil)
	if err != nil {
		return nil, fmt.Errorf("build groq models request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request groq models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed listModelsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode groq models response: %w", err)
	}

	models := make([]Model, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			continue
		}
		active := true
		if item.Active != nil {
			active = *item.Active
		}
		models = append(models, Model{ID: id, OwnedBy: strings.TrimSpace(item.OwnedBy), ContextWindow: item.ContextWindow, Active: active})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func modelsURL(chatURL string) string {
	base := strings.TrimRight(chatURL, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	return base + "/models"
}
