package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

type ResendError struct {
	StatusCode int
	Body       string
}

func (e *ResendError) Error() string {
	return fmt.Sprintf("resend failed: %d %s", e.StatusCode, e.Body)
}

type ResendClient struct {
	apiKey     string
	url        string
	from       string
	httpClient *http.Client
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func NewResendClient(cfg config.Config, httpClient *http.Client) ResendClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return ResendClient{
		apiKey:     strings.TrimSpace(cfg.ResendAPIKey),
		url:        strings.TrimSpace(cfg.ResendAPIURL),
		from:       strings.TrimSpace(cfg.ResendFrom),
		httpClient: httpClient,
	}
}

func (c ResendClient) Configured() bool {
	return c.apiKey != "" && c.from != "" && c.url != ""
}

func (c ResendClient) Send(ctx context.Context, email Email) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(resendRequest{
		From:    c.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
	})
	if err != nil {
		return fmt.Errorf("marshal resend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build resend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request resend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &ResendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil
}
