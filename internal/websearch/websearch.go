package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ansarisultan/lexachat-server/internal/config"
	log "github.com/sirupsen/logrus"
)

const (
	ProviderTavily     = "tavily"
	ProviderSerper     = "serper"
	ProviderBrave      = "brave"
	ProviderDuckDuckGo = "duckduckgo"

	MaxSources = 5

	maxErrorBodyBytes = 8 * 1024
)

var ErrNoProvider = errors.New("no search provider configured")

// Source fields are never empty placeholders for null; missing values are "".
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type Result struct {
	Provider string
	Answer   string
	Sources  []Source
}

type Searcher interface {
	Attempt(ctx context.Context, query string) (Result, error)
}

type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

type Step struct {
	Name     string
	Searcher Searcher
}

// Chain tries each step in order and returns the first result that comes
// back without an error. Each step gets its own timeout.
type Chain struct {
	steps   []Step
	timeout time.Duration
	logger  log.FieldLogger
}

func NewChain(steps []Step, timeout time.Duration, logger log.FieldLogger) *Chain {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Chain{steps: steps, timeout: timeout, logger: logger}
}

func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.steps))
	for _, step := range c.steps {
		names = append(names, step.Name)
	}
	return names
}

func (c *Chain) Attempt(ctx context.Context, query string) (Result, error) {
	if len(c.steps) == 0 {
		return Result{}, ErrNoProvider
	}

	var errs []error
	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		result, err := c.attemptStep(ctx, step, query)
		if err == nil {
			if result.Provider == "" {
				result.Provider = step.Name
			}
			return result, nil
		}

		c.logger.WithFields(log.Fields{
			"provider": step.Name,
			"error":    err.Error(),
			"event":    "search_provider_failed",
		}).Warn("Search provider failed")
		errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
	}
	return Result{}, errors.Join(errs...)
}

func (c *Chain) attemptStep(ctx context.Context, step Step, query string) (Result, error) {
	if c.timeout <= 0 {
		return step.Searcher.Attempt(ctx, query)
	}
	stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return step.Searcher.Attempt(stepCtx, query)
}

// NewFromConfig builds the provider chain: Tavily, Serper and Brave when their
// keys are set, then DuckDuckGo always, behind the process-wide throttle.
func NewFromConfig(cfg config.Config, httpClient *http.Client, logger log.FieldLogger) Searcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	steps := make([]Step, 0, 4)
	if cfg.TavilyAPIKey != "" {
		steps = append(steps, Step{Name: ProviderTavily, Searcher: NewTavilyClient(cfg, httpClient)})
	}
	if cfg.SerperAPIKey != "" {
		steps = append(steps, Step{Name: ProviderSerper, Searcher: NewSerperClient(cfg, httpClient)})
	}
	if cfg.BraveAPIKey != "" {
		steps = append(steps, Step{Name: ProviderBrave, Searcher: NewBraveClient(cfg, httpClient)})
	}
	steps = append(steps, Step{Name: ProviderDuckDuckGo, Searcher: NewDuckDuckGoClient(cfg, httpClient)})

	chain := NewChain(steps, cfg.SearchTimeout, logger)
	return NewThrottled(chain, cfg.SearchRatePerSecond, burstFor(cfg.SearchRatePerSecond))
}

func burstFor(perSecond float64) int {
	if perSecond < 1 {
		return 1
	}
	return int(perSecond)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
