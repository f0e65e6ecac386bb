package assistant

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/groq"
	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

// StaticModel is reported for answers served from the FAQ catalogue.
const StaticModel = "static"

var (
	ErrNotConfigured     = errors.New("completion provider is not configured")
	ErrEmptyConversation = errors.New("conversation has no messages")
)

type Request struct {
	Messages         []Message
	WebSearchEnabled bool
}

type WebSearchSummary struct {
	Used     bool               `json:"used"`
	Provider *string            `json:"provider"`
	Sources  []websearch.Source `json:"sources"`
}

type Reply struct {
	Content   string           `json:"content"`
	Model     string           `json:"model"`
	WebSearch WebSearchSummary `json:"webSearch"`
	Usage     *groq.Usage      `json:"usage,omitempty"`
}

type Options struct {
	Completer Completer
	Searcher  websearch.Searcher
	FAQ       []FAQEntry
	Tiers     ModelTiers
	// AttemptTimeout bounds each completion attempt separately.
	AttemptTimeout time.Duration
	Logger         log.FieldLogger
}

type Orchestrator struct {
	completer  Completer
	searcher   websearch.Searcher
	classifier Classifier
	dispatcher Dispatcher
	logger     log.FieldLogger
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Orchestrator{
		completer:  opts.Completer,
		searcher:   opts.Searcher,
		classifier: NewClassifier(opts.FAQ),
		dispatcher: NewDispatcher(opts.Completer, opts.Tiers, opts.AttemptTimeout, logger),
		logger:     logger,
	}
}

func (o *Orchestrator) Tiers() ModelTiers {
	return o.dispatcher.Tiers()
}

// Complete runs one chat turn: FAQ short-circuit, optional web search with
// context injection, tiered completion and citation post-processing.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (Reply, error) {
	if o.completer == nil || !o.completer.Configured() {
		return Reply{}, ErrNotConfigured
	}
	if len(req.Messages) == 0 {
		return Reply{}, ErrEmptyConversation
	}

	intent := o.classifier.Classify(req.Messages)
	logger := o.logger.WithFields(log.Fields{
		"messages":      len(req.Messages),
		"search_intent": intent.NeedsSearch,
		"code_intent":   intent.Coding,
	})

	if intent.FAQMatched {
		logger.WithField("event", "faq_answer").Info("Answered from FAQ catalogue")
		return Reply{
			Content:   intent.FAQAnswer,
			Model:     StaticModel,
			WebSearch: unusedSearch(),
		}, nil
	}

	forModel := req.Messages
	var search *websearch.Result
	if req.WebSearchEnabled && intent.NeedsSearch && intent.Text != "" && o.searcher != nil {
		result, err := o.searcher.Attempt(ctx, intent.Text)
		if err != nil {
			logger.WithField("event", "search_abandoned").WithError(err).Warn("Web search failed, continuing without context")
		} else {
			search = &result
			logger.WithFields(log.Fields{
				"event":    "search_completed",
				"provider": result.Provider,
				"sources":  len(result.Sources),
			}).Info("Web search completed")
			if len(result.Sources) > 0 {
				forModel = WithSearchContext(req.Messages, BuildSearchContext(result))
			}
		}
	}

	outcome, err := o.dispatcher.Dispatch(ctx, toProviderMessages(forModel), intent.Coding)
	if err != nil {
		logger.WithFields(log.Fields{
			"event":    "completion_failed",
			"state":    outcome.State.String(),
			"attempts": len(outcome.Attempts),
		}).WithError(err).Error("Completion failed")
		return Reply{}, err
	}

	content := outcome.Final.Content
	summary := unusedSearch()
	if search != nil {
		content = AppendSources(content, search.Sources)
		provider := search.Provider
		summary = WebSearchSummary{Used: true, Provider: &provider, Sources: search.Sources}
		if summary.Sources == nil {
			summary.Sources = []websearch.Source{}
		}
	}

	logger.WithFields(log.Fields{
		"event":    "completion_succeeded",
		"model":    outcome.Final.Model,
		"attempts": len(outcome.Attempts),
	}).Info("Completion succeeded")

	reply := Reply{Content: content, Model: outcome.Final.Model, WebSearch: summary}
	if usage := outcome.Final.Usage; usage.TotalTokens > 0 {
		reply.Usage = &usage
	}
	return reply, nil
}

func unusedSearch() WebSearchSummary {
	return WebSearchSummary{Sources: []websearch.Source{}}
}
