package assistant

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/groq"
)

const (
	DefaultGeneralModel  = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultCodingModel   = "meta-llama/llama-4-maverick-17b-128e-instruct"
	DefaultFallbackModel = "openai/gpt-oss-120b"

	completionTemperature = 0.7
	completionMaxTokens   = 2048

	invalidFormatMessage = "Invalid Groq API response format"
)

var fallbackEligiblePattern = regexp.MustCompile(`(?i)^meta[-/]`)

type Completer interface {
	Configured() bool
	ChatCompletion(ctx context.Context, req groq.CompletionRequest) (groq.Completion, error)
}

type ModelTiers struct {
	General  string
	Coding   string
	Fallback string
}

func (t ModelTiers) withDefaults() ModelTiers {
	if strings.TrimSpace(t.General) == "" {
		t.General = DefaultGeneralModel
	}
	if strings.TrimSpace(t.Coding) == "" {
		t.Coding = DefaultCodingModel
	}
	if strings.TrimSpace(t.Fallback) == "" {
		t.Fallback = DefaultFallbackModel
	}
	return t
}

// Primary picks the coding tier for code-intent conversations.
func (t ModelTiers) Primary(coding bool) string {
	if coding {
		return t.Coding
	}
	return t.General
}

// IsFallbackEligible reports whether a failed model may be retried once on
// the fallback tier.
func IsFallbackEligible(model string) bool {
	return fallbackEligiblePattern.MatchString(model)
}

type DispatchState int

const (
	DispatchNotStarted DispatchState = iota
	DispatchPrimaryAttempted
	DispatchFallbackAttempted
	DispatchSucceeded
	DispatchFailed
)

func (s DispatchState) String() string {
	switch s {
	case DispatchNotStarted:
		return "not_started"
	case DispatchPrimaryAttempted:
		return "primary_attempted"
	case DispatchFallbackAttempted:
		return "fallback_attempted"
	case DispatchSucceeded:
		return "succeeded"
	case DispatchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompletionResult is the outcome of one attempt. OK means the provider
// answered 2xx with a decodable body, even if the content is empty.
type CompletionResult struct {
	OK      bool
	Model   string
	Content string
	Usage   groq.Usage
	Err     error
}

type Outcome struct {
	Final    CompletionResult
	Attempts []CompletionResult
	State    DispatchState
}

type ErrorKind int

const (
	ErrorUpstream ErrorKind = iota + 1
	ErrorFormat
)

// CompletionError carries the message returned to the client for a failed
// dispatch.
type CompletionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CompletionError) Error() string {
	return e.Message
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

type Dispatcher struct {
	completer Completer
	tiers     ModelTiers
	timeout   time.Duration
	logger    log.FieldLogger
}

func NewDispatcher(completer Completer, tiers ModelTiers, timeout time.Duration, logger log.FieldLogger) Dispatcher {
	return Dispatcher{
		completer: completer,
		tiers:     tiers.withDefaults(),
		timeout:   timeout,
		logger:    logger,
	}
}

func (d Dispatcher) Tiers() ModelTiers {
	return d.tiers
}

// Dispatch makes at most two attempts: the primary tier, then the fallback
// tier when the primary failed at the transport or HTTP level and its model
// id is fallback-eligible. A 2xx answer with missing or unreadable content is
// never retried.
func (d Dispatcher) Dispatch(ctx context.Context, messages []groq.Message, coding bool) (Outcome, error) {
	var outcome Outcome

	primary := d.tiers.Primary(coding)
	result := d.attempt(ctx, primary, messages)
	outcome.Attempts = append(outcome.Attempts, result)
	outcome.State = DispatchPrimaryAttempted

	if !result.OK && !errors.Is(result.Err, groq.ErrMalformedResponse) && IsFallbackEligible(primary) && ctx.Err() == nil {
		d.logger.WithFields(log.Fields{
			"event":          "completion_fallback",
			"model":          primary,
			"fallback_model": d.tiers.Fallback,
		}).WithError(result.Err).Warn("Primary model failed, retrying on fallback")

		result = d.attempt(ctx, d.tiers.Fallback, messages)
		outcome.Attempts = append(outcome.Attempts, result)
		outcome.State = DispatchFallbackAttempted
	}
	outcome.Final = result

	if !result.OK {
		outcome.State = DispatchFailed
		kind := ErrorUpstream
		message := result.Err.Error()
		if errors.Is(result.Err, groq.ErrMalformedResponse) {
			kind = ErrorFormat
			message = invalidFormatMessage
		}
		return outcome, &CompletionError{Kind: kind, Message: message, Err: result.Err}
	}
	if result.Content == "" {
		outcome.State = DispatchFailed
		return outcome, &CompletionError{Kind: ErrorFormat, Message: invalidFormatMessage}
	}

	outcome.State = DispatchSucceeded
	return outcome, nil
}

func (d Dispatcher) attempt(ctx context.Context, model string, messages []groq.Message) CompletionResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	completion, err := d.completer.ChatCompletion(ctx, groq.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: completionTemperature,
		MaxTokens:   completionMaxTokens,
	})
	fields := log.Fields{
		"event":      "completion_attempt",
		"model":      model,
		"latency_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Warn("Completion attempt failed")
		return CompletionResult{Model: model, Err: err}
	}
	d.logger.WithFields(fields).Debug("Completion attempt succeeded")

	return CompletionResult{
		OK:      true,
		Model:   model,
		Content: completion.Content,
		Usage:   completion.Usage,
	}
}
