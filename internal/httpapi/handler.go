package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/assistant"
	"github.com/ansarisultan/lexachat-server/internal/auth"
	"github.com/ansarisultan/lexachat-server/internal/chats"
	"github.com/ansarisultan/lexachat-server/internal/config"
	"github.com/ansarisultan/lexachat-server/internal/groq"
	"github.com/ansarisultan/lexachat-server/internal/mailer"
	"github.com/ansarisultan/lexachat-server/internal/ratelimit"
	"github.com/ansarisultan/lexachat-server/internal/session"
	"github.com/ansarisultan/lexachat-server/internal/users"
	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

const outboundTimeout = 60 * time.Second

type identityVerifier interface {
	Verify(ctx context.Context, idToken string) (auth.GoogleIdentity, error)
}

type modelCatalog interface {
	Configured() bool
	ListModels(ctx context.Context) ([]groq.Model, error)
}

type chatCompleter interface {
	Complete(ctx context.Context, req assistant.Request) (assistant.Reply, error)
	Tiers() assistant.ModelTiers
}

// Dependencies lets tests swap the outbound collaborators.
type Dependencies struct {
	Verifier  identityVerifier
	Mailer    mailer.Sender
	Assistant chatCompleter
	Catalog   modelCatalog
	Limiter   *ratelimit.SlidingWindow
	Now       func() time.Time
}

type Handler struct {
	cfg       config.Config
	db        *sql.DB
	logger    log.FieldLogger
	users     users.Store
	sessions  session.Store
	chats     chats.Store
	verifier  identityVerifier
	mailer    mailer.Sender
	assistant chatCompleter
	catalog   modelCatalog
	limiter   *ratelimit.SlidingWindow
	validator requestValidator
	now       func() time.Time
}

func NewHandler(cfg config.Config, db *sql.DB, logger log.FieldLogger, deps Dependencies) Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return Handler{
		cfg:       cfg,
		db:        db,
		logger:    logger,
		users:     users.NewStore(db),
		sessions:  session.NewStore(db),
		chats:     chats.NewStore(db),
		verifier:  deps.Verifier,
		mailer:    deps.Mailer,
		assistant: deps.Assistant,
		catalog:   deps.Catalog,
		limiter:   deps.Limiter,
		validator: newRequestValidator(),
		now:       deps.Now,
	}
}

// DefaultDependencies wires the production collaborators from configuration.
func DefaultDependencies(cfg config.Config, logger log.FieldLogger) (Dependencies, error) {
	httpClient := &http.Client{Timeout: outboundTimeout}

	faq := assistant.DefaultFAQ()
	if path := strings.TrimSpace(cfg.FAQFile); path != "" {
		loaded, err := assistant.LoadFAQFile(path)
		if err != nil {
			return Dependencies{}, fmt.Errorf("load faq catalogue: %w", err)
		}
		faq = loaded
	}

	completions := groq.NewClient(cfg, httpClient)
	orchestrator := assistant.New(assistant.Options{
		Completer: completions,
		Searcher:  websearch.NewFromConfig(cfg, httpClient, logger),
		FAQ:       faq,
		Tiers: assistant.ModelTiers{
			General:  cfg.GeneralModel,
			Coding:   cfg.CodingModel,
			Fallback: cfg.FallbackModel,
		},
		AttemptTimeout: cfg.CompletionTimeout,
		Logger:         logger,
	})

	return Dependencies{
		Verifier:  auth.NewVerifier(cfg.GoogleClientID),
		Mailer:    mailer.New(cfg, mailer.NewResendClient(cfg, httpClient), logger),
		Assistant: orchestrator,
		Catalog:   completions,
		Limiter:   ratelimit.NewSlidingWindow(cfg.ChatRateLimit, cfg.ChatRateWindow),
	}, nil
}

// Close stops background work owned by the handler.
func (h Handler) Close() {
	if h.limiter != nil {
		h.limiter.Close()
	}
}

func (h Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (h Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func readSessionCookie(r *http.Request, name string) (string, error) {
	if name == "" {
		return "", http.ErrNoCookie
	}
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cookie.Value) == "" {
		return "", errors.New("empty session cookie")
	}
	return cookie.Value, nil
}
