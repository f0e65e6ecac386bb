package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/session"
	"github.com/ansarisultan/lexachat-server/internal/users"
)

type contextKey string

const (
	sessionUserContextKey  contextKey = "session_user"
	sessionTokenContextKey contextKey = "session_token"

	databasePingTimeout = 2 * time.Second
)

func (h Handler) requestLogger(r *http.Request) log.FieldLogger {
	return h.logger.WithField("request_id", chimw.GetReqID(r.Context()))
}

// LogRequests logs request start and completion with status and latency.
func (h Handler) LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"event":      "started",
		}).Info("Request started")

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.logger.WithFields(log.Fields{
			"request_id": requestID,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"event":      "completed",
		}).Info("Request completed")
	})
}

func (h Handler) RequireDatabase(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.db == nil {
			writeError(w, http.StatusServiceUnavailable, "Database is not connected. Please try again in a moment.")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), databasePingTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.requestLogger(r).WithField("event", "database_unavailable").WithError(err).Warn("Database ping failed")
			writeError(w, http.StatusServiceUnavailable, "Database is not connected. Please try again in a moment.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth resolves the bearer token or session cookie to a user.
func (h Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := h.requestToken(r)
		if rawToken == "" {
			writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
			return
		}

		user, err := h.resolveUser(r.Context(), rawToken)
		if err != nil {
			h.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionUserContextKey, user)
		ctx = context.WithValue(ctx, sessionTokenContextKey, rawToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the user when a valid token is present and otherwise
// lets the request through anonymously.
func (h Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := h.requestToken(r)
		if rawToken == "" || h.db == nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := h.resolveUser(r.Context(), rawToken)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionUserContextKey, user)))
	})
}

// RateLimit applies the sliding window per user, or per client address for
// anonymous callers.
func (h Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(rateLimitKey(r)) {
			h.requestLogger(r).WithField("event", "rate_limited").Warn("Request rejected by rate limiter")
			writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Route not found: " + r.URL.RequestURI()})
}

func (h Handler) resolveUser(ctx context.Context, rawToken string) (users.User, error) {
	userID, err := h.sessions.ResolveSession(ctx, rawToken)
	if errors.Is(err, session.ErrNotFound) {
		return users.User{}, newAppError(http.StatusUnauthorized, "Invalid token")
	}
	if err != nil {
		return users.User{}, err
	}

	user, err := h.users.FindByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, newAppError(http.StatusUnauthorized, "User not found")
	}
	if err != nil {
		return users.User{}, err
	}
	return user, nil
}

func (h Handler) requestToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName)
	if err != nil {
		return ""
	}
	return rawToken
}

func rateLimitKey(r *http.Request) string {
	if user, ok := sessionUserFromContext(r.Context()); ok {
		return "user:" + user.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func sessionUserFromContext(ctx context.Context) (users.User, bool) {
	user, ok := ctx.Value(sessionUserContextKey).(users.User)
	return user, ok
}

func sessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenContextKey).(string)
	return token
}
