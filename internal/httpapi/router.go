package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.LogRequests)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.NotFound)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", h.Health)

		api.Route("/auth", func(authR chi.Router) {
			authR.Use(h.RequireDatabase)
			authR.Post("/send-signup-otp", h.SendSignupOTP)
			authR.Post("/verify-signup-otp", h.VerifySignupOTP)
			authR.Post("/signup", h.Signup)
			authR.Post("/login", h.Login)
			authR.Post("/google", h.GoogleLogin)
			authR.Post("/forgot-password", h.ForgotPassword)
			authR.Patch("/reset-password/{token}", h.ResetPassword)
			authR.Get("/verify-email/{token}", h.VerifyEmail)
			authR.Post("/resend-verification", h.ResendVerification)

			authR.Group(func(p chi.Router) {
				p.Use(h.RequireAuth)
				p.Get("/me", h.Me)
				p.Post("/logout", h.Logout)
				p.Patch("/preferences", h.UpdatePreferences)
				p.Patch("/change-password", h.ChangePassword)
			})
		})

		api.Route("/chats", func(chatsR chi.Router) {
			chatsR.Use(h.RequireDatabase)
			chatsR.Use(h.RequireAuth)
			chatsR.Get("/sessions", h.ListSessions)
			chatsR.Get("/search", h.SearchSessions)
			chatsR.Post("/save", h.SaveSession)
			chatsR.Get("/session/{sessionId}", h.GetSession)
			chatsR.Put("/session/{sessionId}", h.UpdateSession)
			chatsR.Delete("/session/{sessionId}", h.DeleteSession)
			chatsR.Patch("/session/{sessionId}/archive", h.ArchiveSession)
		})

		api.Route("/ai", func(ai chi.Router) {
			ai.Get("/models", h.ListModels)
			ai.With(h.OptionalAuth, h.RateLimit).Post("/chat", h.ChatCompletion)
		})
	})

	return r
}
