package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/auth"
	"github.com/ansarisultan/lexachat-server/internal/mailer"
	"github.com/ansarisultan/lexachat-server/internal/users"
)

const (
	resetTokenBytes        = 32
	emailServiceDownMsg    = "Email service is not configured. Please contact support."
	forgotPasswordMessage  = "If an account with that email exists, a password reset link has been sent."
	resendVerifyMessage    = "If your account exists and is not verified, a verification link has been sent."
	invalidCredentialsMsg  = "Invalid email or password"
	userExistsMsg          = "User already exists with this email"
	localDeliveryNoteOTP   = "SMTP is not configured, so OTP is returned for local testing."
	localDeliveryNoteReset = "SMTP is not configured, so reset link is returned for local testing."
	localDeliveryNoteVerif = "SMTP is not configured, so verify link is returned for local testing."
)

type sendSignupOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
}

type verifySignupOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=6,strongpassword"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type googleLoginRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

type preferencesRequest struct {
	Theme       string `json:"theme" validate:"omitempty,max=20"`
	DefaultMode string `json:"defaultMode" validate:"omitempty,max=20"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"min=6,strongpassword"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"min=6,strongpassword"`
}

type userPayload struct {
	User users.User `json:"user"`
}

// decodeAndValidate reads the body into target and runs its validation tags.
func (h Handler) decodeAndValidate(r *http.Request, target any, normalize func()) error {
	if err := h.decodeBody(r, target); err != nil {
		return err
	}
	if normalize != nil {
		normalize()
	}
	return h.validator.Check(target)
}

func (h Handler) SendSignupOTP(w http.ResponseWriter, r *http.Request) {
	var req sendSignupOTPRequest
	if err := h.decodeAndValidate(r, &req, func() { req.Email = users.NormalizeEmail(req.Email) }); err != nil {
		h.respondError(w, r, err)
		return
	}

	exists, err := h.users.Exists(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if exists {
		writeError(w, http.StatusBadRequest, userExistsMsg)
		return
	}

	now := h.now()
	code, err := auth.NewSignupOTP(req.Email, now)
	if err == nil {
		err = h.users.PutSignupOTP(r.Context(), req.Email, code.Secret, now.Add(auth.SignupOTPTTL))
	}
	var delivery mailer.Delivery
	if err == nil {
		delivery, err = h.mailer.Send(r.Context(), mailer.SignupOTPEmail(req.Email, req.Name, code.Code, int(auth.SignupOTPTTL.Minutes())))
	}
	if err != nil {
		h.requestLogger(r).WithField("event", "signup_otp_failed").WithError(err).Error("Unable to send signup OTP")
		writeError(w, http.StatusServiceUnavailable, "Unable to send OTP right now. Please try again later.")
		return
	}

	if !delivery.Delivered {
		if h.cfg.IsProduction() {
			writeError(w, http.StatusServiceUnavailable, emailServiceDownMsg)
			return
		}
		writeMessage(w, http.StatusOK, "OTP sent to your email.", map[string]string{
			"otp":  code.Code,
			"note": localDeliveryNoteOTP,
		})
		return
	}
	writeMessage(w, http.StatusOK, "OTP sent to your email.", nil)
}

func (h Handler) VerifySignupOTP(w http.ResponseWriter, r *http.Request) {
	var req verifySignupOTPRequest
	normalize := func() {
		req.Email = users.NormalizeEmail(req.Email)
		req.OTP = strings.TrimSpace(req.OTP)
	}
	if err := h.decodeAndValidate(r, &req, normalize); err != nil {
		h.respondError(w, r, err)
		return
	}

	record, err := h.users.SignupOTP(r.Context(), req.Email)
	if errors.Is(err, users.ErrOTPMissing) {
		writeError(w, http.StatusBadRequest, "OTP not found. Please request a new OTP.")
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	now := h.now()
	if record.ExpiresAt.Before(now) {
		writeError(w, http.StatusBadRequest, "OTP has expired. Please request a new OTP.")
		return
	}
	if record.Attempts >= auth.MaxOTPAttempts {
		writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Please request a new OTP.")
		return
	}
	if !auth.ValidateSignupOTP(record.Secret, req.OTP, now) {
		if err := h.users.RecordFailedOTPAttempt(r.Context(), req.Email); err != nil {
			h.respondError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid OTP")
		return
	}

	if err := h.users.MarkSignupOTPVerified(r.Context(), req.Email, now.Add(auth.VerifiedSignupWindow)); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified with OTP. You can now create your account.", nil)
}

func (h Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	normalize := func() {
		req.Name = strings.TrimSpace(req.Name)
		req.Email = users.NormalizeEmail(req.Email)
	}
	if err := h.decodeAndValidate(r, &req, normalize); err != nil {
		h.respondError(w, r, err)
		return
	}

	exists, err := h.users.Exists(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if exists {
		writeError(w, http.StatusBadRequest, userExistsMsg)
		return
	}

	record, err := h.users.SignupOTP(r.Context(), req.Email)
	if err != nil && !errors.Is(err, users.ErrOTPMissing) {
		h.respondError(w, r, err)
		return
	}
	if err != nil || record.VerifiedAt == nil || record.ExpiresAt.Before(h.now()) {
		writeError(w, http.StatusBadRequest, "Please verify your email with OTP before creating an account.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	user, err := h.users.Create(r.Context(), users.NewUser{
		Name:          req.Name,
		Email:         req.Email,
		PasswordHash:  hash,
		EmailVerified: true,
	})
	if errors.Is(err, users.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, userExistsMsg)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.users.DeleteSignupOTP(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}

	h.requestLogger(r).WithFields(log.Fields{"event": "signup", "user_id": user.ID}).Info("User signed up")
	writeMessage(w, http.StatusCreated, "Signup successful. You can now log in.", nil)
}

func (h Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decodeAndValidate(r, &req, func() { req.Email = users.NormalizeEmail(req.Email) }); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, hash, err := h.users.Credentials(r.Context(), req.Email)
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if hash == "" || auth.CheckPassword(hash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, invalidCredentialsMsg)
		return
	}
	if !user.EmailVerified {
		writeError(w, http.StatusForbidden, "Please verify your email before logging in. Use resend verification if needed.")
		return
	}

	h.signIn(w, r, user.ID, http.StatusOK)
}

func (h Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := h.decodeAndValidate(r, &req, nil); err != nil {
		h.respondError(w, r, err)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), req.IDToken)
	if errors.Is(err, auth.ErrGoogleNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}
	if errors.Is(err, auth.ErrUnverifiedEmail) {
		writeError(w, http.StatusForbidden, "Google account email is not verified")
		return
	}
	if err != nil {
		h.requestLogger(r).WithField("event", "google_token_rejected").WithError(err).Warn("Google token rejected")
		writeError(w, http.StatusUnauthorized, "Invalid Google token")
		return
	}

	user, err := h.users.UpsertGoogleUser(r.Context(), identity.GoogleSubject, identity.Email, identity.Name)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.signIn(w, r, user.ID, http.StatusOK)
}

// signIn records the login, opens a session and answers with the token.
func (h Handler) signIn(w http.ResponseWriter, r *http.Request, userID string, status int) {
	if err := h.users.TouchLogin(r.Context(), userID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.issueToken(w, r, userID, status)
}

func (h Handler) issueToken(w http.ResponseWriter, r *http.Request, userID string, status int) {
	token, expiresAt, err := h.sessions.CreateSession(r.Context(), userID, h.cfg.SessionTTL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.setSessionCookie(w, token, expiresAt)
	writeJSON(w, status, tokenResponse{Success: true, Token: token, Data: userPayload{User: user}})
}

func (h Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}
	writeData(w, http.StatusOK, userPayload{User: user})
}

func (h Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionTokenFromContext(r.Context()); token != "" {
		if err := h.sessions.DeleteSession(r.Context(), token); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	h.clearSessionCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully", nil)
}

func (h Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req preferencesRequest
	if err := h.decodeAndValidate(r, &req, nil); err != nil {
		h.respondError(w, r, err)
		return
	}

	updated, err := h.users.UpdatePreferences(r.Context(), user.ID, users.Preferences{Theme: req.Theme, DefaultMode: req.DefaultMode})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, userPayload{User: updated})
}

func (h Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req changePasswordRequest
	if err := h.decodeAndValidate(r, &req, nil); err != nil {
		h.respondError(w, r, err)
		return
	}

	hash, err := h.users.PasswordHashByID(r.Context(), user.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if hash == "" || auth.CheckPassword(hash, req.CurrentPassword) != nil {
		writeError(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	newHash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.users.SetPassword(r.Context(), user.ID, newHash); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.sessions.DeleteUserSessions(r.Context(), user.ID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.issueToken(w, r, user.ID, http.StatusOK)
}

func (h Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.decodeAndValidate(r, &req, func() { req.Email = users.NormalizeEmail(req.Email) }); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if errors.Is(err, users.ErrNotFound) {
		writeMessage(w, http.StatusOK, forgotPasswordMessage, nil)
		return
	}

	var (
		resetURL string
		delivery mailer.Delivery
	)
	if err == nil {
		var rawToken string
		rawToken, err = auth.RandomToken(resetTokenBytes)
		if err == nil {
			_, err = h.users.SetPasswordResetToken(r.Context(), user.ID, auth.HashToken(rawToken))
		}
		if err == nil {
			resetURL = mailer.BuildResetURL(h.cfg.ClientBaseURL(), rawToken)
			delivery, err = h.mailer.Send(r.Context(), mailer.PasswordResetEmail(user.Email, user.Name, resetURL))
		}
	}
	if err != nil {
		h.requestLogger(r).WithField("event", "password_reset_failed").WithError(err).Error("Unable to send reset email")
		writeError(w, http.StatusServiceUnavailable, "Unable to send reset email right now. Please try again later.")
		return
	}

	if !delivery.Delivered {
		if h.cfg.IsProduction() {
			writeError(w, http.StatusServiceUnavailable, emailServiceDownMsg)
			return
		}
		writeMessage(w, http.StatusOK, forgotPasswordMessage, map[string]string{
			"resetUrl": resetURL,
			"note":     localDeliveryNoteReset,
		})
		return
	}
	writeMessage(w, http.StatusOK, forgotPasswordMessage, nil)
}

func (h Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	rawToken := strings.TrimSpace(chi.URLParam(r, "token"))
	if rawToken == "" {
		writeError(w, http.StatusBadRequest, "Reset token is required")
		return
	}

	var req resetPasswordRequest
	if err := h.decodeAndValidate(r, &req, nil); err != nil {
		h.respondError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	user, err := h.users.ConsumePasswordReset(r.Context(), auth.HashToken(rawToken), hash)
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "Reset token is invalid or has expired")
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.sessions.DeleteUserSessions(r.Context(), user.ID); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.issueToken(w, r, user.ID, http.StatusOK)
}

func (h Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	rawToken := strings.TrimSpace(chi.URLParam(r, "token"))
	if rawToken == "" {
		writeError(w, http.StatusBadRequest, "Verification token is required")
		return
	}

	_, err := h.users.VerifyEmail(r.Context(), auth.HashToken(rawToken))
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "Verification token is invalid or has expired")
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Email verified successfully. You can now log in.", nil)
}

func (h Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.decodeAndValidate(r, &req, func() { req.Email = users.NormalizeEmail(req.Email) }); err != nil {
		h.respondError(w, r, err)
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if errors.Is(err, users.ErrNotFound) || (err == nil && user.EmailVerified) {
		writeMessage(w, http.StatusOK, resendVerifyMessage, nil)
		return
	}

	var (
		verifyURL string
		delivery  mailer.Delivery
	)
	if err == nil {
		var rawToken string
		rawToken, err = auth.RandomToken(resetTokenBytes)
		if err == nil {
			_, err = h.users.SetEmailVerificationToken(r.Context(), user.ID, auth.HashToken(rawToken))
		}
		if err == nil {
			verifyURL = mailer.BuildVerifyURL(h.cfg.ClientBaseURL(), rawToken)
			delivery, err = h.mailer.Send(r.Context(), mailer.VerificationEmail(user.Email, user.Name, verifyURL))
		}
	}
	if err != nil {
		h.requestLogger(r).WithField("event", "verification_email_failed").WithError(err).Error("Unable to send verification email")
		writeError(w, http.StatusServiceUnavailable, "Unable to send verification email right now. Please try again later.")
		return
	}

	if !delivery.Delivered {
		if h.cfg.IsProduction() {
			writeError(w, http.StatusServiceUnavailable, emailServiceDownMsg)
			return
		}
		writeMessage(w, http.StatusOK, resendVerifyMessage, map[string]string{
			"verifyUrl": verifyURL,
			"note":      localDeliveryNoteVerif,
		})
		return
	}
	writeMessage(w, http.StatusOK, resendVerifyMessage, nil)
}
