package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

var (
	ErrUnverifiedEmail     = errors.New("google account email is not verified")
	ErrGoogleNotConfigured = errors.New("google sign-in is not configured")
)

type GoogleIdentity struct {
	GoogleSubject string
	Email         string
	Name          string
}

type validateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

type Verifier struct {
	clientID string
	validate validateFunc
}

func NewVerifier(clientID string) Verifier {
	return Verifier{clientID: strings.TrimSpace(clientID), validate: idtoken.Validate}
}

func (v Verifier) Verify(ctx context.Context, idToken string) (GoogleIdentity, error) {
	if strings.TrimSpace(idToken) == "" {
		return GoogleIdentity{}, errors.New("id token is required")
	}
	if v.clientID == "" {
		return GoogleIdentity{}, ErrGoogleNotConfigured
	}

	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		return GoogleIdentity{}, fmt.Errorf("validate id token: %w", err)
	}

	email, _ := payload.Claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return GoogleIdentity{}, errors.New("google token missing email claim")
	}

	emailVerified, _ := payload.Claims["email_verified"].(bool)
	if !emailVerified {
		return GoogleIdentity{}, ErrUnverifiedEmail
	}

	name, _ := payload.Claims["name"].(string)

	return GoogleIdentity{
		GoogleSubject: payload.Subject,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		Name:          strings.TrimSpace(name),
	}, nil
}
