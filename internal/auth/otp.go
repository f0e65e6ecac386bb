package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	SignupOTPTTL         = 10 * time.Minute
	VerifiedSignupWindow = 15 * time.Minute
	MaxOTPAttempts       = 5

	otpIssuer = "LexaChat"
)

var signupOTPOpts = totp.ValidateOpts{
	Period:    uint(SignupOTPTTL / time.Second),
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// SignupOTP is a one-time code and the secret it was derived from.
// Only the secret is stored; the code is mailed.
type SignupOTP struct {
	Secret string
	Code   string
}

func NewSignupOTP(email string, now time.Time) (SignupOTP, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      otpIssuer,
		AccountName: strings.ToLower(strings.TrimSpace(email)),
		Period:      signupOTPOpts.Period,
		Digits:      signupOTPOpts.Digits,
		Algorithm:   signupOTPOpts.Algorithm,
	})
	if err != nil {
		return SignupOTP{}, fmt.Errorf("generate otp secret: %w", err)
	}

	code, err := totp.GenerateCodeCustom(key.Secret(), now, signupOTPOpts)
	if err != nil {
		return SignupOTP{}, fmt.Errorf("generate otp code: %w", err)
	}
	return SignupOTP{Secret: key.Secret(), Code: code}, nil
}

// ValidateSignupOTP checks a mailed code. Expiry is enforced by the caller
// against the stored deadline; the TOTP window only has to cover it.
func ValidateSignupOTP(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != signupOTPOpts.Digits.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, signupOTPOpts)
	return err == nil && ok
}
