package mailer

import (
	"fmt"
	"net/url"
	"strings"
)

func BuildResetURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/reset-password/" + url.PathEscape(token)
}

func BuildVerifyURL(base, token string) string {
	return strings.TrimRight(base, "/") + "/verify-email/" + url.PathEscape(token)
}

func SignupOTPEmail(to, name, code string, validFor int) Email {
	return Email{
		To:      to,
		Subject: "Your LexaChat verification code",
		Text: strings.Join([]string{
			fmt.Sprintf("Hi %s,", displayName(name)),
			"",
			fmt.Sprintf("Your LexaChat verification code is: %s", code),
			"",
			fmt.Sprintf("This code expires in %d minutes.", validFor),
			"If you did not request this, you can ignore this email.",
		}, "\n"),
	}
}

func PasswordResetEmail(to, name, resetURL string) Email {
	return Email{
		To:      to,
		Subject: "Reset your LexaChat password",
		Text: strings.Join([]string{
			fmt.Sprintf("Hi %s,", displayName(name)),
			"",
			"You requested a password reset for your LexaChat account.",
			"Reset link: " + resetURL,
			"",
			"This link expires in 15 minutes.",
			"If you did not request this, you can ignore this email.",
		}, "\n"),
	}
}

func VerificationEmail(to, name, verifyURL string) Email {
	return Email{
		To:      to,
		Subject: "Verify your LexaChat email",
		Text: strings.Join([]string{
			fmt.Sprintf("Hi %s,", displayName(name)),
			"",
			"Please verify the email address for your LexaChat account.",
			"Verification link: " + verifyURL,
			"",
			"This link expires in 24 hours.",
			"If you did not create an account, you can ignore this email.",
		}, "\n"),
	}
}
