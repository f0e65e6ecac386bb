package httpapi

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return hasDigit(fl.Field().String()) && hasUpper(fl.Field().String())
	})
	return requestValidator{validate: v}
}

// Check returns a 400 AppError carrying the message of the first failing rule.
func (rv requestValidator) Check(target any) error {
	err := rv.validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return newAppError(http.StatusBadRequest, "Validation failed")
	}
	return newAppError(http.StatusBadRequest, validationMessage(fieldErrs[0]))
}

func validationMessage(fe validator.FieldError) string {
	value, _ := fe.Value().(string)

	switch fe.Field() {
	case "name":
		if fe.Tag() == "required" {
			return "Name is required"
		}
		if fe.Tag() == "max" && fe.Param() == "100" {
			return "Name must be at most 100 characters"
		}
		return "Name must be between 2 and 50 characters"
	case "email":
		return "Please provide a valid email"
	case "password":
		return passwordMessage("Password", fe.Tag(), value)
	case "newPassword":
		return passwordMessage("New password", fe.Tag(), value)
	case "currentPassword":
		return "Current password is required"
	case "otp":
		return "Please provide the 6-digit OTP"
	case "idToken":
		return "idToken is required"
	case "sessionId":
		return "sessionId is required"
	case "messages":
		return "messages must be an array"
	case "text":
		return "Message text is required"
	case "sender":
		return "Message sender must be user or ai"
	case "theme", "defaultMode":
		return fe.Field() + " must be at most 20 characters"
	}
	return fe.Field() + " is invalid"
}

func passwordMessage(label, tag, value string) string {
	switch tag {
	case "required":
		return label + " is required"
	case "min":
		return label + " must be at least 6 characters"
	case "strongpassword":
		if !hasDigit(value) {
			return label + " must contain at least one number"
		}
		return label + " must contain at least one uppercase letter"
	}
	return label + " is invalid"
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

func hasUpper(s string) bool {
	return strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
}
