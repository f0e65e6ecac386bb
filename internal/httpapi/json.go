package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const (
	maxBodyBytes       = 1 << 20
	invalidJSONBodyMsg = "Invalid JSON body"
)

var (
	errBodyRequired = errors.New("request body is required")
	errTrailingJSON = errors.New("request body must contain a single JSON object")
)

// AppError carries the status and client message for a failed request.
type AppError struct {
	Status  int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(status int, message string) *AppError {
	return &AppError{Status: status, Message: message}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Data    any    `json:"data"`
}

// decodeJSON reads a single JSON object. Unknown fields are ignored since
// clients post whole objects back.
func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if decoder.More() {
		return errTrailingJSON
	}
	return nil
}

// decodeBody wraps decodeJSON for handlers. Decoder details stay in the log.
func (h Handler) decodeBody(r *http.Request, target any) error {
	err := decodeJSON(r, target)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBodyRequired), errors.Is(err, errTrailingJSON):
		return newAppError(http.StatusBadRequest, err.Error())
	}
	h.requestLogger(r).WithField("event", "invalid_json_body").WithError(err).Debug("Rejected request body")
	return newAppError(http.StatusBadRequest, invalidJSONBodyMsg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataResponse{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, messageResponse{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// respondError is the single exit for failures. Errors without an AppError
// become a 500 and are logged with the request id.
func (h Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Status == 0 {
			appErr.Status = http.StatusInternalServerError
		}
		writeError(w, appErr.Status, appErr.Message)
		return
	}

	h.requestLogger(r).WithFields(log.Fields{
		"event": "request_failed",
	}).WithError(err).Error("Unhandled request error")
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}
