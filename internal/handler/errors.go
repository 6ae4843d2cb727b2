package handler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrHoneypot is returned when the honeypot field was filled in. It is
// answered exactly like any other invalid submission.
var ErrHoneypot = errors.New("honeypot field filled")

// ErrPayloadTooLarge is returned when the body exceeds the configured limit.
var ErrPayloadTooLarge = errors.New("request body too large")

// ValidationError rejects a submission with a client error status.
type ValidationError struct {
	Status int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Status, e.Reason)
}

func invalid(reason string) *ValidationError {
	return &ValidationError{Status: http.StatusBadRequest, Reason: reason}
}

func unauthorized(reason string) *ValidationError {
	return &ValidationError{Status: http.StatusUnauthorized, Reason: reason}
}

// publicMessages are the only error texts a client ever sees. Every 400 shares
// one message so a honeypot rejection cannot be told apart from the others.
var publicMessages = map[int]string{
	http.StatusBadRequest:            "invalid submission",
	http.StatusUnauthorized:          "redirect origin not allowed",
	http.StatusRequestEntityTooLarge: "request too large",
	http.StatusBadGateway:            "message could not be delivered",
}

// statusOf maps a handler error to the response status.
func statusOf(err error) int {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrHoneypot):
		return http.StatusBadRequest
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr):
		return verr.Status
	default:
		return http.StatusBadGateway
	}
}
