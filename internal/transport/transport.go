// Package transport defines the interface for email delivery backends.
package transport

import (
	"context"
	"errors"

	"github.com/shineum/contact-form-lite/internal/email"
)

var (
	// ErrMissingCredentials is returned at construction time when no
	// credential source resolves.
	ErrMissingCredentials = errors.New("missing transport credentials")

	// ErrAuthentication is returned when the remote side rejects the credentials.
	ErrAuthentication = errors.New("transport authentication failed")

	// ErrDelivery is returned for any other delivery failure.
	ErrDelivery = errors.New("delivery failed")
)

// Transport is the interface that email delivery backends must implement.
// Each transport hands a composed envelope to the target service (an SMTP
// relay, AWS SES, Microsoft Graph, a local mailbox, etc.).
type Transport interface {
	// Deliver sends the envelope exactly once. It never retries and returns
	// an error wrapping ErrAuthentication or ErrDelivery on failure.
	Deliver(ctx context.Context, env *email.Envelope) error

	// Name returns the human-readable name of this transport.
	Name() string
}

// LookupEnv resolves configuration values from the process environment.
// Transports accept one so tests can supply their own.
type LookupEnv func(key string) (string, bool)

// FirstNonEmpty returns explicit when set, otherwise the first non-empty
// environment variable among keys.
func FirstNonEmpty(lookup LookupEnv, explicit string, keys ...string) string {
	if explicit != "" {
		return explicit
	}
	if lookup == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}
