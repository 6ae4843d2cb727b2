// Package handler implements the contact form HTTP endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/contact-form-lite/internal/allowlist"
	"github.com/shineum/contact-form-lite/internal/format"
	"github.com/shineum/contact-form-lite/internal/metrics"
	"github.com/shineum/contact-form-lite/internal/parser"
	"github.com/shineum/contact-form-lite/internal/subject"
	"github.com/shineum/contact-form-lite/internal/transport"
)

// RedirectField is the reserved field naming where to send the browser
// after a form post. It never reaches the message body.
const RedirectField = "redirect_uri"

// RequestIDHeader carries the per-request id back to the client.
const RequestIDHeader = "X-Request-Id"

// Config holds everything one form endpoint needs. It is read-only once
// the handler is built.
type Config struct {
	// Form names the endpoint in logs and metrics.
	Form      string
	Formatter *format.Formatter
	Transport transport.Transport
	// Origins lists the hosts a form post may redirect to. Nil allows any.
	Origins        *allowlist.List
	MaxRequestSize int64
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
}

// Handler serves submissions for one form.
type Handler struct {
	cfg     Config
	origins allowlist.List
	logger  *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	origins := allowlist.All()
	if cfg.Origins != nil {
		origins = *cfg.Origins
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Metrics.Init(cfg.Form)
	return &Handler{cfg: cfg, origins: origins, logger: logger}
}

// result is what a successful submission answers with.
type result struct {
	mode   parser.Mode
	target string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set(RequestIDHeader, requestID)
	logger := h.logger.With("request_id", requestID, "form", h.cfg.Form)

	mode := parser.DetectMode(r.Header.Get("Content-Type"))

	res, err := h.handle(w, r, logger)
	if err != nil {
		status := statusOf(err)
		h.cfg.Metrics.Submission(h.cfg.Form, outcomeOf(err))
		if status >= 500 {
			logger.Error("submission failed", "status", status, "error", err)
		} else {
			logger.Info("submission rejected", "status", status, "error", err)
		}
		writeError(w, mode, status)
		return
	}

	h.cfg.Metrics.Submission(h.cfg.Form, metrics.OutcomeSent)
	if res.mode == parser.ModeJSON {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	http.Redirect(w, r, res.target, http.StatusFound)
}

// handle runs one submission from parsing to delivery.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*result, error) {
	if h.cfg.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	}

	sub, err := parser.Parse(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, maxErr.Limit)
		}
		return nil, invalid(err.Error())
	}

	logger.Debug("submission parsed",
		"mode", sub.Mode.String(),
		"fields", slices.Collect(sub.Fields.Names()),
		"file", sub.File != nil,
	)

	target, ok := sub.Fields.Pop(RedirectField)
	if !ok {
		target = r.Referer()
	}

	if h.cfg.Formatter.IsHoneypot(sub.Fields) {
		return nil, ErrHoneypot
	}

	if sub.Mode == parser.ModeForm {
		domain, ok := DomainOf(target)
		if !ok {
			return nil, invalid("no redirect target")
		}
		if !h.origins.Contains(domain) {
			return nil, unauthorized(fmt.Sprintf("redirect origin %q not allowed", domain))
		}
	}

	env, err := h.cfg.Formatter.Compose(sub.Fields, sub.File)
	if err != nil {
		var missing *subject.MissingFieldError
		if errors.As(err, &missing) {
			return nil, invalid(err.Error())
		}
		return nil, fmt.Errorf("failed to compose message: %w", err)
	}

	start := time.Now()
	err = h.cfg.Transport.Deliver(r.Context(), env)
	h.cfg.Metrics.Delivery(h.cfg.Transport.Name(), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to deliver via %s: %w", h.cfg.Transport.Name(), err)
	}

	logger.Info("message delivered",
		"transport", h.cfg.Transport.Name(),
		"message_id", env.MessageID,
		"mode", sub.Mode.String(),
		"attachment", env.Attachment != nil,
	)
	return &result{mode: sub.Mode, target: target}, nil
}

func outcomeOf(err error) metrics.Outcome {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrHoneypot):
		return metrics.OutcomeHoneypot
	case errors.Is(err, ErrPayloadTooLarge):
		return metrics.OutcomeTooLarge
	case errors.As(err, &verr) && verr.Status == http.StatusUnauthorized:
		return metrics.OutcomeUnauthorized
	case errors.As(err, &verr):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}

func writeError(w http.ResponseWriter, mode parser.Mode, status int) {
	msg := publicMessages[status]
	if mode == parser.ModeJSON {
		writeJSON(w, status, map[string]any{"success": false, "error": msg})
		return
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
