// Package smtp implements a Transport that relays envelopes through an SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

// Security selects how the connection to the relay is protected.
type Security string

const (
	// SecurityStartTLS upgrades a plain connection with STARTTLS.
	SecurityStartTLS Security = "starttls"
	// SecurityTLS dials straight into TLS (SMTPS).
	SecurityTLS Security = "tls"
	// SecurityNone sends everything in the clear.
	SecurityNone Security = "none"
)

const defaultTimeout = 30 * time.Second

// ParseSecurity validates a security mode. Empty means STARTTLS.
func ParseSecurity(s string) (Security, error) {
	switch Security(s) {
	case "":
		return SecurityStartTLS, nil
	case SecurityStartTLS, SecurityTLS, SecurityNone:
		return Security(s), nil
	default:
		return "", fmt.Errorf("unknown smtp security %q (want starttls, tls or none)", s)
	}
}

// Config holds the configuration for creating a Transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security Security
	Timeout  time.Duration
	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string
	// TLSConfig overrides the client TLS settings.
	TLSConfig *tls.Config
	LookupEnv transport.LookupEnv
}

// Transport opens one SMTP session per delivery.
type Transport struct {
	addr      string
	host      string
	username  string
	password  string
	security  Security
	timeout   time.Duration
	localName string
	tlsConfig *tls.Config
}

// New creates a Transport. Username and password fall back to SMTP_USERNAME
// and SMTP_PASSWORD.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}

	security := cfg.Security
	if security == "" {
		security = SecurityStartTLS
	}
	if _, err := ParseSecurity(string(security)); err != nil {
		return nil, fmt.Errorf("smtp: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		switch security {
		case SecurityTLS:
			port = 465
		case SecurityNone:
			port = 25
		default:
			port = 587
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	localName := cfg.LocalName
	if localName == "" {
		localName = "localhost"
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	return &Transport{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:      cfg.Host,
		username:  transport.FirstNonEmpty(cfg.LookupEnv, cfg.Username, "SMTP_USERNAME"),
		password:  transport.FirstNonEmpty(cfg.LookupEnv, cfg.Password, "SMTP_PASSWORD"),
		security:  security,
		timeout:   timeout,
		localName: localName,
		tlsConfig: tlsConfig,
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

// Deliver renders the envelope and sends it in a single SMTP session.
func (t *Transport) Deliver(ctx context.Context, env *email.Envelope) error {
	raw, err := env.Raw()
	if err != nil {
		return fmt.Errorf("smtp: %w: render message: %v", transport.ErrDelivery, err)
	}

	from, err := email.Address(env.From)
	if err != nil {
		return fmt.Errorf("smtp: %w: sender: %v", transport.ErrDelivery, err)
	}
	to, err := email.Address(env.To)
	if err != nil {
		return fmt.Errorf("smtp: %w: recipient: %v", transport.ErrDelivery, err)
	}

	if err := t.send(ctx, from, to, raw); err != nil {
		slog.Error("SMTP delivery failed",
			"addr", t.addr,
			"message_id", env.MessageID,
			"error", err,
		)
		return err
	}
	return nil
}

func (t *Transport) send(ctx context.Context, from, to string, raw []byte) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp: %w: dial %s: %v", transport.ErrDelivery, t.addr, err)
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	// Cancelling the request aborts the session mid-dialogue.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := gosmtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp: %w: greeting: %v", transport.ErrDelivery, err)
	}
	defer client.Close()

	if err := client.Hello(t.localName); err != nil {
		return deliveryError("EHLO", err)
	}

	if t.security == SecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp: %w: server does not support STARTTLS", transport.ErrDelivery)
		}
		if err := client.StartTLS(t.tlsConfig); err != nil {
			return deliveryError("STARTTLS", err)
		}
	}

	if t.username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return fmt.Errorf("smtp: %w: server does not support AUTH", transport.ErrDelivery)
		}
		if err := client.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
			return authError(err)
		}
	}

	if err := client.Mail(from, &gosmtp.MailOptions{}); err != nil {
		return deliveryError("MAIL", err)
	}
	if err := client.Rcpt(to); err != nil {
		return deliveryError("RCPT", err)
	}

	w, err := client.Data()
	if err != nil {
		return deliveryError("DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		// Leave the data writer open so the terminating dot is never sent.
		return deliveryError("DATA", err)
	}
	if err := w.Close(); err != nil {
		return deliveryError("DATA", err)
	}

	if err := client.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed after accepted message", "addr", t.addr, "error", err)
	}
	return nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: t.timeout}
	if t.security == SecurityTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.tlsConfig}
		return tlsDialer.DialContext(ctx, "tcp", t.addr)
	}
	return dialer.DialContext(ctx, "tcp", t.addr)
}

// isAuthReply reports whether err is an SMTP reply rejecting credentials.
func isAuthReply(err error) bool {
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return false
	}
	return smtpErr.Code == 534 || smtpErr.Code == 535
}

func deliveryError(stage string, err error) error {
	if isAuthReply(err) {
		return fmt.Errorf("smtp: %w: %s: %v", transport.ErrAuthentication, stage, err)
	}
	return fmt.Errorf("smtp: %w: %s: %v", transport.ErrDelivery, stage, err)
}

// authError classifies a failed AUTH exchange. Anything but a network
// failure counts as a credential rejection.
func authError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && !isAuthReply(err) {
		return fmt.Errorf("smtp: %w: AUTH: %v", transport.ErrDelivery, err)
	}
	return fmt.Errorf("smtp: %w: AUTH: %v", transport.ErrAuthentication, err)
}
