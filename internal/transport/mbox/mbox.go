// Package mbox implements a Transport that appends messages to a local mbox file.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

// asctime is the date layout of the "From " separator line.
const asctime = "Mon Jan _2 15:04:05 2006"

// Config holds the configuration for creating a Transport.
type Config struct {
	Path string
	// AgeRecipient, when set, is an X25519 public key ("age1...") every
	// message is encrypted to.
	AgeRecipient string
	LookupEnv    transport.LookupEnv
}

// Transport appends messages to an mbox file.
type Transport struct {
	mu        sync.Mutex
	w         io.WriteCloser
	recipient age.Recipient
	now       func() time.Time
}

// New opens (or creates) the mbox file for appending. The path falls back
// to MBOX_PATH.
func New(cfg Config) (*Transport, error) {
	path := transport.FirstNonEmpty(cfg.LookupEnv, cfg.Path, "MBOX_PATH")
	if path == "" {
		return nil, errors.New("mbox: path is required")
	}

	var recipient age.Recipient
	if key := transport.FirstNonEmpty(cfg.LookupEnv, cfg.AgeRecipient, "MBOX_AGE_RECIPIENT"); key != "" {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("mbox: invalid age recipient: %w", err)
		}
		recipient = r
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("mbox: failed to open %s: %w", path, err)
	}

	return NewWithWriter(f, recipient), nil
}

// NewWithWriter creates a Transport appending to w. recipient may be nil.
func NewWithWriter(w io.WriteCloser, recipient age.Recipient) *Transport {
	return &Transport{w: w, recipient: recipient, now: time.Now}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "mbox"
}

// Deliver appends the envelope as one mbox entry, issued as a single write.
func (t *Transport) Deliver(ctx context.Context, env *email.Envelope) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mbox: %w: %v", transport.ErrDelivery, err)
	}

	raw, err := env.Raw()
	if err != nil {
		return fmt.Errorf("mbox: %w: render message: %v", transport.ErrDelivery, err)
	}

	date := env.Date
	if date.IsZero() {
		date = t.now()
	}

	entry, err := t.entry(env.From, date, raw)
	if err != nil {
		return fmt.Errorf("mbox: %w: %v", transport.ErrDelivery, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(entry); err != nil {
		slog.Error("mbox write failed",
			"message_id", env.MessageID,
			"error", err,
		)
		return fmt.Errorf("mbox: %w: %v", transport.ErrDelivery, err)
	}
	return nil
}

// Close closes the underlying file.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Close()
}

// entry renders the separator line followed by the quoted message, or by
// an armored age block when a recipient is configured.
func (t *Transport) entry(from string, date time.Time, raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From %s %s\n", separatorAddress(from), date.UTC().Format(asctime))

	body := quote(raw)
	if t.recipient == nil {
		buf.Write(body)
		buf.WriteString("\n")
		return buf.Bytes(), nil
	}

	aw := armor.NewWriter(&buf)
	enc, err := age.Encrypt(aw, t.recipient)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := enc.Write(body); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("age armor: %w", err)
	}
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// separatorAddress reduces a From value to a bare token for the separator line.
func separatorAddress(from string) string {
	addr := strings.TrimSpace(from)
	if parsed, err := email.Address(addr); err == nil {
		addr = parsed
	}
	addr = strings.Join(strings.Fields(addr), "_")
	if addr == "" {
		return "MAILER-DAEMON"
	}
	return addr
}

// quote converts CRLF to LF and escapes body lines that would otherwise
// read as a message separator ("From " preceded by any number of '>').
func quote(raw []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(raw) + 64)

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), len(raw)+1)
	for sc.Scan() {
		line := bytes.TrimSuffix(sc.Bytes(), []byte("\r"))
		if bytes.HasPrefix(bytes.TrimLeft(line, ">"), []byte("From ")) {
			out.WriteByte('>')
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
