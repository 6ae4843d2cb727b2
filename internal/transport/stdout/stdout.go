// Package stdout implements a Transport that prints envelopes for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

const separator = "========================================\n"

// Transport prints envelopes in a human-readable format.
type Transport struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Transport that writes to os.Stdout.
func New() *Transport {
	return &Transport{writer: os.Stdout}
}

// NewWithWriter creates a Transport that writes to w.
func NewWithWriter(w io.Writer) *Transport {
	return &Transport{writer: w}
}

// Deliver prints the envelope as a single write.
func (p *Transport) Deliver(_ context.Context, env *email.Envelope) error {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", env.From)
	fmt.Fprintf(&b, "To: %s\n", env.To)
	if env.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", env.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	if env.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", env.MessageID)
	}
	b.WriteString("Body:\n")
	b.WriteString(env.TextBody + "\n")

	if att := env.Attachment; att != nil {
		fmt.Fprintf(&b, "Attachment: %s (%s, %s)\n", att.Filename, att.ContentType, formatSize(len(att.Content)))
	}

	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: %w: %v", transport.ErrDelivery, err)
	}
	return nil
}

// Name returns the transport name.
func (p *Transport) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
