// Package format composes outbound envelopes from submitted fields.
//
// The formatter applies the body allow-list, HTML-escapes user input,
// detects honeypot submissions and filters attachments by extension.
package format

import (
	"fmt"
	"html"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/goware/emailx"
	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/contact-form-lite/internal/allowlist"
	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/form"
	"github.com/shineum/contact-form-lite/internal/subject"
)

// ReplyField is the submitted field used as the Reply-To address.
const ReplyField = "email"

// Config holds the formatter settings. It is read-only once passed to New.
type Config struct {
	From    string
	To      string
	Subject subject.Spec

	// Fields restricts which submitted fields reach the body.
	// nil permits every field.
	Fields *allowlist.List

	Attachments AttachmentPolicy

	// Honeypot names a hidden field that only bots fill in.
	Honeypot string

	// HTML adds a sanitized text/html alternative to the plain body.
	HTML bool
}

// Formatter builds envelopes. It is safe for concurrent use.
type Formatter struct {
	cfg       Config
	fields    allowlist.List
	sanitizer *bluemonday.Policy
	domain    string
	now       func() time.Time
}

// New creates a Formatter.
func New(cfg Config) *Formatter {
	fields := allowlist.All()
	if cfg.Fields != nil {
		fields = *cfg.Fields
	}

	domain := "localhost"
	if addr, err := email.Address(cfg.From); err == nil {
		if _, d, ok := strings.Cut(addr, "@"); ok && d != "" {
			domain = d
		}
	}

	return &Formatter{
		cfg:       cfg,
		fields:    fields,
		sanitizer: bluemonday.UGCPolicy(),
		domain:    domain,
		now:       time.Now,
	}
}

// SubjectFor returns the subject for a submission. Template output is
// HTML-escaped; literal subjects are returned unchanged.
func (f *Formatter) SubjectFor(fields form.Fields) (string, error) {
	spec := f.cfg.Subject
	if !spec.IsSet() {
		return subject.Default, nil
	}
	if lit, ok := spec.LiteralValue(); ok {
		return lit, nil
	}

	s, err := spec.Template().Execute(fields)
	if err != nil {
		return "", err
	}
	return html.EscapeString(s), nil
}

// BodyFor renders the permitted, non-empty fields as "key: value" lines.
// Escaping is applied once to the joined body.
func (f *Formatter) BodyFor(fields form.Fields) string {
	var lines []string
	for k, v := range f.fields.Filter(fields) {
		if v == "" {
			continue
		}
		lines = append(lines, k+": "+v)
	}
	return html.EscapeString(strings.Join(lines, "\n"))
}

// HTMLBodyFor renders the permitted, non-empty fields as an HTML table.
func (f *Formatter) HTMLBodyFor(fields form.Fields) string {
	var b strings.Builder
	b.WriteString("<table>")
	for k, v := range f.fields.Filter(fields) {
		if v == "" {
			continue
		}
		value := strings.ReplaceAll(html.EscapeString(v), "\n", "<br>")
		fmt.Fprintf(&b, "<tr><th>%s</th><td>%s</td></tr>", html.EscapeString(k), value)
	}
	b.WriteString("</table>")
	return f.sanitizer.Sanitize(b.String())
}

// ReplyAddressFor returns the submitted "email" field when it is a
// well-formed address, or "" otherwise.
func (f *Formatter) ReplyAddressFor(fields form.Fields) string {
	v, ok := fields.Get(ReplyField)
	if !ok {
		return ""
	}
	addr := strings.TrimSpace(v)
	if addr == "" || strings.ContainsAny(addr, "\r\n") {
		return ""
	}
	if err := emailx.ValidateFast(addr); err != nil {
		return ""
	}
	return addr
}

// AttachmentFor returns file when the attachment policy permits it.
func (f *Formatter) AttachmentFor(file *email.Attachment) *email.Attachment {
	if file == nil || !f.cfg.Attachments.Permits(file.Filename) {
		return nil
	}
	if file.ContentType != "" {
		return file
	}

	att := *file
	att.ContentType = mime.TypeByExtension("." + Extension(file.Filename))
	if att.ContentType == "" {
		att.ContentType = "application/octet-stream"
	}
	return &att
}

// IsHoneypot reports whether the configured honeypot field was filled in.
func (f *Formatter) IsHoneypot(fields form.Fields) bool {
	if f.cfg.Honeypot == "" {
		return false
	}
	v, ok := fields.Get(f.cfg.Honeypot)
	return ok && v != ""
}

// Compose assembles the envelope for a submission.
func (f *Formatter) Compose(fields form.Fields, file *email.Attachment) (*email.Envelope, error) {
	subj, err := f.SubjectFor(fields)
	if err != nil {
		return nil, err
	}

	env := &email.Envelope{
		From:       f.cfg.From,
		To:         f.cfg.To,
		ReplyTo:    f.ReplyAddressFor(fields),
		Subject:    subj,
		TextBody:   f.BodyFor(fields),
		Attachment: f.AttachmentFor(file),
		MessageID:  fmt.Sprintf("<%s@%s>", uuid.NewString(), f.domain),
		Date:       f.now(),
	}
	if f.cfg.HTML {
		env.HTMLBody = f.HTMLBodyFor(fields)
	}
	return env, nil
}
