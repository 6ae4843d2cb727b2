package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"

	"gopkg.in/gomail.v2"
)

// Message converts the envelope into a gomail message.
func (e *Envelope) Message() *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	m.SetHeader("From", e.From)
	m.SetHeader("To", e.To)
	if e.ReplyTo != "" {
		m.SetHeader("Reply-To", e.ReplyTo)
	}
	m.SetHeader("Subject", e.Subject)
	if e.MessageID != "" {
		m.SetHeader("Message-ID", e.MessageID)
	}
	if !e.Date.IsZero() {
		m.SetDateHeader("Date", e.Date)
	}

	m.SetBody("text/plain", e.TextBody)
	if e.HTMLBody != "" {
		m.AddAlternative("text/html", e.HTMLBody)
	}

	if att := e.Attachment; att != nil {
		content := att.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if ct := attachmentContentType(att); ct != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {ct},
			}))
		}
		m.Attach(att.Filename, settings...)
	}

	return m
}

// attachmentContentType returns the declared media type with a name
// parameter, or "" to keep the type guessed from the file extension.
func attachmentContentType(att *Attachment) string {
	if att.ContentType == "" {
		return ""
	}
	mediaType, params, err := mime.ParseMediaType(att.ContentType)
	if err != nil {
		return ""
	}
	params["name"] = att.Filename
	return mime.FormatMediaType(mediaType, params)
}

// Raw renders the envelope as an RFC 5322 MIME message.
func (e *Envelope) Raw() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.Message().WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}
