// Package email defines the outbound message model shared by the formatter and
// the transports.
package email

import "time"

// Envelope is a fully composed outbound message. It is built once per request
// and consumed once by a transport.
type Envelope struct {
	From       string
	To         string
	ReplyTo    string
	Subject    string
	TextBody   string
	HTMLBody   string
	Attachment *Attachment
	MessageID  string
	Date       time.Time
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
