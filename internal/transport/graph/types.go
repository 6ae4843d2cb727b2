package graph

import (
	"encoding/base64"

	"github.com/shineum/contact-form-lite/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string            `json:"subject"`
	Body         messageBody       `json:"body"`
	ToRecipients []recipient       `json:"toRecipients"`
	ReplyTo      []recipient       `json:"replyTo,omitempty"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// newRecipient splits a header address into Graph's name/address pair.
// Values that do not parse are passed through as the address.
func newRecipient(header string) recipient {
	name, addr, err := email.ParseAddress(header)
	if err != nil {
		return recipient{EmailAddress: emailAddress{Address: header}}
	}
	return recipient{EmailAddress: emailAddress{Name: name, Address: addr}}
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an envelope into a sendMail request body.
// Graph accepts a single body, so the HTML rendering wins when present.
func buildSendMailRequest(env *email.Envelope) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     env.TextBody,
	}
	if env.HTMLBody != "" {
		body.ContentType = "html"
		body.Content = env.HTMLBody
	}

	msg := sendMailMessage{
		Subject:      env.Subject,
		Body:         body,
		ToRecipients: []recipient{newRecipient(env.To)},
	}
	if env.ReplyTo != "" {
		msg.ReplyTo = []recipient{newRecipient(env.ReplyTo)}
	}
	if att := env.Attachment; att != nil {
		msg.Attachments = []graphAttachment{{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		}}
	}

	return &sendMailRequest{Message: msg}
}
