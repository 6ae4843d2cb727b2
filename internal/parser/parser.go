// Package parser turns HTTP contact submissions into ordered fields and an
// optional file attachment. JSON objects, urlencoded bodies and multipart
// forms are supported; field order always follows the request body.
package parser

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/form"
)

// FilePart is the multipart part name carrying the optional attachment.
const FilePart = "file"

// ErrMalformed is returned when the body cannot be decoded.
var ErrMalformed = errors.New("malformed submission")

// Mode is the submission mode, which decides how the handler responds.
type Mode int

const (
	// ModeForm is an urlencoded or multipart browser form post.
	ModeForm Mode = iota
	// ModeJSON is a structured JSON submission.
	ModeJSON
)

func (m Mode) String() string {
	if m == ModeJSON {
		return "json"
	}
	return "form"
}

// Submission is a parsed request body.
type Submission struct {
	Mode   Mode
	Fields form.Fields
	File   *email.Attachment
}

// Parse reads the request body according to its Content-Type.
// Errors from the underlying body reader (such as *http.MaxBytesError) are
// wrapped, so callers can inspect them with errors.As.
func Parse(r *http.Request) (*Submission, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-www-form-urlencoded"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid content type %q", ErrMalformed, contentType)
	}

	switch {
	case isJSON(mediaType):
		fields, err := parseJSON(r.Body)
		if err != nil {
			return nil, err
		}
		return &Submission{Mode: ModeJSON, Fields: fields}, nil

	case mediaType == "application/x-www-form-urlencoded":
		fields, err := parseURLEncoded(r.Body)
		if err != nil {
			return nil, err
		}
		return &Submission{Mode: ModeForm, Fields: fields}, nil

	case mediaType == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: multipart body missing boundary", ErrMalformed)
		}
		return parseMultipart(r.Body, boundary)

	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformed, mediaType)
	}
}

// DetectMode guesses the submission mode from a Content-Type header without
// reading the body.
func DetectMode(contentType string) Mode {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && isJSON(mediaType) {
		return ModeJSON
	}
	return ModeForm
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// parseJSON decodes a top-level JSON object, keeping key order. String values
// are used as-is, null becomes the empty string, and any other value keeps its
// compact JSON text.
func parseJSON(body io.Reader) (form.Fields, error) {
	var fields form.Fields
	dec := json.NewDecoder(body)

	tok, err := dec.Token()
	if err != nil {
		return fields, wrapReadError(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fields, fmt.Errorf("%w: JSON body must be an object", ErrMalformed)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fields, wrapReadError(err)
		}
		key, ok := tok.(string)
		if !ok {
			return fields, fmt.Errorf("%w: unexpected JSON token %v", ErrMalformed, tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fields, wrapReadError(err)
		}
		value, err := jsonValue(raw)
		if err != nil {
			return fields, err
		}
		fields.Add(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fields, wrapReadError(err)
	}
	return fields, nil
}

func jsonValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return "", nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return s, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return buf.String(), nil
	}
}

// parseURLEncoded decodes an application/x-www-form-urlencoded body in order.
// url.ParseQuery is not used because it discards pair order.
func parseURLEncoded(body io.Reader) (form.Fields, error) {
	var fields form.Fields

	data, err := io.ReadAll(body)
	if err != nil {
		return fields, wrapReadError(err)
	}

	for _, pair := range strings.Split(string(data), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return fields, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return fields, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		fields.Add(key, value)
	}
	return fields, nil
}

// parseMultipart walks a multipart/form-data body part by part. The first
// file part named "file" becomes the attachment; other file parts are skipped.
func parseMultipart(body io.Reader, boundary string) (*Submission, error) {
	sub := &Submission{Mode: ModeForm}
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadError(err)
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}

		content, err := readPartContent(part)
		if err != nil {
			return nil, err
		}

		if part.FileName() == "" {
			sub.Fields.Add(name, string(content))
			continue
		}

		if name != FilePart || sub.File != nil {
			slog.Debug("ignoring unexpected file part",
				"part", name,
				"filename", part.FileName(),
			)
			continue
		}

		sub.File = &email.Attachment{
			Filename:    part.FileName(),
			ContentType: partContentType(part),
			Content:     content,
		}
	}

	return sub, nil
}

// readPartContent reads the full content of a part, honoring a base64
// Content-Transfer-Encoding that some non-browser clients send.
func readPartContent(part *multipart.Part) ([]byte, error) {
	defer part.Close()

	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, wrapReadError(err)
	}

	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode base64 part: %v", ErrMalformed, err)
		}
	}
	return decoded, nil
}

// partContentType returns the part's media type, or "" when the client sent
// none or only the generic octet-stream type.
func partContentType(part *multipart.Part) string {
	mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}

// wrapReadError keeps body-limit errors inspectable and classifies everything
// else as a malformed submission.
func wrapReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
