package parser

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"slices"
	"strings"
	"testing"
)

func collect(t *testing.T, sub *Submission) [][2]string {
	t.Helper()
	var out [][2]string
	for k, v := range sub.Fields.All() {
		out = append(out, [2]string{k, v})
	}
	return out
}

func TestParseJSON_KeepsOrder(t *testing.T) {
	t.Parallel()

	body := `{"name": "David", "email": "d@example.com", "age": 42, "ok": true, "tags": ["a", "b"], "nothing": null}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	sub, err := Parse(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Mode != ModeJSON {
		t.Errorf("Mode: got %v, want json", sub.Mode)
	}

	want := [][2]string{
		{"name", "David"},
		{"email", "d@example.com"},
		{"age", "42"},
		{"ok", "true"},
		{"tags", `["a","b"]`},
		{"nothing", ""},
	}
	if got := collect(t, sub); !slices.Equal(got, want) {
		t.Errorf("fields: got %v, want %v", got, want)
	}
}

func TestParseJSON_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "array", body: `["a"]`},
		{name: "truncated", body: `{"a": "b"`},
		{name: "garbage", body: `not json`},
		{name: "empty", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			_, err := Parse(req)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseURLEncoded_KeepsOrder(t *testing.T) {
	t.Parallel()

	body := "message=Hello+there%21&email=a%40b.com&redirect_uri=http%3A%2F%2Fexample.com%2Fthanks&empty="
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	sub, err := Parse(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Mode != ModeForm {
		t.Errorf("Mode: got %v, want form", sub.Mode)
	}

	want := [][2]string{
		{"message", "Hello there!"},
		{"email", "a@b.com"},
		{"redirect_uri", "http://example.com/thanks"},
		{"empty", ""},
	}
	if got := collect(t, sub); !slices.Equal(got, want) {
		t.Errorf("fields: got %v, want %v", got, want)
	}
}

func TestParseURLEncoded_NoContentType(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=1"))
	req.Header.Del("Content-Type")

	sub, err := Parse(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := sub.Fields.Get("a"); v != "1" {
		t.Errorf("a: got %q, want %q", v, "1")
	}
}

func TestParseURLEncoded_BadEscape(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, err := Parse(req); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParseMultipart_WithFile(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("email", "a@b.com")
	mw.WriteField("message", "see attached")

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="resume.pdf"`)
	h.Set("Content-Type", "application/pdf")
	fw, _ := mw.CreatePart(h)
	fw.Write([]byte("%PDF-1.4"))

	other, _ := mw.CreateFormFile("photo", "me.png")
	other.Write([]byte("png"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	sub, err := Parse(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][2]string{{"email", "a@b.com"}, {"message", "see attached"}}
	if got := collect(t, sub); !slices.Equal(got, want) {
		t.Errorf("fields: got %v, want %v", got, want)
	}
	if sub.File == nil {
		t.Fatal("expected a file, got nil")
	}
	if sub.File.Filename != "resume.pdf" {
		t.Errorf("Filename: got %q, want %q", sub.File.Filename, "resume.pdf")
	}
	if sub.File.ContentType != "application/pdf" {
		t.Errorf("ContentType: got %q, want %q", sub.File.ContentType, "application/pdf")
	}
	if string(sub.File.Content) != "%PDF-1.4" {
		t.Errorf("Content: got %q", sub.File.Content)
	}
}

func TestParseMultipart_Base64Part(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="hello.txt"`)
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Transfer-Encoding", "base64")
	fw, _ := mw.CreatePart(h)
	fw.Write([]byte("SGVsbG8gV29ybGQ="))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	sub, err := Parse(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.File == nil || string(sub.File.Content) != "Hello World" {
		t.Fatalf("File: got %+v, want decoded content", sub.File)
	}
	if sub.File.ContentType != "" {
		t.Errorf("octet-stream should be cleared, got %q", sub.File.ContentType)
	}
}

func TestParseMultipart_MissingBoundary(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data")

	if _, err := Parse(req); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParse_UnsupportedContentType(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")

	if _, err := Parse(req); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestParse_BodyTooLarge(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("message="+strings.Repeat("x", 100)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Body = http.MaxBytesReader(rec, req.Body, 10)

	_, err := Parse(req)
	var maxErr *http.MaxBytesError
	if !errors.As(err, &maxErr) {
		t.Errorf("expected MaxBytesError, got %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Error("body limit errors should not be reported as malformed")
	}
}

func TestDetectMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		want        Mode
	}{
		{"application/json", ModeJSON},
		{"application/json; charset=utf-8", ModeJSON},
		{"application/vnd.api+json", ModeJSON},
		{"application/x-www-form-urlencoded", ModeForm},
		{"multipart/form-data; boundary=x", ModeForm},
		{"", ModeForm},
		{"not a media type;;", ModeForm},
	}
	for _, tt := range tests {
		if got := DetectMode(tt.contentType); got != tt.want {
			t.Errorf("DetectMode(%q): got %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
