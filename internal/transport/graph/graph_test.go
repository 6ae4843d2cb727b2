package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

func TestBuildSendMailRequest_TextBody(t *testing.T) {
	t.Parallel()

	env := &email.Envelope{
		From:     "sender@example.com",
		To:       "owner@example.com",
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	}

	req := buildSendMailRequest(env)

	if req.Message.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", req.Message.Subject, "Test Subject")
	}
	if req.Message.Body.ContentType != "text" {
		t.Errorf("Body.ContentType: got %q, want %q", req.Message.Body.ContentType, "text")
	}
	if req.Message.Body.Content != "Hello, World!" {
		t.Errorf("Body.Content: got %q, want %q", req.Message.Body.Content, "Hello, World!")
	}
	if len(req.Message.ToRecipients) != 1 || req.Message.ToRecipients[0].EmailAddress.Address != "owner@example.com" {
		t.Errorf("ToRecipients: got %+v", req.Message.ToRecipients)
	}
	if req.Message.ReplyTo != nil {
		t.Errorf("ReplyTo: got %+v, want none", req.Message.ReplyTo)
	}
	if req.Message.Attachments != nil {
		t.Errorf("Attachments: got %d, want none", len(req.Message.Attachments))
	}
}

func TestBuildSendMailRequest_HTMLAndReplyTo(t *testing.T) {
	t.Parallel()

	env := &email.Envelope{
		To:       "owner@example.com",
		ReplyTo:  "visitor@example.org",
		Subject:  "HTML Email",
		TextBody: "Plain text",
		HTMLBody: "<p>HTML content</p>",
	}

	req := buildSendMailRequest(env)

	if req.Message.Body.ContentType != "html" {
		t.Errorf("Body.ContentType: got %q, want %q", req.Message.Body.ContentType, "html")
	}
	if req.Message.Body.Content != "<p>HTML content</p>" {
		t.Errorf("Body.Content: got %q", req.Message.Body.Content)
	}
	if len(req.Message.ReplyTo) != 1 || req.Message.ReplyTo[0].EmailAddress.Address != "visitor@example.org" {
		t.Errorf("ReplyTo: got %+v", req.Message.ReplyTo)
	}
}

func TestBuildSendMailRequest_WithAttachment(t *testing.T) {
	t.Parallel()

	env := &email.Envelope{
		To:       "owner@example.com",
		Subject:  "With Attachment",
		TextBody: "See attached",
		Attachment: &email.Attachment{
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Content:     []byte("pdf-content"),
		},
	}

	req := buildSendMailRequest(env)

	if len(req.Message.Attachments) != 1 {
		t.Fatalf("Attachments count: got %d, want 1", len(req.Message.Attachments))
	}

	att := req.Message.Attachments[0]
	if att.ODataType != "#microsoft.graph.fileAttachment" {
		t.Errorf("ODataType: got %q", att.ODataType)
	}
	if att.Name != "report.pdf" {
		t.Errorf("Name: got %q, want %q", att.Name, "report.pdf")
	}
	if att.ContentBytes != "cGRmLWNvbnRlbnQ=" {
		t.Errorf("ContentBytes: got %q", att.ContentBytes)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Parallel()

	env := map[string]string{"GRAPH_TENANT_ID": "tenant"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	_, err := New(Config{LookupEnv: lookup})
	if !errors.Is(err, transport.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if !strings.Contains(err.Error(), "client_secret") {
		t.Errorf("error should name the missing value: %v", err)
	}
}

func TestNew_FromEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"GRAPH_TENANT_ID":     "tenant",
		"GRAPH_CLIENT_ID":     "cid",
		"GRAPH_CLIENT_SECRET": "secret",
		"GRAPH_SENDER":        "noreply@example.com",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	g, err := New(Config{LookupEnv: lookup})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.sender != "noreply@example.com" {
		t.Errorf("sender: got %q", g.sender)
	}
	if !strings.Contains(g.token.tokenURL, "/tenant/oauth2/v2.0/token") {
		t.Errorf("tokenURL: got %q", g.token.tokenURL)
	}
	if g.Name() != "graph" {
		t.Errorf("Name(): got %q", g.Name())
	}
}

// newTestServers starts a token endpoint and a Graph endpoint; graphStatus is
// the answer to every sendMail call.
func newTestServers(t *testing.T, graphStatus int, graphBody string) (tokenSrv, graphSrv *httptest.Server, sends, tokens *atomic.Int32, lastPath *atomic.Value) {
	t.Helper()

	sends = &atomic.Int32{}
	tokens = &atomic.Int32{}
	lastPath = &atomic.Value{}

	tokenSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "tok", ExpiresIn: 3600})
	}))
	t.Cleanup(tokenSrv.Close)

	graphSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
		lastPath.Store(r.URL.Path)
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization: got %q", got)
		}
		var body sendMailRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(graphStatus)
		w.Write([]byte(graphBody))
	}))
	t.Cleanup(graphSrv.Close)

	return tokenSrv, graphSrv, sends, tokens, lastPath
}

func TestDeliver_Success(t *testing.T) {
	t.Parallel()

	tokenSrv, graphSrv, sends, _, lastPath := newTestServers(t, http.StatusAccepted, "")
	g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

	env := &email.Envelope{From: "site@example.com", To: "owner@example.com", Subject: "Hi", TextBody: "x"}
	if err := g.Deliver(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sends.Load() != 1 {
		t.Errorf("send count: got %d, want 1", sends.Load())
	}
	if got := lastPath.Load(); got != "/users/site@example.com/sendMail" {
		t.Errorf("path: got %v", got)
	}
}

func TestDeliver_DisplayNameSender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sender   string
		from     string
		wantPath string
	}{
		{"from header", "", "Contact Form <site@example.com>", "/users/site@example.com/sendMail"},
		{"configured sender", `"Web Team" <web@example.com>`, "site@example.com", "/users/web@example.com/sendMail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tokenSrv, graphSrv, _, _, lastPath := newTestServers(t, http.StatusAccepted, "")
			g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret", Sender: tt.sender}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

			env := &email.Envelope{From: tt.from, To: "Owner <owner@example.com>", Subject: "Hi", TextBody: "x"}
			if err := g.Deliver(context.Background(), env); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := lastPath.Load(); got != tt.wantPath {
				t.Errorf("path: got %v, want %s", got, tt.wantPath)
			}
		})
	}
}

func TestDeliver_UnparsableSender(t *testing.T) {
	t.Parallel()

	tokenSrv, graphSrv, sends, _, _ := newTestServers(t, http.StatusAccepted, "")
	g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

	env := &email.Envelope{From: "Contact <site@example.com", To: "owner@example.com", TextBody: "x"}
	if err := g.Deliver(context.Background(), env); !errors.Is(err, transport.ErrDelivery) {
		t.Fatalf("error: got %v, want ErrDelivery", err)
	}
	if sends.Load() != 0 {
		t.Errorf("send count: got %d, want 0", sends.Load())
	}
}

func TestBuildSendMailRequest_DisplayNames(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(&email.Envelope{
		To:      "Site Owner <owner@example.com>",
		ReplyTo: "visitor@example.org",
	})

	to := req.Message.ToRecipients[0].EmailAddress
	if to.Name != "Site Owner" || to.Address != "owner@example.com" {
		t.Errorf("ToRecipients: got %+v", to)
	}
	if got := req.Message.ReplyTo[0].EmailAddress; got.Name != "" || got.Address != "visitor@example.org" {
		t.Errorf("ReplyTo: got %+v", got)
	}
}

func TestDeliver_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`, wantErr: transport.ErrAuthentication},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":{"code":"ErrorAccessDenied","message":"denied"}}`, wantErr: transport.ErrAuthentication},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"code":"ErrorInvalidRecipients","message":"bad"}}`, wantErr: transport.ErrDelivery},
		{name: "throttled", status: http.StatusTooManyRequests, body: "", wantErr: transport.ErrDelivery},
		{name: "server error", status: http.StatusServiceUnavailable, body: "down", wantErr: transport.ErrDelivery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tokenSrv, graphSrv, sends, _, _ := newTestServers(t, tt.status, tt.body)
			g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret", Sender: "noreply@example.com"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

			err := g.Deliver(context.Background(), &email.Envelope{To: "owner@example.com"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error: got %v, want %v", err, tt.wantErr)
			}
			var se *sendError
			if !errors.As(err, &se) || se.statusCode != tt.status {
				t.Errorf("expected *sendError with status %d, got %v", tt.status, err)
			}
			if sends.Load() != 1 {
				t.Errorf("send count: got %d, want exactly 1", sends.Load())
			}
		})
	}
}

func TestDeliver_UnauthorizedDropsCachedToken(t *testing.T) {
	t.Parallel()

	tokenSrv, graphSrv, _, tokens, _ := newTestServers(t, http.StatusUnauthorized, "")
	g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret", Sender: "a@example.com"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

	for range 2 {
		_ = g.Deliver(context.Background(), &email.Envelope{To: "b@example.com"})
	}

	if tokens.Load() != 2 {
		t.Errorf("token fetches: got %d, want 2", tokens.Load())
	}
}

func TestDeliver_TokenRejected(t *testing.T) {
	t.Parallel()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokenSrv.Close()

	var sends atomic.Int32
	graphSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends.Add(1)
	}))
	defer graphSrv.Close()

	g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "wrong", Sender: "a@example.com"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

	err := g.Deliver(context.Background(), &email.Envelope{To: "b@example.com"})
	if !errors.Is(err, transport.ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
	if sends.Load() != 0 {
		t.Errorf("sendMail must not be called without a token, got %d calls", sends.Load())
	}
}

func TestDeliver_ContextCancelled(t *testing.T) {
	t.Parallel()

	tokenSrv, graphSrv, _, _, _ := newTestServers(t, http.StatusAccepted, "")
	g := newWithOverrides(Config{ClientID: "cid", ClientSecret: "secret", Sender: "a@example.com"}, graphSrv.URL, tokenSrv.URL, graphSrv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Deliver(ctx, &email.Envelope{To: "b@example.com"})
	if !errors.Is(err, transport.ErrDelivery) {
		t.Errorf("expected ErrDelivery, got %v", err)
	}
}
