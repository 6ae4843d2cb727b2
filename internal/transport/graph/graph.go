// Package graph implements a Transport that sends envelopes via the
// Microsoft Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/transport"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	loginURL        = "https://login.microsoftonline.com"
)

// Config holds the configuration for creating a Transport. Empty fields fall
// back to the GRAPH_* environment variables.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the message is sent as. Defaults to the
	// envelope's From address.
	Sender    string
	LookupEnv transport.LookupEnv
}

// Transport sends envelopes via the Graph sendMail endpoint using OAuth2
// client credentials.
type Transport struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a Transport. Tenant, client id and client secret are required.
func New(cfg Config) (*Transport, error) {
	cfg, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginURL, url.PathEscape(cfg.TenantID))

	return newWithOverrides(cfg, defaultGraphURL, tokenURL, client), nil
}

// newWithOverrides creates a Transport with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Transport {
	return &Transport{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

func resolve(cfg Config) (Config, error) {
	cfg.TenantID = transport.FirstNonEmpty(cfg.LookupEnv, cfg.TenantID, "GRAPH_TENANT_ID")
	cfg.ClientID = transport.FirstNonEmpty(cfg.LookupEnv, cfg.ClientID, "GRAPH_CLIENT_ID")
	cfg.ClientSecret = transport.FirstNonEmpty(cfg.LookupEnv, cfg.ClientSecret, "GRAPH_CLIENT_SECRET")
	cfg.Sender = transport.FirstNonEmpty(cfg.LookupEnv, cfg.Sender, "GRAPH_SENDER")

	var missing []string
	if cfg.TenantID == "" {
		missing = append(missing, "tenant_id")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if cfg.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("graph: %w: %v", transport.ErrMissingCredentials, missing)
	}
	return cfg, nil
}

// Deliver sends the envelope with a single sendMail request.
func (g *Transport) Deliver(ctx context.Context, env *email.Envelope) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(env))
	if err != nil {
		return fmt.Errorf("graph: %w: marshal request: %v", transport.ErrDelivery, err)
	}

	endpoint, err := g.endpoint(env)
	if err != nil {
		return fmt.Errorf("graph: %w: sender: %v", transport.ErrDelivery, err)
	}

	if err := g.doSendRequest(ctx, endpoint, bodyJSON); err != nil {
		slog.Error("Graph API error",
			"message_id", env.MessageID,
			"error", err,
		)
		return err
	}
	return nil
}

// Name returns the transport name.
func (g *Transport) Name() string {
	return "graph"
}

// endpoint returns the sendMail URL of the sending mailbox. Graph addresses
// users by bare address, so any display name is dropped.
func (g *Transport) endpoint(env *email.Envelope) (string, error) {
	sender := g.sender
	if sender == "" {
		sender = env.From
	}
	addr, err := email.Address(sender)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/users/%s/sendMail", g.graphURL, url.PathEscape(addr)), nil
}

// doSendRequest performs one HTTP request to the sendMail endpoint.
func (g *Transport) doSendRequest(ctx context.Context, endpoint string, bodyJSON []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		var tokErr *tokenError
		if errors.As(err, &tokErr) && tokErr.rejected() {
			return fmt.Errorf("graph: %w: %v", transport.ErrAuthentication, err)
		}
		return fmt.Errorf("graph: %w: %v", transport.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("graph: %w: %v", transport.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %w: %v", transport.ErrDelivery, err)
	}
	defer resp.Body.Close()

	// 202 Accepted is success for sendMail.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := string(body)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The token was refused; fetch a fresh one for the next submission.
		g.token.Invalidate()
	}

	return classifyError(resp.StatusCode, message)
}

// sendError is a non-success answer from the sendMail endpoint.
type sendError struct {
	statusCode int
	message    string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError wraps an HTTP error answer in the matching transport sentinel.
func classifyError(statusCode int, message string) error {
	err := &sendError{statusCode: statusCode, message: message}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("graph: %w: %w", transport.ErrAuthentication, err)
	default:
		return fmt.Errorf("graph: %w: %w", transport.ErrDelivery, err)
	}
}
