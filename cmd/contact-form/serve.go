package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shineum/contact-form-lite/internal/config"
	"github.com/shineum/contact-form-lite/internal/format"
	"github.com/shineum/contact-form-lite/internal/handler"
	"github.com/shineum/contact-form-lite/internal/metrics"
	"github.com/shineum/contact-form-lite/internal/server"
	ctls "github.com/shineum/contact-form-lite/internal/tls"
	"github.com/shineum/contact-form-lite/internal/transport"
	"github.com/shineum/contact-form-lite/internal/transport/graph"
	"github.com/shineum/contact-form-lite/internal/transport/mbox"
	"github.com/shineum/contact-form-lite/internal/transport/ses"
	"github.com/shineum/contact-form-lite/internal/transport/smtp"
	"github.com/shineum/contact-form-lite/internal/transport/stdout"
)

func serve(ctx context.Context, cfg *config.Config) error {
	slog.SetDefault(setupLogger(os.Stderr, cfg.Logging))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tlsConfig, err := ctls.Load(ctls.Options{
		CertFile:   cfg.TLS.CertFile,
		KeyFile:    cfg.TLS.KeyFile,
		SelfSigned: cfg.TLS.SelfSigned,
	})
	if err != nil {
		return fmt.Errorf("failed to setup TLS: %w", err)
	}

	var (
		recorder *metrics.Recorder
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.New(reg)
		gatherer = reg
	}

	forms, err := cfg.ResolvedForms()
	if err != nil {
		return err
	}

	routes := make([]server.Route, 0, len(forms))
	for _, f := range forms {
		t, err := selectTransport(ctx, f, os.LookupEnv)
		if err != nil {
			return fmt.Errorf("form %q: %w", f.Name, err)
		}
		if c, ok := t.(io.Closer); ok {
			defer c.Close()
		}

		fc, err := f.FormatConfig()
		if err != nil {
			return fmt.Errorf("form %q: %w", f.Name, err)
		}

		warnUnreachable(slog.Default(), f)
		slog.Info("form configured",
			"form", f.Name,
			"path", server.NormalizePath(f.Path),
			"transport", t.Name(),
			"fields", fieldsOf(f),
			"attachments", fc.Attachments.String(),
		)

		routes = append(routes, server.Route{
			Name: f.Name,
			Path: f.Path,
			Handler: handler.New(handler.Config{
				Form:           f.Name,
				Formatter:      format.New(fc),
				Transport:      t,
				Origins:        f.Origins(),
				MaxRequestSize: cfg.Server.MaxRequestSize,
				Metrics:        recorder,
				Logger:         slog.Default(),
			}),
		})
	}

	srv := server.New(server.Config{
		ListenAddr:   cfg.Server.Listen,
		Routes:       routes,
		TLSConfig:    tlsConfig,
		Gatherer:     gatherer,
		MetricsAuth:  server.NewAuthenticator(cfg.Metrics.Username, cfg.Metrics.Password),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	slog.Info("starting contact-form", "version", version, "listen", cfg.Server.Listen)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("contact-form stopped")
	return nil
}

// warnUnreachable flags allow-lists that make a form reject or empty every
// submission.
func warnUnreachable(logger *slog.Logger, f config.FormConfig) {
	if f.Origins().IsEmpty() {
		logger.Warn("allowed_origins is empty, every form-encoded post will be rejected", "form", f.Name)
	}
	if f.Fields != nil && f.Fields.IsEmpty() {
		logger.Warn("fields allow-list is empty, message bodies will be blank", "form", f.Name)
	}
}

func fieldsOf(f config.FormConfig) string {
	if f.Fields == nil {
		return "*"
	}
	return f.Fields.String()
}

// setupLogger builds the process logger. JSON goes through slog's own
// handler; text output is rendered by charmbracelet/log.
func setupLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	if cfg.Format == "text" {
		handler := log.NewWithOptions(w, log.Options{
			Level:           log.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		return slog.New(handler)
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// selectTransport builds the delivery backend named by the form's provider.
func selectTransport(ctx context.Context, f config.FormConfig, lookup transport.LookupEnv) (transport.Transport, error) {
	tc := f.Transport
	switch tc.Provider {
	case "smtp":
		security, err := smtp.ParseSecurity(tc.SMTP.Security)
		if err != nil {
			return nil, err
		}
		return smtp.New(smtp.Config{
			Host:      transport.FirstNonEmpty(lookup, tc.SMTP.Host, "SMTP_HOST"),
			Port:      tc.SMTP.Port,
			Username:  tc.SMTP.Username,
			Password:  tc.SMTP.Password,
			Security:  security,
			Timeout:   tc.SMTP.Timeout,
			LookupEnv: lookup,
		})

	case "ses":
		return ses.New(ctx, ses.Config{
			Region:          tc.SES.Region,
			AccessKeyID:     tc.SES.AccessKeyID,
			SecretAccessKey: tc.SES.SecretAccessKey,
			LookupEnv:       lookup,
		})

	case "graph":
		return graph.New(graph.Config{
			TenantID:     tc.Graph.TenantID,
			ClientID:     tc.Graph.ClientID,
			ClientSecret: tc.Graph.ClientSecret,
			Sender:       tc.Graph.Sender,
			LookupEnv:    lookup,
		})

	case "mbox":
		return mbox.New(mbox.Config{
			Path:         tc.Mbox.Path,
			AgeRecipient: tc.Mbox.AgeRecipient,
			LookupEnv:    lookup,
		})

	case "stdout", "":
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", tc.Provider)
	}
}
