// Package config provides YAML-file configuration with environment-variable
// overrides for the contact form service.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/shineum/contact-form-lite/internal/allowlist"
	"github.com/shineum/contact-form-lite/internal/email"
	"github.com/shineum/contact-form-lite/internal/format"
	"github.com/shineum/contact-form-lite/internal/subject"
	"github.com/shineum/contact-form-lite/internal/transport/smtp"
)

// defaultMaxRequestSize is 25 MB in bytes.
const defaultMaxRequestSize = 26214400

// DefaultFormName names the form mounted when none are configured.
const DefaultFormName = "contact"

// Providers lists the supported transport names.
var Providers = []string{"smtp", "ses", "graph", "mbox", "stdout"}

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Defaults FormConfig    `yaml:"defaults"`
	Forms    []FormConfig  `yaml:"forms"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// TLSConfig holds TLS certificate settings.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	SelfSigned bool   `yaml:"self_signed"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FormConfig describes one contact form endpoint. Unset pointer fields
// inherit from Config.Defaults.
type FormConfig struct {
	Name           string                   `yaml:"name"`
	Path           string                   `yaml:"path"`
	From           string                   `yaml:"from"`
	To             string                   `yaml:"to"`
	Subject        *SubjectConfig           `yaml:"subject"`
	Fields         *allowlist.List          `yaml:"fields"`
	AllowFile      *format.AttachmentPolicy `yaml:"allow_file"`
	Honeypot       string                   `yaml:"honeypot"`
	AllowedOrigins *allowlist.List          `yaml:"allowed_origins"`
	HTML           *bool                    `yaml:"html"`
	Transport      TransportConfig          `yaml:"transport"`
}

// SubjectConfig is either a literal text or a template with declared params.
type SubjectConfig struct {
	Text     string          `yaml:"text"`
	Template string          `yaml:"template"`
	Params   []subject.Param `yaml:"params"`
}

// TransportConfig selects and configures the delivery backend.
type TransportConfig struct {
	Provider string      `yaml:"provider"`
	SMTP     SMTPConfig  `yaml:"smtp"`
	SES      SESConfig   `yaml:"ses"`
	Graph    GraphConfig `yaml:"graph"`
	Mbox     MboxConfig  `yaml:"mbox"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Security string        `yaml:"security"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API settings.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// MboxConfig holds local mailbox settings.
type MboxConfig struct {
	Path         string `yaml:"path"`
	AgeRecipient string `yaml:"age_recipient"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Listen = ":8080"
	c.Server.MaxRequestSize = defaultMaxRequestSize
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("MAX_REQUEST_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_REQUEST_SIZE %q: %w", v, err)
		}
		c.Server.MaxRequestSize = size
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED %q: %w", v, err)
		}
		c.Metrics.Enabled = enabled
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	d := &c.Defaults
	if v := os.Getenv("CONTACT_FROM"); v != "" {
		d.From = v
	}
	if v := os.Getenv("CONTACT_TO"); v != "" {
		d.To = v
	}
	if v := os.Getenv("CONTACT_SUBJECT"); v != "" {
		d.Subject = &SubjectConfig{Text: v}
	}
	if v := os.Getenv("CONTACT_FIELDS"); v != "" {
		fields := allowlist.Parse(v)
		d.Fields = &fields
	}
	if v := os.Getenv("CONTACT_ALLOWED_ORIGINS"); v != "" {
		origins := allowlist.Parse(v)
		d.AllowedOrigins = &origins
	}
	if v := os.Getenv("CONTACT_HONEYPOT"); v != "" {
		d.Honeypot = v
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		d.Transport.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		d.Transport.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		d.Transport.SMTP.Port = port
	}
	if v := os.Getenv("SES_REGION"); v != "" {
		d.Transport.SES.Region = v
	}
	if v := os.Getenv("MBOX_PATH"); v != "" {
		d.Transport.Mbox.Path = v
	}

	return nil
}

// keepSet leaves an already configured pointer untouched instead of merging
// the default into it field by field.
type keepSet struct{}

func (keepSet) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	switch typ {
	case reflect.TypeOf(&SubjectConfig{}),
		reflect.TypeOf(&allowlist.List{}),
		reflect.TypeOf(&format.AttachmentPolicy{}),
		reflect.TypeOf(new(bool)):
		return func(dst, src reflect.Value) error { return nil }
	}
	return nil
}

// ResolvedForms returns every form with the defaults merged in. When no forms
// are configured, the defaults alone make up a single form at "/".
func (c *Config) ResolvedForms() ([]FormConfig, error) {
	forms := c.Forms
	if len(forms) == 0 {
		forms = []FormConfig{{Name: DefaultFormName, Path: "/"}}
	}

	resolved := make([]FormConfig, 0, len(forms))
	for i, f := range forms {
		if err := mergo.Merge(&f, c.Defaults, mergo.WithTransformers(keepSet{})); err != nil {
			return nil, fmt.Errorf("failed to merge defaults into form %d: %w", i, err)
		}
		if f.Name == "" {
			f.Name = nameFromPath(f.Path, i)
		}
		if f.Path == "" {
			f.Path = "/" + f.Name
		}
		if f.Transport.Provider == "" {
			f.Transport.Provider = "stdout"
		}
		resolved = append(resolved, f)
	}
	return resolved, nil
}

func nameFromPath(path string, i int) string {
	if name := strings.ReplaceAll(strings.Trim(path, "/"), "/", "-"); name != "" {
		return name
	}
	if i == 0 {
		return DefaultFormName
	}
	return fmt.Sprintf("form-%d", i+1)
}

// Validate reports every configuration problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, errors.New("server.max_request_size must be positive"))
	}

	forms, err := c.ResolvedForms()
	if err != nil {
		return err
	}

	paths := make(map[string]string)
	names := make(map[string]bool)
	for _, f := range forms {
		prefix := fmt.Sprintf("form %q", f.Name)
		if names[f.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", prefix))
		}
		names[f.Name] = true

		path := "/" + strings.Trim(f.Path, "/")
		if other, ok := paths[path]; ok {
			errs = append(errs, fmt.Errorf("%s: path %s already used by form %q", prefix, path, other))
		}
		paths[path] = f.Name

		if f.From == "" {
			errs = append(errs, fmt.Errorf("%s: from is required", prefix))
		} else if _, err := email.Address(f.From); err != nil {
			errs = append(errs, fmt.Errorf("%s: from: %w", prefix, err))
		}
		if f.To == "" {
			errs = append(errs, fmt.Errorf("%s: to is required", prefix))
		} else if _, err := email.Address(f.To); err != nil {
			errs = append(errs, fmt.Errorf("%s: to: %w", prefix, err))
		}
		if !isProvider(f.Transport.Provider) {
			errs = append(errs, fmt.Errorf("%s: unknown provider %q (want one of %s)",
				prefix, f.Transport.Provider, strings.Join(Providers, ", ")))
		}
		if f.Transport.Provider == "smtp" {
			if _, err := smtp.ParseSecurity(f.Transport.SMTP.Security); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			}
		}
		if _, err := f.SubjectSpec(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	return errors.Join(errs...)
}

func isProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// SubjectSpec compiles the subject configuration.
func (f FormConfig) SubjectSpec() (subject.Spec, error) {
	s := f.Subject
	if s == nil {
		return subject.Spec{}, nil
	}
	switch {
	case s.Text != "" && s.Template != "":
		return subject.Spec{}, errors.New("subject: text and template are mutually exclusive")
	case s.Template != "":
		tmpl, err := subject.NewTextTemplate(s.Template, s.Params)
		if err != nil {
			return subject.Spec{}, fmt.Errorf("subject: %w", err)
		}
		return subject.FromTemplate(tmpl), nil
	case s.Text != "":
		return subject.Literal(s.Text), nil
	default:
		return subject.Spec{}, nil
	}
}

// FormatConfig builds the formatter settings for the form.
func (f FormConfig) FormatConfig() (format.Config, error) {
	spec, err := f.SubjectSpec()
	if err != nil {
		return format.Config{}, err
	}

	cfg := format.Config{
		From:     f.From,
		To:       f.To,
		Subject:  spec,
		Fields:   f.Fields,
		Honeypot: f.Honeypot,
	}
	if f.AllowFile != nil {
		cfg.Attachments = *f.AllowFile
	}
	if f.HTML != nil {
		cfg.HTML = *f.HTML
	}
	return cfg, nil
}

// Origins returns the redirect allow-list; unset permits any origin.
func (f FormConfig) Origins() *allowlist.List {
	if f.AllowedOrigins != nil {
		return f.AllowedOrigins
	}
	all := allowlist.All()
	return &all
}
