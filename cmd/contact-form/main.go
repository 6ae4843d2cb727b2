// Package main is the entry point for the contact form service.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-form-lite/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "contact-form",
	Short: "Turn HTML form posts into email",
	Long: `contact-form accepts form or JSON submissions over HTTP, renders them
into an email and hands the message to a configured transport (SMTP relay,
AWS SES, Microsoft Graph, a local mbox file, or stdout).

Example:
  contact-form serve --config contact.yaml
  contact-form check --config contact.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		forms, err := cfg.ResolvedForms()
		if err != nil {
			return err
		}
		for _, f := range forms {
			t, err := selectTransport(cmd.Context(), f, os.LookupEnv)
			if err != nil {
				return fmt.Errorf("form %q: %w", f.Name, err)
			}
			if c, ok := t.(io.Closer); ok {
				c.Close()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s -> %s via %s\n",
				f.Name, f.Path, f.From, f.To, f.Transport.Provider)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "contact-form", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML configuration file (optional)")

	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("contact-form failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given, then validates it.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
