package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/thrive/vitalsync/internal/config"
	"github.com/thrive/vitalsync/internal/platform/api"
	"github.com/thrive/vitalsync/internal/platform/localstore"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vitalsync",
		Short:         "Health metric synchronization client",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(insightCmd())
	rootCmd.AddCommand(ehrCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(devServerCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

// newLogger logs JSON to w, or human-readable lines in development.
func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// tokenSource returns nil when no credential is configured, which the
// controller treats as an unauthenticated backend.
func tokenSource(cfg *config.Config) oauth2.TokenSource {
	if cfg.AccessToken == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
}

func newAPIClient(cfg *config.Config, logger zerolog.Logger) (*api.Client, error) {
	return api.NewClient(cfg.APIBaseURL, logger, api.WithTimeout(cfg.HTTPTimeout))
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*localstore.Store, error) {
	backend, err := localstore.Resolve(ctx, localstore.OptionsFromConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	return localstore.New(backend, cfg.CacheLimit, logger), nil
}
