package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thrive/vitalsync/internal/config"
	"github.com/thrive/vitalsync/internal/platform/devbackend"
)

func devServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runDevServer(cmd.Context(), cfg)
		},
	}
}

func devBackendConfig(cfg *config.Config) devbackend.Config {
	addr := "http://localhost:" + cfg.DevPort
	return devbackend.Config{
		SigningKey:     []byte(cfg.DevSigningKey),
		RTCURL:         cfg.DevRTCURL,
		RTCKey:         cfg.DevRTCKey,
		EHRClientID:    cfg.DevEHRClientID,
		FHIRBaseURL:    strings.TrimRight(cfg.DevFHIRBaseURL, "/"),
		EHRRedirectURL: addr + "/v1/ehr/callback",
		EHRScopes:      []string{"launch/patient", "patient/Observation.read", "offline_access"},
	}
}

func runDevServer(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(os.Stdout, cfg)

	srv, err := devbackend.New(devBackendConfig(cfg), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build dev backend")
	}

	// Graceful shutdown
	go func() {
		if err := srv.Start(":" + cfg.DevPort); err != nil {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-quit.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
