package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thrive/vitalsync/internal/domain/metricsync"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the local view in sync and log every change",
		Long: "Runs the sync controller against the configured backend until interrupted.\n" +
			"On Unix, SIGUSR1 moves the session to the background and SIGUSR2 back to the foreground.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			client, err := newAPIClient(cfg, logger)
			if err != nil {
				return err
			}

			lifecycle := metricsync.NewManualLifecycle(metricsync.Foreground)
			go watchLifecycleSignals(ctx, lifecycle, logger)

			ctrl := metricsync.NewController(store, client, tokenSource(cfg), metricsync.Options{
				ViewCap:         cfg.ViewCap,
				FetchLimit:      cfg.FetchLimit,
				Kind:            cfg.MetricType,
				RefreshInterval: cfg.RefreshInterval,
				Stream:          metricsync.DialStream(cfg.StreamURL, cfg.PingInterval, logger),
				Lifecycle:       lifecycle,
			}, logger)
			ctrl.OnChange(func(s metricsync.Snapshot) {
				ev := logger.Info().
					Int("readings", len(s.Readings)).
					Str("source", string(s.Source)).
					Bool("streaming", s.Streaming)
				if len(s.Readings) > 0 {
					latest := s.Readings[0]
					ev = ev.Str("latest_id", latest.ID.String()).
						Str("latest_type", latest.Kind).
						Float64("latest_value", latest.Value)
				}
				if s.SyncError != "" {
					ev = ev.Str("sync_error", s.SyncError)
				}
				ev.Msg("view changed")
			})

			logger.Info().
				Str("api", cfg.APIBaseURL).
				Str("stream", cfg.StreamURL).
				Str("store", store.Backend().Name()).
				Msg("watching metrics")
			if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			logger.Info().Msg("watch stopped")
			return nil
		},
	}
	return cmd
}
