//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/domain/metricsync"
)

// watchLifecycleSignals maps SIGUSR1 to background and SIGUSR2 to
// foreground until ctx is done.
func watchLifecycleSignals(ctx context.Context, lc *metricsync.ManualLifecycle, logger zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			state := metricsync.Foreground
			if sig == syscall.SIGUSR1 {
				state = metricsync.Background
			}
			logger.Info().Str("state", state.String()).Msg("lifecycle change")
			lc.Set(state)
		}
	}
}
