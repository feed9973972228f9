//go:build windows

package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/domain/metricsync"
)

// watchLifecycleSignals is a no-op: Windows has no user signals, so the
// session stays in the foreground.
func watchLifecycleSignals(ctx context.Context, _ *metricsync.ManualLifecycle, _ zerolog.Logger) {
	<-ctx.Done()
}
