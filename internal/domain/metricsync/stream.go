package metricsync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/platform/channel"
)

// DialStream returns a StreamOpener that subscribes to the websocket
// endpoint at url.
func DialStream(url string, pingInterval time.Duration, logger zerolog.Logger) StreamOpener {
	return func(ctx context.Context, token string, handler channel.Handler) (Stream, error) {
		ch, err := channel.Dial(ctx, channel.Options{
			URL:          url,
			Token:        token,
			PingInterval: pingInterval,
		}, handler, logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}
