package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Pinger is the transport surface the keepalive monitor exercises. The
// WebSocket connection satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Keepalive pings the transport at the given interval until ctx is cancelled.
// The first failed ping invokes onFailure and stops the monitor; the caller
// is expected to tear the connection down from there.
func Keepalive(ctx context.Context, p Pinger, interval time.Duration, onFailure func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("keepalive ping failed", "error", err)
			if onFailure != nil {
				onFailure(err)
			}
			return
		}
	}
}
