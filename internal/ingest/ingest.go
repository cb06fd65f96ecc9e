// Package ingest collects raw security logs from REST, syslog, Kafka and
// tailed files, parses them, and feeds normalized events to the engine.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"sentinelwatch/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Event, ev model.Event, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "source", ev.Source, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
