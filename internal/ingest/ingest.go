package ingest

import (
	"context"
	"log/slog"
	"time"

	"bioguard/internal/model"
)

// SendNonBlocking delivers an event to the engine channel without ever
// stalling a collector. A full channel drops the event and reports it.
func SendNonBlocking(ctx context.Context, out chan<- model.BehaviorEvent, ev model.BehaviorEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "session_id", ev.SessionID, "timestamp", ev.Timestamp)
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
