package lifecycle

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/vango-go/terranogyneco/pkg/gateway/live/sessions"
)

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It is used for readiness draining during graceful shutdown.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Drain marks the process as draining and winds live sessions down: each
// is warned and asked to end politely, and whatever is still running when
// ctx expires is canceled. It reports whether every session finished on
// its own.
func (l *Lifecycle) Drain(ctx context.Context, tracker *sessions.Tracker, logger *slog.Logger) bool {
	l.SetDraining(true)
	if logger == nil {
		logger = slog.Default()
	}

	active := tracker.Count()
	if active == 0 {
		return true
	}
	logger.Info("draining live sessions", "active", active)
	tracker.WarnAll("server_draining", "server is shutting down; the session will end")
	tracker.EndAll()

	if tracker.Wait(ctx) {
		return true
	}
	canceled := tracker.CancelAll()
	logger.Warn("drain deadline reached; canceled live sessions", "canceled", canceled)
	return false
}
