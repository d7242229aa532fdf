package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/services"
)

const (
	// SweepBatchSize caps how many expired sessions one pass finalizes
	SweepBatchSize = 100

	sweepOpTimeout = 30 * time.Second
)

// TimeoutWorker periodically finalizes in-progress sessions whose
// deadline passed without a live timer, covering sessions orphaned by a
// crash or restart. Live sessions are handled by their own countdown.
type TimeoutWorker struct {
	sessions services.SessionService
	interval time.Duration
	logger   *slog.Logger
}

func NewTimeoutWorker(sessions services.SessionService, interval time.Duration, logger *slog.Logger) *TimeoutWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TimeoutWorker{
		sessions: sessions,
		interval: interval,
		logger:   logger.With("component", "timeout_worker"),
	}
}

// Start runs the sweep loop until ctx is cancelled
func (w *TimeoutWorker) Start(ctx context.Context) {
	w.logger.Info("Timeout worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// sweep once at startup to catch sessions that expired while the
	// service was down
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Timeout worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *TimeoutWorker) sweep(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, sweepOpTimeout)
	defer cancel()

	swept, err := w.sessions.SweepExpiredSessions(opCtx, SweepBatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("Sweep failed", "error", err)
		}
		return
	}
	if swept > 0 {
		w.logger.Info("Swept expired sessions", "count", swept)
	}
}
