package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/ujianku/ujianku-backend/internal/service"
)

// ExpirySweepBatch bounds how many overdue attempts one sweep finalizes.
const ExpirySweepBatch = 200

// ExpiryWorker periodically finalizes in-progress attempts whose deadline has
// passed. It is the safety net behind the lazy per-request expiry check: an
// attempt abandoned mid-exam (browser closed, network gone) still reaches its
// terminal state without the student ever coming back.
type ExpiryWorker struct {
	attempts *service.AttemptService
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(attempts *service.AttemptService, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled. One final sweep runs on
// shutdown so a restart does not leave a window of unexpired attempts.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Running final sweep...")
			w.sweep(context.Background())
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	n, err := w.attempts.ExpireOverdue(ctx, ExpirySweepBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("Expiry sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("expired", n).Msg("Expired overdue attempts")
	}
}
