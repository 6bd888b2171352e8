package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/usecase"
)

// DLQSweeper periodically replays unresolved dead letters via the use case.
type DLQSweeper struct {
	interval time.Duration
	replayUC usecase.ReplayUseCase
	log      *zerolog.Logger
}

func NewDLQSweeper(interval time.Duration, replayUC usecase.ReplayUseCase, logger *zerolog.Logger) *DLQSweeper {
	sweepLog := logger.With().Str("component", "DLQSweeper").Logger()
	return &DLQSweeper{
		interval: interval,
		replayUC: replayUC,
		log:      &sweepLog,
	}
}

func (w *DLQSweeper) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting dead letter sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping dead letter sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.replayUC.SweepOnce(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("dead letter sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("dead letters replayed")
			}
		}
	}
}
