package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/metrics"
)

// MetricsPoller samples queue depths and database pool stats into gauges.
type MetricsPoller struct {
	interval time.Duration
	broker   adapter.TaskBroker
	queues   []string
	pool     *pgxpool.Pool
	log      *zerolog.Logger
}

func NewMetricsPoller(interval time.Duration, broker adapter.TaskBroker, queues []string, pool *pgxpool.Pool, logger *zerolog.Logger) *MetricsPoller {
	pollLog := logger.With().Str("component", "MetricsPoller").Logger()
	return &MetricsPoller{
		interval: interval,
		broker:   broker,
		queues:   queues,
		pool:     pool,
		log:      &pollLog,
	}
}

func (w *MetricsPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, q := range w.queues {
				depth, err := w.broker.Depth(ctx, q)
				if err != nil {
					w.log.Warn().Err(err).Str("queue", q).Msg("queue depth poll failed")
					continue
				}
				metrics.SetQueueDepth(q, depth)
			}
			if w.pool != nil {
				s := w.pool.Stat()
				metrics.SetDBPoolStats(s.TotalConns(), s.IdleConns(), s.AcquiredConns())
			}
		}
	}
}
