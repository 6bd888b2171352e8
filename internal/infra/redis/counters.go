// File: internal/infra/redis/counters.go
package redis

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/metrics"
)

var _ adapter.ProgressCounters = (*Counters)(nil)

// Counters implements the run-scoped progress counter service on Redis
// hashes. Worker transitions are coalesced in process and drained by a flush
// loop, so very high submission rates cost one pipelined round trip per
// interval instead of one network call per transition.
//
// The buffer holds item states, not bucket increments: the flush compares
// each buffered state against the membership hash and decrements the bucket
// the item actually occupies. An item settled straight from pending (its
// compute task never dispatched) leaves pending, not processing, so no
// bucket ever goes negative.
//
// Counters are a best-effort view: every write can fail without blocking the
// pipeline, and the per-item membership hash allows a full Reconcile.
type Counters struct {
	c   *Client
	log *zerolog.Logger

	mu  sync.Mutex
	buf map[string]map[string]model.ItemState

	// Serializes flushes: apply reads previous item states before
	// incrementing, so two overlapping flushes could double-count.
	flushMu sync.Mutex
}

func NewCounters(c *Client, logger *zerolog.Logger) *Counters {
	l := logger.With().Str("component", "Counters").Logger()
	return &Counters{c: c, log: &l, buf: make(map[string]map[string]model.ItemState)}
}

func countsKey(runID string) string { return "run:" + runID + ":counts" }
func itemsKey(runID string) string  { return "run:" + runID + ":items" }

// Seed writes the exact membership set and initial counts. It runs before
// anything is enqueued for the run, so no completion can observe a run that
// does not exist yet.
func (s *Counters) Seed(ctx context.Context, runID string, itemIDs []string) error {
	if runID == "" || len(itemIDs) == 0 {
		return domain.ErrInvalidArgument
	}
	pipe := s.c.cli.TxPipeline()
	itemArgs := make([]interface{}, 0, len(itemIDs)*2)
	for _, id := range itemIDs {
		itemArgs = append(itemArgs, id, string(model.ItemPending))
	}
	pipe.HSet(ctx, itemsKey(runID), itemArgs...)
	pipe.HSet(ctx, countsKey(runID),
		"total", len(itemIDs),
		"pending", len(itemIDs),
		"processing", 0,
		"success", 0,
		"failed", 0,
	)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Counters) MarkStarted(runID, itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delta(runID)[itemID] = model.ItemProcessing
}

func (s *Counters) MarkFinished(runID, itemID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := model.ItemFailed
	if ok {
		st = model.ItemSuccess
	}
	s.delta(runID)[itemID] = st
}

// delta must be called with mu held.
func (s *Counters) delta(runID string) map[string]model.ItemState {
	d := s.buf[runID]
	if d == nil {
		d = make(map[string]model.ItemState)
		s.buf[runID] = d
	}
	return d
}

// StartFlusher drains the buffer every interval until ctx is cancelled.
func (s *Counters) StartFlusher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// Final best-effort drain so a clean shutdown loses nothing.
				s.flushAll(context.Background())
				return
			case <-ticker.C:
				s.flushAll(ctx)
			}
		}
	}()
}

func (s *Counters) flushAll(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.buf
	s.buf = make(map[string]map[string]model.ItemState)
	s.mu.Unlock()

	for runID, items := range pending {
		if err := s.apply(ctx, runID, items); err != nil {
			// Counter-store unavailability never blocks the pipeline:
			// merge back and retry on the next tick.
			metrics.IncCounterFlushError()
			s.log.Warn().Err(err).Str("run_id", runID).Msg("counter flush failed; will retry")
			s.mergeBack(runID, items)
		}
	}
}

// ForceFlush synchronously drains buffered transitions for one run. Callers
// use it before completion checks so the terminal snapshot is never stale.
func (s *Counters) ForceFlush(ctx context.Context, runID string) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.drain(ctx, runID)
}

// drain must be called with flushMu held.
func (s *Counters) drain(ctx context.Context, runID string) error {
	s.mu.Lock()
	items := s.buf[runID]
	delete(s.buf, runID)
	s.mu.Unlock()
	if len(items) == 0 {
		return nil
	}
	if err := s.apply(ctx, runID, items); err != nil {
		metrics.IncCounterFlushError()
		s.mergeBack(runID, items)
		return err
	}
	return nil
}

// apply must be called with flushMu held.
func (s *Counters) apply(ctx context.Context, runID string, items map[string]model.ItemState) error {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	prev, err := s.c.cli.HMGet(ctx, itemsKey(runID), ids...).Result()
	if err != nil {
		return err
	}
	d := bucketDeltas(ids, prev, items)

	pipe := s.c.cli.TxPipeline()
	if d.pending != 0 {
		pipe.HIncrBy(ctx, countsKey(runID), "pending", d.pending)
	}
	if d.processing != 0 {
		pipe.HIncrBy(ctx, countsKey(runID), "processing", d.processing)
	}
	if d.success != 0 {
		pipe.HIncrBy(ctx, countsKey(runID), "success", d.success)
	}
	if d.failed != 0 {
		pipe.HIncrBy(ctx, countsKey(runID), "failed", d.failed)
	}
	args := make([]interface{}, 0, len(items)*2)
	for id, st := range items {
		args = append(args, id, string(st))
	}
	pipe.HSet(ctx, itemsKey(runID), args...)
	_, err = pipe.Exec(ctx)
	return err
}

type bucketDelta struct {
	pending, processing, success, failed int64
}

func (d *bucketDelta) bump(st model.ItemState, by int64) {
	switch st {
	case model.ItemPending:
		d.pending += by
	case model.ItemProcessing:
		d.processing += by
	case model.ItemSuccess:
		d.success += by
	case model.ItemFailed:
		d.failed += by
	}
}

// bucketDeltas derives the counter increments that move each item from its
// last flushed state (prev, positionally aligned with ids; nil means the
// item was never flushed past its seeded pending state) to its buffered one.
// Re-applying the state an item already holds is a no-op, so redelivered
// transitions never double-count.
func bucketDeltas(ids []string, prev []interface{}, next map[string]model.ItemState) bucketDelta {
	var d bucketDelta
	for i, id := range ids {
		old := model.ItemPending
		if s, ok := prev[i].(string); ok {
			old = model.ItemState(s)
		}
		nw := next[id]
		if old == nw {
			continue
		}
		d.bump(old, -1)
		d.bump(nw, +1)
	}
	return d
}

func (s *Counters) mergeBack(runID string, items map[string]model.ItemState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.delta(runID)
	for id, st := range items {
		// A newer buffered state wins over the failed flush's state.
		if _, exists := cur[id]; !exists {
			cur[id] = st
		}
	}
}

func (s *Counters) Snapshot(ctx context.Context, runID string) (model.RunCounters, error) {
	vals, err := s.c.cli.HGetAll(ctx, countsKey(runID)).Result()
	if err != nil {
		return model.RunCounters{}, err
	}
	if len(vals) == 0 {
		return model.RunCounters{}, domain.ErrRunNotFound
	}
	return model.RunCounters{
		RunID:      runID,
		Total:      parseCount(vals["total"]),
		Pending:    parseCount(vals["pending"]),
		Processing: parseCount(vals["processing"]),
		Success:    parseCount(vals["success"]),
		Failed:     parseCount(vals["failed"]),
	}, nil
}

// Reconcile recomputes counts from the membership set's last-known item
// states and rewrites the counters hash. Used when increments were lost
// (worker crash between database commit and counter flush). It holds the
// flush lock across the rewrite so no concurrent flush increments against
// the half-rebuilt hash.
func (s *Counters) Reconcile(ctx context.Context, runID string) (model.RunCounters, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if err := s.drain(ctx, runID); err != nil {
		return model.RunCounters{}, err
	}
	items, err := s.c.cli.HGetAll(ctx, itemsKey(runID)).Result()
	if err != nil {
		return model.RunCounters{}, err
	}
	if len(items) == 0 {
		return model.RunCounters{}, domain.ErrRunNotFound
	}
	counts := model.RunCounters{RunID: runID, Total: int64(len(items))}
	for _, st := range items {
		switch model.ItemState(st) {
		case model.ItemProcessing:
			counts.Processing++
		case model.ItemSuccess:
			counts.Success++
		case model.ItemFailed:
			counts.Failed++
		default:
			counts.Pending++
		}
	}
	err = s.c.cli.HSet(ctx, countsKey(runID),
		"total", counts.Total,
		"pending", counts.Pending,
		"processing", counts.Processing,
		"success", counts.Success,
		"failed", counts.Failed,
	).Err()
	if err != nil {
		return model.RunCounters{}, err
	}
	return counts, nil
}

func (s *Counters) Expire(ctx context.Context, runID string, ttl time.Duration) error {
	pipe := s.c.cli.TxPipeline()
	pipe.Expire(ctx, countsKey(runID), ttl)
	pipe.Expire(ctx, itemsKey(runID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
