// File: internal/infra/redis/queue.go
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.TaskBroker = (*Broker)(nil)

// Broker is the Redis-backed task queue substrate: one list per named queue,
// BRPOPLPUSH into a per-queue processing ledger for at-least-once delivery,
// and a sorted set per queue for delayed (backoff) delivery.
//
// Delivery is at-least-once: a worker that dies after Receive leaves its
// task on the processing ledger, where the reaper requeues it. Consumers
// therefore must be idempotent, which the record state machine guarantees.
type Broker struct {
	c      *Client
	queues []string
	log    *zerolog.Logger
}

func NewBroker(c *Client, queues []string, logger *zerolog.Logger) *Broker {
	l := logger.With().Str("component", "Broker").Logger()
	return &Broker{c: c, queues: queues, log: &l}
}

func readyKey(queue string) string      { return "queue:" + queue }
func processingKey(queue string) string { return "queue:" + queue + ":processing" }
func delayedKey(queue string) string    { return "queue:" + queue + ":delayed" }
func claimsKey(queue string) string     { return "queue:" + queue + ":claims" }

func (b *Broker) known(queue string) bool {
	for _, q := range b.queues {
		if q == queue {
			return true
		}
	}
	return false
}

func (b *Broker) Enqueue(ctx context.Context, task *model.Task) error {
	if !b.known(task.Queue) {
		return fmt.Errorf("%w: %s", domain.ErrQueueUnknown, task.Queue)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return b.c.cli.LPush(ctx, readyKey(task.Queue), raw).Err()
}

func (b *Broker) EnqueueIn(ctx context.Context, task *model.Task, delay time.Duration) error {
	if delay <= 0 {
		return b.Enqueue(ctx, task)
	}
	if !b.known(task.Queue) {
		return fmt.Errorf("%w: %s", domain.ErrQueueUnknown, task.Queue)
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	return b.c.cli.ZAdd(ctx, delayedKey(task.Queue), &redis.Z{Score: readyAt, Member: raw}).Err()
}

// Receive blocks up to timeout for the next task. The raw entry moves onto
// the processing ledger and stays there until Ack. Callers must pass the
// task back to Ack unmodified.
func (b *Broker) Receive(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error) {
	raw, err := b.c.cli.BRPopLPush(ctx, readyKey(queue), processingKey(queue), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Poison entry: drop it from the ledger, it can never be handled.
		b.c.cli.LRem(ctx, processingKey(queue), 1, raw)
		return nil, fmt.Errorf("%w: undecodable task on %s", domain.ErrInvalidArgument, queue)
	}
	b.c.cli.HSet(ctx, claimsKey(queue), task.ID, strconv.FormatInt(time.Now().UnixMilli(), 10))
	return &task, nil
}

func (b *Broker) Ack(ctx context.Context, task *model.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	pipe := b.c.cli.TxPipeline()
	pipe.LRem(ctx, processingKey(task.Queue), 1, raw)
	pipe.HDel(ctx, claimsKey(task.Queue), task.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *Broker) Depth(ctx context.Context, queue string) (int64, error) {
	return b.c.cli.LLen(ctx, readyKey(queue)).Result()
}

// StartMover promotes due delayed tasks onto their ready lists. Run once per
// process; promotion is idempotent enough for multiple movers (ZRem decides
// the winner).
func (b *Broker) StartMover(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range b.queues {
					if err := b.promoteDue(ctx, q); err != nil && ctx.Err() == nil {
						b.log.Error().Err(err).Str("queue", q).Msg("delayed promotion failed")
					}
				}
			}
		}
	}()
}

func (b *Broker) promoteDue(ctx context.Context, queue string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := b.c.cli.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range members {
		// Only the mover that removes the member may push it.
		removed, err := b.c.cli.ZRem(ctx, delayedKey(queue), raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := b.c.cli.LPush(ctx, readyKey(queue), raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// StartReaper requeues tasks stranded on processing ledgers longer than
// reapAfter (worker crashed between Receive and Ack).
func (b *Broker) StartReaper(ctx context.Context, interval, reapAfter time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range b.queues {
					if n, err := b.reapQueue(ctx, q, reapAfter); err != nil && ctx.Err() == nil {
						b.log.Error().Err(err).Str("queue", q).Msg("reap failed")
					} else if n > 0 {
						b.log.Warn().Str("queue", q).Int("count", n).Msg("requeued stranded tasks")
					}
				}
			}
		}
	}()
}

func (b *Broker) reapQueue(ctx context.Context, queue string, reapAfter time.Duration) (int, error) {
	entries, err := b.c.cli.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-reapAfter).UnixMilli()
	requeued := 0
	for _, raw := range entries {
		var task model.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			b.c.cli.LRem(ctx, processingKey(queue), 1, raw)
			continue
		}
		claimed, err := b.c.cli.HGet(ctx, claimsKey(queue), task.ID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return requeued, err
		}
		claimedAt, _ := strconv.ParseInt(claimed, 10, 64)
		if claimed != "" && claimedAt > cutoff {
			continue // still being worked on
		}
		removed, err := b.c.cli.LRem(ctx, processingKey(queue), 1, raw).Result()
		if err != nil {
			return requeued, err
		}
		if removed == 0 {
			continue // another reaper won
		}
		b.c.cli.HDel(ctx, claimsKey(queue), task.ID)
		if err := b.c.cli.LPush(ctx, readyKey(queue), raw).Err(); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}
