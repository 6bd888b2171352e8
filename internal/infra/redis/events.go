// File: internal/infra/redis/events.go
package redis

import (
	"context"
	"encoding/json"

	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.RunEventPublisher = (*EventPublisher)(nil)

// EventPublisher emits run-scoped progress events over Redis pub/sub for
// live UI consumers. Best-effort by contract: a publish failure is returned
// for the caller to log, never to act on.
type EventPublisher struct {
	c *Client
}

func NewEventPublisher(c *Client) *EventPublisher {
	return &EventPublisher{c: c}
}

func eventChannel(runID string) string { return "run:" + runID + ":events" }

func (p *EventPublisher) Publish(ctx context.Context, ev model.RunEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.c.cli.Publish(ctx, eventChannel(ev.RunID), b).Err()
}

// Subscribe delivers a run's events until ctx is cancelled. Used by the ops
// surface and by tests; the engine itself only publishes.
func (p *EventPublisher) Subscribe(ctx context.Context, runID string) (<-chan model.RunEvent, error) {
	sub := p.c.cli.Subscribe(ctx, eventChannel(runID))
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan model.RunEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev model.RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
