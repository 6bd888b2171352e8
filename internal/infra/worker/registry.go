package worker

import (
	"context"
	"fmt"

	"conversation-analysis/internal/domain/model"
)

// Handler executes one task kind. Handlers must be idempotent: the broker
// is at-least-once and the reaper may redeliver.
type Handler interface {
	Handle(ctx context.Context, task *model.Task) error
}

// Registry is the compile-time dispatch table from task kind to handler.
// Wiring happens once in main; an unknown kind at dispatch time is a bug,
// not a runtime lookup miss to tolerate.
type Registry struct {
	handlers map[model.TaskKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.TaskKind]Handler)}
}

func (r *Registry) Register(kind model.TaskKind, h Handler) *Registry {
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("worker: duplicate handler for task kind %q", kind))
	}
	r.handlers[kind] = h
	return r
}

func (r *Registry) Resolve(kind model.TaskKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
