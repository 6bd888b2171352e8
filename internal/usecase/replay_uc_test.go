// File: internal/usecase/replay_uc_test.go
//go:build !integration

package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/usecase"
)

func TestReplayUseCase_ReplayOne(t *testing.T) {
	ctx := context.Background()

	t.Run("re-enqueues on the original queue and resolves the row", func(t *testing.T) {
		failed := newMockFailedTaskRepo()
		broker := newMockBroker()
		uc := usecase.NewReplayUseCase(failed, broker, 10, newTestLogger())

		args := []byte(`{"record_id":"rec-1","conversation_id":"c1","prompt_id":"summary","content":"hi"}`)
		_ = failed.Upsert(ctx, nil, &model.FailedTaskRecord{
			TaskID: "task-1", Kind: model.TaskKindCompute, Queue: model.QueueCompute,
			Args: args, LastError: "provider down", RetryCount: 120,
		})

		if err := uc.ReplayOne(ctx, "task-1"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		tasks := broker.onQueue(model.QueueCompute)
		if len(tasks) != 1 {
			t.Fatalf("expected 1 replayed task, got %d", len(tasks))
		}
		if tasks[0].ID != "task-1" {
			t.Errorf("replay must keep the task identity, got %s", tasks[0].ID)
		}
		if tasks[0].Attempt != 1 {
			t.Errorf("replay starts a fresh attempt cycle, got attempt %d", tasks[0].Attempt)
		}
		if !bytes.Equal(tasks[0].Payload, args) {
			t.Error("replayed payload differs from the stored args")
		}
		rec, _ := failed.FindByTaskID(ctx, nil, "task-1")
		if !rec.Resolved {
			t.Error("row not marked resolved after replay")
		}
	})

	t.Run("already resolved rows are rejected", func(t *testing.T) {
		failed := newMockFailedTaskRepo()
		broker := newMockBroker()
		uc := usecase.NewReplayUseCase(failed, broker, 10, newTestLogger())

		_ = failed.Upsert(ctx, nil, &model.FailedTaskRecord{
			TaskID: "task-1", Kind: model.TaskKindCompute, Queue: model.QueueCompute, Args: []byte(`{}`),
		})
		if err := uc.ReplayOne(ctx, "task-1"); err != nil {
			t.Fatalf("first replay: %v", err)
		}
		err := uc.ReplayOne(ctx, "task-1")
		if !errors.Is(err, domain.ErrAlreadyCompleted) {
			t.Fatalf("expected ErrAlreadyCompleted, got: %v", err)
		}
	})

	t.Run("unknown task id maps to ErrNotFound", func(t *testing.T) {
		uc := usecase.NewReplayUseCase(newMockFailedTaskRepo(), newMockBroker(), 10, newTestLogger())
		if err := uc.ReplayOne(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestReplayUseCase_SweepOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("replays every unresolved row once", func(t *testing.T) {
		failed := newMockFailedTaskRepo()
		broker := newMockBroker()
		uc := usecase.NewReplayUseCase(failed, broker, 10, newTestLogger())

		for _, id := range []string{"t1", "t2", "t3"} {
			_ = failed.Upsert(ctx, nil, &model.FailedTaskRecord{
				TaskID: id, Kind: model.TaskKindCompute, Queue: model.QueueCompute, Args: []byte(`{}`),
			})
		}

		n, err := uc.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if n != 3 {
			t.Fatalf("expected 3 replayed, got %d", n)
		}

		// Second sweep finds nothing left.
		n, err = uc.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("second sweep: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected idle sweep, replayed %d", n)
		}
	})

	t.Run("enqueue failure leaves the row unresolved for the next sweep", func(t *testing.T) {
		failed := newMockFailedTaskRepo()
		broker := newMockBroker()
		broker.EnqueueErr = errors.New("redis down")
		uc := usecase.NewReplayUseCase(failed, broker, 10, newTestLogger())

		_ = failed.Upsert(ctx, nil, &model.FailedTaskRecord{
			TaskID: "t1", Kind: model.TaskKindCompute, Queue: model.QueueCompute, Args: []byte(`{}`),
		})
		n, err := uc.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("sweep should tolerate per-row failures, got: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected 0 replayed, got %d", n)
		}
		rec, _ := failed.FindByTaskID(ctx, nil, "t1")
		if rec.Resolved {
			t.Error("row resolved despite failed enqueue")
		}
	})
}
