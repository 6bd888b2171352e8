package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskKind enumerates every task the engine can execute. Dispatch is a
// compile-time registry (kind -> handler), not a lookup by free-form name.
type TaskKind string

const (
	TaskKindCompute  TaskKind = "analysis.compute"
	TaskKindPersist  TaskKind = "analysis.persist"
	TaskKindEmbed    TaskKind = "analysis.embed"
	TaskKindFinalize TaskKind = "run.finalize"
	TaskKindBackfill TaskKind = "analysis.backfill"
)

// Default queue names. Compute is network-bound, persist is database-bound;
// they are separate so one slow resource cannot starve the other. Finalize
// and sequential run at concurrency 1.
const (
	QueueCompute    = "analysis.compute"
	QueuePersist    = "analysis.persist"
	QueueEmbeddings = "analysis.embeddings"
	QueueFanout     = "analysis.fanout"
	QueueFinalize   = "analysis.finalize"
	QueueSequential = "analysis.sequential"
)

// Task is the broker envelope. ID is stable across retries of the same unit
// of work; Attempt counts deliveries starting at 1.
type Task struct {
	ID         string          `json:"id"`
	Kind       TaskKind        `json:"kind"`
	Queue      string          `json:"queue"`
	RunID      string          `json:"run_id,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewTask(kind TaskKind, queue, runID string, payload any) (*Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Queue:      queue,
		RunID:      runID,
		Attempt:    1,
		EnqueuedAt: time.Now(),
		Payload:    b,
	}, nil
}

// ComputePayload is the input of the compute stage.
type ComputePayload struct {
	RecordID       string `json:"record_id"`
	ConversationID string `json:"conversation_id"`
	PromptID       string `json:"prompt_id"`
	// Content is the model-ready encoding of the conversation, produced by
	// an upstream collaborator.
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// PipelinePayload is handed from the compute stage to the persist stage of
// one conversation's pipeline. In-flight only, never stored.
type PipelinePayload struct {
	RecordID       string `json:"record_id"`
	ConversationID string `json:"conversation_id"`
	PromptID       string `json:"prompt_id"`
	RunID          string `json:"run_id"`
	ResultText     string `json:"result_text"`
	Model          string `json:"model"`
	PromptTokens   int    `json:"prompt_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	CostMicros     int64  `json:"cost_micros"`
}

// BackfillPayload asks the fanout worker to assemble a run over every
// unanalyzed conversation for the prompt, off the caller's request path.
type BackfillPayload struct {
	PromptID string `json:"prompt_id"`
	Limit    int    `json:"limit,omitempty"`
}

// EmbedPayload is the input of the optional embeddings stage.
type EmbedPayload struct {
	RecordID       string `json:"record_id"`
	ConversationID string `json:"conversation_id"`
}

// FinalizePayload triggers the exactly-once settlement of a run.
type FinalizePayload struct {
	RunID string `json:"run_id"`
}
