package model

import "time"

// FailedTaskRecord is the durable dead-letter row for a task that exhausted
// its retry budget (or failed with a non-retryable error). Keyed by the
// broker task id so repeated terminal failures update one row.
type FailedTaskRecord struct {
	TaskID     string
	Kind       TaskKind
	Queue      string
	Args       []byte // serialized task payload, replayable as-is
	LastError  string
	RetryCount int
	Resolved   bool
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
