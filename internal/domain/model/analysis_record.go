package model

import "time"

type AnalysisStatus string

const (
	AnalysisStatusPending    AnalysisStatus = "pending"
	AnalysisStatusProcessing AnalysisStatus = "processing"
	AnalysisStatusSuccess    AnalysisStatus = "success"
	AnalysisStatusFailed     AnalysisStatus = "failed"
	AnalysisStatusSkipped    AnalysisStatus = "skipped"
)

// AnalysisRecord is the authoritative status of one (conversation, prompt)
// analysis attempt. There is at most one row per pair, enforced by a unique
// constraint on (conversation_id, prompt_id).
type AnalysisRecord struct {
	ID             string
	ConversationID string
	PromptID       string
	Status         AnalysisStatus
	RetryCount     int
	// TaskRef is the broker task id of the in-flight pipeline, empty when
	// the record is not dispatched. A PROCESSING row without a TaskRef is an
	// orphan and may be repaired back to pending.
	TaskRef   string
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the record reached a final status.
func (r *AnalysisRecord) Terminal() bool {
	switch r.Status {
	case AnalysisStatusSuccess, AnalysisStatusFailed, AnalysisStatusSkipped:
		return true
	}
	return false
}

// AnalysisResult is the persisted output of a successful analysis, written
// by the persist stage in the same transaction that marks the record done.
type AnalysisResult struct {
	ID             string
	RecordID       string
	ConversationID string
	PromptID       string
	Content        string
	Model          string
	PromptTokens   int
	OutputTokens   int
	CostMicros     int64
	CreatedAt      time.Time
}

// Retriable reports whether prepare() may reset this record to pending.
// SUCCESS is immutable; genuinely in-flight records are not retriable.
func (r *AnalysisRecord) Retriable() bool {
	switch r.Status {
	case AnalysisStatusFailed, AnalysisStatusSkipped:
		return true
	case AnalysisStatusPending:
		return r.TaskRef == ""
	case AnalysisStatusProcessing:
		return r.TaskRef == "" // orphaned by a crashed worker
	}
	return false
}
