package model

import "time"

// PipelineSpec is one conversation's two-stage pipeline inside a run:
// a compute task whose success feeds a persist task. The persist task is
// created by the compute handler, so only the compute stage is enqueued
// up front.
type PipelineSpec struct {
	RecordID       string
	ConversationID string
	PromptID       string
	Content        string
	Model          string
	// Sequential routes the pipeline through the single-concurrency queue
	// (chronological backfills).
	Sequential bool
}

// WorkflowPlan is the explicit fan-out graph of a batch submission: the
// exact membership set plus one pipeline per member. Built fully before
// anything is enqueued, so seeding the counters can never race a worker.
type WorkflowPlan struct {
	RunID     string
	ChatID    string // empty for global or explicit-list runs
	PromptID  string
	Pipelines []PipelineSpec
	// Skipped lists conversations excluded at assembly time (already
	// succeeded); they are not part of the run's counters.
	Skipped   []string
	CreatedAt time.Time
}

// ItemIDs returns the membership set in pipeline order.
func (p *WorkflowPlan) ItemIDs() []string {
	ids := make([]string, 0, len(p.Pipelines))
	for i := range p.Pipelines {
		ids = append(ids, p.Pipelines[i].RecordID)
	}
	return ids
}

// SubmissionResult is what a caller gets back from the assembler.
type SubmissionResult struct {
	RunID    string   `json:"run_id"`
	TaskRefs []string `json:"task_refs"`
	Queued   int      `json:"queued"`
	Skipped  int      `json:"skipped"`
	Message  string   `json:"message"`
}
