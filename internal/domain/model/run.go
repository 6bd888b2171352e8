package model

// ItemState is the last-known per-item state inside a run's membership set.
// It mirrors AnalysisStatus but lives in the counter store, where it is the
// ground truth for reconciling lost increments.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemProcessing ItemState = "processing"
	ItemSuccess    ItemState = "success"
	ItemFailed     ItemState = "failed"
)

// RunCounters is a point-in-time view of one run's progress. Counters are a
// best-effort, reconciled aggregate; the relational database remains the
// system of record.
type RunCounters struct {
	RunID      string `json:"run_id"`
	Total      int64  `json:"total"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Success    int64  `json:"success"`
	Failed     int64  `json:"failed"`
}

// Complete reports whether every item reached a terminal state.
func (c RunCounters) Complete() bool {
	return c.Total > 0 && c.Success+c.Failed >= c.Total
}

// Percentage of items settled, 0..100. Zero-total runs report 0.
func (c RunCounters) Percentage() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Success+c.Failed) / float64(c.Total) * 100
}

// Conserved reports the counter invariant: every item is in exactly one
// bucket. Only guaranteed to hold after a flush.
func (c RunCounters) Conserved() bool {
	return c.Pending+c.Processing+c.Success+c.Failed == c.Total
}

// RunEventType labels messages on the per-run event channel.
type RunEventType string

const (
	EventStarted     RunEventType = "started"
	EventCompleted   RunEventType = "completed"
	EventFailed      RunEventType = "failed"
	EventRunComplete RunEventType = "run_complete"
)

// RunEvent is published per item transition and once at run completion.
type RunEvent struct {
	Type     RunEventType `json:"type"`
	RunID    string       `json:"run_id"`
	ItemID   string       `json:"item_id,omitempty"`
	Counters *RunCounters `json:"counters,omitempty"`
}
