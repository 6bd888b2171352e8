// File: internal/usecase/mocks_test.go
//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// mockConversationSource serves a fixed set of conversations.
type mockConversationSource struct {
	convs map[string]repository.ConversationRef
	chats map[string][]string // chatID -> conversation ids

	ListUnanalyzedFunc func(ctx context.Context, tx repository.Tx, promptID string, limit int) ([]repository.ConversationRef, error)
}

func newMockConversationSource() *mockConversationSource {
	return &mockConversationSource{
		convs: make(map[string]repository.ConversationRef),
		chats: make(map[string][]string),
	}
}

func (m *mockConversationSource) add(id, chatID, content string) {
	m.convs[id] = repository.ConversationRef{ID: id, ChatID: chatID, Content: content}
	m.chats[chatID] = append(m.chats[chatID], id)
}

func (m *mockConversationSource) Get(ctx context.Context, tx repository.Tx, id string) (*repository.ConversationRef, error) {
	c, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (m *mockConversationSource) ListByChat(ctx context.Context, tx repository.Tx, chatID string) ([]repository.ConversationRef, error) {
	var out []repository.ConversationRef
	for _, id := range m.chats[chatID] {
		out = append(out, m.convs[id])
	}
	return out, nil
}

func (m *mockConversationSource) ListUnanalyzed(ctx context.Context, tx repository.Tx, promptID string, limit int) ([]repository.ConversationRef, error) {
	if m.ListUnanalyzedFunc != nil {
		return m.ListUnanalyzedFunc(ctx, tx, promptID, limit)
	}
	var out []repository.ConversationRef
	for _, c := range m.convs {
		out = append(out, c)
	}
	return out, nil
}

// mockRecordRepo is an in-memory analysis record state machine keyed by
// (conversation_id, prompt_id).
type mockRecordRepo struct {
	mu          sync.Mutex
	byPair      map[string]*model.AnalysisRecord
	nextID      int
	PrepareFunc func(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error)
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{byPair: make(map[string]*model.AnalysisRecord)}
}

func pairKey(conversationID, promptID string) string { return conversationID + "|" + promptID }

func (m *mockRecordRepo) seed(rec *model.AnalysisRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPair[pairKey(rec.ConversationID, rec.PromptID)] = rec
}

func (m *mockRecordRepo) Prepare(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error) {
	if m.PrepareFunc != nil {
		return m.PrepareFunc(ctx, tx, conversationID, promptID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(conversationID, promptID)
	if rec, ok := m.byPair[key]; ok {
		if rec.Status == model.AnalysisStatusSuccess {
			return nil, domain.ErrAlreadyCompleted
		}
		if !rec.Retriable() {
			return nil, domain.ErrAlreadyInProgress
		}
		rec.Status = model.AnalysisStatusPending
		rec.TaskRef = ""
		rec.LastError = ""
		cp := *rec
		return &cp, nil
	}
	m.nextID++
	rec := &model.AnalysisRecord{
		ID:             "rec-" + strconv.Itoa(m.nextID),
		ConversationID: conversationID,
		PromptID:       promptID,
		Status:         model.AnalysisStatusPending,
		CreatedAt:      time.Now(),
	}
	m.byPair[key] = rec
	cp := *rec
	return &cp, nil
}

func (m *mockRecordRepo) find(recordID string) *model.AnalysisRecord {
	for _, rec := range m.byPair {
		if rec.ID == recordID {
			return rec
		}
	}
	return nil
}

func (m *mockRecordRepo) MarkDispatched(ctx context.Context, tx repository.Tx, recordID, taskRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.find(recordID)
	if rec == nil {
		return domain.ErrNotFound
	}
	if rec.Status == model.AnalysisStatusSuccess {
		return domain.ErrAlreadyCompleted
	}
	if rec.Status == model.AnalysisStatusProcessing {
		if rec.TaskRef == taskRef {
			return nil
		}
		return domain.ErrAlreadyInProgress
	}
	rec.Status = model.AnalysisStatusProcessing
	rec.TaskRef = taskRef
	return nil
}

func (m *mockRecordRepo) MarkTerminal(ctx context.Context, tx repository.Tx, recordID string, status model.AnalysisStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.find(recordID)
	if rec == nil {
		return domain.ErrNotFound
	}
	if rec.Status == status {
		return nil
	}
	rec.Status = status
	rec.LastError = errMsg
	rec.TaskRef = ""
	return nil
}

func (m *mockRecordRepo) MarkRetrying(ctx context.Context, tx repository.Tx, recordID string, attempt int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.find(recordID)
	if rec == nil {
		return domain.ErrNotFound
	}
	rec.RetryCount = attempt
	rec.LastError = errMsg
	return nil
}

func (m *mockRecordRepo) FindByID(ctx context.Context, tx repository.Tx, recordID string) (*model.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.find(recordID)
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRecordRepo) SaveResult(ctx context.Context, tx repository.Tx, res *model.AnalysisResult) error {
	return nil
}

// mockCatalog resolves prompts from a fixed map.
type mockCatalog struct {
	prompts map[string]repository.Prompt
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{prompts: map[string]repository.Prompt{
		"summary": {ID: "summary", Text: "Summarize.", Model: "gpt-4o-mini"},
	}}
}

func (m *mockCatalog) Get(ctx context.Context, promptID string) (*repository.Prompt, error) {
	p, ok := m.prompts[promptID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockCatalog) Invalidate(promptID string) {}

// mockBroker records every enqueued task in order.
type mockBroker struct {
	mu         sync.Mutex
	enqueued   []*model.Task
	delayed    []*model.Task
	EnqueueErr error
}

func newMockBroker() *mockBroker { return &mockBroker{} }

func (m *mockBroker) Enqueue(ctx context.Context, task *model.Task) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.enqueued = append(m.enqueued, &cp)
	return nil
}

func (m *mockBroker) EnqueueIn(ctx context.Context, task *model.Task, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.delayed = append(m.delayed, &cp)
	return nil
}

func (m *mockBroker) Receive(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error) {
	return nil, domain.ErrNotFound
}

func (m *mockBroker) Ack(ctx context.Context, task *model.Task) error { return nil }

func (m *mockBroker) Depth(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.enqueued {
		if t.Queue == queue {
			n++
		}
	}
	return n, nil
}

func (m *mockBroker) onQueue(queue string) []*model.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Task
	for _, t := range m.enqueued {
		if t.Queue == queue {
			out = append(out, t)
		}
	}
	return out
}

// mockCounters is a synchronous in-memory counter store that records the
// seeding order relative to enqueues.
type mockCounters struct {
	mu     sync.Mutex
	runs   map[string]*model.RunCounters
	items  map[string]map[string]model.ItemState
	seeded []string
}

func newMockCounters() *mockCounters {
	return &mockCounters{
		runs:  make(map[string]*model.RunCounters),
		items: make(map[string]map[string]model.ItemState),
	}
}

func (m *mockCounters) Seed(ctx context.Context, runID string, itemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = &model.RunCounters{RunID: runID, Total: int64(len(itemIDs)), Pending: int64(len(itemIDs))}
	states := make(map[string]model.ItemState, len(itemIDs))
	for _, id := range itemIDs {
		states[id] = model.ItemPending
	}
	m.items[runID] = states
	m.seeded = append(m.seeded, runID)
	return nil
}

func (m *mockCounters) MarkStarted(runID, itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.runs[runID]
	if !ok {
		return
	}
	c.Pending--
	c.Processing++
	m.items[runID][itemID] = model.ItemProcessing
}

func (m *mockCounters) MarkFinished(runID, itemID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, exists := m.runs[runID]
	if !exists {
		return
	}
	switch m.items[runID][itemID] {
	case model.ItemPending:
		c.Pending--
	case model.ItemProcessing:
		c.Processing--
	}
	if ok {
		c.Success++
		m.items[runID][itemID] = model.ItemSuccess
	} else {
		c.Failed++
		m.items[runID][itemID] = model.ItemFailed
	}
}

func (m *mockCounters) Snapshot(ctx context.Context, runID string) (model.RunCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.runs[runID]
	if !ok {
		return model.RunCounters{}, domain.ErrRunNotFound
	}
	return *c, nil
}

func (m *mockCounters) ForceFlush(ctx context.Context, runID string) error { return nil }

func (m *mockCounters) Reconcile(ctx context.Context, runID string) (model.RunCounters, error) {
	return m.Snapshot(ctx, runID)
}

func (m *mockCounters) Expire(ctx context.Context, runID string, ttl time.Duration) error { return nil }

// mockEvents collects published run events.
type mockEvents struct {
	mu     sync.Mutex
	events []model.RunEvent
}

func newMockEvents() *mockEvents { return &mockEvents{} }

func (m *mockEvents) Publish(ctx context.Context, ev model.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockEvents) ofType(t model.RunEventType) []model.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RunEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// mockFailedTaskRepo is an in-memory dead-letter store.
type mockFailedTaskRepo struct {
	mu    sync.Mutex
	store map[string]*model.FailedTaskRecord
}

func newMockFailedTaskRepo() *mockFailedTaskRepo {
	return &mockFailedTaskRepo{store: make(map[string]*model.FailedTaskRecord)}
}

func (m *mockFailedTaskRepo) Upsert(ctx context.Context, tx repository.Tx, rec *model.FailedTaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.store[rec.TaskID]; ok {
		existing.LastError = rec.LastError
		existing.RetryCount++
		existing.Resolved = false
		existing.ResolvedAt = nil
		return nil
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	m.store[rec.TaskID] = &cp
	return nil
}

func (m *mockFailedTaskRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.FailedTaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.store[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockFailedTaskRepo) FindUnresolved(ctx context.Context, tx repository.Tx, limit int) ([]*model.FailedTaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FailedTaskRecord
	for _, rec := range m.store {
		if !rec.Resolved {
			cp := *rec
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockFailedTaskRepo) MarkResolved(ctx context.Context, tx repository.Tx, taskID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.store[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Resolved = true
	rec.ResolvedAt = &at
	return nil
}
