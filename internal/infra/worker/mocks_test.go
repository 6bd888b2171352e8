// File: internal/infra/worker/mocks_test.go
//go:build !integration

package worker_test

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// memBroker is an in-memory queue substrate. EnqueueIn delivers immediately
// so tests can pump retries without waiting out the backoff.
type memBroker struct {
	mu         sync.Mutex
	ready      map[string][]*model.Task
	delayed    int
	EnqueueErr error
}

func newMemBroker() *memBroker {
	return &memBroker{ready: make(map[string][]*model.Task)}
}

func (b *memBroker) Enqueue(ctx context.Context, task *model.Task) error {
	if b.EnqueueErr != nil {
		return b.EnqueueErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *task
	b.ready[task.Queue] = append(b.ready[task.Queue], &cp)
	return nil
}

func (b *memBroker) EnqueueIn(ctx context.Context, task *model.Task, delay time.Duration) error {
	b.mu.Lock()
	b.delayed++
	b.mu.Unlock()
	return b.Enqueue(ctx, task)
}

func (b *memBroker) Receive(ctx context.Context, queue string, timeout time.Duration) (*model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.ready[queue]
	if len(q) == 0 {
		return nil, domain.ErrNotFound
	}
	task := q[0]
	b.ready[queue] = q[1:]
	return task, nil
}

func (b *memBroker) Ack(ctx context.Context, task *model.Task) error { return nil }

func (b *memBroker) Depth(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.ready[queue])), nil
}

func (b *memBroker) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.ready {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

// memRecordRepo mirrors the repository's single-row state machine.
type memRecordRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.AnalysisRecord
	results []*model.AnalysisResult
	nextID  int

	MarkDispatchedFunc func(ctx context.Context, tx repository.Tx, recordID, taskRef string) error
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{byID: make(map[string]*model.AnalysisRecord)}
}

func (m *memRecordRepo) addPending(conversationID, promptID string) *model.AnalysisRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec := &model.AnalysisRecord{
		ID:             "rec-" + strconv.Itoa(m.nextID),
		ConversationID: conversationID,
		PromptID:       promptID,
		Status:         model.AnalysisStatusPending,
	}
	m.byID[rec.ID] = rec
	return rec
}

func (m *memRecordRepo) Prepare(ctx context.Context, tx repository.Tx, conversationID, promptID string) (*model.AnalysisRecord, error) {
	rec := m.addPending(conversationID, promptID)
	cp := *rec
	return &cp, nil
}

func (m *memRecordRepo) MarkDispatched(ctx context.Context, tx repository.Tx, recordID, taskRef string) error {
	if m.MarkDispatchedFunc != nil {
		return m.MarkDispatchedFunc(ctx, tx, recordID, taskRef)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	switch rec.Status {
	case model.AnalysisStatusSuccess:
		return domain.ErrAlreadyCompleted
	case model.AnalysisStatusProcessing:
		if rec.TaskRef == taskRef {
			return nil
		}
		return domain.ErrAlreadyInProgress
	}
	rec.Status = model.AnalysisStatusProcessing
	rec.TaskRef = taskRef
	return nil
}

func (m *memRecordRepo) MarkTerminal(ctx context.Context, tx repository.Tx, recordID string, status model.AnalysisStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[recordID]
	if !ok {
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

func (m *memRecordRepo) MarkRetrying(ctx context.Context, tx repository.Tx, recordID string, attempt int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[recordID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.RetryCount = attempt
	rec.LastError = errMsg
	return nil
}

func (m *memRecordRepo) FindByID(ctx context.Context, tx repository.Tx, recordID string) (*model.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[recordID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecordRepo) SaveResult(ctx context.Context, tx repository.Tx, res *model.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

// memCounters is a synchronous stand-in for the buffered counter service.
type memCounters struct {
	mu      sync.Mutex
	runs    map[string]*model.RunCounters
	items   map[string]map[string]model.ItemState
	expired []string
}

func newMemCounters() *memCounters {
	return &memCounters{
		runs:  make(map[string]*model.RunCounters),
		items: make(map[string]map[string]model.ItemState),
	}
}

func (m *memCounters) Seed(ctx context.Context, runID string, itemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = &model.RunCounters{RunID: runID, Total: int64(len(itemIDs)), Pending: int64(len(itemIDs))}
	states := make(map[string]model.ItemState, len(itemIDs))
	for _, id := range itemIDs {
		states[id] = model.ItemPending
	}
	m.items[runID] = states
	return nil
}

func (m *memCounters) MarkStarted(runID, itemID string) {
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

func (m *memCounters) MarkFinished(runID, itemID string, ok bool) {
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

func (m *memCounters) Snapshot(ctx context.Context, runID string) (model.RunCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.runs[runID]
	if !ok {
		return model.RunCounters{}, domain.ErrRunNotFound
	}
	return *c, nil
}

func (m *memCounters) ForceFlush(ctx context.Context, runID string) error { return nil }

func (m *memCounters) Reconcile(ctx context.Context, runID string) (model.RunCounters, error) {
	return m.Snapshot(ctx, runID)
}

func (m *memCounters) Expire(ctx context.Context, runID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, runID)
	return nil
}

// memEvents collects run events.
type memEvents struct {
	mu     sync.Mutex
	events []model.RunEvent
}

func newMemEvents() *memEvents { return &memEvents{} }

func (m *memEvents) Publish(ctx context.Context, ev model.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) ofType(t model.RunEventType) []model.RunEvent {
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

// memFailedRepo is the in-memory dead-letter store.
type memFailedRepo struct {
	mu        sync.Mutex
	store     map[string]*model.FailedTaskRecord
	UpsertErr error
}

func newMemFailedRepo() *memFailedRepo {
	return &memFailedRepo{store: make(map[string]*model.FailedTaskRecord)}
}

func (m *memFailedRepo) Upsert(ctx context.Context, tx repository.Tx, rec *model.FailedTaskRecord) error {
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.store[rec.TaskID]; ok {
		existing.LastError = rec.LastError
		existing.RetryCount++
		existing.Resolved = false
		return nil
	}
	cp := *rec
	m.store[rec.TaskID] = &cp
	return nil
}

func (m *memFailedRepo) FindByTaskID(ctx context.Context, tx repository.Tx, taskID string) (*model.FailedTaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.store[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memFailedRepo) FindUnresolved(ctx context.Context, tx repository.Tx, limit int) ([]*model.FailedTaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FailedTaskRecord
	for _, rec := range m.store {
		if !rec.Resolved {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memFailedRepo) MarkResolved(ctx context.Context, tx repository.Tx, taskID string, at time.Time) error {
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

// memLocker is a single-process SetNX lock.
type memLocker struct {
	mu    sync.Mutex
	held  map[string]string
	tries int
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]string)} }

func (l *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tries++
	if _, taken := l.held[key]; taken {
		return "", domain.ErrLockNotAcquired
	}
	token := "token-" + strconv.Itoa(l.tries)
	l.held[key] = token
	return token, nil
}

func (l *memLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// fakeAI returns canned analysis text and can be told to fail per content.
type fakeAI struct {
	AnalyzeFunc func(ctx context.Context, model, prompt, content string) (string, adapter.Usage, error)
}

func (f *fakeAI) ListModels(ctx context.Context) ([]string, error) { return []string{"fake"}, nil }

func (f *fakeAI) GetModelInfo(model string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{Name: model}, nil
}

func (f *fakeAI) Analyze(ctx context.Context, modelName, prompt, content string) (string, adapter.Usage, error) {
	if f.AnalyzeFunc != nil {
		return f.AnalyzeFunc(ctx, modelName, prompt, content)
	}
	return "analysis of " + content, adapter.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

// fakeCatalog resolves a single prompt.
type fakeCatalog struct{}

func (fakeCatalog) Get(ctx context.Context, promptID string) (*repository.Prompt, error) {
	if promptID != "summary" {
		return nil, domain.ErrNotFound
	}
	return &repository.Prompt{ID: "summary", Text: "Summarize.", Model: "fake-model"}, nil
}

func (fakeCatalog) Invalidate(promptID string) {}

// memConversationSource serves conversations from a map.
type memConversationSource struct {
	byID map[string]repository.ConversationRef
}

func newMemConversationSource() *memConversationSource {
	return &memConversationSource{byID: make(map[string]repository.ConversationRef)}
}

func (m *memConversationSource) add(id, chatID, content string) {
	m.byID[id] = repository.ConversationRef{ID: id, ChatID: chatID, Content: content}
}

func (m *memConversationSource) Get(ctx context.Context, tx repository.Tx, conversationID string) (*repository.ConversationRef, error) {
	ref, ok := m.byID[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ref, nil
}

func (m *memConversationSource) ListByChat(ctx context.Context, tx repository.Tx, chatID string) ([]repository.ConversationRef, error) {
	return nil, nil
}

func (m *memConversationSource) ListUnanalyzed(ctx context.Context, tx repository.Tx, promptID string, limit int) ([]repository.ConversationRef, error) {
	return nil, nil
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// memEmbeddingStore keeps one vector per conversation.
type memEmbeddingStore struct {
	saved map[string]*model.ConversationEmbedding
}

func newMemEmbeddingStore() *memEmbeddingStore {
	return &memEmbeddingStore{saved: make(map[string]*model.ConversationEmbedding)}
}

func (m *memEmbeddingStore) Save(ctx context.Context, tx repository.Tx, emb *model.ConversationEmbedding) error {
	if emb.ConversationID == "" || len(emb.Vector) == 0 {
		return domain.ErrInvalidArgument
	}
	cp := *emb
	m.saved[emb.ConversationID] = &cp
	return nil
}

func (m *memEmbeddingStore) FindByConversation(ctx context.Context, tx repository.Tx, conversationID string) (*model.ConversationEmbedding, error) {
	emb, ok := m.saved[conversationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return emb, nil
}

// nopTxManager runs the callback without a transaction; the mem repos are
// atomic on their own.
type nopTxManager struct{}

func (nopTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}
