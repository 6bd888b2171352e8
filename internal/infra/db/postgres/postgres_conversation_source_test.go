//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
)

func TestConversationSource_Get(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	src := NewConversationSource(testPool)

	seedConversation(t, "conv-1", "chat-1", "hello there", true)

	got, err := src.Get(ctx, nil, "conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ChatID != "chat-1" || got.Content != "hello there" {
		t.Errorf("unexpected ref: %+v", got)
	}

	if _, err := src.Get(ctx, nil, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationSource_ListByChat(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	src := NewConversationSource(testPool)

	seedConversation(t, "conv-1", "chat-1", "first", true)
	seedConversation(t, "conv-2", "chat-1", "still open", false)
	seedConversation(t, "conv-3", "chat-1", "third", true)
	seedConversation(t, "conv-4", "chat-2", "other chat", true)

	got, err := src.ListByChat(ctx, nil, "chat-1")
	if err != nil {
		t.Fatalf("ListByChat failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sealed conversations, got %d", len(got))
	}
	if got[0].ID != "conv-1" || got[1].ID != "conv-3" {
		t.Errorf("expected [conv-1 conv-3] in seal order, got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestConversationSource_ListUnanalyzed(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	src := NewConversationSource(testPool)
	records := NewAnalysisRecordRepo(testPool, NewTxManager(testPool))

	seedConversation(t, "conv-1", "chat-1", "analyzed", true)
	seedConversation(t, "conv-2", "chat-1", "failed before", true)
	seedConversation(t, "conv-3", "chat-1", "never touched", true)
	seedConversation(t, "conv-4", "chat-1", "not sealed", false)

	// conv-1 succeeded under this prompt; conv-2 failed and stays eligible.
	for _, tc := range []struct {
		conv   string
		status model.AnalysisStatus
	}{
		{"conv-1", model.AnalysisStatusSuccess},
		{"conv-2", model.AnalysisStatusFailed},
	} {
		rec, err := records.Prepare(ctx, nil, tc.conv, "summary")
		if err != nil {
			t.Fatalf("Prepare %s failed: %v", tc.conv, err)
		}
		if err := records.MarkDispatched(ctx, nil, rec.ID, "task-"+tc.conv); err != nil {
			t.Fatalf("MarkDispatched %s failed: %v", tc.conv, err)
		}
		if err := records.MarkTerminal(ctx, nil, rec.ID, tc.status, ""); err != nil {
			t.Fatalf("MarkTerminal %s failed: %v", tc.conv, err)
		}
	}

	got, err := src.ListUnanalyzed(ctx, nil, "summary", 0)
	if err != nil {
		t.Fatalf("ListUnanalyzed failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 eligible conversations, got %d", len(got))
	}
	if got[0].ID != "conv-2" || got[1].ID != "conv-3" {
		t.Errorf("expected [conv-2 conv-3], got [%s %s]", got[0].ID, got[1].ID)
	}

	// A success under another prompt does not hide the conversation.
	other, err := src.ListUnanalyzed(ctx, nil, "sentiment", 10)
	if err != nil {
		t.Fatalf("ListUnanalyzed failed: %v", err)
	}
	if len(other) != 3 {
		t.Errorf("expected all 3 sealed conversations under a fresh prompt, got %d", len(other))
	}

	limited, err := src.ListUnanalyzed(ctx, nil, "summary", 1)
	if err != nil {
		t.Fatalf("ListUnanalyzed with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "conv-2" {
		t.Errorf("expected the single oldest eligible row, got %+v", limited)
	}
}

func TestEmbeddingStore_SaveAndFind(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	store := NewEmbeddingStore(testPool)
	records := NewAnalysisRecordRepo(testPool, NewTxManager(testPool))

	seedConversation(t, "conv-1", "chat-1", "hello", true)
	rec, err := records.Prepare(ctx, nil, "conv-1", "summary")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	emb := &model.ConversationEmbedding{
		ConversationID: "conv-1",
		RecordID:       rec.ID,
		Model:          "text-embedding-004",
		Vector:         []float32{0.1, -0.2, 0.3},
	}
	if err := store.Save(ctx, nil, emb); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.FindByConversation(ctx, nil, "conv-1")
	if err != nil {
		t.Fatalf("FindByConversation failed: %v", err)
	}
	if len(got.Vector) != 3 || got.Vector[1] != -0.2 {
		t.Errorf("unexpected vector: %v", got.Vector)
	}

	// Re-embedding replaces the vector in place.
	emb.Vector = []float32{0.9, 0.9}
	if err := store.Save(ctx, nil, emb); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, err = store.FindByConversation(ctx, nil, "conv-1")
	if err != nil {
		t.Fatalf("FindByConversation failed: %v", err)
	}
	if len(got.Vector) != 2 {
		t.Errorf("expected replaced vector, got %v", got.Vector)
	}

	if _, err := store.FindByConversation(ctx, nil, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, nil, &model.ConversationEmbedding{ConversationID: "conv-1"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty vector, got %v", err)
	}
}
