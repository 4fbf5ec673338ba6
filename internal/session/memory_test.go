package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bankassist/internal/docscan"
)

func newMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemory(time.Hour)
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	sess := New("husamhilal")
	sess.Append(Message{Role: "user", Content: "hello"})
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "husamhilal" {
		t.Errorf("user id = %q", got.UserID)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	store := newMemoryStore(t)

	if _, err := store.Get(context.Background(), "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	sess := New("u1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetReturnsPrivateCopy(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	sess := New("u1")
	sess.Append(Message{Role: "assistant", Content: "confirm?", Meta: map[string]any{"intent": "payment", "awaiting_confirmation": true}})
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	a, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a.Append(Message{Role: "user", Content: "confirm"})
	a.Messages[0].Meta["intent"] = "chat"

	if len(b.Messages) != 1 {
		t.Errorf("second copy has %d messages, want 1", len(b.Messages))
	}
	if b.Messages[0].Meta["intent"] != "payment" {
		t.Errorf("second copy meta = %v, want the saved proposal", b.Messages[0].Meta)
	}
}

func TestMemoryStoreConcurrentTurns(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	sess := New("u1")
	sess.Append(Message{Role: "assistant", Content: "confirm?", Meta: map[string]any{"intent": "payment", "awaiting_confirmation": true}})
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := store.Get(ctx, sess.ID)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			got.Append(Message{Role: "user", Content: fmt.Sprintf("turn %d", i)})
			if err := store.Save(ctx, got); err != nil {
				t.Errorf("save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	final, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get after concurrent turns: %v", err)
	}
	// Each turn worked on its own copy; the winning save holds the seed
	// message plus exactly one appended turn.
	if len(final.Messages) != 2 {
		t.Errorf("messages = %d, want 2", len(final.Messages))
	}
	meta := final.LastAssistantMeta()
	if meta == nil || meta["intent"] != "payment" || meta["awaiting_confirmation"] != true {
		t.Errorf("pending proposal lost across concurrent turns: %v", meta)
	}
}

func TestLastAssistantMeta(t *testing.T) {
	sess := New("u1")
	if meta := sess.LastAssistantMeta(); meta != nil {
		t.Fatalf("expected nil meta on empty session, got %v", meta)
	}

	sess.Append(Message{Role: "user", Content: "pay my bill"})
	sess.Append(Message{Role: "assistant", Content: "confirm?", Meta: map[string]any{"intent": "payment"}})
	sess.Append(Message{Role: "user", Content: "confirm"})

	meta := sess.LastAssistantMeta()
	if meta == nil || meta["intent"] != "payment" {
		t.Fatalf("meta = %v", meta)
	}
}

func TestSelectedDocument(t *testing.T) {
	sess := New("u1")
	if sess.SelectedDocument() != nil {
		t.Fatal("expected no selected document")
	}

	doc := sess.AddDocument("bill.txt", docscan.Extraction{
		BankingInfo: docscan.BankingInfo{Names: []string{"ACME Utilities"}},
	})
	if sess.SelectedDocumentID != doc.ID {
		t.Fatalf("selected = %q, want %q", sess.SelectedDocumentID, doc.ID)
	}

	got := sess.SelectedDocument()
	if got == nil || len(got.BankingInfo.Names) != 1 {
		t.Fatalf("selected document = %+v", got)
	}
}
