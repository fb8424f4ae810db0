package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestInMemorySequencesPerTopic(t *testing.T) {
	mem := NewInMemory(0)
	ctx := context.Background()
	a, err := mem.CreateTopic(ctx, "a")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	b, err := mem.CreateTopic(ctx, "b")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if a == b {
		t.Fatalf("topic ids collide: %s", a)
	}

	for i := 1; i <= 3; i++ {
		r, err := mem.SubmitEntry(ctx, a, []byte{byte(i)}, nil)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if r.SequenceNumber != uint64(i) {
			t.Fatalf("sequence %d, want %d", r.SequenceNumber, i)
		}
	}
	r, err := mem.SubmitEntry(ctx, b, []byte("x"), nil)
	if err != nil || r.SequenceNumber != 1 {
		t.Fatalf("second topic must sequence independently: %+v %v", r, err)
	}
}

func TestInMemoryRejectsOversizedEntry(t *testing.T) {
	mem := NewInMemory(0)
	ctx := context.Background()
	topic, _ := mem.CreateTopic(ctx, "t")
	if _, err := mem.SubmitEntry(ctx, topic, bytes.Repeat([]byte{1}, DefaultEntryLimit+1), nil); !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
	if _, err := mem.SubmitEntry(ctx, topic, bytes.Repeat([]byte{1}, DefaultEntryLimit), nil); err != nil {
		t.Fatalf("limit-sized entry must be accepted: %v", err)
	}
}

func TestInMemoryUnknownTopic(t *testing.T) {
	mem := NewInMemory(0)
	if _, err := mem.SubmitEntry(context.Background(), "0.0.9999", []byte("x"), nil); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	page, err := mem.TopicMessages(context.Background(), "0.0.9999", 0, 10)
	if err != nil || page != nil {
		t.Fatalf("unknown topic reads as empty, got %v %v", page, err)
	}
}

func TestInMemoryFillsInitialTransactionID(t *testing.T) {
	mem := NewInMemory(0)
	ctx := context.Background()
	topic, _ := mem.CreateTopic(ctx, "t")

	first, err := mem.SubmitEntry(ctx, topic, []byte("c0"), &EntryChunkInfo{Number: 1, Total: 2})
	if err != nil {
		t.Fatalf("submit chunk 1: %v", err)
	}
	if first.TransactionID == "" {
		t.Fatalf("first chunk receipt must carry the bound transaction id")
	}
	if _, err := mem.SubmitEntry(ctx, topic, []byte("c1"), &EntryChunkInfo{Number: 2, Total: 2, InitialTransactionID: first.TransactionID}); err != nil {
		t.Fatalf("submit chunk 2: %v", err)
	}

	page, err := mem.TopicMessages(ctx, topic, 0, 10)
	if err != nil || len(page) != 2 {
		t.Fatalf("read back: %v %v", page, err)
	}
	for i, m := range page {
		if m.ChunkInfo == nil {
			t.Fatalf("entry %d lost its chunk info", i)
		}
		if m.ChunkInfo.InitialTransactionID != first.TransactionID {
			t.Fatalf("entry %d initial tx %q, want %q", i, m.ChunkInfo.InitialTransactionID, first.TransactionID)
		}
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenFileStore(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	topic, err := store.CreateTopic(ctx, "t")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := store.SubmitEntry(ctx, topic, []byte("persisted"), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.UpdateAccountMemo(ctx, "0.0.2", topic); err != nil {
		t.Fatalf("memo: %v", err)
	}

	reopened, err := OpenFileStore(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	memo, err := reopened.AccountMemo(ctx, "0.0.2")
	if err != nil || memo != topic {
		t.Fatalf("memo lost across reopen: %q %v", memo, err)
	}
	page, err := reopened.TopicMessages(ctx, topic, 0, 10)
	if err != nil || len(page) != 1 {
		t.Fatalf("entries lost across reopen: %v %v", page, err)
	}
	payload, err := page[0].Payload()
	if err != nil || string(payload) != "persisted" {
		t.Fatalf("payload corrupted: %q %v", payload, err)
	}

	// Sequences keep climbing from where the previous process stopped.
	r, err := reopened.SubmitEntry(ctx, topic, []byte("next"), nil)
	if err != nil || r.SequenceNumber != 2 {
		t.Fatalf("sequence did not resume: %+v %v", r, err)
	}
}

func TestFileStoreRejectsCorruptState(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenFileStore(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.CreateTopic(context.Background(), "t"); err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ledger.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := OpenFileStore(dir, 0); err == nil {
		t.Fatalf("corrupt state file must not load silently")
	}
}
