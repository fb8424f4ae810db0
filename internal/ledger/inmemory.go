package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/InternetOfPeers/hiero-message-box/internal/mirror"
)

type storedEntry struct {
	sequence  uint64
	timestamp string
	payload   []byte
	chunkInfo *EntryChunkInfo
}

// InMemory is a process-local ledger with the same observable semantics as
// the real log: strictly increasing sequence numbers per topic, a hard
// per-entry payload limit, and chunk metadata surfaced on the read side.
// It also serves as the read-side query source for tests.
type InMemory struct {
	mu         sync.Mutex
	entryLimit int
	topics     map[string][]storedEntry
	memos      map[string]string
	topicSeq   int
	txSeq      int
	clock      int64
}

func NewInMemory(entryLimit int) *InMemory {
	if entryLimit <= 0 {
		entryLimit = DefaultEntryLimit
	}
	return &InMemory{
		entryLimit: entryLimit,
		topics:     make(map[string][]storedEntry),
		memos:      make(map[string]string),
		clock:      1_700_000_000,
	}
}

func (l *InMemory) CreateTopic(_ context.Context, memo string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topicSeq++
	topicID := fmt.Sprintf("0.0.%d", 1000+l.topicSeq)
	l.topics[topicID] = nil
	_ = memo
	return topicID, nil
}

func (l *InMemory) SubmitEntry(_ context.Context, topicID string, payload []byte, info *EntryChunkInfo) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.topics[topicID]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrTopicNotFound, topicID)
	}
	if len(payload) > l.entryLimit {
		return Receipt{}, fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, len(payload), l.entryLimit)
	}

	l.clock++
	l.txSeq++
	txID := fmt.Sprintf("0.0.2@%d.%09d", l.clock, l.txSeq)

	var stored *EntryChunkInfo
	if info != nil {
		stored = &EntryChunkInfo{
			Number:               info.Number,
			Total:                info.Total,
			InitialTransactionID: info.InitialTransactionID,
		}
		if stored.InitialTransactionID == "" {
			stored.InitialTransactionID = txID
		}
	}
	entry := storedEntry{
		sequence:  uint64(len(entries)) + 1,
		timestamp: fmt.Sprintf("%d.%09d", l.clock, l.txSeq),
		payload:   append([]byte(nil), payload...),
		chunkInfo: stored,
	}
	l.topics[topicID] = append(entries, entry)
	receiptTx := txID
	if stored != nil {
		receiptTx = stored.InitialTransactionID
	}
	return Receipt{TopicID: topicID, SequenceNumber: entry.sequence, TransactionID: receiptTx}, nil
}

func (l *InMemory) UpdateAccountMemo(_ context.Context, accountID, memo string) error {
	if accountID == "" {
		return ErrEmptyAccountID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memos[accountID] = memo
	return nil
}

func (l *InMemory) AccountMemo(_ context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", ErrEmptyAccountID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memos[accountID], nil
}

// TopicMessages implements the read-side query contract over the stored
// entries, matching the mirror client's paging behavior.
func (l *InMemory) TopicMessages(_ context.Context, topicID string, afterSeq uint64, limit int) ([]mirror.Message, error) {
	if limit <= 0 {
		limit = mirror.DefaultPageLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.topics[topicID]
	if !ok {
		return nil, nil
	}
	var page []mirror.Message
	for _, e := range entries {
		if e.sequence <= afterSeq {
			continue
		}
		msg := mirror.Message{
			SequenceNumber:     e.sequence,
			ConsensusTimestamp: e.timestamp,
			Message:            base64.StdEncoding.EncodeToString(e.payload),
		}
		if e.chunkInfo != nil {
			msg.ChunkInfo = &mirror.ChunkInfo{
				Number:               e.chunkInfo.Number,
				Total:                e.chunkInfo.Total,
				InitialTransactionID: e.chunkInfo.InitialTransactionID,
			}
		}
		page = append(page, msg)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}
