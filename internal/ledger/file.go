package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/InternetOfPeers/hiero-message-box/internal/mirror"
)

// FileStore is the local network's ledger: the in-memory log persisted to a
// JSON state file so separate process invocations share one sequenced log.
// Every confirmed mutation is flushed before the receipt is returned, which
// keeps the strict-ordering guarantee across crashes.
type FileStore struct {
	path string
	mem  *InMemory
}

type fileStoreState struct {
	TopicSeq int                         `json:"topicSeq"`
	TxSeq    int                         `json:"txSeq"`
	Clock    int64                       `json:"clock"`
	Memos    map[string]string           `json:"memos"`
	Topics   map[string][]fileStoreEntry `json:"topics"`
}

type fileStoreEntry struct {
	Sequence  uint64          `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Payload   []byte          `json:"payload"`
	ChunkInfo *EntryChunkInfo `json:"chunkInfo,omitempty"`
}

// OpenFileStore loads the ledger state at dir/ledger.json, creating an
// empty log when the file does not exist yet.
func OpenFileStore(dir string, entryLimit int) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("ledger: data directory is required")
	}
	s := &FileStore{path: filepath.Join(dir, "ledger.json"), mem: NewInMemory(entryLimit)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var state fileStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.restore(state)
	return s, nil
}

func (s *FileStore) restore(state fileStoreState) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.topicSeq = state.TopicSeq
	s.mem.txSeq = state.TxSeq
	if state.Clock != 0 {
		s.mem.clock = state.Clock
	}
	for account, memo := range state.Memos {
		s.mem.memos[account] = memo
	}
	for topicID, entries := range state.Topics {
		stored := make([]storedEntry, 0, len(entries))
		for _, e := range entries {
			stored = append(stored, storedEntry{
				sequence:  e.Sequence,
				timestamp: e.Timestamp,
				payload:   e.Payload,
				chunkInfo: e.ChunkInfo,
			})
		}
		s.mem.topics[topicID] = stored
	}
}

func (s *FileStore) flush() error {
	s.mem.mu.Lock()
	state := fileStoreState{
		TopicSeq: s.mem.topicSeq,
		TxSeq:    s.mem.txSeq,
		Clock:    s.mem.clock,
		Memos:    make(map[string]string, len(s.mem.memos)),
		Topics:   make(map[string][]fileStoreEntry, len(s.mem.topics)),
	}
	for account, memo := range s.mem.memos {
		state.Memos[account] = memo
	}
	for topicID, entries := range s.mem.topics {
		out := make([]fileStoreEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, fileStoreEntry{
				Sequence:  e.sequence,
				Timestamp: e.timestamp,
				Payload:   e.payload,
				ChunkInfo: e.chunkInfo,
			})
		}
		state.Topics[topicID] = out
	}
	s.mem.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *FileStore) CreateTopic(ctx context.Context, memo string) (string, error) {
	topicID, err := s.mem.CreateTopic(ctx, memo)
	if err != nil {
		return "", err
	}
	if err := s.flush(); err != nil {
		return "", err
	}
	return topicID, nil
}

func (s *FileStore) SubmitEntry(ctx context.Context, topicID string, payload []byte, info *EntryChunkInfo) (Receipt, error) {
	receipt, err := s.mem.SubmitEntry(ctx, topicID, payload, info)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.flush(); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (s *FileStore) UpdateAccountMemo(ctx context.Context, accountID, memo string) error {
	if err := s.mem.UpdateAccountMemo(ctx, accountID, memo); err != nil {
		return err
	}
	return s.flush()
}

func (s *FileStore) AccountMemo(ctx context.Context, accountID string) (string, error) {
	return s.mem.AccountMemo(ctx, accountID)
}

// TopicMessages serves the read side straight from the loaded state.
func (s *FileStore) TopicMessages(ctx context.Context, topicID string, afterSeq uint64, limit int) ([]mirror.Message, error) {
	return s.mem.TopicMessages(ctx, topicID, afterSeq, limit)
}
