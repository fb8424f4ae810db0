// Package ledger defines the submission-side collaborator contract for the
// consensus log, plus an in-memory implementation used by tests and local
// dry runs. The real network client lives outside this repository.
package ledger

import (
	"context"
	"errors"
)

// DefaultEntryLimit is the fixed per-entry payload byte limit of the log.
const DefaultEntryLimit = 1024

var (
	ErrTopicNotFound  = errors.New("topic not found")
	ErrEntryTooLarge  = errors.New("entry exceeds the per-entry payload limit")
	ErrEmptyAccountID = errors.New("account id is required")
)

// EntryChunkInfo carries fragment metadata for one submitted entry.
// Number is 1-based. InitialTransactionID is empty on the first chunk; the
// ledger binds it to the submitting transaction's identity and reports it in
// the receipt so subsequent chunks can reference it.
type EntryChunkInfo struct {
	Number               int
	Total                int
	InitialTransactionID string
}

// Receipt confirms one accepted entry.
type Receipt struct {
	TopicID        string
	SequenceNumber uint64
	TransactionID  string
}

// Client is the external ledger collaborator: create append-only topics,
// submit size-limited entries, and read or update the account-level pointer
// to the active message box topic.
type Client interface {
	CreateTopic(ctx context.Context, memo string) (string, error)
	SubmitEntry(ctx context.Context, topicID string, payload []byte, info *EntryChunkInfo) (Receipt, error)
	UpdateAccountMemo(ctx context.Context, accountID, memo string) error
	AccountMemo(ctx context.Context, accountID string) (string, error)
}
