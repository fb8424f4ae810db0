// Package mbox orchestrates a message box: topic setup with the published
// public key record, encrypted chunked sends, and decrypting listen loops.
package mbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/InternetOfPeers/hiero-message-box/internal/chunking"
	"github.com/InternetOfPeers/hiero-message-box/internal/envelope"
	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
	"github.com/InternetOfPeers/hiero-message-box/internal/ledger"
	"github.com/InternetOfPeers/hiero-message-box/internal/metrics"
	"github.com/InternetOfPeers/hiero-message-box/internal/poller"
)

var (
	// ErrPublicKeyNotPublished is returned when a topic's first entry is
	// absent or is not a PUBLIC_KEY record.
	ErrPublicKeyNotPublished = errors.New("topic has no published public key record")

	// ErrNoLedger is returned by write operations when the controller was
	// wired read-only, without a submission-side ledger client.
	ErrNoLedger = errors.New("no ledger client configured for submission")
	ErrNoKeyPair             = errors.New("no key pair configured")
)

// PartialSendError reports a send that failed after some chunks were
// already confirmed. LastConfirmedIndex is -1 when nothing was submitted.
// Recovery is left to the caller: chunk boundaries of a restarted split may
// differ, so the failed tail is never resubmitted automatically.
type PartialSendError struct {
	LastConfirmedIndex int
	ChunkCount         int
	Err                error
}

func (e *PartialSendError) Error() string {
	return fmt.Sprintf("send failed after chunk %d of %d: %v", e.LastConfirmedIndex, e.ChunkCount, e.Err)
}

func (e *PartialSendError) Unwrap() error { return e.Err }

// Options wires a controller to its collaborators.
type Options struct {
	Ledger          ledger.Client
	Source          poller.Source
	AccountID       string
	Scheme          keys.Scheme
	DataDir         string
	KeyPassphrase   string
	SecretType      keys.SecretKeyType
	Secret          []byte
	MaxChunkPayload int
	Poll            poller.Config
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Controller owns one party's message box operations.
type Controller struct {
	opts   Options
	logger *slog.Logger

	keyMu   sync.Mutex
	keyPair *keys.KeyPair

	recMu   sync.RWMutex
	records map[string]keys.PublicKeyRecord
}

func New(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errors.New("mbox: read-side source collaborator is required")
	}
	if opts.MaxChunkPayload <= 0 {
		opts.MaxChunkPayload = ledger.DefaultEntryLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:    opts,
		logger:  logger,
		records: make(map[string]keys.PublicKeyRecord),
	}, nil
}

// KeyPair loads or derives the local key pair for the configured scheme,
// caching it for the life of the process.
func (c *Controller) KeyPair() (*keys.KeyPair, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.keyPair != nil {
		return c.keyPair, nil
	}
	var kp *keys.KeyPair
	var err error
	switch c.opts.Scheme {
	case keys.SchemeRSA:
		kp, err = keys.LoadOrCreateRSA(c.opts.DataDir, c.opts.KeyPassphrase)
	case keys.SchemeECIES:
		kp, err = keys.NewECIES(c.opts.SecretType, c.opts.Secret)
	default:
		return nil, fmt.Errorf("%w: %q", keys.ErrUnsupportedScheme, c.opts.Scheme)
	}
	if err != nil {
		return nil, err
	}
	c.keyPair = kp
	return kp, nil
}

// Setup creates a new topic, publishes the local public key record as its
// first entry, and points the account memo at the topic. A scheme change
// later requires a new topic; the record is immutable for this one.
func (c *Controller) Setup(ctx context.Context) (string, error) {
	if c.opts.Ledger == nil {
		return "", ErrNoLedger
	}
	kp, err := c.KeyPair()
	if err != nil {
		return "", err
	}
	record, err := keys.MarshalPublished(kp.Public)
	if err != nil {
		return "", err
	}
	topicID, err := c.opts.Ledger.CreateTopic(ctx, "hiero-message-box")
	if err != nil {
		return "", err
	}
	if _, err := c.opts.Ledger.SubmitEntry(ctx, topicID, record, nil); err != nil {
		return "", fmt.Errorf("publish public key record: %w", err)
	}
	if c.opts.AccountID != "" {
		if err := c.opts.Ledger.UpdateAccountMemo(ctx, c.opts.AccountID, topicID); err != nil {
			return "", fmt.Errorf("update account pointer: %w", err)
		}
	}
	c.logger.Info("message box ready", "topic", topicID, "scheme", kp.Scheme)
	return topicID, nil
}

// SendReceipt confirms a fully submitted message.
type SendReceipt struct {
	TopicID    string
	MessageID  string
	Sequences  []uint64
	ChunkCount int
}

// Send encrypts plaintext for the recipient topic's published key, splits
// the envelope to the configured chunk payload size, and submits the chunks
// strictly in index order, one confirmation at a time.
func (c *Controller) Send(ctx context.Context, recipientTopicID string, plaintext []byte) (SendReceipt, error) {
	if c.opts.Ledger == nil {
		return SendReceipt{}, ErrNoLedger
	}
	rec, err := c.recipientRecord(ctx, recipientTopicID)
	if err != nil {
		return SendReceipt{}, err
	}
	env, err := envelope.Encrypt(plaintext, rec)
	if err != nil {
		return SendReceipt{}, err
	}
	wire, err := envelope.Encode(env)
	if err != nil {
		return SendReceipt{}, err
	}
	chunks, err := chunking.Split(wire, c.opts.MaxChunkPayload)
	if err != nil {
		return SendReceipt{}, err
	}

	receipt := SendReceipt{TopicID: recipientTopicID, ChunkCount: len(chunks)}
	if len(chunks) == 1 {
		r, err := c.opts.Ledger.SubmitEntry(ctx, recipientTopicID, chunks[0].Payload, nil)
		if err != nil {
			c.countSendFailure()
			return SendReceipt{}, &PartialSendError{LastConfirmedIndex: -1, ChunkCount: 1, Err: err}
		}
		c.countChunk()
		receipt.MessageID = r.TransactionID
		receipt.Sequences = []uint64{r.SequenceNumber}
		return receipt, nil
	}

	initialTxID := ""
	for i, chunk := range chunks {
		info := &ledger.EntryChunkInfo{
			Number:               chunk.Index + 1,
			Total:                chunk.Total,
			InitialTransactionID: initialTxID,
		}
		r, err := c.opts.Ledger.SubmitEntry(ctx, recipientTopicID, chunk.Payload, info)
		if err != nil {
			c.countSendFailure()
			return SendReceipt{}, &PartialSendError{LastConfirmedIndex: i - 1, ChunkCount: len(chunks), Err: err}
		}
		c.countChunk()
		if initialTxID == "" {
			initialTxID = r.TransactionID
		}
		receipt.Sequences = append(receipt.Sequences, r.SequenceNumber)
	}
	receipt.MessageID = initialTxID
	return receipt, nil
}

// Message is one decrypted inbox message.
type Message struct {
	Plaintext []byte
	Scheme    keys.Scheme
	Sequences []uint64
}

// Subscription is a running listen loop. Stop requests cancellation; it
// takes effect between polling cycles. Done closes once the loop exited.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Subscription) Stop()                 { s.cancel() }
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Listen starts polling topicID from fromSequence and delivers decrypted
// messages to onMessage. Reassembly and decryption failures of individual
// messages go to onError and never stop the loop.
func (c *Controller) Listen(ctx context.Context, topicID string, fromSequence uint64, onMessage func(Message), onError func(error)) (*Subscription, error) {
	kp, err := c.KeyPair()
	if err != nil {
		return nil, err
	}
	handler := func(cm poller.CompletedMessage) {
		if isPublicKeyRecord(cm.Payload) {
			// The topic's own PUBLIC_KEY record is not a message.
			return
		}
		env, err := envelope.Decode(cm.Payload)
		if err != nil {
			c.countDecryptFailure()
			c.reportListen(onError, fmt.Errorf("seqs %v: %w", cm.Sequences, err))
			return
		}
		plaintext, err := envelope.Decrypt(env, kp)
		if err != nil {
			c.countDecryptFailure()
			c.reportListen(onError, fmt.Errorf("seqs %v: %w", cm.Sequences, err))
			return
		}
		onMessage(Message{Plaintext: plaintext, Scheme: env.Type, Sequences: cm.Sequences})
	}
	listener := poller.NewListener(c.opts.Source, topicID, fromSequence, c.opts.Poll, handler, onError, c.logger, c.opts.Metrics)

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		_ = listener.Run(runCtx)
	}()
	return sub, nil
}

// VerifyKeyPairMatchesTopic re-reads the topic's published record and
// compares it byte-for-byte with the local key's public half. Run it before
// sending or listening to catch stale configuration.
func (c *Controller) VerifyKeyPairMatchesTopic(ctx context.Context, topicID string) (bool, error) {
	kp, err := c.KeyPair()
	if err != nil {
		return false, err
	}
	published, err := c.fetchRecord(ctx, topicID)
	if err != nil {
		return false, err
	}
	return published.Equal(kp.Public), nil
}

// recipientRecord returns the published key record of a topic, cached per
// process run. The record is immutable for the life of the topic, so the
// cache never needs invalidation.
func (c *Controller) recipientRecord(ctx context.Context, topicID string) (keys.PublicKeyRecord, error) {
	c.recMu.RLock()
	rec, ok := c.records[topicID]
	c.recMu.RUnlock()
	if ok {
		return rec, nil
	}
	rec, err := c.fetchRecord(ctx, topicID)
	if err != nil {
		return keys.PublicKeyRecord{}, err
	}
	c.recMu.Lock()
	c.records[topicID] = rec
	c.recMu.Unlock()
	return rec, nil
}

func (c *Controller) fetchRecord(ctx context.Context, topicID string) (keys.PublicKeyRecord, error) {
	page, err := c.opts.Source.TopicMessages(ctx, topicID, 0, 1)
	if err != nil {
		return keys.PublicKeyRecord{}, err
	}
	if len(page) == 0 {
		return keys.PublicKeyRecord{}, fmt.Errorf("%w: %s", ErrPublicKeyNotPublished, topicID)
	}
	payload, err := page[0].Payload()
	if err != nil {
		return keys.PublicKeyRecord{}, fmt.Errorf("%w: %s", ErrPublicKeyNotPublished, topicID)
	}
	rec, err := keys.ParsePublished(payload)
	if err != nil {
		return keys.PublicKeyRecord{}, fmt.Errorf("%w: %s: %v", ErrPublicKeyNotPublished, topicID, err)
	}
	return rec, nil
}

// isPublicKeyRecord probes whether a reassembled payload is the topic's own
// published key record rather than a message envelope.
func isPublicKeyRecord(payload []byte) bool {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &probe); err != nil {
		return false
	}
	return probe.Type == keys.RecordType
}

func (c *Controller) reportListen(onError func(error), err error) {
	c.logger.Warn("listen error", "err", err)
	if onError != nil {
		onError(err)
	}
}

func (c *Controller) countChunk() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.ChunksSubmitted.Inc()
	}
}

func (c *Controller) countSendFailure() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.SendFailures.Inc()
	}
}

func (c *Controller) countDecryptFailure() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.DecryptFailures.Inc()
	}
}
