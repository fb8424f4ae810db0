// Package poller drives incremental, cursor-based consumption of one topic:
// it drains all new entries in ascending order, feeds them through chunk
// reassembly, and hands completed payloads to a consumer exactly once per
// listener session.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/InternetOfPeers/hiero-message-box/internal/chunking"
	"github.com/InternetOfPeers/hiero-message-box/internal/metrics"
	"github.com/InternetOfPeers/hiero-message-box/internal/mirror"
)

// Source is the read-side query collaborator. Both the mirror REST client
// and the in-memory ledger satisfy it.
type Source interface {
	TopicMessages(ctx context.Context, topicID string, afterSeq uint64, limit int) ([]mirror.Message, error)
}

// Cursor tracks the last fully-processed sequence number of one topic. It
// is advanced only after a whole fetched batch has been handed off, so a
// crash mid-batch causes re-delivery, never loss.
type Cursor struct {
	TopicID      string
	LastSequence uint64
}

// CompletedMessage is one fully reassembled payload together with the
// sequence numbers of the entries that carried it, ascending.
type CompletedMessage struct {
	Payload   []byte
	Sequences []uint64
}

// Config tunes one listener.
type Config struct {
	PageLimit    int
	PollInterval time.Duration
	StaleAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageLimit <= 0 {
		c.PageLimit = mirror.DefaultPageLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

// Listener owns the cursor and reassembly state of one topic. It is driven
// by a single goroutine: at most one fetch-and-process cycle is in flight,
// which keeps cursor advancement and buffers consistent without locking.
type Listener struct {
	source    Source
	cfg       Config
	cursor    Cursor
	asm       *chunking.Assembler
	seqs      map[string][]uint64
	onMessage func(CompletedMessage)
	onError   func(error)
	logger    *slog.Logger
	met       *metrics.Metrics
	now       func() time.Time
}

// NewListener builds a listener starting after fromSequence (0 to read the
// topic from its first entry). onMessage must be non-nil; onError may be
// nil, in which case rejections are only logged.
func NewListener(source Source, topicID string, fromSequence uint64, cfg Config, onMessage func(CompletedMessage), onError func(error), logger *slog.Logger, met *metrics.Metrics) *Listener {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		source:    source,
		cfg:       cfg,
		cursor:    Cursor{TopicID: topicID, LastSequence: fromSequence},
		asm:       chunking.NewAssembler(cfg.StaleAfter),
		seqs:      make(map[string][]uint64),
		onMessage: onMessage,
		onError:   onError,
		logger:    logger,
		met:       met,
		now:       time.Now,
	}
}

// Cursor returns the current cursor position.
func (l *Listener) Cursor() Cursor {
	return l.cursor
}

// DrainNew fetches every entry newer than the cursor, re-fetching from the
// new maximum sequence number while pages come back full-sized, so the
// caller gets one complete ordered batch rather than a single page.
func (l *Listener) DrainNew(ctx context.Context) ([]mirror.Message, error) {
	var batch []mirror.Message
	after := l.cursor.LastSequence
	for {
		page, err := l.source.TopicMessages(ctx, l.cursor.TopicID, after, l.cfg.PageLimit)
		if err != nil {
			return nil, err
		}
		batch = append(batch, page...)
		if len(page) < l.cfg.PageLimit {
			return batch, nil
		}
		after = page[len(page)-1].SequenceNumber
	}
}

// Cycle runs one fetch-and-process pass. The cursor moves to the maximum
// sequence number seen only after every entry in the batch was handed off;
// pending chunk sets are tracked by message identity, not sequence number,
// so later chunks of an earlier message are never skipped by the advance.
func (l *Listener) Cycle(ctx context.Context) error {
	batch, err := l.DrainNew(ctx)
	if err != nil {
		return err
	}
	now := l.now()
	if len(batch) == 0 {
		l.reportEvictions(l.asm.Sweep(now))
		return nil
	}
	maxSeq := l.cursor.LastSequence
	for _, entry := range batch {
		if entry.SequenceNumber > maxSeq {
			maxSeq = entry.SequenceNumber
		}
		l.countFetched()
		l.process(entry, now)
	}
	l.cursor.LastSequence = maxSeq
	if l.met != nil {
		l.met.PendingReassembly.Set(float64(l.asm.Pending()))
	}
	return nil
}

// Run polls in a cooperative loop until ctx is cancelled. Cancellation
// takes effect between cycles; an in-flight fetch finishes and its results
// are discarded together with the loop.
func (l *Listener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.report(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Listener) process(entry mirror.Message, now time.Time) {
	payload, err := entry.Payload()
	if err != nil {
		l.report(fmt.Errorf("entry seq %d: undecodable payload: %w", entry.SequenceNumber, err))
		return
	}
	chunk := entryChunk(entry, payload)
	l.seqs[chunk.MessageID] = append(l.seqs[chunk.MessageID], entry.SequenceNumber)

	res := l.asm.Ingest(chunk, now)
	l.reportEvictions(res.Evicted)
	switch res.Status {
	case chunking.StatusCompleted:
		seqs := l.seqs[chunk.MessageID]
		delete(l.seqs, chunk.MessageID)
		l.countCompleted()
		l.onMessage(CompletedMessage{Payload: res.Payload, Sequences: seqs})
	case chunking.StatusRejected:
		delete(l.seqs, chunk.MessageID)
		l.countRejected(string(res.Reject.Reason))
		l.report(res.Reject)
	}
}

// entryChunk maps a raw log entry onto the transport chunk model: native
// chunk metadata when the entry was sub-divided by the log, else a
// single-chunk message keyed by the entry's own consensus identity.
func entryChunk(entry mirror.Message, payload []byte) chunking.Chunk {
	if ci := entry.ChunkInfo; ci != nil {
		return chunking.Chunk{
			MessageID: ci.InitialTransactionID,
			Index:     ci.Number - 1,
			Total:     ci.Total,
			Payload:   payload,
		}
	}
	return chunking.Chunk{
		MessageID: entry.ConsensusTimestamp,
		Index:     0,
		Total:     1,
		Payload:   payload,
	}
}

func (l *Listener) reportEvictions(evicted []*chunking.RejectedError) {
	for _, ev := range evicted {
		delete(l.seqs, ev.MessageID)
		l.countRejected(string(ev.Reason))
		l.report(ev)
	}
}

func (l *Listener) report(err error) {
	l.logger.Warn("poll error", "topic", l.cursor.TopicID, "err", err)
	if l.onError != nil {
		l.onError(err)
	}
}

func (l *Listener) countFetched() {
	if l.met != nil {
		l.met.EntriesFetched.Inc()
	}
}

func (l *Listener) countCompleted() {
	if l.met != nil {
		l.met.MessagesCompleted.Inc()
	}
}

func (l *Listener) countRejected(reason string) {
	if l.met != nil {
		l.met.ReassemblyRejected.WithLabelValues(reason).Inc()
	}
}
