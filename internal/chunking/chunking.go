// Package chunking splits oversized envelope payloads into log-size-bounded
// fragments and reassembles them from an out-of-order, at-least-once stream.
//
// Reassembly is index-keyed rather than append-only: the read-side query
// service may return fragments of one message interleaved with other
// messages and, rarely, out of relative order.
package chunking

import (
	"errors"
	"fmt"
	"time"
)

// Chunk is one fragment of a split payload. MessageID is assigned by the
// caller once the transport operation carrying the chunk is known; it is
// stable across all chunks of one logical message.
type Chunk struct {
	MessageID string
	Index     int
	Total     int
	Payload   []byte
}

// RejectReason classifies why a chunk or a pending reassembly was rejected.
type RejectReason string

const (
	// ReasonMalformedChunkStream covers an index at or past total, a
	// non-positive total, or totals that disagree across one message.
	ReasonMalformedChunkStream RejectReason = "malformed_chunk_stream"
	// ReasonAbandonedReassembly marks a buffer evicted after receiving no
	// new chunk for the configured staleness window.
	ReasonAbandonedReassembly RejectReason = "abandoned_reassembly"
)

// RejectedError is delivered on the caller's error stream, never silently
// dropped, so operators can detect partial-delivery failures.
type RejectedError struct {
	Reason    RejectReason
	MessageID string
	Received  int
	Total     int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("chunk stream rejected (%s): message %s, %d/%d chunks", e.Reason, e.MessageID, e.Received, e.Total)
}

var ErrInvalidChunkSize = errors.New("max chunk payload must be positive")

// Split partitions payload into consecutive slices of at most maxChunkPayload
// bytes. A payload that already fits yields exactly one chunk with index 0
// and total 1. MessageID is left empty for the caller to assign.
func Split(payload []byte, maxChunkPayload int) ([]Chunk, error) {
	if maxChunkPayload <= 0 {
		return nil, ErrInvalidChunkSize
	}
	total := (len(payload) + maxChunkPayload - 1) / maxChunkPayload
	if total == 0 {
		total = 1
	}
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkPayload
		end := start + maxChunkPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, Chunk{
			Index:   i,
			Total:   total,
			Payload: append([]byte(nil), payload[start:end]...),
		})
	}
	return chunks, nil
}

// Status is the outcome of ingesting one chunk.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
)

// Result reports what Ingest did with a chunk. Evicted lists reassembly
// buffers abandoned during the same call; they belong on the error stream.
type Result struct {
	Status  Status
	Payload []byte
	Reject  *RejectedError
	Evicted []*RejectedError
}

type reassemblyBuffer struct {
	total       int
	chunks      map[int][]byte
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// Assembler buffers fragments per message identity until every index is
// present, then delivers the ordered concatenation exactly once. It is not
// safe for concurrent use; the polling loop owns it single-threadedly.
type Assembler struct {
	staleAfter time.Duration
	buffers    map[string]*reassemblyBuffer
}

// NewAssembler creates an assembler that abandons any buffer receiving no
// new chunk for staleAfter, bounding memory held for partial deliveries.
func NewAssembler(staleAfter time.Duration) *Assembler {
	return &Assembler{
		staleAfter: staleAfter,
		buffers:    make(map[string]*reassemblyBuffer),
	}
}

// Pending returns the number of incomplete reassembly buffers.
func (a *Assembler) Pending() int {
	return len(a.buffers)
}

// Ingest records one chunk. Duplicate (messageID, index) pairs are
// idempotent and stay Pending. A chunk whose index or total is inconsistent
// with what was already seen rejects the whole message. Stale buffers are
// evicted before the chunk is inserted, so a late chunk for an abandoned
// message starts a fresh buffer rather than resurrecting the old one.
func (a *Assembler) Ingest(c Chunk, now time.Time) Result {
	evicted := a.evictStale(now)

	if c.Total < 1 || c.Index < 0 || c.Index >= c.Total {
		return Result{
			Status: StatusRejected,
			Reject: &RejectedError{
				Reason:    ReasonMalformedChunkStream,
				MessageID: c.MessageID,
				Total:     c.Total,
			},
			Evicted: evicted,
		}
	}

	buf, ok := a.buffers[c.MessageID]
	if !ok {
		buf = &reassemblyBuffer{
			total:       c.Total,
			chunks:      make(map[int][]byte, c.Total),
			firstSeenAt: now,
		}
		a.buffers[c.MessageID] = buf
	}
	if buf.total != c.Total {
		received := len(buf.chunks)
		delete(a.buffers, c.MessageID)
		return Result{
			Status: StatusRejected,
			Reject: &RejectedError{
				Reason:    ReasonMalformedChunkStream,
				MessageID: c.MessageID,
				Received:  received,
				Total:     buf.total,
			},
			Evicted: evicted,
		}
	}
	if _, seen := buf.chunks[c.Index]; seen {
		return Result{Status: StatusPending, Evicted: evicted}
	}
	buf.chunks[c.Index] = append([]byte(nil), c.Payload...)
	buf.lastSeenAt = now

	if len(buf.chunks) < buf.total {
		return Result{Status: StatusPending, Evicted: evicted}
	}

	assembled := make([]byte, 0)
	for i := 0; i < buf.total; i++ {
		assembled = append(assembled, buf.chunks[i]...)
	}
	delete(a.buffers, c.MessageID)
	return Result{Status: StatusCompleted, Payload: assembled, Evicted: evicted}
}

// Sweep evicts stale buffers without ingesting anything. The polling loop
// calls it on idle cycles so abandoned reassemblies are reported even when
// no new entries arrive.
func (a *Assembler) Sweep(now time.Time) []*RejectedError {
	return a.evictStale(now)
}

func (a *Assembler) evictStale(now time.Time) []*RejectedError {
	if a.staleAfter <= 0 {
		return nil
	}
	var evicted []*RejectedError
	for id, buf := range a.buffers {
		last := buf.lastSeenAt
		if last.IsZero() {
			last = buf.firstSeenAt
		}
		if now.Sub(last) > a.staleAfter {
			evicted = append(evicted, &RejectedError{
				Reason:    ReasonAbandonedReassembly,
				MessageID: id,
				Received:  len(buf.chunks),
				Total:     buf.total,
			})
			delete(a.buffers, id)
		}
	}
	return evicted
}
