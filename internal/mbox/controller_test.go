package mbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/InternetOfPeers/hiero-message-box/internal/keys"
	"github.com/InternetOfPeers/hiero-message-box/internal/ledger"
	"github.com/InternetOfPeers/hiero-message-box/internal/metrics"
	"github.com/InternetOfPeers/hiero-message-box/internal/poller"
)

func eciesController(t *testing.T, mem *ledger.InMemory, secretByte byte) *Controller {
	t.Helper()
	ctrl, err := New(Options{
		Ledger:     mem,
		Source:     mem,
		AccountID:  "0.0.2",
		Scheme:     keys.SchemeECIES,
		SecretType: keys.SecretKeySecp256k1,
		Secret:     bytes.Repeat([]byte{secretByte}, 32),
		Poll:       poller.Config{PollInterval: 5 * time.Millisecond, PageLimit: 25},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl
}

func rsaController(t *testing.T, mem *ledger.InMemory, maxChunk int) *Controller {
	t.Helper()
	ctrl, err := New(Options{
		Ledger:          mem,
		Source:          mem,
		AccountID:       "0.0.3",
		Scheme:          keys.SchemeRSA,
		DataDir:         t.TempDir(),
		MaxChunkPayload: maxChunk,
		Poll:            poller.Config{PollInterval: 5 * time.Millisecond, PageLimit: 25},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl
}

func TestSetupPublishesRecordAndPointer(t *testing.T) {
	mem := ledger.NewInMemory(0)
	ctrl := eciesController(t, mem, 1)

	topicID, err := ctrl.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	memo, err := mem.AccountMemo(context.Background(), "0.0.2")
	if err != nil || memo != topicID {
		t.Fatalf("account pointer not updated: %q %v", memo, err)
	}

	page, err := mem.TopicMessages(context.Background(), topicID, 0, 1)
	if err != nil || len(page) != 1 {
		t.Fatalf("first entry missing: %v", err)
	}
	payload, err := page[0].Payload()
	if err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	rec, err := keys.ParsePublished(payload)
	if err != nil {
		t.Fatalf("first entry is not a PUBLIC_KEY record: %v", err)
	}
	if rec.Scheme != keys.SchemeECIES {
		t.Fatalf("published record has scheme %q", rec.Scheme)
	}

	ok, err := ctrl.VerifyKeyPairMatchesTopic(context.Background(), topicID)
	if err != nil || !ok {
		t.Fatalf("own key should match own topic: %v %v", ok, err)
	}
}

func TestVerifyDetectsForeignTopic(t *testing.T) {
	mem := ledger.NewInMemory(0)
	alice := eciesController(t, mem, 1)
	mallory := eciesController(t, mem, 2)

	topicID, err := alice.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	ok, err := mallory.VerifyKeyPairMatchesTopic(context.Background(), topicID)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if ok {
		t.Fatalf("foreign key must not match the published record")
	}
}

func TestSetupRejectsECIESWithoutSecp256k1Secret(t *testing.T) {
	mem := ledger.NewInMemory(0)
	ctrl, err := New(Options{
		Ledger:     mem,
		Source:     mem,
		Scheme:     keys.SchemeECIES,
		SecretType: keys.SecretKeyEd25519,
		Secret:     bytes.Repeat([]byte{9}, 32),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if _, err := ctrl.Setup(context.Background()); !errors.Is(err, keys.ErrUnsupportedSchemeForKeyType) {
		t.Fatalf("expected ErrUnsupportedSchemeForKeyType, got %v", err)
	}
}

func TestSendToTopicWithoutRecordFails(t *testing.T) {
	mem := ledger.NewInMemory(0)
	ctrl := eciesController(t, mem, 1)
	topicID, err := mem.CreateTopic(context.Background(), "empty")
	if err != nil {
		t.Fatalf("create topic: %v", err)
	}
	if _, err := ctrl.Send(context.Background(), topicID, []byte("hi")); !errors.Is(err, ErrPublicKeyNotPublished) {
		t.Fatalf("expected ErrPublicKeyNotPublished, got %v", err)
	}
}

func TestSendAndListenRoundtrip(t *testing.T) {
	mem := ledger.NewInMemory(0)
	bob := eciesController(t, mem, 1)
	alice := eciesController(t, mem, 2)

	topicID, err := bob.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := alice.Send(context.Background(), topicID, []byte("hello bob")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got := make(chan Message, 1)
	sub, err := bob.Listen(context.Background(), topicID, 0,
		func(m Message) { got <- m },
		func(err error) { t.Errorf("listen error: %v", err) })
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer sub.Stop()

	select {
	case m := <-got:
		if string(m.Plaintext) != "hello bob" {
			t.Fatalf("unexpected plaintext %q", m.Plaintext)
		}
		if m.Scheme != keys.SchemeECIES {
			t.Fatalf("unexpected scheme %q", m.Scheme)
		}
		if len(m.Sequences) == 0 {
			t.Fatalf("message lost its originating sequence numbers")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never delivered")
	}

	sub.Stop()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatalf("subscription did not stop")
	}
}

func TestChunkedSendRoundtripRSA(t *testing.T) {
	mem := ledger.NewInMemory(0)
	bob := rsaController(t, mem, 1024)
	alice := rsaController(t, mem, 1024)

	topicID, err := bob.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	plaintext := []byte("CHUNK_TEST: " + strings.Repeat("X", 400))
	receipt, err := alice.Send(context.Background(), topicID, plaintext)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if receipt.ChunkCount != 2 {
		t.Fatalf("expected exactly 2 chunks for this payload, got %d", receipt.ChunkCount)
	}
	if len(receipt.Sequences) != 2 {
		t.Fatalf("expected 2 confirmed sequences, got %v", receipt.Sequences)
	}

	got := make(chan Message, 1)
	sub, err := bob.Listen(context.Background(), topicID, 0,
		func(m Message) { got <- m },
		func(err error) { t.Errorf("listen error: %v", err) })
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer sub.Stop()

	select {
	case m := <-got:
		if !bytes.Equal(m.Plaintext, plaintext) {
			t.Fatalf("chunked round-trip mismatch")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("chunked message never delivered")
	}
}

type failingLedger struct {
	*ledger.InMemory
	failAfter int
	submits   int
}

func (f *failingLedger) SubmitEntry(ctx context.Context, topicID string, payload []byte, info *ledger.EntryChunkInfo) (ledger.Receipt, error) {
	f.submits++
	if f.submits > f.failAfter {
		return ledger.Receipt{}, errors.New("submission refused")
	}
	return f.InMemory.SubmitEntry(ctx, topicID, payload, info)
}

func TestPartialSendFailureReportsLastConfirmedIndex(t *testing.T) {
	mem := ledger.NewInMemory(0)
	bob := rsaController(t, mem, 1024)
	topicID, err := bob.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Let the first chunk through, then refuse.
	failing := &failingLedger{InMemory: mem, failAfter: 1}
	alice, err := New(Options{
		Ledger:          failing,
		Source:          mem,
		Scheme:          keys.SchemeRSA,
		DataDir:         t.TempDir(),
		MaxChunkPayload: 1024,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	plaintext := []byte("CHUNK_TEST: " + strings.Repeat("X", 400))
	_, err = alice.Send(context.Background(), topicID, plaintext)
	var pse *PartialSendError
	if !errors.As(err, &pse) {
		t.Fatalf("expected PartialSendError, got %v", err)
	}
	if pse.LastConfirmedIndex != 0 || pse.ChunkCount != 2 {
		t.Fatalf("expected failure after chunk 0 of 2, got %+v", pse)
	}
}

func TestSendCountsSubmittedChunksAndFailures(t *testing.T) {
	mem := ledger.NewInMemory(0)
	bob := rsaController(t, mem, 1024)
	topicID, err := bob.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	met := metrics.New(prometheus.NewRegistry())
	alice, err := New(Options{
		Ledger:          mem,
		Source:          mem,
		Scheme:          keys.SchemeRSA,
		DataDir:         t.TempDir(),
		MaxChunkPayload: 1024,
		Metrics:         met,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	plaintext := []byte("CHUNK_TEST: " + strings.Repeat("X", 400))
	receipt, err := alice.Send(context.Background(), topicID, plaintext)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := testutil.ToFloat64(met.ChunksSubmitted); got != float64(receipt.ChunkCount) {
		t.Fatalf("chunks submitted counter = %v, want %d", got, receipt.ChunkCount)
	}
	if got := testutil.ToFloat64(met.SendFailures); got != 0 {
		t.Fatalf("send failures counter = %v, want 0", got)
	}

	failing := &failingLedger{InMemory: mem, failAfter: 0}
	alice.opts.Ledger = failing
	if _, err := alice.Send(context.Background(), topicID, []byte("refused")); err == nil {
		t.Fatalf("expected send to fail")
	}
	if got := testutil.ToFloat64(met.SendFailures); got != 1 {
		t.Fatalf("send failures counter = %v, want 1", got)
	}
}

func TestListenIsolatesUndecryptableMessages(t *testing.T) {
	mem := ledger.NewInMemory(0)
	bob := eciesController(t, mem, 1)
	alice := eciesController(t, mem, 2)

	topicID, err := bob.Setup(context.Background())
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	// A stray plaintext entry lands on the topic: not an envelope at all.
	if _, err := mem.SubmitEntry(context.Background(), topicID, []byte(`{"noise":true}`), nil); err != nil {
		t.Fatalf("submit noise: %v", err)
	}
	if _, err := alice.Send(context.Background(), topicID, []byte("real message")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got := make(chan Message, 1)
	errs := make(chan error, 1)
	sub, err := bob.Listen(context.Background(), topicID, 0,
		func(m Message) { got <- m },
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer sub.Stop()

	select {
	case m := <-got:
		if string(m.Plaintext) != "real message" {
			t.Fatalf("unexpected plaintext %q", m.Plaintext)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy message blocked by the malformed one")
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatalf("malformed entry never reported to the error sink")
	}
}
