// Package metrics exposes prometheus instrumentation for the message box
// runtime. Registration is caller-controlled so tests and embedders can use
// private registries.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	EntriesFetched     prometheus.Counter
	MessagesCompleted  prometheus.Counter
	DecryptFailures    prometheus.Counter
	ReassemblyRejected *prometheus.CounterVec
	ChunksSubmitted    prometheus.Counter
	SendFailures       prometheus.Counter
	PendingReassembly  prometheus.Gauge
}

// New builds the metric set and registers it on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EntriesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "entries_fetched_total",
			Help: "Raw log entries fetched from the query service.",
		}),
		MessagesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "messages_completed_total",
			Help: "Messages fully reassembled and decrypted.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "decrypt_failures_total",
			Help: "Per-message decryption failures (scheme mismatch or authentication).",
		}),
		ReassemblyRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "reassembly_rejected_total",
			Help: "Chunk streams rejected, by reason.",
		}, []string{"reason"}),
		ChunksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "chunks_submitted_total",
			Help: "Chunks submitted to the ledger.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgbox", Name: "send_failures_total",
			Help: "Send operations that failed, including partial sends.",
		}),
		PendingReassembly: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgbox", Name: "pending_reassembly_buffers",
			Help: "Reassembly buffers currently held in memory.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EntriesFetched,
			m.MessagesCompleted,
			m.DecryptFailures,
			m.ReassemblyRejected,
			m.ChunksSubmitted,
			m.SendFailures,
			m.PendingReassembly,
		)
	}
	return m
}
