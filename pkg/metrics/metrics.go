// Package metrics exposes the pipeline's prometheus instrumentation. Every
// drop the pipeline makes is counted here; nothing is discarded silently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingest holds the collectors for one ingestion pipeline.
type Ingest struct {
	MessagesConsumed   prometheus.Counter
	UnmatchedTopics    prometheus.Counter
	DecodeDrops        prometheus.Counter
	MappingDrops       prometheus.Counter
	SubReadingsDropped prometheus.Counter
	PointsMapped       prometheus.Counter
	PointsWritten      prometheus.Counter
	PointsQuarantined  prometheus.Counter
	WriteRetries       prometheus.Counter
	BatchesFlushed     prometheus.Counter
	FailedBatches      prometheus.Counter
	PayloadTimestamps  prometheus.Counter
	ReceiveTimestamps  prometheus.Counter
	FlushLatency       prometheus.Histogram
}

// NewIngest builds the collector set and registers it with reg. Passing a nil
// registerer yields unregistered collectors, which tests rely on.
func NewIngest(reg prometheus.Registerer) *Ingest {
	m := &Ingest{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_messages_consumed_total",
			Help: "Raw messages taken from the message source.",
		}),
		UnmatchedTopics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_unmatched_topic_total",
			Help: "Messages acknowledged and dropped because no mapping rule matched their topic.",
		}),
		DecodeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_decode_drops_total",
			Help: "Messages acknowledged and dropped because their payload could not be decoded.",
		}),
		MappingDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_mapping_drops_total",
			Help: "Readings dropped because they could not be mapped under their rule.",
		}),
		SubReadingsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_subreadings_dropped_total",
			Help: "Malformed sub-readings skipped inside otherwise decodable payloads.",
		}),
		PointsMapped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_points_mapped_total",
			Help: "Storage points produced by the mapper.",
		}),
		PointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_points_written_total",
			Help: "Storage points durably committed to the sink.",
		}),
		PointsQuarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_points_quarantined_total",
			Help: "Points rejected permanently by the sink and dropped after logging.",
		}),
		WriteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_write_retries_total",
			Help: "Sink write attempts retried after a transient failure.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_batches_flushed_total",
			Help: "Batches successfully written to the sink.",
		}),
		FailedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_batches_failed_total",
			Help: "Batches whose messages were nacked for redelivery after write failure.",
		}),
		PayloadTimestamps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_timestamp_payload_total",
			Help: "Readings stamped from a payload-embedded timestamp.",
		}),
		ReceiveTimestamps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_timestamp_receive_total",
			Help: "Readings stamped with the message receive time.",
		}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_flush_latency_seconds",
			Help:    "Latency of one batch write to the sink, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesConsumed, m.UnmatchedTopics, m.DecodeDrops, m.MappingDrops,
			m.SubReadingsDropped, m.PointsMapped, m.PointsWritten, m.PointsQuarantined,
			m.WriteRetries, m.BatchesFlushed, m.FailedBatches,
			m.PayloadTimestamps, m.ReceiveTimestamps, m.FlushLatency,
		)
	}
	return m
}
