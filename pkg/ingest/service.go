// Package ingest assembles the telemetry ingestion pipeline: messages from a
// subscription source are decoded and mapped into storage points, batched,
// written to the time-series sink, and acknowledged only once the write is
// durable.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/decode"
	"github.com/riverwatch/go-ingest/pkg/influxstore"
	"github.com/riverwatch/go-ingest/pkg/mapping"
	"github.com/riverwatch/go-ingest/pkg/metrics"
	"github.com/riverwatch/go-ingest/pkg/pipeline"
	"github.com/riverwatch/go-ingest/pkg/registry"
)

// PointSet is the pipeline payload: every storage point derived from one
// message. Keeping them together lets the processor settle the message's
// acknowledgment from a single write outcome.
type PointSet struct {
	Points []mapping.Point
}

// NewService wires the ingestion pipeline together.
//
// The acknowledgment policy follows from the error taxonomy: undecodable or
// unmappable data is counted and acknowledged (retrying cannot fix a bad
// payload), a write failure after retries nacks the whole batch so the
// source redelivers, and a durable write acks every message in the batch
// exactly once. tagger may be nil to disable registry enrichment.
func NewService(
	cfg pipeline.BatchingServiceConfig,
	consumer pipeline.MessageConsumer,
	rules *mapping.RuleSet,
	writer influxstore.PointBatchWriter,
	tagger registry.SourceTagger,
	m *metrics.Ingest,
	logger zerolog.Logger,
) (*pipeline.BatchingService[PointSet], error) {
	if rules == nil {
		return nil, fmt.Errorf("mapping rule set is required")
	}
	if writer == nil {
		return nil, fmt.Errorf("point batch writer is required")
	}

	// The format set is closed and rules are immutable, so decoders can be
	// resolved once at startup; an unknown format fails fast here.
	decoders := make(map[string]decode.Decoder, len(rules.Rules()))
	for _, rule := range rules.Rules() {
		d, err := decode.ForFormat(rule.Format)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		decoders[rule.Name] = d
	}

	transformer := newPointTransformer(rules, decoders, tagger, m, logger)
	processor := newWriteProcessor(writer, m, logger)

	svc, err := pipeline.NewBatchingService[PointSet](cfg, consumer, transformer, processor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest pipeline: %w", err)
	}
	return svc, nil
}

// newPointTransformer builds the decode-and-map stage.
func newPointTransformer(
	rules *mapping.RuleSet,
	decoders map[string]decode.Decoder,
	tagger registry.SourceTagger,
	m *metrics.Ingest,
	logger zerolog.Logger,
) pipeline.MessageTransformer[PointSet] {
	tLogger := logger.With().Str("component", "PointTransformer").Logger()

	return func(ctx context.Context, msg *pipeline.Message) (*PointSet, bool, error) {
		m.MessagesConsumed.Inc()

		topic := msg.Attributes[pipeline.TopicAttribute]
		rule, ok := rules.Match(topic)
		if !ok {
			m.UnmatchedTopics.Inc()
			tLogger.Debug().Str("topic", topic).Str("msg_id", msg.ID).Msg("No mapping rule for topic, dropping message.")
			return nil, true, nil
		}

		records, droppedSubs, err := decoders[rule.Name].Decode(topic, msg.Payload)
		if droppedSubs > 0 {
			m.SubReadingsDropped.Add(float64(droppedSubs))
			tLogger.Warn().Str("topic", topic).Int("dropped", droppedSubs).Msg("Skipped malformed sub-readings in payload.")
		}
		if err != nil {
			m.DecodeDrops.Inc()
			tLogger.Warn().Err(err).Str("topic", topic).Str("msg_id", msg.ID).Msg("Undecodable payload dropped.")
			return nil, true, nil
		}

		points := make([]mapping.Point, 0, len(records))
		for _, rec := range records {
			mapped, tsSource, err := mapping.Map(rec, rule, msg.ReceivedAt)
			if err != nil {
				m.MappingDrops.Inc()
				tLogger.Warn().Err(err).Str("topic", topic).Str("rule", rule.Name).Msg("Unmappable reading dropped.")
				continue
			}
			if tsSource == mapping.TimestampPayload {
				m.PayloadTimestamps.Inc()
			} else {
				m.ReceiveTimestamps.Inc()
			}

			if tagger != nil {
				if extra, ok := tagger(ctx, rec.SourceID); ok {
					for i := range mapped {
						applyExtraTags(&mapped[i], extra)
					}
				}
			}
			points = append(points, mapped...)
		}

		if len(points) == 0 {
			// Every reading failed to map; the drops are already counted.
			return nil, true, nil
		}

		m.PointsMapped.Add(float64(len(points)))
		return &PointSet{Points: points}, false, nil
	}
}

// applyExtraTags merges registry tags into a point. Rule-defined tags win on
// conflict: explicit configuration beats registry metadata.
func applyExtraTags(p *mapping.Point, extra map[string]string) {
	for k, v := range extra {
		if _, exists := p.Tags[k]; !exists {
			p.Tags[k] = v
		}
	}
}

// newWriteProcessor builds the sink stage.
func newWriteProcessor(
	writer influxstore.PointBatchWriter,
	m *metrics.Ingest,
	logger zerolog.Logger,
) pipeline.BatchProcessor[PointSet] {
	pLogger := logger.With().Str("component", "WriteProcessor").Logger()

	return func(ctx context.Context, batch []pipeline.ProcessableItem[PointSet]) error {
		if len(batch) == 0 {
			return nil
		}

		var points []*mapping.Point
		for _, item := range batch {
			for i := range item.Payload.Points {
				points = append(points, &item.Payload.Points[i])
			}
		}

		start := time.Now()
		err := writer.WriteBatch(ctx, points)
		m.FlushLatency.Observe(time.Since(start).Seconds())

		if err != nil {
			m.FailedBatches.Inc()
			pLogger.Error().Err(err).Int("batch_size", len(batch)).Int("point_count", len(points)).
				Msg("Batch write failed, Nacking messages for redelivery.")
			for _, item := range batch {
				item.Original.Nack()
			}
			return err
		}

		m.BatchesFlushed.Inc()
		m.PointsWritten.Add(float64(len(points)))
		pLogger.Debug().Int("batch_size", len(batch)).Int("point_count", len(points)).Msg("Batch written, Acking messages.")
		for _, item := range batch {
			item.Original.Ack()
		}
		return nil
	}
}
