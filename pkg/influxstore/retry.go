package influxstore

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/mapping"
	"github.com/riverwatch/go-ingest/pkg/metrics"
)

// RetryConfig tunes the retrying writer.
type RetryConfig struct {
	// MaxAttempts is the total number of write attempts per batch,
	// including the first.
	MaxAttempts int `yaml:"max_attempts"`
	// InitialBackoff is the delay before the first retry; each further
	// retry doubles it.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// RetryWriter decorates a PointBatchWriter with the pipeline's failure
// policy: transient errors are retried with jittered exponential backoff up
// to the attempt ceiling, and a permanent batch rejection is isolated down
// to the individual poison points so the rest of the batch still commits.
type RetryWriter struct {
	next   PointBatchWriter
	cfg    RetryConfig
	m      *metrics.Ingest
	logger zerolog.Logger
}

// NewRetryWriter wraps next with retry and quarantine behaviour.
func NewRetryWriter(cfg RetryConfig, next PointBatchWriter, m *metrics.Ingest, logger zerolog.Logger) *RetryWriter {
	cfg.applyDefaults()
	return &RetryWriter{
		next:   next,
		cfg:    cfg,
		m:      m,
		logger: logger.With().Str("component", "RetryWriter").Logger(),
	}
}

// WriteBatch implements PointBatchWriter. A nil return means every point was
// either committed or quarantined; a transient error return means the batch
// was not durably written and its messages must be redelivered.
func (w *RetryWriter) WriteBatch(ctx context.Context, points []*mapping.Point) error {
	if len(points) == 0 {
		return nil
	}

	backoff := w.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err := w.next.WriteBatch(ctx, points)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return w.isolate(ctx, points)
		}

		lastErr = err
		if attempt == w.cfg.MaxAttempts {
			break
		}

		w.m.WriteRetries.Inc()
		w.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).
			Msg("Transient write failure, backing off before retry.")

		if err := sleepWithJitter(ctx, backoff); err != nil {
			return Transient(fmt.Errorf("retry interrupted: %w", err))
		}
		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}

	return Transient(fmt.Errorf("write failed after %d attempts: %w", w.cfg.MaxAttempts, lastErr))
}

// isolate re-writes a permanently rejected batch point by point. Points the
// sink rejects again are quarantined: logged, counted, and dropped so one
// poison point cannot stall the pipeline. A transient failure during
// isolation aborts it; the whole batch will be redelivered, which
// at-least-once delivery permits.
func (w *RetryWriter) isolate(ctx context.Context, points []*mapping.Point) error {
	w.logger.Warn().Int("batch_size", len(points)).
		Msg("Batch rejected permanently; isolating poison points.")

	for _, p := range points {
		err := w.next.WriteBatch(ctx, []*mapping.Point{p})
		if err == nil {
			continue
		}
		if IsPermanent(err) {
			w.m.PointsQuarantined.Inc()
			w.logger.Error().Err(err).
				Str("measurement", p.Measurement).
				Time("timestamp", p.Timestamp).
				Msg("Point quarantined after permanent sink rejection.")
			continue
		}
		return err
	}
	return nil
}

// Close closes the wrapped writer.
func (w *RetryWriter) Close() error {
	return w.next.Close()
}

// sleepWithJitter waits for d plus up to 50% random jitter, or until the
// context ends.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jittered := d + time.Duration(rand.Int63n(int64(d)/2+1))
	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
