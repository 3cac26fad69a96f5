package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchingServiceConfig holds the tuning knobs for a BatchingService.
type BatchingServiceConfig struct {
	// NumWorkers is the number of concurrent transform workers.
	NumWorkers int
	// BatchSize flushes a batch once it reaches this many items.
	BatchSize int
	// MaxBatchWait flushes a partial batch after this much time, trading a
	// little latency for write throughput.
	MaxBatchWait time.Duration
}

// BatchingService is the pipeline coordinator. Transform workers pull from
// the consumer, convert each message, and feed a bounded channel; a single
// batch worker accumulates items and flushes them to the processor when the
// batch fills or the wait timer fires. The flush runs on the batch worker
// while transform workers keep filling the channel, so writing one batch
// overlaps with accumulating the next.
type BatchingService[T any] struct {
	cfg         BatchingServiceConfig
	consumer    MessageConsumer
	transformer MessageTransformer[T]
	processor   BatchProcessor[T]
	logger      zerolog.Logger
	transformWg sync.WaitGroup
	batchWg     sync.WaitGroup
	batchChan   chan ProcessableItem[T]
}

// NewBatchingService assembles a coordinator from its three stages.
func NewBatchingService[T any](
	cfg BatchingServiceConfig,
	consumer MessageConsumer,
	transformer MessageTransformer[T],
	processor BatchProcessor[T],
	logger zerolog.Logger,
) (*BatchingService[T], error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = 5 * time.Second
	}
	if consumer == nil || transformer == nil || processor == nil {
		return nil, fmt.Errorf("consumer, transformer, and processor are all required")
	}

	return &BatchingService[T]{
		cfg:         cfg,
		consumer:    consumer,
		transformer: transformer,
		processor:   processor,
		logger:      logger.With().Str("service", "BatchingService").Logger(),
		batchChan:   make(chan ProcessableItem[T], cfg.BatchSize*cfg.NumWorkers),
	}, nil
}

// Start begins consumption and processing.
func (s *BatchingService[T]) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting batching service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.batchWg.Add(1)
	go s.batchWorker(ctx)

	s.transformWg.Add(s.cfg.NumWorkers)
	for i := 0; i < s.cfg.NumWorkers; i++ {
		go s.transformWorker(ctx, i)
	}

	// The batch channel may only close after every producing worker is gone.
	go func() {
		s.transformWg.Wait()
		close(s.batchChan)
	}()

	s.logger.Info().Int("worker_count", s.cfg.NumWorkers).Msg("Batching service started.")
	return nil
}

// Stop shuts the service down in order: the consumer first so no new
// messages arrive, then the workers drain, and the batch worker performs a
// final flush of whatever accumulated. The context bounds how long the drain
// may take.
func (s *BatchingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping batching service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error stopping consumer, continuing shutdown.")
	}

	allDone := make(chan struct{})
	go func() {
		s.transformWg.Wait()
		s.batchWg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		s.logger.Info().Msg("Batching service stopped.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout draining pipeline workers; unflushed items abandoned to redelivery.")
		return ctx.Err()
	}
}

// transformWorker converts messages and forwards them to the batch channel.
func (s *BatchingService[T]) transformWorker(ctx context.Context, workerID int) {
	defer s.transformWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				return
			}

			payload, skip, err := s.transformer(ctx, &msg)
			if err != nil {
				s.logger.Error().Err(err).Str("msg_id", msg.ID).Int("worker_id", workerID).Msg("Transform failed, Nacking message.")
				msg.Nack()
				continue
			}
			if skip {
				msg.Ack()
				continue
			}

			s.batchChan <- ProcessableItem[T]{Original: msg, Payload: payload}
		}
	}
}

// batchWorker accumulates items and flushes on size or timer.
func (s *BatchingService[T]) batchWorker(ctx context.Context) {
	defer s.batchWg.Done()

	batch := make([]ProcessableItem[T], 0, s.cfg.BatchSize)
	ticker := time.NewTicker(s.cfg.MaxBatchWait)
	defer ticker.Stop()

	flush := func(flushCtx context.Context) {
		if len(batch) == 0 {
			return
		}
		s.logger.Debug().Int("batch_size", len(batch)).Msg("Flushing batch.")
		if err := s.processor(flushCtx, batch); err != nil {
			s.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Batch processor reported failure; acknowledgments were settled by the processor.")
		}
		batch = make([]ProcessableItem[T], 0, s.cfg.BatchSize)
		ticker.Reset(s.cfg.MaxBatchWait)
	}

	for {
		select {
		case item, ok := <-s.batchChan:
			if !ok {
				// Final flush on a fresh context: the service context may
				// already be cancelled during shutdown, and the drain window
				// is bounded by Stop's context instead.
				flush(context.WithoutCancel(ctx))
				return
			}
			batch = append(batch, item)
			if len(batch) >= s.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
