package archive

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// NewService assembles the archival pipeline: raw messages become Records,
// batches are grouped by key, and each group is uploaded in parallel. The
// acknowledgment contract is the same as the hot path's: a group's messages
// are acked only once its object is durably stored, and nacked on failure so
// the source redelivers them.
func NewService(
	cfg pipeline.BatchingServiceConfig,
	consumer pipeline.MessageConsumer,
	client StorageClient,
	uploaderCfg UploaderConfig,
	logger zerolog.Logger,
) (*pipeline.BatchingService[Record], error) {
	uploader, err := NewUploader(client, uploaderCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive uploader: %w", err)
	}

	processor := func(ctx context.Context, batch []pipeline.ProcessableItem[Record]) error {
		if len(batch) == 0 {
			return nil
		}

		grouped := make(map[string][]pipeline.ProcessableItem[Record])
		for _, item := range batch {
			key := item.Payload.GetBatchKey()
			grouped[key] = append(grouped[key], item)
		}

		var wg sync.WaitGroup
		var firstErr error
		var mu sync.Mutex

		// One group's failure must not withhold acks from the others.
		for _, group := range grouped {
			wg.Add(1)
			go func(group []pipeline.ProcessableItem[Record]) {
				defer wg.Done()

				records := make([]*Record, len(group))
				for i, item := range group {
					records[i] = item.Payload
				}

				if err := uploader.UploadBatch(ctx, records); err != nil {
					logger.Error().Err(err).Int("batch_size", len(group)).Msg("Failed to upload grouped batch, Nacking messages.")
					for _, item := range group {
						item.Original.Nack()
					}
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				} else {
					for _, item := range group {
						item.Original.Ack()
					}
				}
			}(group)
		}
		wg.Wait()
		return firstErr
	}

	svc, err := pipeline.NewBatchingService[Record](cfg, consumer, NewTransformer(), processor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create archival pipeline: %w", err)
	}
	return svc, nil
}
