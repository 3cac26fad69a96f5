package archive

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UploaderConfig holds configuration for the batch uploader.
type UploaderConfig struct {
	BucketName   string `yaml:"bucket_name"`
	ObjectPrefix string `yaml:"object_prefix"`
}

// Uploader groups records by their batch key and uploads each group as one
// compressed JSONL object.
type Uploader struct {
	client StorageClient
	config UploaderConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewUploader creates an uploader writing to the configured bucket.
func NewUploader(client StorageClient, config UploaderConfig, logger zerolog.Logger) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("archive bucket name is required")
	}
	return &Uploader{
		client: client,
		config: config,
		logger: logger.With().Str("component", "ArchiveUploader").Logger(),
	}, nil
}

// UploadBatch groups the records by batch key and uploads each group to a
// separate object in parallel. Records with an empty key are skipped.
func (u *Uploader) UploadBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	grouped := make(map[string][]*Record)
	for _, rec := range records {
		if rec != nil && rec.GetBatchKey() != "" {
			grouped[rec.GetBatchKey()] = append(grouped[rec.GetBatchKey()], rec)
		}
	}
	if len(grouped) == 0 {
		return nil
	}

	var uploadWg sync.WaitGroup
	errs := make(chan error, len(grouped))

	for key, group := range grouped {
		uploadWg.Add(1)
		u.wg.Add(1)
		go func(batchKey string, group []*Record) {
			defer uploadWg.Done()
			defer u.wg.Done()
			if err := u.uploadSingleGroup(ctx, batchKey, group); err != nil {
				errs <- err
			}
		}(key, group)
	}

	uploadWg.Wait()
	close(errs)

	var combinedErr error
	for err := range errs {
		if combinedErr == nil {
			combinedErr = err
		} else {
			combinedErr = fmt.Errorf("%v; %w", combinedErr, err)
		}
	}
	return combinedErr
}

// uploadSingleGroup streams one group of records into one storage object.
func (u *Uploader) uploadSingleGroup(ctx context.Context, batchKey string, group []*Record) error {
	objectName := path.Join(u.config.ObjectPrefix, batchKey, fmt.Sprintf("%s.jsonl.gz", uuid.New().String()))
	u.logger.Info().Str("object_name", objectName).Int("record_count", len(group)).Msg("Starting upload for grouped batch.")

	objWriter := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	// Encode and compress into the pipe while the object writer drains it.
	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		defer func() { _ = gz.Close() }()
		enc := json.NewEncoder(gz)
		for _, rec := range group {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
	}()

	bytesWritten, pipeReadErr := io.Copy(objWriter, pr)
	closeErr := objWriter.Close()

	if pipeReadErr != nil {
		return fmt.Errorf("failed to stream data for object %s: %w", objectName, pipeReadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close object writer for %s: %w", objectName, closeErr)
	}

	u.logger.Info().Str("object_name", objectName).Int64("bytes_written", bytesWritten).Msg("Successfully uploaded grouped batch.")
	return nil
}

// Close waits for any in-flight uploads to finish.
func (u *Uploader) Close() error {
	u.logger.Info().Msg("Waiting for all pending archive uploads to complete...")
	u.wg.Wait()
	u.logger.Info().Msg("All archive uploads completed.")
	return nil
}
