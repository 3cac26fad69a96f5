// Package influxstore is the pipeline's sink layer: it commits batches of
// mapped points to InfluxDB, classifying failures as transient or permanent
// and retrying the former with backoff.
package influxstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/mapping"
)

// PointBatchWriter is the outbound storage contract. WriteBatch either
// commits every point or returns a WriteError describing why it could not.
type PointBatchWriter interface {
	WriteBatch(ctx context.Context, points []*mapping.Point) error
	Close() error
}

// InfluxConfig holds the connection parameters for the InfluxDB sink.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// Validate reports missing connection parameters.
func (c *InfluxConfig) Validate() error {
	if c.URL == "" {
		return errors.New("influx URL is required")
	}
	if c.Org == "" || c.Bucket == "" {
		return errors.New("influx org and bucket are required")
	}
	return nil
}

// LoadInfluxConfigFromEnv loads the sink configuration from environment
// variables, for deployments that configure through the environment alone.
func LoadInfluxConfigFromEnv() (*InfluxConfig, error) {
	cfg := &InfluxConfig{
		URL:    os.Getenv("INFLUXDB_URL"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    os.Getenv("INFLUXDB_ORG"),
		Bucket: os.Getenv("INFLUXDB_BUCKET"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InfluxWriter writes point batches through the InfluxDB v2 blocking write
// API.
type InfluxWriter struct {
	writeAPI api.WriteAPIBlocking
	logger   zerolog.Logger
}

// NewInfluxWriter wraps a blocking write API. Tests inject a fake here; use
// NewInfluxWriterFromClient for the production path.
func NewInfluxWriter(writeAPI api.WriteAPIBlocking, logger zerolog.Logger) (*InfluxWriter, error) {
	if writeAPI == nil {
		return nil, errors.New("influx write API cannot be nil")
	}
	return &InfluxWriter{
		writeAPI: writeAPI,
		logger:   logger.With().Str("component", "InfluxWriter").Logger(),
	}, nil
}

// NewInfluxWriterFromClient builds a writer on a shared InfluxDB client. The
// client's lifecycle stays with the caller so one client can back several
// writers.
func NewInfluxWriterFromClient(client influxdb2.Client, cfg *InfluxConfig, logger zerolog.Logger) (*InfluxWriter, error) {
	if client == nil {
		return nil, errors.New("influx client cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info().Str("url", cfg.URL).Str("org", cfg.Org).Str("bucket", cfg.Bucket).Msg("InfluxDB writer created.")
	return NewInfluxWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), logger)
}

// WriteBatch commits the batch in a single call. The returned error, if any,
// is a classified WriteError.
func (w *InfluxWriter) WriteBatch(ctx context.Context, points []*mapping.Point) error {
	if len(points) == 0 {
		return nil
	}

	converted := make([]*write.Point, len(points))
	for i, p := range points {
		converted[i] = toInfluxPoint(p)
	}

	if err := w.writeAPI.WritePoint(ctx, converted...); err != nil {
		classified := classify(err)
		w.logger.Error().Err(err).Int("batch_size", len(points)).
			Str("kind", kindOf(classified).String()).
			Msg("Failed to write batch to InfluxDB.")
		return classified
	}

	w.logger.Debug().Int("batch_size", len(points)).Msg("Batch written to InfluxDB.")
	return nil
}

// Close is a no-op: the InfluxDB client is managed by whoever created it.
func (w *InfluxWriter) Close() error {
	return nil
}

func toInfluxPoint(p *mapping.Point) *write.Point {
	return write.NewPoint(p.Measurement, p.Tags, p.Fields, p.Timestamp)
}

// classify maps an InfluxDB client error onto the transient/permanent
// taxonomy. 4xx responses mean the server rejected the data itself; anything
// else (429, 5xx, transport errors) is worth retrying.
func classify(err error) error {
	var httpErr *ihttp.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return Transient(err)
		case httpErr.StatusCode >= 400 && httpErr.StatusCode < 500:
			return Permanent(err)
		default:
			return Transient(err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(fmt.Errorf("write interrupted: %w", err))
	}
	return Transient(err)
}

func kindOf(err error) ErrorKind {
	if IsPermanent(err) {
		return KindPermanent
	}
	return KindTransient
}
