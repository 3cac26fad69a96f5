package registry

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds the location of the source registry collection.
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// FirestoreRegistry reads source metadata from a Firestore collection keyed
// by source id. It is the source of truth the Redis cache falls back to; in
// low-volume deployments it can also serve lookups directly.
type FirestoreRegistry struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreRegistry wraps an existing Firestore client. The client's
// lifecycle stays with the caller.
func NewFirestoreRegistry(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreRegistry, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.Collection == "" {
		return nil, errors.New("firestore collection is required")
	}
	return &FirestoreRegistry{
		client:     client,
		collection: cfg.Collection,
		logger:     logger.With().Str("component", "FirestoreRegistry").Str("collection", cfg.Collection).Logger(),
	}, nil
}

// Fetch implements the Fetcher interface.
func (r *FirestoreRegistry) Fetch(ctx context.Context, sourceID string) (SourceInfo, error) {
	snap, err := r.client.Collection(r.collection).Doc(sourceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return SourceInfo{}, ErrNotFound
		}
		r.logger.Error().Err(err).Str("source_id", sourceID).Msg("Firestore registry lookup failed.")
		return SourceInfo{}, fmt.Errorf("firestore get for %s: %w", sourceID, err)
	}

	var info SourceInfo
	if err := snap.DataTo(&info); err != nil {
		r.logger.Error().Err(err).Str("source_id", sourceID).Msg("Failed to map Firestore registry document.")
		return SourceInfo{}, fmt.Errorf("firestore DataTo for %s: %w", sourceID, err)
	}
	if info.SourceID == "" {
		info.SourceID = sourceID
	}
	return info, nil
}

// Close is a no-op; the injected client is closed by its owner.
func (r *FirestoreRegistry) Close() error { return nil }
