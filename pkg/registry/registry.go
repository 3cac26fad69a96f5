// Package registry resolves per-source metadata (station name, location,
// operator-defined tags) so points can be enriched beyond what the payload
// itself carries. Lookups go through a cache with a source-of-truth fallback;
// a failed lookup never blocks ingestion.
package registry

import (
	"context"
	"errors"
)

// SourceInfo is the metadata held for one telemetry source.
type SourceInfo struct {
	SourceID string            `json:"sourceId" firestore:"sourceId"`
	Station  string            `json:"station" firestore:"station"`
	Location string            `json:"location" firestore:"location"`
	Tags     map[string]string `json:"tags,omitempty" firestore:"tags,omitempty"`
}

// ErrNotFound reports a source id with no registry entry.
var ErrNotFound = errors.New("source not found in registry")

// Fetcher retrieves source metadata by source id.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) (SourceInfo, error)
	Close() error
}
