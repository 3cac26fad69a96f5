package registry

import (
	"context"

	"github.com/rs/zerolog"
)

// SourceTagger resolves the extra tags for a source id. The boolean is false
// when no metadata is available; the caller proceeds without extra tags
// either way, so an unreachable registry degrades ingestion rather than
// stopping it.
type SourceTagger func(ctx context.Context, sourceID string) (map[string]string, bool)

// NewSourceTagger builds a SourceTagger over a Fetcher. Registry metadata
// becomes tags as follows: the entry's own Tags map first, then "station"
// and "location" when set. Lookup failures are logged at debug level only;
// an absent registry entry is the normal case for unregistered sources.
func NewSourceTagger(fetcher Fetcher, logger zerolog.Logger) SourceTagger {
	tagLogger := logger.With().Str("component", "SourceTagger").Logger()

	return func(ctx context.Context, sourceID string) (map[string]string, bool) {
		info, err := fetcher.Fetch(ctx, sourceID)
		if err != nil {
			tagLogger.Debug().Err(err).Str("source_id", sourceID).Msg("No registry metadata for source.")
			return nil, false
		}

		tags := make(map[string]string, len(info.Tags)+2)
		for k, v := range info.Tags {
			if v != "" {
				tags[k] = v
			}
		}
		if info.Station != "" {
			tags["station"] = info.Station
		}
		if info.Location != "" {
			tags["location"] = info.Location
		}
		if len(tags) == 0 {
			return nil, false
		}
		return tags, true
	}
}
