package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/riverwatch/go-ingest/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry(t *testing.T) {
	reg := registry.NewStaticRegistry(map[string]registry.SourceInfo{
		"dummy1": {SourceID: "dummy1", Station: "DummyRiverWQ", Location: "upstream"},
	})

	info, err := reg.Fetch(context.Background(), "dummy1")
	require.NoError(t, err)
	assert.Equal(t, "DummyRiverWQ", info.Station)

	_, err = reg.Fetch(context.Background(), "unknown")
	require.ErrorIs(t, err, registry.ErrNotFound)

	reg.Put(registry.SourceInfo{SourceID: "dummy2", Station: "SecondStation"})
	info, err = reg.Fetch(context.Background(), "dummy2")
	require.NoError(t, err)
	assert.Equal(t, "SecondStation", info.Station)

	require.NoError(t, reg.Close())
}

// failingFetcher always errors, standing in for an unreachable registry.
type failingFetcher struct{}

func (f *failingFetcher) Fetch(_ context.Context, _ string) (registry.SourceInfo, error) {
	return registry.SourceInfo{}, errors.New("registry unreachable")
}

func (f *failingFetcher) Close() error { return nil }

func TestSourceTagger_AppliesMetadata(t *testing.T) {
	reg := registry.NewStaticRegistry(map[string]registry.SourceInfo{
		"dummy1": {
			SourceID: "dummy1",
			Station:  "DummyRiverWQ",
			Location: "upstream",
			Tags:     map[string]string{"catchment": "upper", "ignored": ""},
		},
	})
	tagger := registry.NewSourceTagger(reg, zerolog.Nop())

	tags, ok := tagger(context.Background(), "dummy1")
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"catchment": "upper",
		"station":   "DummyRiverWQ",
		"location":  "upstream",
	}, tags)
}

func TestSourceTagger_UnknownSource(t *testing.T) {
	tagger := registry.NewSourceTagger(registry.NewStaticRegistry(nil), zerolog.Nop())

	tags, ok := tagger(context.Background(), "ghost")
	assert.False(t, ok)
	assert.Nil(t, tags)
}

func TestSourceTagger_FetchFailureDoesNotBlock(t *testing.T) {
	tagger := registry.NewSourceTagger(&failingFetcher{}, zerolog.Nop())

	tags, ok := tagger(context.Background(), "dummy1")
	assert.False(t, ok)
	assert.Nil(t, tags)
}

func TestSourceTagger_EmptyMetadata(t *testing.T) {
	reg := registry.NewStaticRegistry(map[string]registry.SourceInfo{
		"bare": {SourceID: "bare"},
	})
	tagger := registry.NewSourceTagger(reg, zerolog.Nop())

	_, ok := tagger(context.Background(), "bare")
	assert.False(t, ok, "an entry with no usable tags adds nothing")
}
