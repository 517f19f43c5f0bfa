package types

import (
	"context"
	"time"
)

// RawSample is a single observation from a station backend, mapped to the
// canonical field vocabulary but not yet aligned to the archive grid.
type RawSample struct {
	Timestamp time.Time // always UTC
	Station   string
	Fields    map[string]float64
}

// FetchResult carries the outcome of one window fetch. Dropped counts
// malformed samples discarded during normalization.
type FetchResult struct {
	Samples []RawSample
	Dropped int
}

type SampleProvider interface {
	// Name identifies the configured station. It doubles as the archive
	// subdirectory and must be unique across the configuration.
	Name() string

	// Kind is the backend type, e.g. "ttn" or "ecowitt".
	Kind() string

	// FetchWindow returns every sample with since <= t < until, in any
	// order. A window without data yields an empty result, not an error.
	FetchWindow(ctx context.Context, since, until time.Time) (FetchResult, error)

	// Normalize maps one backend payload into canonical samples. Payloads
	// describing a single uplink yield one sample, history-shaped payloads
	// may yield many.
	Normalize(payload []byte) ([]RawSample, error)
}
