// Package provider contains clients for the public market-data sources the
// collector pulls from. Every client doubles as a secondary provider for
// the pipeline's fallback resolver.
package provider

import (
	"context"

	"coinpipe/internal/pipeline"
)

// Collector fetches a batch of raw observation rows for the requested
// symbols. The service uses one collector as its primary source per cycle.
type Collector interface {
	Name() string
	Collect(ctx context.Context, symbols []string) ([]pipeline.RawRow, error)
}
