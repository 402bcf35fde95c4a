// Package dcc implements the Data Connector Cache: a bounded,
// single-flight map from dataset name to a materialized Connector.
package dcc

import (
	"context"

	"github.com/latticefort/dp-query-service/internal/domain"
)

// TabularView is the logical scan surface Queriers operate over. The
// core does not specify a physical row representation, so this is a
// minimal columnar view: enough for the SQL/PIPELINE/SYNTH/CLASSICAL
// adapters and the Dummy Generator to share one shape.
type TabularView struct {
	Columns []string
	Rows    [][]any
}

func (v TabularView) NumRows() int { return len(v.Rows) }

// Connector is DCC's materialized handle: metadata plus a scannable
// view. Implementations must never expose a partially loaded state.
type Connector interface {
	Metadata() *domain.Metadata
	AsTabular(ctx context.Context) (TabularView, error)
	// ApproxBytes estimates the connector's memory footprint for the
	// cache's memory-bound eviction policy.
	ApproxBytes() int64
}

// Loader materializes a Connector for one dataset. Kept separate from
// Connector so the cache can single-flight the (possibly slow) load
// step independent of how the result is later scanned.
type Loader interface {
	Load(ctx context.Context, ds *domain.Dataset, meta *domain.Metadata) (Connector, error)
}
