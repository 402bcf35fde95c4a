// Package dg implements the Dummy Generator: deterministic per-column
// synthetic row generation from dataset metadata for the dummy query
// path, which never touches the budget ledger.
package dg

import (
	"fmt"
	"math/rand"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// Generate produces a byte-identical TabularView for equal
// (metadata, nbRows, seed) inputs, iterating columns in the metadata's
// declared order so PRNG draws are deterministic regardless of Go map
// iteration order.
func Generate(meta *domain.Metadata, nbRows int, seed int64) (dcc.TabularView, error) {
	if nbRows < 0 {
		return dcc.TabularView{}, fmt.Errorf("dg: nb_rows must be >= 0")
	}
	rng := rand.New(rand.NewSource(seed))

	view := dcc.TabularView{Columns: append([]string(nil), meta.ColumnOrder...)}
	view.Rows = make([][]any, nbRows)
	for i := range view.Rows {
		view.Rows[i] = make([]any, len(meta.ColumnOrder))
	}

	for colIdx, colName := range meta.ColumnOrder {
		spec, ok := meta.Columns[colName]
		if !ok {
			return dcc.TabularView{}, fmt.Errorf("dg: column %q missing from metadata.columns", colName)
		}
		for row := 0; row < nbRows; row++ {
			if spec.Nullable && rng.Float64() < spec.NullProbability {
				view.Rows[row][colIdx] = nil
				continue
			}
			view.Rows[row][colIdx] = drawValue(rng, spec)
		}
	}
	return view, nil
}

func drawValue(rng *rand.Rand, spec domain.ColumnSpec) any {
	switch spec.Type {
	case "string", "bool", "boolean":
		if len(spec.Categories) == 0 {
			return ""
		}
		return spec.Categories[rng.Intn(len(spec.Categories))]
	case "int":
		lower, upper := int64(spec.Lower), int64(spec.Upper)
		if upper < lower {
			upper = lower
		}
		return lower + rng.Int63n(upper-lower+1)
	case "float", "datetime":
		lower, upper := spec.Lower, spec.Upper
		if upper <= lower {
			return lower
		}
		return lower + (upper-lower)*rng.Float64()
	default:
		return nil
	}
}
