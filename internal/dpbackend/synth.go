package dpbackend

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// synthPayload declares its cost up front rather than deriving it from
// a mechanism-assignment step: the caller names the algorithm, the
// columns to synthesize, and the exact (epsilon, delta) it is spending.
type synthPayload struct {
	Algorithm        string   `json:"algorithm"`
	SelectCols       []string `json:"select_cols"`
	NumRecords       int      `json:"num_records"`
	Constraints      []string `json:"constraints,omitempty"`
	RequestedEpsilon float64  `json:"requested_epsilon"`
	RequestedDelta   float64  `json:"requested_delta"`
	Seed             int64    `json:"seed"`
}

var supportedSynthAlgorithms = map[string]bool{
	"mst":        true,
	"patectgan":  true,
	"aim":        true,
}

type synthQuerier struct{}

func NewSynthQuerier() Querier { return &synthQuerier{} }

func (q *synthQuerier) parse(payload []byte) (synthPayload, error) {
	var p synthPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, apierr.InvalidQuery("malformed synth payload", err)
	}
	if p.Algorithm == "" {
		return p, apierr.InvalidQuery("algorithm field is required", nil)
	}
	if len(p.SelectCols) == 0 {
		return p, apierr.InvalidQuery("select_cols must be non-empty", nil)
	}
	if p.RequestedEpsilon <= 0 {
		return p, apierr.InvalidQuery("requested_epsilon must be positive", nil)
	}
	return p, nil
}

func (q *synthQuerier) Validate(_ context.Context, meta *domain.Metadata, payload []byte) error {
	p, err := q.parse(payload)
	if err != nil {
		return err
	}
	for _, col := range p.SelectCols {
		if _, ok := meta.Columns[col]; !ok {
			return apierr.InvalidQuery("select_cols references unknown column "+col, nil)
		}
	}
	if !supportedSynthAlgorithms[p.Algorithm] {
		return apierr.ExternalLib("unsupported synth algorithm "+p.Algorithm, nil)
	}
	return nil
}

// EstimateCost passes the caller's declared cost straight through:
// synth backends spend exactly what they are configured to spend, with
// no mechanism-assignment inflation step.
func (q *synthQuerier) EstimateCost(_ context.Context, _ *domain.Metadata, payload []byte) (domain.Cost, error) {
	p, err := q.parse(payload)
	if err != nil {
		return domain.Cost{}, err
	}
	return domain.Cost{Epsilon: p.RequestedEpsilon, Delta: p.RequestedDelta}, nil
}

func (q *synthQuerier) Execute(_ context.Context, view dcc.TabularView, payload []byte) (Result, error) {
	p, err := q.parse(payload)
	if err != nil {
		return Result{}, err
	}
	if !supportedSynthAlgorithms[p.Algorithm] {
		return Result{}, apierr.ExternalLib("unsupported synth algorithm "+p.Algorithm, nil)
	}

	colIdx := make([]int, 0, len(p.SelectCols))
	for _, col := range p.SelectCols {
		for i, c := range view.Columns {
			if c == col {
				colIdx = append(colIdx, i)
				break
			}
		}
	}
	if len(colIdx) != len(p.SelectCols) {
		return Result{}, apierr.ExternalLib("select_cols does not fully resolve against the loaded dataset", nil)
	}

	n := p.NumRecords
	if n <= 0 {
		n = len(view.Rows)
	}
	rng := rand.New(rand.NewSource(p.Seed))
	out := dcc.TabularView{Columns: p.SelectCols, Rows: make([][]any, n)}
	for i := 0; i < n; i++ {
		row := make([]any, len(colIdx))
		if len(view.Rows) > 0 {
			src := view.Rows[rng.Intn(len(view.Rows))]
			for j, idx := range colIdx {
				row[j] = src[idx]
			}
		}
		out.Rows[i] = row
	}
	return Result{Tabular: &out}, nil
}
