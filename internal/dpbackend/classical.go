package dpbackend

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// classicalPayload targets a single numeric column with one of a
// closed set of classical DP estimators; the caller declares the exact
// cost it is spending, matching the synth tag's up-front pricing.
type classicalPayload struct {
	Estimator        string  `json:"estimator"`
	TargetColumn     string  `json:"target_column"`
	Lower            float64 `json:"lower"`
	Upper            float64 `json:"upper"`
	RequestedEpsilon float64 `json:"requested_epsilon"`
	RequestedDelta   float64 `json:"requested_delta"`
	Seed             int64   `json:"seed"`
}

var supportedClassicalEstimators = map[string]bool{
	"laplace_mean":  true,
	"laplace_sum":   true,
	"laplace_count": true,
}

type classicalQuerier struct{}

func NewClassicalQuerier() Querier { return &classicalQuerier{} }

func (q *classicalQuerier) parse(payload []byte) (classicalPayload, error) {
	var p classicalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, apierr.InvalidQuery("malformed classical payload", err)
	}
	if p.Estimator == "" {
		return p, apierr.InvalidQuery("estimator field is required", nil)
	}
	if p.RequestedEpsilon <= 0 {
		return p, apierr.InvalidQuery("requested_epsilon must be positive", nil)
	}
	if p.Upper <= p.Lower {
		return p, apierr.InvalidQuery("upper must exceed lower", nil)
	}
	return p, nil
}

func (q *classicalQuerier) Validate(_ context.Context, meta *domain.Metadata, payload []byte) error {
	p, err := q.parse(payload)
	if err != nil {
		return err
	}
	if p.Estimator != "laplace_count" {
		if _, ok := meta.Columns[p.TargetColumn]; !ok {
			return apierr.InvalidQuery("target_column references unknown column "+p.TargetColumn, nil)
		}
	}
	if !supportedClassicalEstimators[p.Estimator] {
		return apierr.ExternalLib("unsupported classical estimator "+p.Estimator, nil)
	}
	return nil
}

// EstimateCost passes the caller's declared cost through unchanged,
// like the synth tag: classical estimators spend exactly the Laplace
// budget their sensitivity/epsilon pair was configured with.
func (q *classicalQuerier) EstimateCost(_ context.Context, _ *domain.Metadata, payload []byte) (domain.Cost, error) {
	p, err := q.parse(payload)
	if err != nil {
		return domain.Cost{}, err
	}
	return domain.Cost{Epsilon: p.RequestedEpsilon, Delta: p.RequestedDelta}, nil
}

func (q *classicalQuerier) Execute(_ context.Context, view dcc.TabularView, payload []byte) (Result, error) {
	p, err := q.parse(payload)
	if err != nil {
		return Result{}, err
	}
	if !supportedClassicalEstimators[p.Estimator] {
		return Result{}, apierr.ExternalLib("unsupported classical estimator "+p.Estimator, nil)
	}

	var raw float64
	switch p.Estimator {
	case "laplace_count":
		raw = float64(len(view.Rows))
	default:
		colIdx := -1
		for i, c := range view.Columns {
			if c == p.TargetColumn {
				colIdx = i
				break
			}
		}
		if colIdx == -1 {
			return Result{}, apierr.ExternalLib("unknown target column "+p.TargetColumn, nil)
		}
		var sum, n float64
		for _, row := range view.Rows {
			v, ok := numericCell(row[colIdx])
			if !ok {
				continue
			}
			if v < p.Lower {
				v = p.Lower
			}
			if v > p.Upper {
				v = p.Upper
			}
			sum += v
			n++
		}
		switch p.Estimator {
		case "laplace_sum":
			raw = sum
		case "laplace_mean":
			if n > 0 {
				raw = sum / n
			}
		}
	}

	sensitivity := p.Upper - p.Lower
	noisy := raw + laplaceNoise(rand.New(rand.NewSource(p.Seed)), sensitivity/p.RequestedEpsilon)
	return Result{Scalar: &noisy}, nil
}

// laplaceNoise draws from Laplace(0, scale) via inverse-CDF sampling on
// a uniform variate in (-0.5, 0.5).
func laplaceNoise(rng *rand.Rand, scale float64) float64 {
	u := rng.Float64() - 0.5
	sign := 1.0
	if u < 0 {
		sign = -1.0
	}
	return -scale * sign * math.Log(1-2*math.Abs(u))
}
