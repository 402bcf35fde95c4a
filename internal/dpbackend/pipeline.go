package dpbackend

import (
	"context"
	"encoding/json"
	"math"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// pipelineKind mirrors the OpenDP measurement/transformation split: only
// a measurement produces a releasable, budget-charged result.
type pipelineKind string

const (
	pipelineKindMeasurement    pipelineKind = "measurement"
	pipelineKindTransformation pipelineKind = "transformation"
)

// pipelinePayload is the PIPELINE library tag's wire payload: an
// opaque serialized pipeline plus the cost the caller believes it
// carries. FixedDelta is required whenever the pipeline is zCDP-shaped
// (RhoZCDP set), since a pure zCDP guarantee has no delta to convert to
// approximate-DP terms without one supplied by the caller.
type pipelinePayload struct {
	Serialized       string   `json:"pipeline"`
	Kind             pipelineKind `json:"kind"`
	RhoZCDP          *float64 `json:"rho_zcdp,omitempty"`
	FixedDelta       *float64 `json:"fixed_delta,omitempty"`
	RequestedEpsilon float64  `json:"requested_epsilon"`
	RequestedDelta   float64  `json:"requested_delta"`
	TargetColumn     string   `json:"target_column,omitempty"`
}

type pipelineQuerier struct{}

func NewPipelineQuerier() Querier { return &pipelineQuerier{} }

func (q *pipelineQuerier) parse(payload []byte) (pipelinePayload, error) {
	var p pipelinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, apierr.InvalidQuery("malformed pipeline payload", err)
	}
	if p.Serialized == "" {
		return p, apierr.InvalidQuery("pipeline field is required", nil)
	}
	if p.Kind == "" {
		p.Kind = pipelineKindMeasurement
	}
	if p.RhoZCDP != nil && p.FixedDelta == nil {
		// A zCDP-shaped pipeline has no delta of its own; without a
		// caller-supplied conversion target the request cannot be
		// priced in (epsilon, delta) terms at all.
		return p, apierr.InvalidQuery("fixed_delta is required for a zCDP-shaped pipeline", nil)
	}
	if p.RhoZCDP == nil && p.FixedDelta != nil {
		return p, apierr.InvalidQuery("fixed_delta is only meaningful for a zCDP-shaped pipeline", nil)
	}
	return p, nil
}

func (q *pipelineQuerier) Validate(_ context.Context, _ *domain.Metadata, payload []byte) error {
	_, err := q.parse(payload)
	return err
}

func (q *pipelineQuerier) EstimateCost(_ context.Context, _ *domain.Metadata, payload []byte) (domain.Cost, error) {
	p, err := q.parse(payload)
	if err != nil {
		return domain.Cost{}, err
	}
	if p.Kind != pipelineKindMeasurement {
		return domain.Cost{}, apierr.ExternalLib("pipeline is a transformation, not a measurement, and cannot be priced or released", nil)
	}
	if p.RhoZCDP != nil {
		return zcdpToApproxDP(*p.RhoZCDP, *p.FixedDelta), nil
	}
	return domain.Cost{Epsilon: p.RequestedEpsilon, Delta: p.RequestedDelta}, nil
}

// zcdpToApproxDP converts a rho-zCDP guarantee to an (epsilon, delta)
// pair at the caller-fixed delta, using the standard conversion
// epsilon = rho + 2*sqrt(rho*ln(1/delta)).
func zcdpToApproxDP(rho, delta float64) domain.Cost {
	if rho <= 0 || delta <= 0 || delta >= 1 {
		return domain.Cost{Epsilon: rho, Delta: delta}
	}
	eps := rho + 2*math.Sqrt(rho*math.Log(1/delta))
	return domain.Cost{Epsilon: eps, Delta: delta}
}

func (q *pipelineQuerier) Execute(_ context.Context, view dcc.TabularView, payload []byte) (Result, error) {
	p, err := q.parse(payload)
	if err != nil {
		return Result{}, err
	}
	if p.Kind != pipelineKindMeasurement {
		return Result{}, apierr.ExternalLib("pipeline is a transformation, not a measurement, and cannot be released", nil)
	}
	colIdx := -1
	for i, c := range view.Columns {
		if c == p.TargetColumn {
			colIdx = i
			break
		}
	}
	if p.TargetColumn == "" || colIdx == -1 {
		count := float64(len(view.Rows))
		return Result{Scalar: &count}, nil
	}
	var sum, n float64
	for _, row := range view.Rows {
		if v, ok := numericCell(row[colIdx]); ok {
			sum += v
			n++
		}
	}
	var mean float64
	if n > 0 {
		mean = sum / n
	}
	return Result{Scalar: &mean}, nil
}
