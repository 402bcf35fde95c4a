package dpbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// sqlPayload is the SQL library tag's wire payload: a "FROM df" SQL
// string, optional mechanism overrides, and the requested cost the
// mechanism-assignment step may inflate.
type sqlPayload struct {
	SQL              string             `json:"sql"`
	Mechanisms       map[string]string  `json:"mechanisms,omitempty"`
	Postprocess      bool               `json:"postprocess,omitempty"`
	RequestedEpsilon float64            `json:"requested_epsilon"`
	RequestedDelta   float64            `json:"requested_delta"`
}

// sqlAggRE recognizes the minimal "SELECT FUNC(col) FROM df" grammar
// this adapter is willing to execute; anything else is an external
// library refusal rather than a core-level validation failure, since
// SQL dialect support is the backend's concern, not the engine's.
var sqlAggRE = regexp.MustCompile(`(?i)^select\s+(avg|sum|count)\s*\(\s*([a-zA-Z0-9_]+)\s*\)\s+from\s+df\s*$`)

// SQLMechanismEpsilonFactor and SQLMechanismDeltaFactor model the
// backend's mechanism-assignment step: measured cost is derived from
// requested cost, but is not required to equal it.
const (
	SQLMechanismEpsilonFactor = 2.0
	SQLMechanismDeltaFactor   = 0.5
)

type sqlQuerier struct{}

func NewSQLQuerier() Querier { return &sqlQuerier{} }

func (q *sqlQuerier) parse(payload []byte) (sqlPayload, error) {
	var p sqlPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, apierr.InvalidQuery("malformed SQL payload", err)
	}
	if strings.TrimSpace(p.SQL) == "" {
		return p, apierr.InvalidQuery("sql field is required", nil)
	}
	return p, nil
}

func (q *sqlQuerier) Validate(_ context.Context, _ *domain.Metadata, payload []byte) error {
	_, err := q.parse(payload)
	return err
}

func (q *sqlQuerier) EstimateCost(_ context.Context, _ *domain.Metadata, payload []byte) (domain.Cost, error) {
	p, err := q.parse(payload)
	if err != nil {
		return domain.Cost{}, err
	}
	if !sqlAggRE.MatchString(strings.TrimSpace(p.SQL)) {
		return domain.Cost{}, apierr.ExternalLib(fmt.Sprintf("unsupported SQL grammar: %q", p.SQL), nil)
	}
	return domain.Cost{
		Epsilon: p.RequestedEpsilon * SQLMechanismEpsilonFactor,
		Delta:   p.RequestedDelta * SQLMechanismDeltaFactor,
	}, nil
}

func (q *sqlQuerier) Execute(_ context.Context, view dcc.TabularView, payload []byte) (Result, error) {
	p, err := q.parse(payload)
	if err != nil {
		return Result{}, err
	}
	m := sqlAggRE.FindStringSubmatch(strings.TrimSpace(p.SQL))
	if m == nil {
		return Result{}, apierr.ExternalLib(fmt.Sprintf("unsupported SQL grammar: %q", p.SQL), nil)
	}
	fn, col := strings.ToLower(m[1]), m[2]
	colIdx := -1
	for i, c := range view.Columns {
		if c == col {
			colIdx = i
			break
		}
	}
	if colIdx == -1 {
		return Result{}, apierr.ExternalLib(fmt.Sprintf("unknown column %q", col), nil)
	}

	var sum float64
	var count float64
	for _, row := range view.Rows {
		v, ok := numericCell(row[colIdx])
		if !ok {
			continue
		}
		sum += v
		count++
	}

	var scalar float64
	switch fn {
	case "avg":
		if count > 0 {
			scalar = sum / count
		}
	case "sum":
		scalar = sum
	case "count":
		scalar = count
	}
	return Result{Scalar: &scalar}, nil
}

func numericCell(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
