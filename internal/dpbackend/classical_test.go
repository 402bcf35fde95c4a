package dpbackend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

func classicalMeta() *domain.Metadata {
	return &domain.Metadata{
		ColumnOrder: []string{"age"},
		Columns:     map[string]domain.ColumnSpec{"age": {Type: "int"}},
	}
}

func TestClassicalValidateRejectsUnsupportedEstimator(t *testing.T) {
	q := NewClassicalQuerier()
	payload, _ := json.Marshal(map[string]any{
		"estimator":         "gaussian_mean",
		"target_column":     "age",
		"lower":             0.0,
		"upper":             100.0,
		"requested_epsilon": 0.5,
	})
	err := q.Validate(context.Background(), classicalMeta(), payload)
	if err == nil {
		t.Fatalf("expected error for unsupported estimator")
	}
	if apierr.As(err).Code != apierr.CodeExternalLib {
		t.Fatalf("expected EXTERNAL_LIB, got %s", apierr.As(err).Code)
	}
}

func TestClassicalValidateRejectsBadRange(t *testing.T) {
	q := NewClassicalQuerier().(*classicalQuerier)
	payload, _ := json.Marshal(map[string]any{
		"estimator":         "laplace_mean",
		"target_column":     "age",
		"lower":             100.0,
		"upper":             0.0,
		"requested_epsilon": 0.5,
	})
	_, err := q.parse(payload)
	if err == nil {
		t.Fatalf("expected error for upper <= lower")
	}
}

func TestClassicalCountSkipsTargetColumnValidation(t *testing.T) {
	q := NewClassicalQuerier()
	payload, _ := json.Marshal(map[string]any{
		"estimator":         "laplace_count",
		"lower":             0.0,
		"upper":             1.0,
		"requested_epsilon": 0.5,
	})
	if err := q.Validate(context.Background(), classicalMeta(), payload); err != nil {
		t.Fatalf("laplace_count should not require target_column: %v", err)
	}
}

func TestClassicalEstimateCostPassesThrough(t *testing.T) {
	q := NewClassicalQuerier()
	payload, _ := json.Marshal(map[string]any{
		"estimator":         "laplace_sum",
		"target_column":     "age",
		"lower":             0.0,
		"upper":             100.0,
		"requested_epsilon": 0.9,
		"requested_delta":   0.0,
	})
	cost, err := q.EstimateCost(context.Background(), classicalMeta(), payload)
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	if cost.Epsilon != 0.9 {
		t.Fatalf("expected epsilon to pass through, got %v", cost.Epsilon)
	}
}

func TestClassicalExecuteCountIgnoresColumnValues(t *testing.T) {
	q := NewClassicalQuerier()
	payload, _ := json.Marshal(map[string]any{
		"estimator":         "laplace_count",
		"lower":             0.0,
		"upper":             1.0,
		"requested_epsilon": 1000.0,
		"seed":              int64(1),
	})
	view := dcc.TabularView{Columns: []string{"age"}, Rows: [][]any{{int64(1)}, {int64(2)}, {int64(3)}}}
	result, err := q.Execute(context.Background(), view, payload)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Scalar == nil {
		t.Fatalf("expected scalar result")
	}
	if *result.Scalar < 2.9 || *result.Scalar > 3.1 {
		t.Fatalf("expected count near 3 with large epsilon (low noise), got %v", *result.Scalar)
	}
}
