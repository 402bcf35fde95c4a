package dpbackend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/platform/apierr"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

func synthMeta() *domain.Metadata {
	return &domain.Metadata{
		ColumnOrder: []string{"age", "region"},
		Columns: map[string]domain.ColumnSpec{
			"age":    {Type: "int"},
			"region": {Type: "string"},
		},
	}
}

func TestSynthValidateRejectsUnknownColumn(t *testing.T) {
	q := NewSynthQuerier()
	payload, _ := json.Marshal(map[string]any{
		"algorithm":         "mst",
		"select_cols":       []string{"ghost"},
		"requested_epsilon": 1.0,
	})
	err := q.Validate(context.Background(), synthMeta(), payload)
	if err == nil {
		t.Fatalf("expected error for unknown select_cols entry")
	}
	if apierr.As(err).Code != apierr.CodeInvalidQuery {
		t.Fatalf("expected INVALID_QUERY, got %s", apierr.As(err).Code)
	}
}

func TestSynthValidateRejectsUnsupportedAlgorithm(t *testing.T) {
	q := NewSynthQuerier()
	payload, _ := json.Marshal(map[string]any{
		"algorithm":         "not_a_real_algorithm",
		"select_cols":       []string{"age"},
		"requested_epsilon": 1.0,
	})
	err := q.Validate(context.Background(), synthMeta(), payload)
	if err == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
	if apierr.As(err).Code != apierr.CodeExternalLib {
		t.Fatalf("expected EXTERNAL_LIB, got %s", apierr.As(err).Code)
	}
}

func TestSynthEstimateCostPassesThrough(t *testing.T) {
	q := NewSynthQuerier()
	payload, _ := json.Marshal(map[string]any{
		"algorithm":         "aim",
		"select_cols":       []string{"age"},
		"requested_epsilon": 0.7,
		"requested_delta":   1e-6,
	})
	cost, err := q.EstimateCost(context.Background(), synthMeta(), payload)
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	if cost.Epsilon != 0.7 || cost.Delta != 1e-6 {
		t.Fatalf("expected cost to pass through unchanged, got %+v", cost)
	}
}

func TestSynthExecuteProducesRequestedRecordCount(t *testing.T) {
	q := NewSynthQuerier()
	payload, _ := json.Marshal(map[string]any{
		"algorithm":         "mst",
		"select_cols":       []string{"age"},
		"num_records":       5,
		"seed":              int64(7),
		"requested_epsilon": 1.0,
	})
	view := dcc.TabularView{
		Columns: []string{"age", "region"},
		Rows:    [][]any{{int64(1), "n"}, {int64(2), "s"}},
	}
	result, err := q.Execute(context.Background(), view, payload)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Tabular == nil || len(result.Tabular.Rows) != 5 {
		t.Fatalf("expected 5 synthesized rows, got %+v", result.Tabular)
	}
}

func TestSynthExecuteDeterministicForEqualSeed(t *testing.T) {
	q := NewSynthQuerier()
	payload, _ := json.Marshal(map[string]any{
		"algorithm":         "mst",
		"select_cols":       []string{"age"},
		"num_records":       10,
		"seed":              int64(99),
		"requested_epsilon": 1.0,
	})
	view := dcc.TabularView{
		Columns: []string{"age"},
		Rows:    [][]any{{int64(1)}, {int64(2)}, {int64(3)}},
	}
	a, err := q.Execute(context.Background(), view, payload)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	b, err := q.Execute(context.Background(), view, payload)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i := range a.Tabular.Rows {
		if a.Tabular.Rows[i][0] != b.Tabular.Rows[i][0] {
			t.Fatalf("expected identical synthesized output for equal seed")
		}
	}
}
