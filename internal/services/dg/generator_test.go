package dg

import (
	"testing"

	"github.com/google/uuid"

	"github.com/latticefort/dp-query-service/internal/domain"
)

func testMetadata() *domain.Metadata {
	return &domain.Metadata{
		ID:          uuid.New(),
		DatasetName: "clinic",
		ColumnOrder: []string{"age", "region", "score"},
		Columns: map[string]domain.ColumnSpec{
			"age":    {Type: "int", Lower: 0, Upper: 100},
			"region": {Type: "string", Categories: []string{"north", "south", "east"}},
			"score":  {Type: "float", Lower: 0, Upper: 1, Nullable: true, NullProbability: 0.5},
		},
	}
}

func TestGenerateDeterministicForEqualInputs(t *testing.T) {
	meta := testMetadata()
	a, err := Generate(meta, 50, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(meta, 50, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a.Rows) != len(b.Rows) {
		t.Fatalf("row count differs: %d vs %d", len(a.Rows), len(b.Rows))
	}
	for i := range a.Rows {
		for j := range a.Rows[i] {
			if a.Rows[i][j] != b.Rows[i][j] {
				t.Fatalf("row %d col %d differs: %v vs %v", i, j, a.Rows[i][j], b.Rows[i][j])
			}
		}
	}
}

func TestGenerateDiffersAcrossSeeds(t *testing.T) {
	meta := testMetadata()
	a, err := Generate(meta, 50, 1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(meta, 50, 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	same := true
	for i := range a.Rows {
		for j := range a.Rows[i] {
			if a.Rows[i][j] != b.Rows[i][j] {
				same = false
			}
		}
	}
	if same {
		t.Fatalf("expected different output for different seeds")
	}
}

func TestGenerateRejectsNegativeRows(t *testing.T) {
	meta := testMetadata()
	if _, err := Generate(meta, -1, 1); err == nil {
		t.Fatalf("expected error for negative nb_rows")
	}
}

func TestGenerateColumnOrderMatchesMetadata(t *testing.T) {
	meta := testMetadata()
	view, err := Generate(meta, 5, 7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(view.Columns) != len(meta.ColumnOrder) {
		t.Fatalf("column count mismatch")
	}
	for i, c := range meta.ColumnOrder {
		if view.Columns[i] != c {
			t.Fatalf("column %d: got %q want %q", i, view.Columns[i], c)
		}
	}
}

func TestGenerateMissingColumnSpec(t *testing.T) {
	meta := testMetadata()
	meta.ColumnOrder = append(meta.ColumnOrder, "ghost")
	if _, err := Generate(meta, 5, 1); err == nil {
		t.Fatalf("expected error for column missing from metadata.columns")
	}
}
