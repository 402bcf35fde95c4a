// Package dpbackend implements the DP Backend Registry (DBR): a
// closed, process-wide registry of Querier capabilities keyed by
// library tag, populated once at startup.
package dpbackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/services/dcc"
)

// Result is what a Querier hands back on execute: either a tabular
// result, a scalar, or both left zero for library-defined shapes.
type Result struct {
	Tabular *dcc.TabularView `json:"tabular,omitempty"`
	Scalar  *float64         `json:"scalar,omitempty"`
}

// Querier is the closed backend capability contract every library
// tag's adapter must implement.
type Querier interface {
	Validate(ctx context.Context, meta *domain.Metadata, payload []byte) error
	EstimateCost(ctx context.Context, meta *domain.Metadata, payload []byte) (domain.Cost, error)
	Execute(ctx context.Context, view dcc.TabularView, payload []byte) (Result, error)
}

// Registry is the DBR: a closed tag set populated once at startup and
// never mutated afterward; Register rejects a tag that is already set.
type Registry struct {
	mu       sync.RWMutex
	queriers map[domain.LibraryTag]Querier
}

func NewRegistry() *Registry {
	return &Registry{queriers: make(map[domain.LibraryTag]Querier)}
}

func (r *Registry) Register(tag domain.LibraryTag, q Querier) error {
	if q == nil {
		return fmt.Errorf("dbr: nil querier for tag %q", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queriers[tag]; exists {
		return fmt.Errorf("dbr: querier already registered for tag %q", tag)
	}
	r.queriers[tag] = q
	return nil
}

func (r *Registry) Get(tag domain.LibraryTag) (Querier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queriers[tag]
	return q, ok
}

// Default builds the registry with the four recognized library tags
// wired to their adapters, matching the closed set §4.3 names.
func Default() *Registry {
	r := NewRegistry()
	_ = r.Register(domain.LibrarySQL, NewSQLQuerier())
	_ = r.Register(domain.LibraryPipeline, NewPipelineQuerier())
	_ = r.Register(domain.LibrarySynth, NewSynthQuerier())
	_ = r.Register(domain.LibraryClassical, NewClassicalQuerier())
	return r
}
