package dcc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	pkgerrors "github.com/latticefort/dp-query-service/internal/pkg/errors"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type fakeCatalog struct {
	datasets map[string]*domain.Dataset
	metadata map[string]*domain.Metadata
}

func (f *fakeCatalog) GetDataset(_ dbctx.Context, name string) (*domain.Dataset, error) {
	d, ok := f.datasets[name]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return d, nil
}

func (f *fakeCatalog) GetMetadata(_ dbctx.Context, name string) (*domain.Metadata, error) {
	m, ok := f.metadata[name]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return m, nil
}

func (f *fakeCatalog) ListDatasets(_ dbctx.Context) ([]*domain.Dataset, error) {
	out := make([]*domain.Dataset, 0, len(f.datasets))
	for _, d := range f.datasets {
		out = append(out, d)
	}
	return out, nil
}

func newFakeCatalog(names ...string) *fakeCatalog {
	c := &fakeCatalog{datasets: map[string]*domain.Dataset{}, metadata: map[string]*domain.Metadata{}}
	for _, n := range names {
		c.datasets[n] = &domain.Dataset{Name: n, AccessKind: domain.AccessInMemory}
		c.metadata[n] = &domain.Metadata{DatasetName: n, ColumnOrder: []string{"x"}}
	}
	return c
}

type countingLoader struct {
	calls int64
}

func (l *countingLoader) Load(_ context.Context, ds *domain.Dataset, meta *domain.Metadata) (Connector, error) {
	atomic.AddInt64(&l.calls, 1)
	return newTabularConnector(meta, TabularView{Columns: meta.ColumnOrder, Rows: [][]any{{1}}}), nil
}

type failingLoader struct {
	calls int64
}

func (l *failingLoader) Load(_ context.Context, _ *domain.Dataset, _ *domain.Metadata) (Connector, error) {
	atomic.AddInt64(&l.calls, 1)
	return nil, context.DeadlineExceeded
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestCacheAcquireSingleFlightsConcurrentColdLoad(t *testing.T) {
	loader := &countingLoader{}
	cat := newFakeCatalog("clinic")
	cache := New(10, 0, cat, map[string]Loader{"IN_MEMORY": loader}, testLogger(t))

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			conn, release, err := cache.Acquire(context.Background(), "clinic")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()
			if conn == nil {
				t.Errorf("expected non-nil connector")
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&loader.calls); got != 1 {
		t.Fatalf("expected loader invoked exactly once, got %d", got)
	}
}

func TestCacheAcquireRetriesAfterLoadFailure(t *testing.T) {
	loader := &failingLoader{}
	cat := newFakeCatalog("clinic")
	cache := New(10, 0, cat, map[string]Loader{"IN_MEMORY": loader}, testLogger(t))

	if _, _, err := cache.Acquire(context.Background(), "clinic"); err == nil {
		t.Fatalf("expected first acquire to surface load failure")
	}
	if _, _, err := cache.Acquire(context.Background(), "clinic"); err == nil {
		t.Fatalf("expected second acquire to retry and fail again")
	}
	if got := atomic.LoadInt64(&loader.calls); got != 2 {
		t.Fatalf("expected loader retried on the next Acquire after failure, got %d calls", got)
	}
}

func TestCacheEvictsLeastRecentlyAcquiredWhenOverCapacity(t *testing.T) {
	loader := &countingLoader{}
	cat := newFakeCatalog("a", "b", "c")
	cache := New(2, 0, cat, map[string]Loader{"IN_MEMORY": loader}, testLogger(t))

	_, releaseA, err := cache.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	releaseA()
	_, releaseB, err := cache.Acquire(context.Background(), "b")
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	releaseB()
	_, releaseC, err := cache.Acquire(context.Background(), "c")
	if err != nil {
		t.Fatalf("Acquire c: %v", err)
	}
	releaseC()

	cache.mu.Lock()
	_, aStillCached := cache.data["a"]
	_, cCached := cache.data["c"]
	cache.mu.Unlock()

	if aStillCached {
		t.Fatalf("expected least recently acquired entry 'a' to be evicted")
	}
	if !cCached {
		t.Fatalf("expected most recently acquired entry 'c' to remain cached")
	}
}

func TestCacheNeverEvictsHeldEntry(t *testing.T) {
	loader := &countingLoader{}
	cat := newFakeCatalog("a", "b")
	cache := New(1, 0, cat, map[string]Loader{"IN_MEMORY": loader}, testLogger(t))

	_, releaseA, err := cache.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer releaseA()

	if _, _, err := cache.Acquire(context.Background(), "b"); err != nil {
		t.Fatalf("Acquire b: %v", err)
	}

	cache.mu.Lock()
	_, aStillCached := cache.data["a"]
	cache.mu.Unlock()
	if !aStillCached {
		t.Fatalf("expected held entry 'a' to survive eviction pressure")
	}
}
