package dcc

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/latticefort/dp-query-service/internal/data/repos/catalog"
	"github.com/latticefort/dp-query-service/internal/domain"
	"github.com/latticefort/dp-query-service/internal/pkg/dbctx"
	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

type entry struct {
	once     sync.Once
	order    *list.Element
	key      string
	conn     Connector
	err      error
	inFlight int
}

// Cache is DCC: a capacity- and memory-bound, single-flight loading
// map from dataset name to Connector. Eviction is least-recently
// acquired among entries with zero in-flight holds, additionally
// bounded by an approximate total byte budget, matching the memory-
// usage-first eviction policy of the original LRU dataset store.
type Cache struct {
	mu          sync.Mutex
	data        map[string]*entry
	order       *list.List
	capacity    int
	maxBytes    int64
	usedBytes   int64
	loaders     map[string]Loader
	catalog     catalog.Store
	log         *logger.Logger
}

func New(capacity int, maxBytes int64, catalogStore catalog.Store, loaders map[string]Loader, log *logger.Logger) *Cache {
	return &Cache{
		data:     make(map[string]*entry, capacity),
		order:    list.New(),
		capacity: capacity,
		maxBytes: maxBytes,
		loaders:  loaders,
		catalog:  catalogStore,
		log:      log.With("service", "DataConnectorCache"),
	}
}

// Acquire returns a shared connector for dataset_name, materializing
// it under a per-key single-flight lock on a cold key. Callers must
// call the returned release func when done scanning so eviction can
// reclaim the slot.
func (c *Cache) Acquire(ctx context.Context, datasetName string) (Connector, func(), error) {
	c.mu.Lock()
	e, ok := c.data[datasetName]
	if !ok {
		e = &entry{key: datasetName}
		e.order = c.order.PushFront(datasetName)
		c.data[datasetName] = e
	} else {
		c.order.MoveToFront(e.order)
	}
	e.inFlight++
	c.mu.Unlock()

	e.once.Do(func() {
		e.conn, e.err = c.load(ctx, datasetName)
		if e.err == nil {
			c.mu.Lock()
			c.usedBytes += e.conn.ApproxBytes()
			c.mu.Unlock()
		} else {
			// Load failure must not populate the cache: drop the entry
			// so the next Acquire retries the loader.
			c.mu.Lock()
			if cur, ok := c.data[datasetName]; ok && cur == e {
				delete(c.data, datasetName)
				c.order.Remove(e.order)
			}
			c.mu.Unlock()
		}
	})

	release := func() {
		c.mu.Lock()
		if e.inFlight > 0 {
			e.inFlight--
		}
		c.mu.Unlock()
		c.evictIfNeeded()
	}

	if e.err != nil {
		release()
		return nil, func() {}, e.err
	}
	c.evictIfNeeded()
	return e.conn, release, nil
}

// MetadataFor resolves a dataset's metadata directly from the catalog,
// bypassing connector materialization; used by the dummy query path,
// which needs schema shape but never touches the underlying data.
func (c *Cache) MetadataFor(ctx context.Context, datasetName string) (*domain.Metadata, error) {
	return c.catalog.GetMetadata(dbctx.Context{Ctx: ctx}, datasetName)
}

func (c *Cache) load(ctx context.Context, datasetName string) (Connector, error) {
	ds, err := c.catalog.GetDataset(dbctx.Context{Ctx: ctx}, datasetName)
	if err != nil {
		return nil, err
	}
	meta, err := c.catalog.GetMetadata(dbctx.Context{Ctx: ctx}, datasetName)
	if err != nil {
		return nil, err
	}
	loader, ok := c.loaders[string(ds.AccessKind)]
	if !ok {
		return nil, fmt.Errorf("dcc: no loader registered for access kind %q", ds.AccessKind)
	}
	return loader.Load(ctx, ds, meta)
}

// Invalidate drops a dataset's cached connector so the next Acquire
// rebuilds it. Held (in-flight) entries are removed from the index but
// their connectors remain valid for existing holders until released.
func (c *Cache) Invalidate(datasetName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[datasetName]
	if !ok {
		return
	}
	delete(c.data, datasetName)
	c.order.Remove(e.order)
	if e.conn != nil {
		c.usedBytes -= e.conn.ApproxBytes()
	}
}

func (c *Cache) evictIfNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for (c.capacity > 0 && len(c.data) > c.capacity) || (c.maxBytes > 0 && c.usedBytes > c.maxBytes) {
		victim := c.leastRecentlyAcquiredLocked()
		if victim == nil {
			return
		}
		delete(c.data, victim.key)
		c.order.Remove(victim.order)
		if victim.conn != nil {
			c.usedBytes -= victim.conn.ApproxBytes()
		}
		if c.log != nil {
			c.log.Info("dcc evicted dataset connector", "dataset", victim.key)
		}
	}
}

// leastRecentlyAcquiredLocked scans from the back of the LRU list for
// the first entry with zero in-flight holds; entries currently in use
// are never evicted regardless of recency.
func (c *Cache) leastRecentlyAcquiredLocked() *entry {
	for el := c.order.Back(); el != nil; el = el.Prev() {
		key := el.Value.(string)
		e, ok := c.data[key]
		if !ok {
			continue
		}
		if e.inFlight == 0 {
			return e
		}
	}
	return nil
}
