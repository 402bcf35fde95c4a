// Package backpressure implements the submit-limit gauge admission
// step 1 enforces before debiting (the backlog high-water mark is
// checked separately by ABE through Broker.BacklogDepth), shared across
// worker processes via a Redis counter so the limit holds even when
// ABE runs behind multiple replicas.
package backpressure

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/latticefort/dp-query-service/internal/platform/logger"
)

// Gate bounds the number of in-flight admissions. A nil *redis.Client
// degrades to a purely in-process counter, so a single-node deployment
// need not stand up Redis just to enforce submit_limit.
type Gate struct {
	rdb    *redis.Client
	key    string
	limit  int
	ttl    time.Duration
	log    *logger.Logger
	local  chan struct{}
}

func New(rdb *redis.Client, key string, limit int, log *logger.Logger) *Gate {
	g := &Gate{rdb: rdb, key: key, limit: limit, ttl: 5 * time.Minute, log: log.With("component", "SubmitLimitGate")}
	if rdb == nil {
		g.local = make(chan struct{}, limit)
	}
	return g
}

// Acquire attempts to reserve one in-flight slot. ok=false means the
// caller must reject the admission with a retryable backpressure
// signal before any budget debit occurs.
func (g *Gate) Acquire(ctx context.Context) (release func(), ok bool, err error) {
	if g.limit <= 0 {
		return func() {}, true, nil
	}
	if g.rdb == nil {
		select {
		case g.local <- struct{}{}:
			return func() { <-g.local }, true, nil
		default:
			return func() {}, false, nil
		}
	}

	n, err := g.rdb.Incr(ctx, g.key).Result()
	if err != nil {
		g.log.Warn("backpressure gate incr failed, admitting fail-open", "error", err.Error())
		return func() {}, true, nil
	}
	if n == 1 {
		g.rdb.Expire(ctx, g.key, g.ttl)
	}
	if n > int64(g.limit) {
		g.rdb.Decr(ctx, g.key)
		return func() {}, false, nil
	}
	release = func() {
		g.rdb.Decr(context.Background(), g.key)
	}
	return release, true, nil
}
