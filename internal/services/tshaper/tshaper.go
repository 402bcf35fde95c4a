// Package tshaper implements the Timing Shaper: a response-time
// post-processor applied to every terminal ABE response, success or
// failure, so a caller cannot use latency as a side channel to infer
// which admission step rejected a query.
package tshaper

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/latticefort/dp-query-service/internal/config"
)

type Shaper struct {
	method    config.TimeAttackMethod
	magnitude time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg config.ServerConfig) *Shaper {
	return &Shaper{
		method:    cfg.TimeAttackMethod,
		magnitude: cfg.TimeAttackMagnitude,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Await blocks until the shaper's policy is satisfied relative to
// admitTime, or the context is done, whichever comes first. It runs
// after the admission protocol has already reached a terminal
// disposition, so cancellation here only affects how quickly the
// response reaches the caller, never the query outcome itself.
func (s *Shaper) Await(ctx context.Context, admitTime time.Time) {
	if s == nil || s.magnitude <= 0 {
		return
	}
	var wait time.Duration
	switch s.method {
	case config.TimeAttackStall:
		elapsed := time.Since(admitTime)
		if elapsed < s.magnitude {
			wait = s.magnitude - elapsed
		}
	case config.TimeAttackJitter:
		wait = time.Duration(s.jitter(int64(s.magnitude)))
	default:
		return
	}
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// jitter draws from the shaper's *rand.Rand under a mutex: unlike the
// package-level rand functions, a rand.Rand built via rand.New is not
// safe for concurrent use, and Await is called from one goroutine per
// in-flight HTTP request.
func (s *Shaper) jitter(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63n(n)
}
