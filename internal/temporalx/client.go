// Package temporalx bootstraps a Temporal client/worker for the
// durable Task Broker mode: a plain dial-with-retry client scoped to
// this service's narrower needs (no mTLS, no namespace
// auto-registration).
package temporalx

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/latticefort/dp-query-service/internal/platform/logger"
	"github.com/latticefort/dp-query-service/internal/utils"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Address:   utils.GetEnv("TEMPORAL_ADDRESS", "", log),
		Namespace: utils.GetEnv("TEMPORAL_NAMESPACE", "default", log),
		TaskQueue: utils.GetEnv("TEMPORAL_TASK_QUEUE", "dp-query-jobs", log),
	}
}

// NewClient dials Temporal with a bounded retry loop. A blank
// TEMPORAL_ADDRESS disables Temporal entirely (nil, nil), letting a
// single-node deployment fall back to the local task broker.
func NewClient(cfg Config, log *logger.Logger) (temporalsdkclient.Client, error) {
	if cfg.Address == "" {
		log.Warn("TEMPORAL_ADDRESS not set, temporal broker disabled")
		return nil, nil
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
	}

	const maxWait = 30 * time.Second
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := temporalsdkclient.DialContext(ctx, opts)
		cancel()
		if err == nil {
			log.Info("connected to temporal", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempt)
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("temporalx: dial failed after %d attempts: %w", attempt, err)
		}
		log.Warn("temporal not reachable, retrying", "attempt", attempt, "error", err.Error())
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
}
