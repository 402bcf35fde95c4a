package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context canceled on SIGINT or SIGTERM, so a
// long-running process (the query service binary, whose exit also
// stops the local broker's poll loop) can drain in-flight work before
// exiting.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
