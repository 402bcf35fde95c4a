package main

import (
	"context"
	"fmt"
	"os"

	"github.com/latticefort/dp-query-service/internal/app"
	"github.com/latticefort/dp-query-service/internal/platform/shutdown"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	a.Start()

	addr := fmt.Sprintf("%s:%d", a.Cfg.Server.HostIP, a.Cfg.Server.HostPort)
	fmt.Printf("query service listening on %s\n", addr)
	if err := a.Run(ctx, addr); err != nil {
		fmt.Printf("server exited: %v\n", err)
		os.Exit(1)
	}
}
