package main

import (
	"fmt"
	"os"

	"github.com/latticefort/dp-query-service/internal/app"
)

func main() {
	w, err := app.NewWorker()
	if err != nil {
		fmt.Printf("failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	fmt.Println("query worker listening for temporal tasks")
	if err := w.Run(); err != nil {
		fmt.Printf("worker exited: %v\n", err)
		os.Exit(1)
	}
}
