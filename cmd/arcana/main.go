// Command arcana draws tarot spreads and asks an AI reader what they mean.
//
// Usage:
//
//	arcana                      Start the terminal UI
//	arcana insight -i love      Headless reading for one or more interests
//	arcana history              Recent readings
//	arcana flags                Persisted flags
//	arcana events               JSONL event log viewer
//	arcana config init          Write the default config file
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "arcana:", err)
		return 1
	}
	return 0
}
