// awrlens is the CLI for the AWR report service: serve, mcp, upload, list,
// show, watch, delete, reparse, metrics, analyze, diagnostics.
//
// Usage:
//
//	awrlens serve [--addr=:8000] [--storage=sqlite|memory]
//	awrlens upload <report.html> [--wait]
//	awrlens list [--status=parsed] [--db-name=PRODDB] [--from=2024-01-01]
//	awrlens analyze <id> [--wait]
//	awrlens mcp
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"awrlens/internal/awr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", awr.UserMessage(err))
		os.Exit(1)
	}
}
