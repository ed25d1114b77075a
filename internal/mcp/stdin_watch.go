package mcp

import (
	"context"
	"os"
	"time"

	"awrlens/internal/logging"
)

// DefaultParentPoll is how often WatchParent checks the parent pid.
const DefaultParentPoll = 2 * time.Second

// WatchParent calls cancel when the parent process goes away (the agent host
// restarted or disconnected), so stdio servers do not linger as orphans.
//
// It must not read stdin: the SDK's StdioTransport owns it, and stolen
// bytes would corrupt the JSON-RPC stream.
//
// The goroutine exits when ctx is canceled or the parent is gone.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc) {
	if interval <= 0 {
		interval = DefaultParentPoll
	}
	ppid := os.Getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if os.Getppid() != ppid {
					logging.New("mcp").Warn("parent process exited, shutting down", "ppid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
