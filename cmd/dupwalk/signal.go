package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalContext returns a context cancelled on the first SIGINT or SIGTERM.
// A second signal is left to the default handler so a stuck run can still be killed.
func setupSignalContext(parent context.Context, stderr io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			fmt.Fprintf(stderr, "\nReceived signal: %v\n", sig)
			fmt.Fprintf(stderr, "Initiating graceful shutdown...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
