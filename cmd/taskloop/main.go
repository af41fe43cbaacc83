// Command taskloop runs coding agents through build and review loops over a
// shared task board.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aristath/taskloop/internal/backend"
)

func main() {
	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracks executor subprocesses so none outlive the CLI
	pm := backend.NewProcessManager()

	go func() {
		<-ctx.Done()
		// Restore default signal handling (double Ctrl+C = force exit)
		stop()
		if pm.Count() > 0 {
			log.Println("Shutdown signal received, stopping executors...")
		}
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
	}()

	os.Exit(run(ctx, pm, os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, pm *backend.ProcessManager, args []string) int {
	a := newApp(pm)
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
