// The main package for the citypulse executable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ourcityhealth/citypulse/cmd"
)

// main defers all execution to the Cobra CLI, with an interrupt-aware
// context so a Ctrl-C winds the pipeline down instead of killing it mid-write.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
