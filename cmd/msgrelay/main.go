package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tinytelemetry/msgrelay/internal/config"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var cerr *config.Error
		if errors.Is(err, config.ErrNotFound) || errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, "Fix the configuration and try again.")
		}
		os.Exit(1)
	}
}
