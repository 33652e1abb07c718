package main

import (
	"fmt"
	"os"

	"github.com/runnerr0/dwell/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintln(os.Stderr, "dwell:", err)
		os.Exit(1)
	}
}
