package main

import (
	"fmt"
	"os"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(errdefs.ExitCode(err))
	}
}
