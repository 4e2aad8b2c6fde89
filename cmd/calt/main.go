package main

import (
	"fmt"
	"os"

	"github.com/roach88/calt/internal/cli"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "calt:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
