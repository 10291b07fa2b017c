// Package main provides the rengine CLI for running the embeddable
// multi-protocol server runtime standalone.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ratengine/rengine/cmd/rengine/commands"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rengine",
		Short: "Embeddable multi-protocol server runtime (HTTP/1.1, HTTP/2, gRPC, SSE)",
		Long: `rengine runs the connection acceptor and dispatch layer behind a single
set of listeners, speaking HTTP/1.1, HTTP/2, gRPC and server-sent events on
whatever combination of ports a configuration file describes.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.AddCommand(
		commands.NewServeCommand(),
		commands.NewVersionCommand(version, commit, buildDate),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
