package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "cortex",
	Short:   "Persistent rank-aware memory engine for AI coding assistants",
	Version: version,
	Long: `cortex is an MCP server that gives coding assistants a persistent memory:
structured observations go in through store_memory, and force_recall primes a
new conversation with the most relevant ones.

The protocol runs over stdio (one JSON-RPC object per line); all diagnostics
go to stderr.`,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
