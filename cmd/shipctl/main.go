// Package main implements the shipctl CLI for operating the shipd
// release pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipd/internal/monitor"
)

var (
	// serverURL is the base URL for the shipd daemon API
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shipctl",
	Short: "CLI for the shipd release pipeline",
	Long: `shipctl is a command-line interface for the shipd release pipeline.

Daemon commands (status, runs, aliases, monitor) query a running shipd
daemon over its HTTP API. Local commands (run, watch, plan) execute or
preview the pipeline directly against a checkout, without a daemon.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8382", "shipd daemon URL")
	rootCmd.AddCommand(statusCmd)
}

// statusCmd checks daemon health and readiness
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check shipd daemon health and readiness",
	Long: `Check the health and readiness of the shipd daemon.

Readiness reports whether the dispatcher accepts new runs; a draining
daemon answers healthy but not ready.

Examples:
  # Check the local daemon
  shipctl status

  # Check a different daemon
  shipctl status --server http://shipd.internal:8382`,
	RunE: runStatus,
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := monitor.NewClient(serverURL)

	status, err := client.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", serverURL, err)
		return err
	}

	ready, err := client.Ready(ctx)
	if err != nil {
		return fmt.Errorf("failed to check readiness: %w", err)
	}

	fmt.Printf("Daemon Status: %s\n", status)
	fmt.Printf("Accepting Runs: %t\n", ready)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
