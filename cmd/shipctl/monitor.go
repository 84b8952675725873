package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipd/internal/monitor"
)

var (
	// monitorInterval is the dashboard refresh interval
	monitorInterval time.Duration
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Refresh interval")
}

// monitorCmd opens the live terminal dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard for a running shipd daemon",
	Long: `Open a terminal dashboard that polls the shipd daemon for recent
pipeline runs, success rates, and the docs alias table.

Examples:
  # Monitor the local daemon
  shipctl monitor

  # A different daemon, slower refresh
  shipctl monitor --server http://shipd.internal:8382 --interval 5s`,
	RunE: runMonitor,
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(
		monitor.NewModel(serverURL, monitorInterval),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
