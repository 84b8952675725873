package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipd/internal/monitor"
)

var (
	// aliases command flags
	aliasesOutputJSON bool
)

func init() {
	rootCmd.AddCommand(aliasesCmd)

	aliasesCmd.Flags().BoolVar(&aliasesOutputJSON, "json", false, "Output results as JSON")
}

// aliasesCmd shows the docs alias table
var aliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Show the documentation alias table",
	Long: `Show the daemon's documentation alias table: which deployed docs
version each named pointer (dev, next, latest, and the major.minor
series aliases) currently resolves to.

Examples:
  # Show the alias table
  shipctl aliases

  # Output as JSON
  shipctl aliases --json`,
	RunE: runAliases,
}

// runAliases handles the aliases command
func runAliases(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := monitor.NewClient(serverURL)

	aliases, err := client.Aliases(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch aliases: %w", err)
	}
	if aliasesOutputJSON {
		return outputJSON(aliases)
	}

	if len(aliases) == 0 {
		fmt.Println("No aliases deployed")
		return nil
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tVERSION")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, aliases[name])
	}
	w.Flush()

	return nil
}
