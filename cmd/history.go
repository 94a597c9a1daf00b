// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/whitebeet/internal/store"
)

var (
	historyDB    string
	historyLimit int
	historyPrune time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded charging sessions",
	Long: `List the sessions recorded with "run --history", newest first.

With --prune, sessions that ended longer ago than the given age are deleted
before the list is printed.`,
	Example: `  whitebeet history --db history.db
  whitebeet history --db history.db --limit 5
  whitebeet history --db history.db --prune 720h`,
	RunE: runHistoryList,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "", "SQLite history database (defaults to store.path of the configuration)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to list (0 lists all)")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete sessions older than this age first")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	path := historyDB
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		return setupError("no history database", "pass --db or set store.path in the configuration", nil)
	}

	ctx := cmd.Context()
	db, err := store.Open(ctx, path)
	if err != nil {
		return setupError("cannot open history database", "", err)
	}
	defer db.Close()
	repo := store.NewSessionRepo(db)

	if historyPrune > 0 {
		n, err := repo.Prune(ctx, time.Now().Add(-historyPrune))
		if err != nil {
			return withExitCode(ExitSetupFailed, err)
		}
		fmt.Printf("Pruned %d session(s)\n\n", n)
	}

	entries, err := repo.List(ctx, historyLimit)
	if err != nil {
		return withExitCode(ExitSetupFailed, err)
	}
	printHistory(os.Stdout, entries)
	return nil
}

// printHistory writes entries as a table
func printHistory(w io.Writer, entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return
	}

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	failedStyle := cellStyle.Foreground(lipgloss.Color("9"))

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("ID", "STARTED", "ROLE", "OUTCOME", "FINAL STATE", "DURATION", "SOC", "ENERGY", "LINK", "ERRORS").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 3 && row >= 0 && row < len(entries) && !entries[row].Completed():
				return failedStyle
			default:
				return cellStyle
			}
		})

	for i := range entries {
		e := &entries[i]
		soc := "-"
		if e.Role == "EV" {
			soc = fmt.Sprintf("%d%% -> %d%%", e.StartSOC, e.FinalSOC)
		}
		errs := "-"
		if len(e.SessionErrors) > 0 {
			names := make([]string, 0, len(e.SessionErrors))
			for _, code := range e.SessionErrors {
				names = append(names, code.String())
			}
			errs = strings.Join(names, ", ")
		}
		t.Row(
			fmt.Sprintf("%d", e.ID),
			e.StartedAt.Format("2006-01-02 15:04:05"),
			e.Role,
			e.Reason,
			e.FinalState,
			e.Duration().Round(time.Second).String(),
			soc,
			fmt.Sprintf("%.1f Wh", e.EnergyWh),
			e.Link,
			errs,
		)
	}
	fmt.Fprintln(w, t.String())
}
