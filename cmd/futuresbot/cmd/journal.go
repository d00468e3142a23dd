package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/futuresbot/store"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query closed trades and daily stats",
	Long: `Query and display closed trades from the position store.

Subcommands:
  today  - List trades closed today (UTC)
  day    - List trades closed on a specific day
  stats  - Show daily statistics

Examples:
  futuresbot journal today
  futuresbot journal day 2026-01-15
  futuresbot journal stats`,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printDay(cmd, store.DateKey(time.Now()))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := time.Parse(store.DateLayout, args[0]); err != nil {
			return fmt.Errorf("date: %w", err)
		}
		return printDay(cmd, args[0])
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show daily statistics",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite store (default $"+store.EnvDBPath+" or "+store.DefaultPath+")")
}

func openJournal() (*store.Store, error) {
	path := journalDBPath
	if path == "" {
		path = store.ResolvePath("")
	}
	st, err := store.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return st, nil
}

func printDay(cmd *cobra.Command, day string) error {
	st, err := openJournal()
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.GetTradesOn(context.Background(), day)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), store.FormatTradesOrg(recs))
	return nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	st, err := openJournal()
	if err != nil {
		return err
	}
	defer st.Close()

	days, err := st.ListDailyStats(context.Background())
	if err != nil {
		return fmt.Errorf("query stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "| date | trades | wins | losses | pnl |")
	fmt.Fprintln(out, "|------+--------+------+--------+-----|")
	for _, d := range days {
		fmt.Fprintf(out, "| %s | %d | %d | %d | %.2f |\n", d.Date, d.TotalTrades, d.WinningTrades, d.LosingTrades, d.TotalPnL)
	}
	return nil
}
