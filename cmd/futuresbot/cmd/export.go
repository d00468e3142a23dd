package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/futuresbot/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export closed trades or daily stats",
	Long: `Export closed trades (CSV, JSON or Parquet) or daily stats (CSV) from the
position store. The store is opened read-only, so export is safe while the
bot is running.

Examples:
  futuresbot export --format csv --output trades.csv
  futuresbot export --format parquet --output trades.parquet --db /data/bot.sqlite
  futuresbot export --daily-stats --output daily.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportFormat     string
	exportOutput     string
	exportDailyStats bool
	exportDBPath     string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv, json or parquet")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file path (required)")
	exportCmd.Flags().BoolVar(&exportDailyStats, "daily-stats", false, "export daily stats instead of closed trades (csv only)")
	exportCmd.Flags().StringVarP(&exportDBPath, "db", "d", "", "path to SQLite store (default $"+store.EnvDBPath+" or "+store.DefaultPath+")")
	_ = exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(exportFormat))
	if exportOutput == "" {
		return fmt.Errorf("--output is required")
	}
	if exportDailyStats && format != "csv" {
		return fmt.Errorf("--daily-stats supports csv only, got %q", exportFormat)
	}

	path := exportDBPath
	if path == "" {
		path = store.ResolvePath("")
	}
	st, err := store.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		n    int
		what = "closed trades"
	)
	switch {
	case exportDailyStats:
		what = "daily stats rows"
		n, err = st.ExportDailyStatsCSV(ctx, exportOutput)
	case format == "csv":
		n, err = st.ExportClosedTradesCSV(ctx, exportOutput)
	case format == "json":
		n, err = st.ExportClosedTradesJSON(ctx, exportOutput)
	case format == "parquet":
		n, err = st.ExportClosedTradesParquet(ctx, exportOutput)
	default:
		return fmt.Errorf("unknown format %q (supported: csv, json, parquet)", exportFormat)
	}
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d %s to %s\n", n, what, exportOutput)
	return nil
}
