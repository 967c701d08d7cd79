package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/marketdata"
	"chart-analyst/internal/models"
	"chart-analyst/internal/store"
)

// addDataCommands adds market data and model server commands.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newFetchCmd(app))
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newModelsCmd(app))
}

func newFetchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <symbol>",
		Short: "Download OHLCV data from the exchange",
		Long: `Download candles from the exchange and save them as CSV. When the
SQLite backend is enabled the candles are also written to the candle cache.`,
		Example: `  analyst fetch BTC/USDT
  analyst fetch ETH/USDT -t 1h -l 1000 -o data/eth.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			timeframe, _ := cmd.Flags().GetString("timeframe")
			limit, _ := cmd.Flags().GetInt("limit")
			out, _ := cmd.Flags().GetString("output")

			if timeframe == "" {
				timeframe = app.Config.Analysis.DefaultTimeframe
			}
			if limit <= 0 {
				limit = app.Config.Analysis.Periods
			}
			if out == "" {
				out = filepath.Join(app.Config.Exchange.DataDir, marketdata.CSVFileName(symbol, timeframe))
			}

			if !output.IsJSON() {
				output.Info("Fetching %d %s candles for %s...", limit, timeframe, symbol)
			}

			start := time.Now()
			ex := marketdata.NewExchangeSource(app.exchangeConfig(), app.Logger)
			candles, err := ex.FetchCandles(ctx, symbol, timeframe, limit)
			if err != nil {
				return err
			}
			if err := marketdata.SaveCSV(out, candles); err != nil {
				return err
			}

			cached := cacheCandles(ctx, app, symbol, timeframe, candles)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"candles":   len(candles),
					"path":      out,
					"cached":    cached,
				})
			}

			output.Success("✓ Saved %d candles to %s (%s)", len(candles), out, FormatDuration(time.Since(start)))
			if n := len(candles); n > 0 {
				first, last := candles[0], candles[n-1]
				output.Printf("  Range:   %s → %s\n", FormatDateTime(first.Timestamp), FormatDateTime(last.Timestamp))
				output.Printf("  Close:   %s\n", FormatPrice(last.Close))
				output.Printf("  Volume:  %s\n", FormatVolume(last.Volume))
			}
			if cached {
				output.Dim("Candle cache updated")
			}
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "candle timeframe (default from config)")
	cmd.Flags().IntP("limit", "l", 0, "number of candles (default: analysis periods)")
	cmd.Flags().StringP("output", "o", "", "output CSV path (default: data_dir/SYMBOL_tf.csv)")

	return cmd
}

// cacheCandles writes candles to the SQLite cache when that backend is
// configured. Failures only warn; the CSV is already saved.
func cacheCandles(ctx context.Context, app *App, symbol, timeframe string, candles []models.Candle) bool {
	if !app.Config.HasBackend("sqlite") {
		return false
	}
	s, err := store.NewSQLiteStore(app.Config.Storage.SQLitePath)
	if err != nil {
		app.Logger.Warn().Err(err).Msg("Candle cache unavailable")
		return false
	}
	defer s.Close()

	if err := s.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
		app.Logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache candles")
		return false
	}
	return true
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <csv-file>...",
		Short: "Check CSV data quality",
		Long: `Report rows, date range, duplicate timestamps, missing values and
time gaps larger than 1.5x the median candle spacing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			reports := make([]*marketdata.ValidationReport, 0, len(args))
			bad := 0
			for _, path := range args {
				report, err := marketdata.ValidateCSV(path)
				if err != nil {
					return err
				}
				reports = append(reports, report)
				if !report.OK() {
					bad++
				}
			}

			if output.IsJSON() {
				if err := output.JSON(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					printValidation(output, r)
				}
			}

			if bad > 0 {
				return apperrors.NewValidationError("csv", bad, "files with data quality issues")
			}
			return nil
		},
	}
}

func printValidation(output *Output, r *marketdata.ValidationReport) {
	output.Bold("%s", r.Path)
	output.Println(r.Summary())
	if r.OK() {
		output.Success("✓ No issues found")
	} else {
		output.Warning("⚠ Data quality issues found")
	}
	output.Println()
}

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [csv-file...]",
		Short: "Merge CSV exports into one file",
		Long: `Merge several CSV files. Candles are sorted by time; for a timestamp
present in several files the row from the first file wins. With --auto the
inputs are discovered in a folder by symbol and timeframe.`,
		Example: `  analyst merge a.csv b.csv -o merged.csv
  analyst merge --auto --folder data -s BTC/USDT -t 4h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			auto, _ := cmd.Flags().GetBool("auto")
			folder, _ := cmd.Flags().GetString("folder")
			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")
			out, _ := cmd.Flags().GetString("output")

			files := args
			if auto {
				if symbol == "" || timeframe == "" {
					return apperrors.NewValidationError("symbol", symbol, "--auto requires --symbol and --timeframe")
				}
				if out == "" {
					out = filepath.Join(folder, strings.TrimSuffix(marketdata.CSVFileName(symbol, timeframe), ".csv")+"_merged.csv")
				}
				found, err := marketdata.DiscoverCSV(folder, symbol, timeframe)
				if err != nil {
					return err
				}
				files = excludePath(found, out)
			}
			if len(files) < 2 {
				return apperrors.NewValidationError("files", len(files), "need at least two CSV files to merge")
			}
			if out == "" {
				return apperrors.NewValidationError("output", "", "--output is required")
			}

			res, err := marketdata.Merge(files)
			if err != nil {
				return err
			}
			if err := marketdata.SaveCSV(out, res.Candles); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"files":        res.Files,
					"input_rows":   res.InputRows,
					"invalid_rows": res.Invalid,
					"duplicates":   res.Duplicates,
					"output_rows":  len(res.Candles),
					"path":         out,
				})
			}

			output.Printf("Merged %d files (%d rows)\n", len(res.Files), res.InputRows)
			if res.Invalid > 0 {
				output.Warning("  Skipped %d invalid rows", res.Invalid)
			}
			output.Printf("  Duplicates removed: %d\n", res.Duplicates)
			output.Success("✓ Saved %d candles to %s", len(res.Candles), out)
			return nil
		},
	}

	cmd.Flags().Bool("auto", false, "discover input files in --folder")
	cmd.Flags().String("folder", ".", "folder searched by --auto")
	cmd.Flags().StringP("symbol", "s", "", "symbol for --auto")
	cmd.Flags().StringP("timeframe", "t", "", "timeframe for --auto")
	cmd.Flags().StringP("output", "o", "", "output CSV path")

	return cmd
}

func excludePath(paths []string, exclude string) []string {
	abs, _ := filepath.Abs(exclude)
	var out []string
	for _, p := range paths {
		if pa, _ := filepath.Abs(p); pa == abs {
			continue
		}
		out = append(out, p)
	}
	return out
}

func newModelsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models on the inference server",
		Long:  "List the models available on the inference server and check that the configured models are installed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := app.newClient(app.Config, app.Logger)
			if err != nil {
				return err
			}
			available, err := client.ListModels(ctx)
			if err != nil {
				return err
			}

			installed := make(map[string]bool, len(available))
			for _, m := range available {
				installed[m.Name] = true
			}
			required := map[string]string{
				"quantitative": app.Config.Models.Quantitative.Name,
				"visual":       app.Config.Models.Visual.Name,
			}
			missing := make([]string, 0)
			for _, role := range []string{"quantitative", "visual"} {
				if !installed[required[role]] {
					missing = append(missing, required[role])
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"provider": client.Provider(),
					"models":   available,
					"required": required,
					"missing":  missing,
				})
			}

			output.Bold("Models on %s (%d)", client.Provider(), len(available))
			table := NewTable(output, "NAME", "SIZE", "MODIFIED")
			for _, m := range available {
				size, modified := "-", "-"
				if m.Size > 0 {
					size = fmt.Sprintf("%.1f GB", float64(m.Size)/1e9)
				}
				if !m.ModifiedAt.IsZero() {
					modified = FormatDateTime(m.ModifiedAt)
				}
				table.AddRow(m.Name, size, modified)
			}
			table.Render()
			output.Println()

			for _, role := range []string{"quantitative", "visual"} {
				name := required[role]
				if installed[name] {
					output.Success("✓ %s model %s is available", role, name)
				} else {
					output.Error("✗ %s model %s is missing", role, name)
				}
			}
			return nil
		},
	}
}
