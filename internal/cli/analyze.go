package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chart-analyst/internal/agents"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/pipeline"
	"chart-analyst/internal/scheduler"
)

// addAnalysisCommands adds the analyze, batch and watch commands.
func addAnalysisCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newBatchCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Run quantitative and visual analysis for a symbol",
		Long: `Run the full analysis for one symbol:
- Fetch OHLCV data and compute an indicator digest
- Ask the quantitative model for a reading of the numbers
- Ask the vision model for a reading of the chart
- Compare both readings and flag divergence`,
		Example: `  analyst analyze BTC/USDT -c charts/BTC_USDT_4h.png
  analyst analyze ETH/USDT -t 1h -d csv --csv-file data/ETH_USDT_1h.csv
  analyst analyze SOL/USDT --report`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			cfg := app.Config

			symbol := strings.ToUpper(strings.TrimSpace(args[0]))
			timeframe, _ := cmd.Flags().GetString("timeframe")
			chart, _ := cmd.Flags().GetString("chart")
			sourceKind, _ := cmd.Flags().GetString("data-source")
			csvFile, _ := cmd.Flags().GetString("csv-file")
			periods, _ := cmd.Flags().GetInt("periods")
			noSave, _ := cmd.Flags().GetBool("no-save")
			report, _ := cmd.Flags().GetBool("report")

			if timeframe == "" {
				timeframe = cfg.Analysis.DefaultTimeframe
			}
			if chart == "" {
				found, err := agents.DiscoverChart(cfg.Analysis.ChartFolder, symbol, timeframe)
				if err != nil {
					return err
				}
				chart = found
			}

			backends, err := app.openBackends(ctx)
			if err != nil {
				return err
			}
			defer backends.Close()

			source, err := app.openSource(sourceKind, csvFile, backends)
			if err != nil {
				return err
			}
			p, err := app.newPipeline(source, backends)
			if err != nil {
				return err
			}

			if !output.IsJSON() {
				output.Info("Analyzing %s on %s timeframe...", symbol, timeframe)
				output.Dim("Chart: %s", chart)
			}

			res, err := p.Analyze(ctx, pipeline.Request{
				Symbol:    symbol,
				Timeframe: timeframe,
				ChartPath: chart,
				Periods:   periods,
				NoSave:    noSave,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res.Record)
			}
			if report {
				output.Println(pipeline.Report(res.Record))
			} else {
				printVerdict(output, res.Record)
			}
			if res.Location != "" {
				output.Success("✓ Saved to %s", res.Location)
			}
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", "candle timeframe (default from config)")
	cmd.Flags().StringP("chart", "c", "", "chart image path (default: discovered in the chart folder)")
	cmd.Flags().StringP("data-source", "d", string(models.SourceExchange), "data source: ccxt, csv or sqlite")
	cmd.Flags().String("csv-file", "", "CSV file or folder for the csv data source")
	cmd.Flags().IntP("periods", "p", 0, "number of candles to fetch (default from config)")
	cmd.Flags().Bool("no-save", false, "do not persist the result")
	cmd.Flags().Bool("report", false, "print the full text report")

	return cmd
}

func printVerdict(output *Output, r *models.AnalysisRecord) {
	in := r.Integrated

	output.Println()
	output.Printf("%s  %s %s  %s\n",
		output.BoldText(r.Metadata.Symbol),
		r.Metadata.Timeframe,
		output.AlignmentBadge(in.Alignment),
		output.BoldText(fmt.Sprintf("confidence %d/10", in.Confidence)))
	output.Printf("  Price:         %s\n", FormatPrice(r.Quant.LatestPrice))
	output.Printf("  Quantitative:  %s\n", output.SentimentText(in.QuantSentiment))
	output.Printf("  Visual:        %s\n", output.SentimentText(in.VisualSentiment))

	if s := in.TradeSetup; !s.IsEmpty() {
		output.Printf("  Setup:         %s entry %s stop %s target %s\n",
			s.Direction, FormatPrice(s.Entry), FormatPrice(s.StopLoss), FormatPrice(s.TakeProfit1))
	}

	if len(in.Risks) > 0 {
		output.Println()
		output.Bold("Risks")
		for _, risk := range in.Risks {
			output.Warning("  • %s", risk)
		}
	}

	output.Println()
	output.Bold("Recommendation")
	output.Printf("  %s\n", in.Recommendation)
}

func newBatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze several symbols in parallel",
		Long: `Analyze a list of symbols with a bounded worker pool. Charts are
discovered in the chart folder as SYMBOL_TIMEFRAME.png or SYMBOL.png.
A failure for one symbol does not stop the others; a summary file is
written to the results folder.`,
		Example: `  analyst batch --symbols BTC/USDT,ETH/USDT
  analyst batch --symbols-file symbols.yaml --workers 4
  analyst batch --symbols-file watchlist.txt -t 1d --chart-folder charts/daily`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			symbols, err := symbolsFromFlags(cmd)
			if err != nil {
				return err
			}

			runner, closeFn, err := app.newBatchRunner(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if !output.IsJSON() {
				output.Info("Analyzing %d symbols...", len(pipeline.UniqueSymbols(symbols)))
			}

			res, err := runner.Run(ctx, symbols)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if err := output.JSON(res.Summary); err != nil {
					return err
				}
			} else {
				printBatchSummary(output, res)
			}

			if pipeline.AllFailed(res.Summary) {
				return fmt.Errorf("all %d symbols failed", res.Summary.Failed)
			}
			return nil
		},
	}

	addBatchFlags(cmd)
	return cmd
}

func addBatchFlags(cmd *cobra.Command) {
	cmd.Flags().String("symbols", "", "comma separated symbols")
	cmd.Flags().String("symbols-file", "", "text or YAML file with symbols")
	cmd.Flags().String("chart-folder", "", "folder with chart images (default from config)")
	cmd.Flags().StringP("timeframe", "t", "", "candle timeframe (default from config)")
	cmd.Flags().StringP("data-source", "d", string(models.SourceExchange), "data source: ccxt, csv or sqlite")
	cmd.Flags().String("csv-file", "", "CSV folder for the csv data source")
	cmd.Flags().Int("workers", 0, "parallel analyses (default from config)")
}

func symbolsFromFlags(cmd *cobra.Command) ([]string, error) {
	list, _ := cmd.Flags().GetString("symbols")
	file, _ := cmd.Flags().GetString("symbols-file")

	symbols := pipeline.ParseSymbols(list)
	if file != "" {
		fromFile, err := pipeline.LoadSymbols(file)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, fromFile...)
	}
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", "", "use --symbols or --symbols-file")
	}
	return symbols, nil
}

// newBatchRunner wires a batch runner from the command flags. The returned
// function closes the storage backends.
func (app *App) newBatchRunner(cmd *cobra.Command) (*pipeline.BatchRunner, func(), error) {
	cfg := app.Config
	timeframe, _ := cmd.Flags().GetString("timeframe")
	folder, _ := cmd.Flags().GetString("chart-folder")
	sourceKind, _ := cmd.Flags().GetString("data-source")
	csvFile, _ := cmd.Flags().GetString("csv-file")
	workers, _ := cmd.Flags().GetInt("workers")

	if timeframe == "" {
		timeframe = cfg.Analysis.DefaultTimeframe
	}
	if folder == "" {
		folder = cfg.Analysis.ChartFolder
	}
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}

	backends, err := app.openBackends(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	source, err := app.openSource(sourceKind, csvFile, backends)
	if err != nil {
		backends.Close()
		return nil, nil, err
	}
	p, err := app.newPipeline(source, backends)
	if err != nil {
		backends.Close()
		return nil, nil, err
	}

	runner := pipeline.NewBatchRunner(p, backends.JSON, p.Notifier(), pipeline.BatchConfig{
		Timeframe:   timeframe,
		ChartFolder: folder,
		Workers:     workers,
		Periods:     cfg.Analysis.Periods,
		DataSource:  source.Name(),
	}, app.Logger)
	return runner, backends.Close, nil
}

func printBatchSummary(output *Output, res *pipeline.BatchResult) {
	s := res.Summary

	output.Println()
	table := NewTable(output, "SYMBOL", "STATUS", "ALIGNMENT", "CONF", "DETAIL")
	for _, e := range s.Results {
		alignment, conf, detail := "-", "-", e.OutputFile
		if e.Status == models.BatchSuccess {
			alignment = output.AlignmentBadge(e.Alignment)
			conf = fmt.Sprintf("%d/10", e.Confidence)
		} else if e.Error != "" {
			detail = TruncateString(e.Error, 60)
		}
		table.AddRow(e.Symbol, output.StatusText(e.Status), alignment, conf, detail)
	}
	table.Render()

	output.Println()
	output.Printf("Total: %d  ", s.TotalSymbols)
	output.Printf("%s  ", output.Green(fmt.Sprintf("Successful: %d", s.Successful)))
	output.Printf("%s", output.Red(fmt.Sprintf("Failed: %d", s.Failed)))
	if s.Skipped > 0 {
		output.Printf("  %s", output.Yellow(fmt.Sprintf("Skipped: %d", s.Skipped)))
	}
	output.Println()
	if res.SummaryPath != "" {
		output.Dim("Summary: %s", res.SummaryPath)
	}
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run batch analysis on a schedule",
		Long: `Run a batch on a cron schedule until interrupted. Schedules have six
fields with seconds first, e.g. "0 5 */4 * * *" runs five minutes after
every fourth hour. A tick is skipped while the previous batch runs.`,
		Example: `  analyst watch --symbols-file symbols.yaml
  analyst watch --symbols BTC/USDT --schedule "0 0 * * * *" --now`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			symbols, err := symbolsFromFlags(cmd)
			if err != nil {
				return err
			}
			spec, _ := cmd.Flags().GetString("schedule")
			if spec == "" {
				spec = app.Config.Batch.Schedule
			}
			runNow, _ := cmd.Flags().GetBool("now")

			runner, closeFn, err := app.newBatchRunner(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			sched := scheduler.New(ctx, runner.Run, pipeline.UniqueSymbols(symbols), app.Logger)
			if err := sched.Register(spec); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			output.Info("Watching %d symbols on schedule %q", len(symbols), spec)
			output.Dim("Next run: %s", FormatDateTime(sched.Next()))
			if runNow {
				go sched.RunNow()
			}

			for {
				select {
				case <-ctx.Done():
					output.Warning("Stopping, waiting for a running batch to finish...")
					return nil
				case res := <-sched.Results():
					if output.IsJSON() {
						output.JSON(res.Summary)
					} else {
						printBatchSummary(output, res)
						output.Dim("Next run: %s", FormatDateTime(sched.Next()))
					}
				}
			}
		},
	}

	addBatchFlags(cmd)
	cmd.Flags().String("schedule", "", "cron schedule with seconds (default from config)")
	cmd.Flags().Bool("now", false, "run a batch immediately")
	return cmd
}
