package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/pipeline"
	"chart-analyst/internal/store"
)

// addHistoryCommands adds commands over persisted verdicts.
func addHistoryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newHistoryCmd(app))
}

func (app *App) openHistory() (*store.SQLiteStore, error) {
	if !app.Config.HasBackend("sqlite") {
		return nil, apperrors.NewValidationError("storage.backends", app.Config.Storage.Backends, "history requires the sqlite backend")
	}
	return store.NewSQLiteStore(app.Config.Storage.SQLitePath)
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past analysis verdicts",
		Example: `  analyst history
  analyst history -s BTC/USDT --since 72h
  analyst history --divergent -n 50
  analyst history show BTC_USDT_4h_20240301_123005`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")
			alignment, _ := cmd.Flags().GetString("alignment")
			divergent, _ := cmd.Flags().GetBool("divergent")
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.RecordFilter{
				Symbol:     strings.ToUpper(symbol),
				Timeframe:  timeframe,
				Alignment:  models.Alignment(strings.ToLower(alignment)),
				Divergence: divergent,
				Limit:      limit,
			}
			switch filter.Alignment {
			case "", models.Aligned, models.Divergent, models.Partial:
			default:
				return apperrors.NewValidationError("alignment", alignment, "must be aligned, divergent or partial")
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			s, err := app.openHistory()
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.ListRecords(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if records == nil {
					records = []store.RecordSummary{}
				}
				return output.JSON(records)
			}

			if len(records) == 0 {
				output.Dim("No analyses found")
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "TF", "ALIGNMENT", "CONF", "KEY")
			for _, r := range records {
				table.AddRow(
					FormatDateTime(r.Timestamp),
					r.Symbol,
					r.Timeframe,
					output.AlignmentBadge(r.Alignment),
					fmt.Sprintf("%d/10", r.Confidence),
					r.Key,
				)
			}
			table.Render()
			output.Println()
			output.Dim("%d analyses", len(records))
			return nil
		},
	}

	cmd.Flags().StringP("symbol", "s", "", "filter by symbol")
	cmd.Flags().StringP("timeframe", "t", "", "filter by timeframe")
	cmd.Flags().String("alignment", "", "filter by alignment: aligned, divergent, partial")
	cmd.Flags().Bool("divergent", false, "only divergent verdicts")
	cmd.Flags().Duration("since", 0, "only analyses newer than this, e.g. 24h")
	cmd.Flags().IntP("limit", "n", 20, "maximum rows")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Show the full report of a stored analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			s, err := app.openHistory()
			if err != nil {
				return err
			}
			defer s.Close()

			record, err := s.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(record)
			}
			output.Println(pipeline.Report(record))
			return nil
		},
	})

	return cmd
}
