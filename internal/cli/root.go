// Package cli provides the command-line interface for the chart analyst.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chart-analyst/internal/agents"
	"chart-analyst/internal/config"
	"chart-analyst/internal/divergence"
	"chart-analyst/internal/inference"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/marketdata"
	"chart-analyst/internal/notify"
	"chart-analyst/internal/pipeline"
	"chart-analyst/internal/security"
	"chart-analyst/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// newClient is replaced in tests to avoid a model server.
	newClient func(cfg *config.Config, logger zerolog.Logger) (inference.Client, error)
}

// NewRootCmd creates the root command for the CLI. When cfg is nil the
// configuration is loaded from --config before any subcommand runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		newClient: inference.NewFromConfig,
	}
	return newRootCmd(app)
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "analyst",
		Short: "Chart Analyst - dual-model market analysis",
		Long: `Chart Analyst runs a quantitative model over OHLCV data and a vision
model over a chart image, then compares the two readings and flags
divergence between them.

Use 'analyst analyze BTC/USDT -c chart.png' for a single symbol or
'analyst batch --symbols BTC/USDT,ETH/USDT' for several.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				dir, _ := cmd.Flags().GetString("config")
				cfg, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(logConfig(cfg.Logging))
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/chart-analyst)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAnalysisCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)

	return rootCmd
}

func logConfig(c config.LoggingConfig) logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Level,
		Console:    c.Console,
		File:       c.File,
		FilePath:   c.FilePath,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// exchangeConfig maps the exchange settings onto the source configuration.
func (app *App) exchangeConfig() marketdata.ExchangeConfig {
	ex := app.Config.Exchange
	return marketdata.ExchangeConfig{
		Name:              ex.Default,
		BaseURL:           ex.BaseURL,
		Timeout:           ex.Timeout,
		RequestsPerSecond: ex.RequestsPerSecond,
	}
}

// openSource builds the data source of the given kind. The candle cache is
// only attached when the SQLite backend is open.
func (app *App) openSource(kind, csvPath string, backends *store.Backends) (marketdata.Source, error) {
	opts := marketdata.Options{
		Kind:     kind,
		CSVPath:  csvPath,
		CacheTTL: app.Config.Exchange.CacheTTL,
		Exchange: app.exchangeConfig(),
	}
	if backends != nil && backends.SQLite != nil {
		opts.Cache = backends.SQLite
	}
	return marketdata.New(opts, app.Logger)
}

// newPipeline wires the analysis stages for source and backends.
func (app *App) newPipeline(source marketdata.Source, backends *store.Backends) (*pipeline.Pipeline, error) {
	client, err := app.newClient(app.Config, app.Logger)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Deps{
		Source:     source,
		Quant:      agents.NewQuantAgent(client, agents.QuantConfigFrom(app.Config), app.Logger),
		Visual:     agents.NewVisualAgent(client, agents.VisualConfigFrom(app.Config), app.Logger),
		Integrator: divergence.NewDefaultIntegrator(),
		Sink:       backends.Sink,
		Notifier:   notify.New(app.Config),
		Logger:     app.Logger,
	}, app.Config.Analysis.Periods), nil
}

func (app *App) openBackends(ctx context.Context) (*store.Backends, error) {
	return store.Open(ctx, app.Config, app.Logger)
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Chart Analyst v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir, "file": config.TemplatePath(dir)})
			} else {
				output.Println(config.TemplatePath(dir))
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Models")
	output.Printf("  Quantitative:    %s (temp %.1f)\n", cfg.Models.Quantitative.Name, cfg.Models.Quantitative.Temperature)
	output.Printf("  Visual:          %s (temp %.1f)\n", cfg.Models.Visual.Name, cfg.Models.Visual.Temperature)
	output.Println()

	output.Bold("Inference")
	output.Printf("  Provider:        %s\n", cfg.Inference.Provider)
	output.Printf("  Base URL:        %s\n", cfg.Inference.BaseURL)
	output.Printf("  Timeout:         %s\n", cfg.Inference.Timeout)
	output.Printf("  Retries:         %d\n", cfg.Inference.RetryAttempts)
	output.Println()

	output.Bold("Analysis")
	output.Printf("  Periods:         %d (min %d)\n", cfg.Analysis.Periods, cfg.Analysis.MinPeriods)
	output.Printf("  Timeframe:       %s\n", cfg.Analysis.DefaultTimeframe)
	output.Printf("  Chart Folder:    %s\n", cfg.Analysis.ChartFolder)
	output.Printf("  Batch Workers:   %d\n", cfg.Batch.Workers)
	output.Printf("  Schedule:        %s\n", cfg.Batch.Schedule)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Backends:        %v\n", cfg.Storage.Backends)
	output.Printf("  JSON Folder:     %s\n", cfg.Results.JSONFolder)
	output.Printf("  SQLite:          %s\n", cfg.Storage.SQLitePath)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Println()

	output.Bold("Credentials")
	output.Printf("  OpenAI Key:      %s\n", credential(cfg.Credentials.OpenAI.APIKey))
	output.Printf("  Telegram Token:  %s\n", credential(cfg.Credentials.Telegram.BotToken))
	output.Printf("  Postgres URL:    %s\n", postgresURL(cfg.Credentials.Postgres.DatabaseURL))
}

func credential(value string) string {
	if value == "" {
		return "(not set)"
	}
	return security.MaskCredential(value)
}

func postgresURL(dsn string) string {
	if dsn == "" {
		return "(not set)"
	}
	return security.Redact(dsn)
}
