package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trading-floor/internal/config"
	"trading-floor/internal/floor"
	"trading-floor/internal/logging"
	"trading-floor/internal/resilience"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-01-01"
)

// skipConfig marks commands that run without loading floor.toml.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	// FloorOptions are appended to the options of every floor the CLI builds.
	FloorOptions []floor.Option
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd(&App{Logger: zerolog.Nop()}).ExecuteContext(ctx)
}

// NewRootCmd creates the root command for the CLI. When app.Config is already
// set, configuration is not loaded from disk.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "floor",
		Short: "Trading Floor - autonomous traders on simulated accounts",
		Long: `Trading Floor runs a set of autonomous traders, each managing its own
simulated brokerage account. Every tick each trader researches the market,
decides on orders and executes them against its ledger. Everything they do is
recorded in an activity log.

Use 'floor run --watch' to start a session and follow the log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return app.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/trading-floor)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newExamplesCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newLogsCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newAccountsCmd(app))
	rootCmd.AddCommand(newHealthCmd(app))

	return rootCmd
}

// load reads the configuration and builds the process logger.
func (a *App) load(cmd *cobra.Command) error {
	if dir, _ := cmd.Flags().GetString("config"); dir != "" {
		a.ConfigDir = dir
	}
	if a.ConfigDir == "" {
		a.ConfigDir = config.DefaultConfigDir()
	}

	if a.Config == nil {
		cfg, err := config.Load(a.ConfigDir)
		if err != nil {
			return err
		}
		a.Config = cfg

		logCfg := logging.DefaultLogConfig()
		logCfg.Level = cfg.Log.Level
		logCfg.File = cfg.Log.File
		if cfg.Log.Path != "" {
			logCfg.FilePath = cfg.Log.Path
		}
		a.Logger = logging.NewLoggerWithConfig(logCfg)
	}

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logging.SetDebugLevel()
		a.Logger = a.Logger.Level(zerolog.DebugLevel)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Trading Floor v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the trading floor configuration.",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := redacted(app.Config)
			if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				output.Printf("%s", data)
				return nil
			}
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			return showConfig(output, cfg)
		},
	}
	show.Flags().Bool("yaml", false, "output in YAML format")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			path := config.ConfigPath(dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
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
				output.Success("✓ Configuration is valid (%d traders)", len(app.Config.Traders))
			}
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg without credentials.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	c.Credentials = config.Credentials{}
	return &c
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Session")
	output.Printf("  Interval:        %d min\n", cfg.Session.IntervalMinutes)
	output.Printf("  Run when closed: %v\n", cfg.Session.RunWhenClosed)
	output.Printf("  Cycle timeout:   %s\n", cfg.Session.CycleTimeout)
	output.Printf("  Log retention:   %d\n", cfg.Session.LogRetention)
	output.Println()

	output.Bold("Market")
	output.Printf("  Hours:           %s-%s %s (%s)\n", cfg.Market.Open, cfg.Market.Close, cfg.Market.Timezone, cfg.Market.Source)
	output.Printf("  Prices:          %s\n", cfg.Prices.Source)
	output.Printf("  Research:        %s\n", cfg.Research.Source)
	output.Printf("  Model:           %s\n", cfg.LLM.Model)
	output.Println()

	output.Bold("Archive")
	if cfg.Archive.Enabled {
		output.Printf("  Path:            %s\n", cfg.Archive.ResolvedPath())
	} else {
		output.Printf("  Disabled\n")
	}
	output.Println()

	output.Bold("Traders")
	table := NewTable(output, "NAME", "DECIDER", "MODEL", "BALANCE", "TARGETS")
	for _, t := range cfg.Traders {
		targets := "-"
		if len(t.Targets) > 0 {
			targets = fmt.Sprintf("%d symbols", len(t.Targets))
		}
		table.AddRow(t.Name+" "+t.Lastname, t.Decider, t.Model, fmt.Sprintf("%.2f", t.InitialBalance), targets)
	}
	table.Render()
	return nil
}

func newHealthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check prices, market hours and the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			opts := append([]floor.Option{floor.WithLogger(app.Logger)}, app.FloorOptions...)
			f, err := floor.New(context.Background(), app.Config, opts...)
			if err != nil {
				return err
			}
			defer closeFloor(f)

			health := f.Health(cmd.Context())
			if output.IsJSON() {
				if err := output.JSON(health); err != nil {
					return err
				}
			} else {
				table := NewTable(output, "COMPONENT", "STATUS", "LATENCY", "MESSAGE")
				for _, c := range health.Components {
					table.AddRow(c.Name, healthStatus(output, c.Status), c.Latency.Round(time.Millisecond).String(), c.Message)
				}
				table.Render()
			}
			if health.Status == resilience.HealthStatusUnhealthy {
				return fmt.Errorf("floor is unhealthy")
			}
			return nil
		},
	}
}

func healthStatus(output *Output, s resilience.HealthStatus) string {
	switch s {
	case resilience.HealthStatusHealthy:
		return output.Green(string(s))
	case resilience.HealthStatusDegraded:
		return output.Yellow(string(s))
	default:
		return output.Red(string(s))
	}
}
