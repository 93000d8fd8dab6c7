// Package main provides the dealbook CLI entry point.
// dealbook reconciles spreadsheet exports of a real-estate lending book
// into a relational store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealbook/cmd"
	"github.com/otherjamesbrown/dealbook/config"
	"github.com/otherjamesbrown/dealbook/pkg/logging"
)

// Global flags and state.
var (
	cfgFile      string
	outputFormat string
	logLevel     string
	logJSON      bool
	timeout      time.Duration

	// cfg holds the loaded configuration.
	cfg *config.Config

	cancelTimeout context.CancelFunc
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dealbook",
	Short: "Reconcile lending spreadsheets into the dealbook",
	Long: `dealbook imports the spreadsheets a lending desk keeps (deal pipeline,
loans, bank participations, guarantees, covenants, DSCR tests, liquidity
requirements, bank targets, equity commitments) into one relational store.

Names are resolved against existing projects, banks, people and equity
partners, so the same bank spelled two ways stays one bank. Re-importing an
unchanged file changes nothing.

COMMON WORKFLOWS:
  First run:        dealbook db migrate  →  dealbook import projects pipeline.xlsx
  Regular sync:     dealbook import participations participations.csv
  Try before write: dealbook import loans loans.csv --dry-run
  Clean up:         dealbook dedupe bank --dry-run  →  dealbook dedupe bank
  Fix a project:    dealbook project set "Riverside Lofts" stage="Pre-Construction"

DISCOVERY:
  dealbook datasets           Datasets and the headers they accept
  dealbook <command> --help   Subcommands, flags, and examples`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfigFrom(cfgFile)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		if outputFormat != "" {
			cfg.OutputFormat = config.OutputFormat(outputFormat)
			if !cfg.OutputFormat.IsValid() {
				return fmt.Errorf("invalid --output %q (must be text, json, or yaml)", outputFormat)
			}
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logJSON {
			cfg.LogJSON = true
		}
		if timeout != 0 {
			cfg.Timeout = timeout
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(cfg.LogLevel)
		logCfg.JSONFormat = cfg.LogJSON
		logging.SetGlobal(logging.NewLogger(logCfg))

		ctx, cancel := context.WithTimeout(c.Context(), cfg.Timeout)
		cancelTimeout = cancel
		c.SetContext(ctx)
		return nil
	},
	PersistentPostRun: func(c *cobra.Command, args []string) {
		if cancelTimeout != nil {
			cancelTimeout()
		}
	},
}

// loadedConfig hands the config loaded by PersistentPreRunE to commands.
func loadedConfig() (*config.Config, error) {
	if cfg == nil {
		return config.LoadConfigFrom(cfgFile)
	}
	return cfg, nil
}

func newDeps() *cmd.Deps {
	deps := cmd.DefaultDeps()
	deps.LoadConfig = loadedConfig
	return deps
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.dealbook/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "overall command timeout (e.g., 30s, 10m)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	deps := newDeps()

	for _, c := range []*cobra.Command{
		cmd.NewImportCommand(deps),
		cmd.NewDatasetsCommand(deps),
		cmd.NewProjectCommand(deps),
	} {
		c.GroupID = "data"
		rootCmd.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewParticipationsCommand(deps),
		cmd.NewDedupeCommand(deps),
	} {
		c.GroupID = "maintenance"
		rootCmd.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewDbCommand(deps),
		cmd.NewAuthCommand(deps),
		cmd.NewVersionCommand(),
	} {
		c.GroupID = "setup"
		rootCmd.AddCommand(c)
	}
}

func main() {
	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
