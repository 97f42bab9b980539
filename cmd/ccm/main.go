// ccm - IoT-augmented object-centric event log toolkit.
// Loads interchange documents into an entity graph, converts it to and from
// normalized tables, flattens it and queries it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logflow/ccm/pkg/config"
	"github.com/logflow/ccm/pkg/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool
	strictFlag bool
	fromFlag   string
)

var (
	cfg    = config.Default()
	logger = logrus.New()

	shutdownTelemetry func(context.Context) error
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ccm",
	Short: "ccm - object-centric event logs with IoT data sources",
	Long: `ccm builds an entity graph of objects, events, activities and data sources
from interchange documents (JSON or YAML) or normalized tables (CSV, XLSX,
Parquet, DuckDB), and exports, flattens and queries it.

Configuration is read from /etc/ccm/config.yaml, ~/.ccm/config.yaml,
./.ccm.yaml, --config and CCM_* environment variables, in that order.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry == nil {
			return nil
		}
		return shutdownTelemetry(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (overrides search paths)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&strictFlag, "strict", false, "Fail the load when any relationship is dropped")
	rootCmd.PersistentFlags().StringVar(&fromFlag, "from", "", "Input kind (json, yaml, csv, xlsx, parquet, duckdb) - detected from the path if not specified")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(materializeCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sqlCmd)
}

// setup loads configuration, configures logging and starts tracing.
func setup(cmd *cobra.Command, args []string) error {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	m := config.NewManager(opts...)
	if err := m.Load(); err != nil {
		return err
	}
	cfg = m.Get()

	logger.SetOutput(cmd.ErrOrStderr())
	if err := cfg.Log.ConfigureLogger(logger); err != nil {
		return err
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.WithField("paths", m.Paths()).Debug("configuration loaded")

	if !cfg.Telemetry.Enabled {
		return nil
	}
	otlp := telemetry.DefaultOTLPConfig(cfg.Telemetry.ServiceName)
	otlp.Endpoint = cfg.Telemetry.Endpoint
	otlp.InsecureTLS = cfg.Telemetry.Insecure
	otlp.SamplingRatio = cfg.Telemetry.SamplingRatio
	otlp.ServiceVersion = version

	shutdown, err := telemetry.NewOTLPExporter(otlp).Init(cmd.Context())
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
		return nil
	}
	shutdownTelemetry = shutdown
	return nil
}
