package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/interchange"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/materialize"
	"github.com/logflow/ccm/pkg/store"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/tui"
)

// Command flags
var (
	outputFlag string
	limitFlag  int

	importFormat      string
	exportFormat      string
	materializeFormat string
	statsFormat       string
)

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Load a document or tables and write the normalized tables",
	Long: `Load an interchange document (or a set of normalized tables) into the entity
graph and write the five normalized tables (events, objects, e2o, o2o, e2e).

Relationships naming unknown ids are dropped and reported; with --strict the
load fails instead.

Examples:
  ccm import plant.json
  ccm import plant.yaml --format parquet -o out/
  ccm import plant.json --format xlsx -o plant.xlsx
  ccm import plant.json --format duckdb -o plant.duckdb`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export <source>",
	Short: "Write the graph as an interchange document",
	Long: `Load a document or a set of normalized tables and write the graph back as an
interchange document (JSON or YAML).

Examples:
  ccm export out/ -o plant.json
  ccm export plant.duckdb --format yaml
  ccm export plant.xlsx -o plant.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var materializeCmd = &cobra.Command{
	Use:   "materialize <source>",
	Short: "Flatten the graph into the extended table",
	Long: `Flatten the graph into one wide table with a row per (event, related object)
pair and one row for an event without objects.

Without -o the table is printed.

Examples:
  ccm materialize plant.json --limit 20
  ccm materialize plant.json --format parquet -o extended/`,
	Args: cobra.ExactArgs(1),
	RunE: runMaterialize,
}

var statsCmd = &cobra.Command{
	Use:   "stats <source>",
	Short: "Summarize the graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var sqlCmd = &cobra.Command{
	Use:   "sql <database> <statement>",
	Short: "Run a read-only SQL statement against a saved database",
	Long: `Run a read-only statement against a database written by
"ccm import --format duckdb". Tables: ccm_event, ccm_object,
ccm_event_object, ccm_object_object, ccm_event_event, ccm_attribute; view
ccm_object_events.

Examples:
  ccm sql plant.duckdb "SELECT event_type, count(*) FROM ccm_event GROUP BY 1"`,
	Args: cobra.ExactArgs(2),
	RunE: runSQL,
}

func init() {
	for _, c := range []*cobra.Command{importCmd, exportCmd, materializeCmd} {
		c.Flags().StringVarP(&outputFlag, "output", "o", "", "Output path")
	}
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Table format (csv, xlsx, parquet, duckdb) - from config if not specified")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "Document format (json, yaml) - from the output extension if not specified")
	materializeCmd.Flags().StringVarP(&materializeFormat, "format", "f", "", "Table format (csv, xlsx, parquet) - from config if not specified")
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "text", "Output format (text, json, yaml)")

	for _, c := range []*cobra.Command{materializeCmd, sqlCmd} {
		c.Flags().IntVar(&limitFlag, "limit", 50, "Rows to print (0 prints all)")
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	start := time.Now()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	g, report, err := readGraph(ctx, args[0])
	if err != nil {
		return err
	}
	tui.PrintReport(out, report)

	tables, err := mapping.Export(ctx, g)
	if err != nil {
		return err
	}

	format := importFormat
	if format == "" {
		format = cfg.Export.Format
	}
	dest := outputPath(outputFlag, format, baseName(args[0]))

	fmt.Fprintln(out)
	if err := writeTables(ctx, out, tables.List(), format, dest); err != nil {
		return err
	}
	tui.Path(out, "Output", dest)
	tui.Elapsed(out, time.Since(start))
	tui.Success(out, "IMPORT COMPLETE")
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	g, report, err := readGraph(ctx, args[0])
	if err != nil {
		return err
	}

	format := interchange.FormatJSON
	switch {
	case exportFormat != "":
		if format, err = interchange.ParseFormat(exportFormat); err != nil {
			return err
		}
	case outputFlag != "" && outputFlag != "-":
		format = interchange.FormatForPath(outputFlag)
	}

	doc := interchange.FromGraph(g)
	if outputFlag == "" || outputFlag == "-" {
		return interchange.Encode(cmd.OutOrStdout(), doc, format)
	}

	if err := os.MkdirAll(filepath.Dir(outputFlag), 0755); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create output directory")
	}
	f, err := os.Create(outputFlag)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create document").WithContext("path", outputFlag)
	}
	if err := interchange.Encode(f, doc, format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "close document").WithContext("path", outputFlag)
	}

	out := cmd.OutOrStdout()
	tui.PrintDiagnostics(out, report.Diagnostics)
	tui.Path(out, "Output", outputFlag)
	tui.Success(out, "EXPORT COMPLETE")
	return nil
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	g, report, err := readGraph(ctx, args[0])
	if err != nil {
		return err
	}
	tui.PrintDiagnostics(out, report.Diagnostics)

	t := materialize.Materialize(g)
	if outputFlag == "" {
		tui.PrintTable(out, t, limitFlag)
		return nil
	}

	format := materializeFormat
	if format == "" {
		format = cfg.Export.Format
	}
	if format == kindDuckDB {
		return errors.Usage("the extended table cannot be saved as duckdb, use csv, xlsx or parquet")
	}
	if err := writeTables(ctx, out, []*table.Table{t}, format, outputFlag); err != nil {
		return err
	}
	tui.Path(out, "Output", outputFlag)
	tui.Success(out, fmt.Sprintf("%d ROWS WRITTEN", t.Len()))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	g, report, err := readGraph(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printStats(cmd.OutOrStdout(), statsFormat, g.Stats(), report)
}

func printStats(w io.Writer, format string, stats ccm.Stats, report *mapping.Report) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		tui.PrintStats(w, stats)
		tui.PrintDiagnostics(w, report.Diagnostics)
		return nil
	default:
		return errors.Usage("unknown output format %q", format)
	}
}

func runSQL(cmd *cobra.Command, args []string) error {
	s, err := store.OpenWithConfig(store.Config{Path: args[0], ReadOnly: true, Logger: logger})
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.SQL(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	tui.PrintTable(cmd.OutOrStdout(), res, limitFlag)
	return nil
}

func baseName(path string) string {
	base := filepath.Base(strings.TrimRight(path, string(filepath.Separator)))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
