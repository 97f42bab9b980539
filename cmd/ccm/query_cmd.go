package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/query"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/tui"
	"github.com/logflow/ccm/pkg/watch"
)

var (
	modeFlag     string
	queryFlag    string
	debounceFlag time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query <source> <query>",
	Short: "Run a query against the graph",
	Long: `Run a query of the form

  SELECT (* | field {, field}) FROM Kind [WHERE expr]

Kinds: Event, ProcessEvent, IoTEvent, Observation, Object, Activity,
DataSource, InformationSystem, IoTDevice.

Mode class_reference lists the matched entities; extended_table returns the
flattened rows of the matching (event, object) pairs (FROM Event kinds only).

Examples:
  ccm query plant.json "SELECT * FROM Event WHERE Object.object_type = 'batch'"
  ccm query plant.json "SELECT event_id, Object.object_id FROM ProcessEvent" --mode extended_table
  ccm query plant.json "SELECT * FROM IoTEvent" --mode extended_table -o matches/ -f parquet`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

var watchCmd = &cobra.Command{
	Use:   "watch <document>",
	Short: "Re-run a query whenever a document changes",
	Long: `Load a document, run the query, and run it again every time the document is
saved. A document that fails to load is reported and the previous result
stays on screen.

Examples:
  ccm watch plant.yaml --query "SELECT * FROM Observation WHERE Observation.value > 80"`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	for _, c := range []*cobra.Command{queryCmd, watchCmd} {
		c.Flags().StringVarP(&modeFlag, "mode", "m", "", "Result mode (class_reference, extended_table) - from config if not specified")
		c.Flags().IntVar(&limitFlag, "limit", 50, "Rows to print (0 prints all)")
	}
	queryCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write the extended table to this path")
	queryCmd.Flags().StringVarP(&materializeFormat, "format", "f", "", "Table format for -o (csv, xlsx, parquet)")

	watchCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Query to run (required)")
	watchCmd.Flags().DurationVar(&debounceFlag, "debounce", watch.DefaultDebounce, "Quiet period after a write before reloading")
	watchCmd.MarkFlagRequired("query")
}

func queryMode() (query.Mode, error) {
	if modeFlag != "" {
		return query.ParseMode(modeFlag)
	}
	return query.ParseMode(cfg.Query.Mode)
}

func newPlanCache() *query.PlanCache {
	return query.NewPlanCache(cfg.Query.PlanCacheSize, cfg.Query.PlanCacheTTL)
}

// runOnce loads path and runs q, printing the result to w.
func runOnce(ctx context.Context, w io.Writer, path, q string, mode query.Mode, cache *query.PlanCache) (*query.Result, error) {
	g, report, err := readGraph(ctx, path)
	if err != nil {
		return nil, err
	}
	tui.PrintDiagnostics(w, report.Diagnostics)

	engine := query.NewEngine(g, query.WithLogger(logger), query.WithPlanCache(cache))
	res, err := engine.Query(ctx, q, mode)
	if err != nil {
		return nil, err
	}
	tui.PrintResult(w, res, limitFlag)
	return res, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	mode, err := queryMode()
	if err != nil {
		return err
	}
	if outputFlag != "" && mode != query.ExtendedTable {
		return errors.Usage("-o requires --mode %s", query.ExtendedTable)
	}

	res, err := runOnce(ctx, out, args[0], args[1], mode, newPlanCache())
	if err != nil {
		return err
	}
	if outputFlag == "" {
		return nil
	}

	format := materializeFormat
	if format == "" {
		format = cfg.Export.Format
	}
	if format == kindDuckDB {
		return errors.Usage("query results cannot be saved as duckdb, use csv, xlsx or parquet")
	}
	if err := writeTables(ctx, out, []*table.Table{res.Table}, format, outputFlag); err != nil {
		return err
	}
	tui.Path(out, "Output", outputFlag)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	mode, err := queryMode()
	if err != nil {
		return err
	}
	cache := newPlanCache()
	stmt, err := query.Parse(queryFlag)
	if err != nil {
		return err
	}
	cache.Put(queryFlag, stmt)

	if _, err := runOnce(ctx, out, args[0], queryFlag, mode, cache); err != nil {
		logger.WithError(err).WithField("code", errors.GetCode(err)).Error("initial load failed")
	}

	w, err := watch.New(func(ctx context.Context, path string) error {
		tui.Header(out, fmt.Sprintf("RELOAD %s", time.Now().Format(time.TimeOnly)))
		_, err := runOnce(ctx, out, path, queryFlag, mode, cache)
		return err
	}, watch.WithDebounce(debounceFlag), watch.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := w.Watch(args[0]); err != nil {
		w.Close()
		return err
	}

	logger.WithField("path", args[0]).Info("watching for changes")
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
