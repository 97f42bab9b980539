package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/interchange"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/store"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/tui"
)

// Source kinds beyond the table formats.
const (
	kindDuckDB = "duckdb"
	kindJSON   = "json"
	kindYAML   = "yaml"
)

// sourceKind resolves what path holds. An explicit kind wins; otherwise the
// extension decides and a directory holds CSV or Parquet files.
func sourceKind(path, explicit string) (string, error) {
	if explicit != "" {
		switch k := strings.ToLower(explicit); k {
		case kindJSON, kindYAML, kindDuckDB:
			return k, nil
		case "yml":
			return kindYAML, nil
		default:
			f, err := table.ParseFormat(k)
			if err != nil {
				return "", errors.Usage("unknown input kind %q", explicit)
			}
			return string(f), nil
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kindJSON, nil
	case ".yaml", ".yml":
		return kindYAML, nil
	case ".duckdb", ".db":
		return kindDuckDB, nil
	case ".xlsx":
		return string(table.FormatXLSX), nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeReadFailed, "open input").WithContext("path", path)
	}
	if !info.IsDir() {
		return "", errors.Usage("cannot detect input kind of %s, specify --from", path)
	}
	parquet := filepath.Join(path, mapping.TableEvents+table.FormatParquet.Ext())
	if _, err := os.Stat(parquet); err == nil {
		return string(table.FormatParquet), nil
	}
	return string(table.FormatCSV), nil
}

func loadOptions() []mapping.Option {
	opts := []mapping.Option{mapping.WithLogger(logger)}
	if strictFlag || cfg.Import.Strict {
		opts = append(opts, mapping.WithStrict())
	}
	return opts
}

// readGraph builds a graph from an interchange document or a set of
// normalized tables.
func readGraph(ctx context.Context, path string) (*ccm.Graph, *mapping.Report, error) {
	kind, err := sourceKind(path, fromFlag)
	if err != nil {
		return nil, nil, err
	}

	g := ccm.NewGraph()
	switch kind {
	case kindJSON, kindYAML:
		format := interchange.Format(kind)
		if fromFlag == "" && cfg.Import.Format != "" {
			if format, err = interchange.ParseFormat(cfg.Import.Format); err != nil {
				return nil, nil, err
			}
		}
		doc, err := readDocument(path, format)
		if err != nil {
			return nil, nil, err
		}
		report, err := interchange.Load(ctx, doc, g, loadOptions()...)
		return g, report, err

	default:
		tables, err := readTables(ctx, path, kind)
		if err != nil {
			return nil, nil, err
		}
		report, err := mapping.Import(ctx, tables, g, loadOptions()...)
		return g, report, err
	}
}

func readDocument(path string, format interchange.Format) (*interchange.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "open document").WithContext("path", path)
	}
	defer f.Close()

	doc, err := interchange.Decode(f, format)
	if err != nil {
		if ccmErr, ok := err.(*errors.CCMError); ok {
			ccmErr.WithContext("path", path)
		}
		return nil, err
	}
	return doc, nil
}

func readTables(ctx context.Context, path, kind string) (*mapping.Tables, error) {
	if kind == kindDuckDB {
		s, err := store.OpenWithConfig(store.Config{Path: path, ReadOnly: true, Logger: logger})
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.Load(ctx)
	}

	list, err := table.ReadTables(ctx, path, table.Format(kind))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeReadFailed, "read tables").WithContext("path", path)
	}
	tables, err := mapping.FromList(list)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidDocument, "assemble tables").WithContext("path", path)
	}
	return tables, nil
}

// writeTables writes tables to out in format, showing progress on w.
// Format duckdb saves into the database at out.
func writeTables(ctx context.Context, w io.Writer, tables []*table.Table, format, out string) error {
	if format == kindDuckDB {
		all, err := mapping.FromList(tables)
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "assemble tables")
		}
		s, err := store.OpenWithConfig(store.Config{Path: out, Logger: logger})
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Save(ctx, all)
	}

	f, err := table.ParseFormat(format)
	if err != nil {
		return errors.Usage("unknown output format %q", format)
	}
	opts := table.Options{Parquet: table.ParquetConfig{Compression: cfg.Export.Compression}}

	if f == table.FormatXLSX {
		if err := table.WriteTables(out, f, opts, tables...); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "write workbook").WithContext("path", out)
		}
		return nil
	}

	bar := tui.ShowProgress(w, int64(len(tables)), "  writing")
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := table.WriteTables(out, f, opts, t); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "write table").WithContext("path", out)
		}
		bar.Add(1)
	}
	return bar.Finish()
}

// outputPath picks the output location for format when -o is not given.
func outputPath(explicit, format, base string) string {
	if explicit != "" {
		return explicit
	}
	dir := cfg.Export.OutputDir
	switch format {
	case kindDuckDB:
		return cfg.Export.Database
	case string(table.FormatXLSX):
		return filepath.Join(dir, base+table.FormatXLSX.Ext())
	default:
		return dir
	}
}
