package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format is a file encoding for tables.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatXLSX    Format = "xlsx"
	FormatParquet Format = "parquet"
)

// ParseFormat parses a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "parquet", "pq":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown table format %q", s)
	}
}

// Ext returns the file extension, with the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Options configures WriteTables.
type Options struct {
	Parquet ParquetConfig
}

// WriteTables writes a set of tables. For xlsx, path is a workbook with one
// sheet per table. For csv and parquet, path is a directory receiving one
// <name><ext> file per table.
func WriteTables(path string, format Format, opts Options, tables ...*Table) error {
	switch format {
	case FormatXLSX:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := WriteXLSX(f, tables...); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	case FormatCSV, FormatParquet:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		for _, t := range tables {
			if err := writeTableFile(filepath.Join(path, t.Name+format.Ext()), format, opts, t); err != nil {
				return fmt.Errorf("table %q: %w", t.Name, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown table format %q", format)
	}
}

func writeTableFile(path string, format Format, opts Options, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch format {
	case FormatCSV:
		if err := WriteCSV(f, t); err != nil {
			return err
		}
	case FormatParquet:
		cfg := opts.Parquet
		if cfg.Compression == "" {
			cfg = DefaultParquetConfig()
		}
		// The parquet writer closes its sink.
		return WriteParquet(f, t, cfg)
	}
	return f.Close()
}

// ReadTables reads tables written by WriteTables. Directory entries are read
// in name order.
func ReadTables(ctx context.Context, path string, format Format) ([]*Table, error) {
	switch format {
	case FormatXLSX:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadXLSX(f)

	case FormatCSV, FormatParquet:
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), format.Ext()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		tables := make([]*Table, 0, len(names))
		for _, n := range names {
			t, err := readTableFile(ctx, filepath.Join(path, n), format, strings.TrimSuffix(n, filepath.Ext(n)))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", n, err)
			}
			tables = append(tables, t)
		}
		return tables, nil

	default:
		return nil, fmt.Errorf("unknown table format %q", format)
	}
}

func readTableFile(ctx context.Context, path string, format Format, name string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == FormatCSV {
		return ReadCSV(f, name)
	}
	return ReadParquet(ctx, f, name)
}
