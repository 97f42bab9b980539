package table

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes t as CSV: a header row of column names, a row of column
// types, then the data rows.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	types := t.ColumnTypes()

	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	typeRow := make([]string, len(types))
	for i, ct := range types {
		typeRow[i] = string(ct)
	}
	if err := cw.Write(typeRow); err != nil {
		return fmt.Errorf("failed to write type row: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = EncodeText(v, types[i])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader, name string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv %q is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	typeRow, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read type row: %w", err)
	}
	if len(typeRow) != len(header) {
		return nil, fmt.Errorf("csv %q: type row has %d fields, header has %d", name, len(typeRow), len(header))
	}
	types := make([]ColumnType, len(typeRow))
	for i, s := range typeRow {
		if types[i], err = ParseColumnType(s); err != nil {
			return nil, fmt.Errorf("csv %q column %q: %w", name, header[i], err)
		}
	}

	t := New(name, header...)
	line := 2
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		line++
		if len(record) > len(header) {
			return nil, fmt.Errorf("csv %q line %d: %d fields, header has %d", name, line, len(record), len(header))
		}
		row := make([]any, len(header))
		for i, s := range record {
			v, err := DecodeText(s, types[i])
			if err != nil {
				return nil, fmt.Errorf("csv %q line %d column %q: %w", name, line, header[i], err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
