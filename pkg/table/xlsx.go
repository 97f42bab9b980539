package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX writes each table to its own sheet, named after the table.
// Row 1 holds column names and row 2 column types. Numbers and bools are
// stored natively; timestamps as RFC 3339 text so no precision is lost to
// Excel serial dates.
func WriteXLSX(w io.Writer, tables ...*Table) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		sheet := t.Name
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("failed to name sheet %q: %w", sheet, err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sheet, err)
		}
		if err := writeSheet(f, sheet, t); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t *Table) error {
	types := t.ColumnTypes()

	header := make([]interface{}, len(t.Columns))
	typeRow := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
		typeRow[i] = string(types[i])
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header of %q: %w", sheet, err)
	}
	if err := f.SetSheetRow(sheet, "A2", &typeRow); err != nil {
		return fmt.Errorf("failed to write types of %q: %w", sheet, err)
	}

	for r, row := range t.Rows {
		cells := make([]interface{}, len(row))
		for i, v := range row {
			cells[i] = xlsxCell(v, types[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+3)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return fmt.Errorf("failed to write row %d of %q: %w", r, sheet, err)
		}
	}
	return nil
}

func xlsxCell(v any, ct ColumnType) interface{} {
	switch x := v.(type) {
	case int64, float64, bool:
		if ct != TypeMixed {
			return x
		}
	}
	return EncodeText(v, ct)
}

// ReadXLSX reads every sheet written by WriteXLSX, in sheet order.
func ReadXLSX(r io.Reader) ([]*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	var tables []*Table
	for _, sheet := range f.GetSheetList() {
		t, err := readSheet(f, sheet)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func readSheet(f *excelize.File, sheet string) (*Table, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no header", sheet)
	}

	header := rows[0]
	types := make([]ColumnType, len(header))
	for i := range header {
		s := ""
		if i < len(rows[1]) {
			s = rows[1][i]
		}
		if types[i], err = ParseColumnType(s); err != nil {
			return nil, fmt.Errorf("sheet %q column %q: %w", sheet, header[i], err)
		}
	}

	t := New(sheet, header...)
	for r, cells := range rows[2:] {
		row := make([]any, len(header))
		for i := range header {
			s := ""
			if i < len(cells) {
				s = cells[i]
			}
			v, err := DecodeText(s, types[i])
			if err != nil {
				return nil, fmt.Errorf("sheet %q row %d column %q: %w", sheet, r+3, header[i], err)
			}
			row[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
