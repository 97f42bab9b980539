package tui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/query"
	"github.com/logflow/ccm/pkg/table"
)

var (
	headerCell = lipgloss.NewStyle().Bold(true).Foreground(white).Padding(0, 1)
	bodyCell   = lipgloss.NewStyle().Padding(0, 1)
	nullCell   = lipgloss.NewStyle().Foreground(muted).Padding(0, 1)
)

// nullText is shown for absent cells.
const nullText = "·"

// RenderTable renders t as a boxed table. maxRows <= 0 renders every row;
// otherwise a trailing line reports the rows left out.
func RenderTable(t *table.Table, maxRows int) string {
	n := t.Len()
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}

	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			row[j] = FormatCell(t.Get(i, col))
		}
		rows[i] = row
	}

	out := ltable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(t.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return headerCell
			}
			if row >= 0 && row < len(rows) && rows[row][col] == nullText {
				return nullCell
			}
			return bodyCell
		}).
		String()

	if n < t.Len() {
		out += "\n" + mutedStyle.Render(fmt.Sprintf("  … %d more rows", t.Len()-n))
	}
	return out
}

// FormatCell renders one table cell.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return nullText
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return timeparse.Format(x)
	default:
		return fmt.Sprint(x)
	}
}

// PrintTable writes a titled table with its row count.
func PrintTable(w io.Writer, t *table.Table, maxRows int) {
	Header(w, fmt.Sprintf("%s (%s rows)", t.Name, formatNumber(int64(t.Len()))))
	fmt.Fprintln(w, RenderTable(t, maxRows))
}

// PrintStats writes a graph summary.
func PrintStats(w io.Writer, s ccm.Stats) {
	Header(w, "GRAPH")
	Field(w, "Objects", s.Objects)
	Field(w, "Events", s.Events)
	Field(w, "Activities", s.Activities)
	Field(w, "Data sources", s.DataSources)
	Rule(w)
	Field(w, "o2o", s.O2O)
	Field(w, "e2o", s.E2O)
	Field(w, "e2e", s.E2E)
	if !s.TimeRange.Min.IsZero() {
		Rule(w)
		Field(w, "From", timeparse.Format(s.TimeRange.Min))
		Field(w, "To", timeparse.Format(s.TimeRange.Max))
	}

	printCounts(w, "EVENTS BY TYPE", s.EventsByType)
	printCounts(w, "EVENTS BY CLASS", s.EventsByClass)
	printCounts(w, "OBJECTS BY TYPE", s.ObjectsByType)
	printCounts(w, "DATA SOURCES BY TYPE", s.DataSourcesByType)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := table.New(title, "name", "count")
	for _, k := range keys {
		t.AppendOrdered(t.Columns, []any{k, int64(counts[k])})
	}
	Header(w, title)
	fmt.Fprintln(w, RenderTable(t, 0))
}

// PrintReport writes an import summary and its diagnostics.
func PrintReport(w io.Writer, r *mapping.Report) {
	Header(w, "IMPORT")
	Field(w, "Objects", r.Objects)
	Field(w, "Events", r.Events)
	Field(w, "Activities", r.Activities)
	Field(w, "Data sources", r.DataSources)
	Field(w, "Links", r.E2O+r.O2O+r.E2E+r.Recorded+r.ActivityLinks+r.Owned)
	if r.Dropped > 0 {
		Field(w, "Dropped", r.Dropped)
	}
	PrintDiagnostics(w, r.Diagnostics)
}

// PrintResult writes a query result. Class reference results list matched
// ids per kind; extended table results render the table.
func PrintResult(w io.Writer, r *query.Result, maxRows int) {
	switch r.Mode {
	case query.ExtendedTable:
		PrintTable(w, r.Table, maxRows)
	default:
		Header(w, fmt.Sprintf("%s (%s matched)", r.Kind, formatNumber(int64(r.Count()))))
		t := table.New(string(r.Kind), "kind", "id")
		for _, k := range query.Kinds() {
			for _, id := range r.References[k] {
				t.AppendOrdered(t.Columns, []any{string(k), id})
			}
		}
		fmt.Fprintln(w, RenderTable(t, maxRows))
	}
	PrintDiagnostics(w, r.Diagnostics)
}

// PrintDiagnostics writes non-fatal problems, one per line.
func PrintDiagnostics(w io.Writer, diags []errors.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	Header(w, fmt.Sprintf("DIAGNOSTICS (%d)", len(diags)))
	for _, d := range diags {
		Warn(w, d.String())
	}
}
