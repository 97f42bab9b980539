package mapping_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/internal/fixture"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/table"
)

func export(t *testing.T, g *ccm.Graph) *mapping.Tables {
	t.Helper()
	tables, err := mapping.Export(context.Background(), g)
	require.NoError(t, err)
	return tables
}

func quietLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func diffTables(t *testing.T, want, got *mapping.Tables) {
	t.Helper()
	for i, w := range want.List() {
		g := got.List()[i]
		if diff := cmp.Diff(w.Columns, g.Columns); diff != "" {
			t.Errorf("%s columns mismatch (-want +got):\n%s", w.Name, diff)
		}
		if diff := cmp.Diff(w.Rows, g.Rows); diff != "" {
			t.Errorf("%s rows mismatch (-want +got):\n%s", w.Name, diff)
		}
	}
}

func TestExport_Shape(t *testing.T) {
	tables := export(t, fixture.Plant())

	assert.Equal(t, 4, tables.Events.Len())
	// 3 objects + 2 data sources + 2 activities
	assert.Equal(t, 7, tables.Objects.Len())
	// 4 object links + 4 data source links + 2 activity links
	assert.Equal(t, 10, tables.E2O.Len())
	// 1 related + 1 owned_by
	assert.Equal(t, 2, tables.O2O.Len())
	assert.Equal(t, 2, tables.E2E.Len())

	assert.Equal(t, "process_event", tables.Events.Get(0, mapping.ColEventType))
	assert.Equal(t, "assemble", tables.Events.Get(0, mapping.ColActivity))
	assert.Equal(t, fixture.T1, tables.Events.Get(0, mapping.ColTimestamp))
	assert.Equal(t, "alice", tables.Events.Get(0, mapping.AttrColumn("operator")))
	assert.Nil(t, tables.Events.Get(2, mapping.ColActivity))

	assert.Equal(t, mapping.TypeInformationSystem, tables.Objects.Get(3, mapping.ColObjectType))
	assert.Equal(t, "Manufacturing Execution System", tables.Objects.Get(3, mapping.ColName))
	assert.Equal(t, mapping.TypeActivity, tables.Objects.Get(5, mapping.ColObjectType))
	assert.Equal(t, 12.5, tables.Objects.Get(5, mapping.AttrColumn("cost")))
}

func TestExport_ReservedObjectType(t *testing.T) {
	g := ccm.NewGraph()
	require.NoError(t, g.AddObject(ccm.NewObject("o1", "ccm:activity")))

	_, err := mapping.Export(context.Background(), g)
	require.Error(t, err)
	assert.True(t, errors.IsUsage(err))
}

func TestExport_ReservedQualifier(t *testing.T) {
	tests := []struct {
		name   string
		relate func(g *ccm.Graph) error
	}{
		{"e2o", func(g *ccm.Graph) error { return g.RelateEventObject("e1", "o1", mapping.QualifierDataSource) }},
		{"o2o", func(g *ccm.Graph) error { return g.RelateObjects("o1", "o2", mapping.QualifierOwnedBy) }},
		{"e2e", func(g *ccm.Graph) error { return g.DeriveEvent("e2", "e1", mapping.QualifierActivity) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := ccm.NewGraph()
			require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.ProcessEvent, "e1", "start", fixture.T1)))
			require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.ProcessEvent, "e2", "stop", fixture.T2)))
			require.NoError(t, g.AddObject(ccm.NewObject("o1", "batch")))
			require.NoError(t, g.AddObject(ccm.NewObject("o2", "batch")))
			require.NoError(t, tt.relate(g))

			_, err := mapping.Export(context.Background(), g)
			require.Error(t, err)
			assert.True(t, errors.IsUsage(err), "got %v", err)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	want := export(t, fixture.Plant())

	g := ccm.NewGraph()
	logger, hook := quietLogger()
	report, err := mapping.Import(context.Background(), want, g, mapping.WithLogger(logger))
	require.NoError(t, err)
	assert.Zero(t, report.Dropped)
	assert.Empty(t, hook.AllEntries())

	diffTables(t, want, export(t, g))

	assert.Equal(t, 4, report.Events)
	assert.Equal(t, 3, report.Objects)
	assert.Equal(t, 2, report.DataSources)
	assert.Equal(t, 2, report.Activities)
	assert.Equal(t, 4, report.E2O)
	assert.Equal(t, 4, report.Recorded)
	assert.Equal(t, 2, report.ActivityLinks)
	assert.Equal(t, 1, report.O2O)
	assert.Equal(t, 1, report.Owned)
	assert.Equal(t, 2, report.E2E)

	p1 := g.Event("p1")
	require.NotNil(t, p1)
	assert.Equal(t, "act-assemble", p1.Activity().ID)
	assert.Equal(t, "mes", p1.DataSource().ID)
	assert.Equal(t, []string{"o1", "o2"}, p1.ObjectIDs())
	assert.Equal(t, "dev1", g.Object("o3").DataSourceID())
	assert.Equal(t, "p2", g.DataSource("mes").LastEventID())
}

func TestRoundTrip_ThroughFileFormats(t *testing.T) {
	want := export(t, fixture.Plant())

	for _, format := range []table.Format{table.FormatCSV, table.FormatXLSX, table.FormatParquet} {
		t.Run(string(format), func(t *testing.T) {
			path := t.TempDir()
			if format == table.FormatXLSX {
				path += "/log.xlsx"
			}
			require.NoError(t, table.WriteTables(path, format, table.Options{Parquet: table.DefaultParquetConfig()}, want.List()...))

			list, err := table.ReadTables(context.Background(), path, format)
			require.NoError(t, err)
			tables, err := mapping.FromList(list)
			require.NoError(t, err)

			g := ccm.NewGraph()
			logger, _ := quietLogger()
			report, err := mapping.Import(context.Background(), tables, g, mapping.WithLogger(logger))
			require.NoError(t, err)
			assert.Zero(t, report.Dropped)

			diffTables(t, want, export(t, g))
		})
	}
}

func TestImport_ScenarioB(t *testing.T) {
	src := fixture.ScenarioA()
	require.NoError(t, src.DeriveEvent("p1", "i1", ""))

	g := ccm.NewGraph()
	_, err := mapping.Import(context.Background(), export(t, src), g)
	require.NoError(t, err)

	assert.Equal(t, []ccm.Relation{{Source: "p1", Target: "i1", Qualifier: ccm.QualifierDerivedFrom}}, g.E2E())
	for _, r := range g.E2O() {
		assert.NotEqual(t, "i1", r.Target, "derivation leaked into e2o")
	}
	assert.Equal(t, []ccm.Relation{{Source: "p1", Target: "o1", Qualifier: ccm.QualifierRelated}}, g.E2O())
}

func TestImport_Idempotent(t *testing.T) {
	tables := export(t, fixture.Plant())

	g := ccm.NewGraph()
	_, err := mapping.Import(context.Background(), tables, g)
	require.NoError(t, err)
	first := export(t, g)

	_, err = mapping.Import(context.Background(), tables, g)
	require.NoError(t, err)

	diffTables(t, first, export(t, g))
	assert.Len(t, g.Events(), 4)
	assert.Len(t, g.Object("o1").EventIDs(), 2)
	assert.Len(t, g.DataSource("mes").EventIDs(), 2)
}

func TestImport_DanglingDropped(t *testing.T) {
	tables := export(t, fixture.ScenarioA())
	tables.E2O.AppendOrdered(
		[]string{mapping.ColSource, mapping.ColTarget, mapping.ColQualifier},
		[]any{"p1", "ghost", "related"},
	)
	tables.E2E.AppendOrdered(
		[]string{mapping.ColSource, mapping.ColTarget, mapping.ColQualifier},
		[]any{"p1", "nope", "derived_from"},
	)

	g := ccm.NewGraph()
	logger, hook := quietLogger()
	report, err := mapping.Import(context.Background(), tables, g, mapping.WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Dropped)
	require.Len(t, report.Diagnostics, 2)
	for _, d := range report.Diagnostics {
		assert.Equal(t, errors.CodeDanglingReference, d.Code)
	}
	assert.Nil(t, g.Object("ghost"), "placeholder fabricated")
	assert.Equal(t, []string{"o1"}, g.Event("p1").ObjectIDs())
	assert.Empty(t, g.E2E())

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "ghost", entries[0].Data["target"])
	assert.Equal(t, errors.CodeDanglingReference, entries[0].Data["code"])
}

func TestImport_StrictRejectsDangling(t *testing.T) {
	tables := export(t, fixture.ScenarioA())
	tables.E2O.AppendOrdered(
		[]string{mapping.ColSource, mapping.ColTarget, mapping.ColQualifier},
		[]any{"p1", "ghost", "related"},
	)

	g := ccm.NewGraph()
	_, err := mapping.Import(context.Background(), tables, g, mapping.WithStrict())
	require.Error(t, err)
	assert.True(t, errors.IsReferential(err))
	assert.Empty(t, g.Events())
	assert.Empty(t, g.Objects())
}

func TestImport_StructuralAbortLeavesGraphUntouched(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*mapping.Tables)
		code   errors.Code
	}{
		{
			name: "unknown event subtype",
			mutate: func(tb *mapping.Tables) {
				tb.Events.Rows[1][tb.Events.ColumnIndex(mapping.ColEventType)] = "sensor_event"
			},
			code: errors.CodeUnknownSubtype,
		},
		{
			name: "unknown reserved object type",
			mutate: func(tb *mapping.Tables) {
				tb.Objects.Rows[0][tb.Objects.ColumnIndex(mapping.ColObjectType)] = "ccm:gateway"
			},
			code: errors.CodeUnknownSubtype,
		},
		{
			name: "missing id",
			mutate: func(tb *mapping.Tables) {
				tb.Events.Rows[0][tb.Events.ColumnIndex(mapping.ColEventID)] = nil
			},
			code: errors.CodeMissingField,
		},
		{
			name: "missing column",
			mutate: func(tb *mapping.Tables) {
				p, err := tb.Objects.Project([]string{mapping.ColObjectID})
				if err != nil {
					panic(err)
				}
				tb.Objects = p
			},
			code: errors.CodeMissingField,
		},
		{
			name: "bad timestamp",
			mutate: func(tb *mapping.Tables) {
				tb.Events.Rows[0][tb.Events.ColumnIndex(mapping.ColTimestamp)] = "yesterday"
			},
			code: errors.CodeInvalidTimestamp,
		},
		{
			name: "unknown object class",
			mutate: func(tb *mapping.Tables) {
				tb.Objects.Rows[0][tb.Objects.ColumnIndex(mapping.ColObjectClass)] = "spaceship"
			},
			code: errors.CodeUnknownSubtype,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := export(t, fixture.ScenarioA())
			tt.mutate(tables)

			g := ccm.NewGraph()
			_, err := mapping.Import(context.Background(), tables, g)
			require.Error(t, err)
			assert.True(t, errors.IsStructural(err), "got %v", err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
			assert.Empty(t, g.Events())
			assert.Empty(t, g.Objects())
		})
	}
}

func TestImport_VariantConflictWithGraph(t *testing.T) {
	g := fixture.ScenarioA()
	tables := export(t, g)
	tables.Events.Rows[0][tables.Events.ColumnIndex(mapping.ColEventType)] = "iot_event"

	_, err := mapping.Import(context.Background(), tables, g)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidDocument))
	assert.Equal(t, ccm.ProcessEvent, g.Event("p1").Kind)
}

func TestImport_ImplicitActivity(t *testing.T) {
	tables := mapping.NewTables()
	tables.Events.AppendOrdered(
		[]string{mapping.ColEventID, mapping.ColEventType, mapping.ColActivity, mapping.ColTimestamp},
		[]any{"p1", "process event", "pack", "2024-03-01T08:00:00Z"},
	)

	g := ccm.NewGraph()
	_, err := mapping.Import(context.Background(), tables, g)
	require.NoError(t, err)

	act := g.Event("p1").Activity()
	require.NotNil(t, act)
	assert.Equal(t, mapping.ImplicitActivityID("pack"), act.ID)
	assert.Equal(t, "pack", act.Type)
	assert.Equal(t, fixture.T1, g.Event("p1").Timestamp)
}

func TestImport_ForeignColumnsBecomeAttributes(t *testing.T) {
	tables := mapping.NewTables()
	tables.Objects.AppendOrdered(
		[]string{mapping.ColObjectID, mapping.ColObjectType, "color", mapping.AttrColumn("size")},
		[]any{"o1", "box", "red", int64(3)},
	)

	g := ccm.NewGraph()
	_, err := mapping.Import(context.Background(), tables, g)
	require.NoError(t, err)

	o := g.Object("o1")
	require.NotNil(t, o)
	assert.Equal(t, ccm.Attributes{"color": "red", "size": int64(3)}, o.Attributes)
	assert.Equal(t, ccm.ClassBusinessObject, o.Class)
}

func TestImport_UsageConflictBecomesDiagnostic(t *testing.T) {
	tables := export(t, fixture.Plant())
	tables.E2O.AppendOrdered(
		[]string{mapping.ColSource, mapping.ColTarget, mapping.ColQualifier},
		[]any{"i1", "act-assemble", mapping.QualifierActivity},
	)

	g := ccm.NewGraph()
	logger, _ := quietLogger()
	report, err := mapping.Import(context.Background(), tables, g, mapping.WithLogger(logger))
	require.NoError(t, err)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, errors.CodeUsage, report.Diagnostics[0].Code)
	assert.Nil(t, g.Event("i1").Activity())
}

func TestFromList(t *testing.T) {
	tables := export(t, fixture.ScenarioA())

	got, err := mapping.FromList([]*table.Table{tables.Objects, tables.Events})
	require.NoError(t, err)
	assert.Equal(t, 0, got.E2E.Len())

	_, err = mapping.FromList([]*table.Table{tables.Events})
	assert.Error(t, err)

	_, err = mapping.FromList([]*table.Table{tables.Events, tables.Objects, table.New("extra")})
	assert.Error(t, err)
}
