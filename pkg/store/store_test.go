package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/internal/fixture"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/store"
	"github.com/logflow/ccm/pkg/table"
)

func openMemory(t *testing.T) *store.Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := store.OpenWithConfig(store.Config{Path: ":memory:", Threads: 1, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func plantTables(t *testing.T) *mapping.Tables {
	t.Helper()
	tables, err := mapping.Export(context.Background(), fixture.Plant())
	require.NoError(t, err)
	return tables
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

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	want := plantTables(t)

	require.NoError(t, s.Save(ctx, want))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	diffTables(t, want, got)

	logger, _ := test.NewNullLogger()
	g := ccm.NewGraph()
	report, err := mapping.Import(ctx, got, g, mapping.WithLogger(logger))
	require.NoError(t, err)
	assert.Empty(t, report.Diagnostics)

	if diff := cmp.Diff(fixture.Snapshot(fixture.Plant()), fixture.Snapshot(g)); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLoad_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plant.duckdb")

	s, err := store.Open(path)
	require.NoError(t, err)
	want := plantTables(t)
	require.NoError(t, s.Save(ctx, want))
	require.NoError(t, s.Close())

	ro, err := store.OpenWithConfig(store.Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	got, err := ro.Load(ctx)
	require.NoError(t, err)
	diffTables(t, want, got)
}

func TestSave_Replaces(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.Save(ctx, plantTables(t)))
	small, err := mapping.Export(ctx, fixture.ScenarioA())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, small))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		mapping.TableEvents:  int64(small.Events.Len()),
		mapping.TableObjects: int64(small.Objects.Len()),
		mapping.TableE2O:     int64(small.E2O.Len()),
		mapping.TableO2O:     0,
		mapping.TableE2E:     0,
	}, counts)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	diffTables(t, small, got)
}

func TestSave_RejectsMistypedCoreColumn(t *testing.T) {
	tables := mapping.NewTables()
	tables.Events.Append(map[string]any{
		mapping.ColEventID:   int64(7),
		mapping.ColEventType: "iot_event",
	})

	s := openMemory(t)
	err := s.Save(context.Background(), tables)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeWriteFailed), "got %v", err)

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts[mapping.TableEvents])
}

func TestLoad_Empty(t *testing.T) {
	got, err := openMemory(t).Load(context.Background())
	require.NoError(t, err)
	for _, tbl := range got.List() {
		assert.Zero(t, tbl.Len(), tbl.Name)
	}
	assert.Equal(t, mapping.NewTables().Events.Columns, got.Events.Columns)
}

func TestSQL(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.Save(ctx, plantTables(t)))

	res, err := s.SQL(ctx, "SELECT event_id, timestamp FROM ccm_event ORDER BY seq")
	require.NoError(t, err)
	assert.Equal(t, []string{"event_id", "timestamp"}, res.Columns)
	assert.Equal(t, []any{"p1", "p2", "i1", "ob1"}, res.Column("event_id"))
	ts, ok := res.Get(0, "timestamp").(time.Time)
	require.True(t, ok)
	assert.True(t, fixture.T1.Equal(ts), "got %v", ts)

	res, err = s.SQL(ctx, "select count(*) as n from ccm_attribute where tbl = ?", mapping.TableObjects)
	require.NoError(t, err)
	assert.IsType(t, int64(0), res.Get(0, "n"))
}

func TestSQL_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.Save(ctx, plantTables(t)))

	for _, q := range []string{
		"DELETE FROM ccm_event",
		"  insert into ccm_event (seq) values (1)",
		"DROP TABLE ccm_event",
		"",
		"SELECT 1; DELETE FROM ccm_event",
		"SELECT 1;DROP TABLE ccm_event;",
		"WITH gone AS (SELECT 1) DELETE FROM ccm_event",
		"SELECT 1 /* unterminated",
		"SELECT 'unterminated",
	} {
		_, err := s.SQL(ctx, q)
		assert.True(t, errors.IsUsage(err), "%q: got %v", q, err)
	}

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[mapping.TableEvents])
}

func TestSQL_QuotedKeywords(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.Save(ctx, plantTables(t)))

	res, err := s.SQL(ctx, "SELECT 'a; DELETE b' AS s; -- drop")
	require.NoError(t, err)
	assert.Equal(t, []any{"a; DELETE b"}, res.Column("s"))

	res, err = s.SQL(ctx, `SELECT count(*) AS "update" FROM ccm_event /* insert */;`)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Get(0, "update"))
}

func TestObjectEvents(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	require.NoError(t, s.Save(ctx, plantTables(t)))

	res, err := s.ObjectEvents(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, []any{"p1", "p2"}, res.Column("event_id"))
	assert.Equal(t, []any{"o1", "o1"}, res.Column("case_id"))

	res, err = s.ObjectEvents(ctx, "press")
	require.NoError(t, err)
	assert.Equal(t, []any{"p1"}, res.Column("event_id"))
	assert.Equal(t, []any{"resource"}, res.Column("qualifier"))
}

func TestTextCellsSurviveStore(t *testing.T) {
	ctx := context.Background()
	tables := mapping.NewTables()
	tables.Objects.Append(map[string]any{
		mapping.ColObjectID:             "o1",
		mapping.ColObjectType:           "batch",
		mapping.AttrColumn("note"):      `\N`,
		mapping.AttrColumn("empty"):     "",
		mapping.AttrColumn("ratio"):     0.25,
		mapping.AttrColumn("ok"):        false,
		mapping.AttrColumn("count"):     int64(-3),
		mapping.AttrColumn("backslash"): `\x`,
	})

	s := openMemory(t)
	require.NoError(t, s.Save(ctx, tables))
	got, err := s.Load(ctx)
	require.NoError(t, err)

	want := tables.Objects.Record(0)
	assert.Equal(t, want, got.Objects.Record(0))
	assert.Equal(t, table.TypeFloat, table.TypeOf(got.Objects.Get(0, mapping.AttrColumn("ratio"))))
}
