package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/internal/fixture"
	"github.com/logflow/ccm/pkg/ccm"
)

func TestMaterialize_ScenarioA(t *testing.T) {
	tb := Materialize(fixture.ScenarioA())

	require.Equal(t, 2, tb.Len())
	assert.Equal(t, "p1", tb.Get(0, ColEventID))
	assert.Equal(t, "o1", tb.Get(0, ColObjectID))
	assert.Equal(t, "batch", tb.Get(0, ColObjectType))
	assert.Equal(t, "assemble", tb.Get(0, ColActivityType))

	assert.Equal(t, "i1", tb.Get(1, ColEventID))
	assert.Nil(t, tb.Get(1, ColObjectID))
	assert.Nil(t, tb.Get(1, ColObjectType))
	assert.Nil(t, tb.Get(1, ColActivityType))
	assert.Equal(t, fixture.T2, tb.Get(1, ColTimestamp))
}

func TestMaterialize_Completeness(t *testing.T) {
	g := fixture.Plant()
	all := make(map[string]struct{})
	for _, o := range g.Objects() {
		all[o.ID] = struct{}{}
	}

	tests := []struct {
		name    string
		objects []*ccm.Object
	}{
		{"all objects", g.Objects()},
		{"no objects", nil},
		{"only o2", []*ccm.Object{g.Object("o2")}},
		{"o1 and o3", []*ccm.Object{g.Object("o1"), g.Object("o3")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			supplied := make(map[string]struct{})
			for _, o := range tt.objects {
				supplied[o.ID] = struct{}{}
			}
			tb := MaterializeSubset(g, g.Events(), tt.objects, g.DataSources())

			counts := make(map[any]int)
			for _, v := range tb.Column(ColEventID) {
				counts[v]++
			}
			want := 0
			for _, e := range g.Events() {
				n := RowCount(e, supplied)
				assert.Equal(t, n, counts[e.ID], "event %s", e.ID)
				assert.GreaterOrEqual(t, counts[e.ID], 1)
				want += n
			}
			assert.Equal(t, want, tb.Len())
		})
	}
}

func TestMaterialize_NeverCapsAtOneRow(t *testing.T) {
	g := fixture.Plant()
	tb := Materialize(g)

	var objs []any
	for i := 0; i < tb.Len(); i++ {
		if tb.Get(i, ColEventID) == "p1" {
			objs = append(objs, tb.Get(i, ColObjectID))
		}
	}
	assert.Equal(t, []any{"o1", "o2"}, objs)
}

func TestMaterialize_Columns(t *testing.T) {
	tb := Materialize(fixture.Plant())

	assert.Equal(t, CoreColumns(), tb.Columns[:len(CoreColumns())])
	for _, c := range []string{
		"event:operator", "event:temperature",
		"object:weight", "object:line",
		"data_source:vendor", "data_source:firmware",
		ColActivityID, "activity:cost",
	} {
		assert.True(t, tb.HasColumn(c), "missing %s", c)
	}

	// p1 x o1: attributes of every participant, padded elsewhere.
	assert.Equal(t, "alice", tb.Get(0, "event:operator"))
	assert.Equal(t, int64(120), tb.Get(0, "object:weight"))
	assert.Equal(t, "acme", tb.Get(0, "data_source:vendor"))
	assert.Equal(t, 12.5, tb.Get(0, "activity:cost"))
	assert.Equal(t, "information_system", tb.Get(0, ColDataSourceType))
	assert.Nil(t, tb.Get(0, "data_source:firmware"))
	assert.Equal(t, "process event", tb.Get(0, ColEventType))

	for _, row := range tb.Rows {
		assert.Len(t, row, len(tb.Columns))
	}
}

func TestMaterializeSubset_DataSourceOutsideSet(t *testing.T) {
	g := fixture.Plant()
	tb := MaterializeSubset(g, []*ccm.Event{g.Event("i1")}, g.Objects(), nil)

	require.Equal(t, 1, tb.Len())
	assert.Nil(t, tb.Get(0, ColDataSourceID))
	assert.False(t, tb.HasColumn("data_source:firmware"))
}

func TestFromBindings_Dedupes(t *testing.T) {
	g := fixture.Plant()
	p1, o1, i1 := g.Event("p1"), g.Object("o1"), g.Event("i1")

	tb := FromBindings(g, []Pair{
		{Event: p1, Object: o1},
		{Event: i1},
		{Event: p1, Object: o1},
	})

	require.Equal(t, 2, tb.Len())
	assert.Equal(t, []any{"p1", "i1"}, tb.Column(ColEventID))
	assert.Equal(t, "dev1", tb.Get(1, ColDataSourceID))
}

func TestMaterialize_DerivationCycleIsSafe(t *testing.T) {
	g := fixture.ScenarioA()
	require.NoError(t, g.DeriveEvent("p1", "i1", ""))
	require.NoError(t, g.DeriveEvent("i1", "p1", ""))

	assert.Equal(t, 2, Materialize(g).Len())
}

func TestMaterialize_ActivityAttributeKeepsType(t *testing.T) {
	g := fixture.ScenarioA()
	a := g.Event("p1").Activity()
	require.NotNil(t, a)
	require.NoError(t, a.Attributes.Set("activity_type", "overridden"))
	require.NoError(t, a.Attributes.Set("activity_id", "other"))

	tb := Materialize(g)
	assert.Equal(t, "assemble", tb.Get(0, ColActivityType))
	assert.Equal(t, a.ID, tb.Get(0, ColActivityID))
	assert.Equal(t, "overridden", tb.Get(0, PrefixActivity+"activity_type"))
	assert.Equal(t, "other", tb.Get(0, PrefixActivity+"activity_id"))
}
