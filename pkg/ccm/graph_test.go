package ccm_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/internal/fixture"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
)

func TestAddObject_GeneratesID(t *testing.T) {
	g := ccm.NewGraph()
	o := ccm.NewObject("", "batch")
	require.NoError(t, g.AddObject(o))
	assert.NotEmpty(t, o.ID)
	assert.Same(t, o, g.Object(o.ID))
}

func TestAdd_DuplicateIDRejected(t *testing.T) {
	g := ccm.NewGraph()
	require.NoError(t, g.AddObject(ccm.NewObject("o1", "batch")))
	err := g.AddObject(ccm.NewObject("o1", "other"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDuplicateID))
	assert.Len(t, g.Objects(), 1)

	require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "e1", "", fixture.T1)))
	err = g.AddEvent(ccm.NewEvent(ccm.ProcessEvent, "e1", "", fixture.T1))
	assert.True(t, errors.IsCode(err, errors.CodeDuplicateID))
}

func TestNamespacesAreIndependent(t *testing.T) {
	g := ccm.NewGraph()
	require.NoError(t, g.AddObject(ccm.NewObject("x", "batch")))
	require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "x", "", fixture.T1)))
	require.NoError(t, g.AddActivity(ccm.NewActivity("x", "assemble")))
	_, err := g.AddIoTDevice("x", "dev")
	require.NoError(t, err)
}

func TestAdd_InsertionOrderPreserved(t *testing.T) {
	g := ccm.NewGraph()
	ids := []string{"z", "a", "m", "b"}
	for _, id := range ids {
		require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.IoTEvent, id, "", fixture.T1)))
	}
	var got []string
	for _, e := range g.Events() {
		got = append(got, e.ID)
	}
	assert.Equal(t, ids, got)
}

func TestAdd_InvalidAttributeRejected(t *testing.T) {
	g := ccm.NewGraph()
	o := ccm.NewObject("o1", "batch")
	o.Attributes["nested"] = map[string]any{"a": 1}
	err := g.AddObject(o)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidAttribute))
	assert.True(t, errors.IsStructural(err))
	assert.Nil(t, g.Object("o1"))
}

func TestAdd_AttributesNormalized(t *testing.T) {
	g := ccm.NewGraph()
	o := ccm.NewObject("o1", "batch")
	o.Attributes["count"] = 3
	o.Attributes["ratio"] = float32(0.5)
	require.NoError(t, g.AddObject(o))
	assert.Equal(t, int64(3), o.Attributes["count"])
	assert.Equal(t, float64(0.5), o.Attributes["ratio"])
}

func TestAddEvent_InvalidKind(t *testing.T) {
	g := ccm.NewGraph()
	err := g.AddEvent(&ccm.Event{ID: "e1", Kind: ccm.EventKind(42)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnknownSubtype))
}

func TestAddObject_UnknownClass(t *testing.T) {
	g := ccm.NewGraph()
	o := ccm.NewObject("o1", "batch")
	o.Class = "spaceship"
	err := g.AddObject(o)
	assert.True(t, errors.IsCode(err, errors.CodeUnknownSubtype))
}

func TestRelateEventObject_Symmetric(t *testing.T) {
	g := fixture.ScenarioA()

	p1 := g.Event("p1")
	o1 := g.Object("o1")
	assert.Equal(t, []string{"o1"}, p1.ObjectIDs())
	assert.Equal(t, []string{"p1"}, o1.EventIDs())
	assert.Equal(t, []ccm.Relation{{Source: "p1", Target: "o1", Qualifier: "related"}}, g.E2O())

	// Identical edges are ignored.
	require.NoError(t, g.RelateEventObject("p1", "o1", "related"))
	assert.Len(t, g.E2O(), 1)
	assert.Len(t, o1.EventIDs(), 1)

	// A second qualifier is a distinct edge but the object index stays distinct.
	require.NoError(t, g.RelateEventObject("p1", "o1", "input"))
	assert.Len(t, g.E2O(), 2)
	assert.Equal(t, []string{"o1"}, p1.ObjectIDs())
	assert.Equal(t, []string{"p1"}, o1.EventIDs())
}

func TestRelate_DanglingNeverFabricates(t *testing.T) {
	g := fixture.ScenarioA()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"e2o missing object", func() error { return g.RelateEventObject("p1", "ghost", "") }},
		{"e2o missing event", func() error { return g.RelateEventObject("ghost", "o1", "") }},
		{"o2o missing target", func() error { return g.RelateObjects("o1", "ghost", "") }},
		{"e2e missing source", func() error { return g.DeriveEvent("p1", "ghost", "") }},
		{"record missing source", func() error { return g.RecordEvent("p1", "ghost") }},
		{"activity missing", func() error { return g.SetActivity("p1", "ghost") }},
		{"owner missing", func() error { return g.SetObjectDataSource("o1", "ghost") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.IsReferential(err), "got %v", err)
		})
	}

	assert.Nil(t, g.Object("ghost"))
	assert.Nil(t, g.Event("ghost"))
	assert.Len(t, g.Objects(), 1)
	assert.Len(t, g.Events(), 2)
	assert.Empty(t, g.Validate())
}

func TestRelateObjects_Symmetric(t *testing.T) {
	g := fixture.Plant()
	o1, o2 := g.Object("o1"), g.Object("o2")

	assert.Equal(t, []*ccm.Object{o2}, g.RelatedObjects(o1))
	assert.Equal(t, []*ccm.Object{o1}, g.RelatedObjects(o2))
	assert.Len(t, g.O2O(), 1)
}

func TestDeriveEvent_CyclesAllowed(t *testing.T) {
	g := ccm.NewGraph()
	require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "a", "", fixture.T1)))
	require.NoError(t, g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "b", "", fixture.T2)))
	require.NoError(t, g.DeriveEvent("a", "b", ""))
	require.NoError(t, g.DeriveEvent("b", "a", ""))

	// Serialization follows ids only.
	assert.Equal(t, []string{"b"}, g.Event("a").Serialize()["derived_from"])
	assert.Equal(t, []string{"a"}, g.Event("b").Serialize()["derived_from"])
	assert.Equal(t, ccm.QualifierDerivedFrom, g.E2E()[0].Qualifier)
}

func TestSetActivity_OnlyProcessEvents(t *testing.T) {
	g := fixture.ScenarioA()
	err := g.SetActivity("i1", "a1")
	require.Error(t, err)
	assert.True(t, errors.IsUsage(err))
	assert.Nil(t, g.Event("i1").Activity())
}

func TestRecordEvent(t *testing.T) {
	g := fixture.Plant()

	mes := g.DataSource("mes")
	assert.Equal(t, []string{"p1", "p2"}, mes.EventIDs())
	assert.Equal(t, "p2", mes.LastEventID())
	assert.Same(t, mes, g.Event("p1").DataSource())

	// Re-recording is a no-op, switching source is rejected.
	require.NoError(t, g.RecordEvent("p1", "mes"))
	assert.Len(t, mes.EventIDs(), 2)
	err := g.RecordEvent("p1", "dev1")
	assert.True(t, errors.IsUsage(err))
}

func TestUpsert_Idempotent(t *testing.T) {
	g := ccm.NewGraph()
	o := ccm.NewObject("o1", "batch")
	o.Attributes["a"] = "x"
	_, err := g.UpsertObject(o)
	require.NoError(t, err)

	again := ccm.NewObject("o1", "batch")
	again.Attributes["b"] = int64(2)
	got, err := g.UpsertObject(again)
	require.NoError(t, err)

	assert.Same(t, o, got)
	assert.Len(t, g.Objects(), 1)
	assert.Equal(t, ccm.Attributes{"a": "x", "b": int64(2)}, got.Attributes)
}

func TestUpsertEvent_VariantConflict(t *testing.T) {
	g := ccm.NewGraph()
	_, err := g.UpsertEvent(ccm.NewEvent(ccm.IoTEvent, "e1", "", fixture.T1))
	require.NoError(t, err)
	_, err = g.UpsertEvent(ccm.NewEvent(ccm.ProcessEvent, "e1", "", fixture.T1))
	require.Error(t, err)
	assert.True(t, errors.IsStructural(err))
}

func TestSerialize_Fields(t *testing.T) {
	g := fixture.Plant()

	p1 := g.Event("p1").Serialize()
	assert.Equal(t, "p1", p1["event_id"])
	assert.Equal(t, "process event", p1["event_type"])
	assert.Equal(t, "Assemble", p1["event_class"])
	assert.Equal(t, fixture.T1, p1["timestamp"])
	assert.Equal(t, "act-assemble", p1["activity_id"])
	assert.Equal(t, "assemble", p1["activity_type"])
	assert.Equal(t, "mes", p1["data_source_id"])
	assert.Equal(t, "information_system", p1["data_source_type"])
	assert.Equal(t, []string{"o1", "o2"}, p1["object_ids"])

	i1 := g.Event("i1").Serialize()
	assert.Nil(t, i1["activity_id"])
	assert.Equal(t, "iot event", i1["event_type"])

	o3 := g.Object("o3").Serialize()
	assert.Equal(t, "sensor", o3["object_class"])
	assert.Equal(t, "data_source", o3["object_category"])
	assert.Equal(t, "dev1", o3["data_source_id"])

	mes := g.DataSource("mes").Serialize()
	assert.Equal(t, "p2", mes["last_event_id"])
	_, hasLast := g.DataSource("dev1").Serialize()["last_event_id"]
	assert.False(t, hasLast)
}

func TestConcurrentAppendsToDisjointCollections(t *testing.T) {
	g := ccm.NewGraph()
	var wg sync.WaitGroup
	const n = 200

	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = g.AddObject(ccm.NewObject("", "batch"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "", "", fixture.T1))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, _ = g.AddIoTDevice("", "dev")
		}
	}()
	wg.Wait()

	s := g.Stats()
	assert.Equal(t, n, s.Objects)
	assert.Equal(t, n, s.Events)
	assert.Equal(t, n, s.DataSources)
}

func TestStats(t *testing.T) {
	s := fixture.Plant().Stats()
	assert.Equal(t, 3, s.Objects)
	assert.Equal(t, 4, s.Events)
	assert.Equal(t, 2, s.Activities)
	assert.Equal(t, 2, s.DataSources)
	assert.Equal(t, 4, s.E2O)
	assert.Equal(t, 1, s.O2O)
	assert.Equal(t, 2, s.E2E)
	assert.Equal(t, 2, s.EventsByType["process event"])
	assert.Equal(t, fixture.T1, s.TimeRange.Min)
	assert.Equal(t, fixture.T3, s.TimeRange.Max)
}
