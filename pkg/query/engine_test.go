package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/ccm/internal/fixture"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/materialize"
	"github.com/logflow/ccm/pkg/query"
)

func newEngine(g *ccm.Graph) (*query.Engine, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return query.NewEngine(g, query.WithLogger(logger)), hook
}

func run(t *testing.T, e *query.Engine, q string, mode query.Mode) *query.Result {
	t.Helper()
	res, err := e.Query(context.Background(), q, mode)
	require.NoError(t, err)
	return res
}

func distinct(values []any) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range values {
		s := v.(string)
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func TestQuery_ScenarioA(t *testing.T) {
	e, _ := newEngine(fixture.ScenarioA())

	res := run(t, e, "SELECT * FROM Event WHERE Event.event_type = 'process event'", query.ExtendedTable)
	require.NotNil(t, res.Table)
	require.Equal(t, 1, res.Table.Len())
	assert.Equal(t, "p1", res.Table.Get(0, materialize.ColEventID))
	assert.Equal(t, "o1", res.Table.Get(0, materialize.ColObjectID))
	assert.Empty(t, res.Diagnostics)

	full := run(t, e, "SELECT * FROM Event", query.ExtendedTable)
	require.Equal(t, 2, full.Table.Len())
	assert.Equal(t, "i1", full.Table.Get(1, materialize.ColEventID))
	assert.Nil(t, full.Table.Get(1, materialize.ColObjectID))
}

func TestQuery_Equivalence(t *testing.T) {
	g := fixture.Plant()
	e, _ := newEngine(g)

	for _, kind := range ccm.EventKinds() {
		t.Run(kind.Label(), func(t *testing.T) {
			var want []string
			for _, ev := range g.EventsOfKind(kind) {
				want = append(want, ev.ID)
			}

			q := "SELECT * FROM Event WHERE Event.event_type = '" + kind.Label() + "'"
			refs := run(t, e, q, query.ClassReference)
			assert.Equal(t, want, refs.Matched)
			assert.Equal(t, want, refs.References[query.Kind(kind.Name())])
			assert.Len(t, refs.References, 1)

			ext := run(t, e, q, query.ExtendedTable)
			assert.Equal(t, want, distinct(ext.Table.Column(materialize.ColEventID)))
		})
	}
}

func TestQuery_ClassReferenceGroupsByKind(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	res := run(t, e, "SELECT event_id FROM Event", query.ClassReference)
	assert.Equal(t, map[query.Kind][]string{
		query.KindProcessEvent: {"p1", "p2"},
		query.KindIoTEvent:     {"i1"},
		query.KindObservation:  {"ob1"},
	}, res.References)
	assert.Equal(t, []string{"p1", "p2", "i1", "ob1"}, res.Matched)
	// p1 binds twice (o1, o2) but is referenced once.
	assert.Len(t, res.Bindings, 5)
	assert.Nil(t, res.Table)
}

func TestQuery_OtherKinds(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	tests := []struct {
		query       string
		want        map[query.Kind][]string
		diagnostics int
	}{
		{"SELECT * FROM Object WHERE Object.object_class = 'machine'", map[query.Kind][]string{query.KindObject: {"o2"}}, 0},
		{"SELECT * FROM Object WHERE Object.object_category = 'data_source'", map[query.Kind][]string{query.KindObject: {"o3"}}, 0},
		// o2 and o3 have no weight attribute.
		{"SELECT * FROM Object WHERE Object.weight >= 100", map[query.Kind][]string{query.KindObject: {"o1"}}, 2},
		{"SELECT * FROM Activity WHERE Activity.cost < 20", map[query.Kind][]string{query.KindActivity: {"act-assemble"}}, 1},
		{"SELECT * FROM DataSource", map[query.Kind][]string{
			query.KindInformationSystem: {"mes"},
			query.KindIoTDevice:         {"dev1"},
		}, 0},
		{"SELECT * FROM IoTDevice WHERE IoTDevice.firmware = '1.2.0'", map[query.Kind][]string{query.KindIoTDevice: {"dev1"}}, 0},
		{"SELECT * FROM InformationSystem WHERE DataSource.last_event_id = 'p2'", map[query.Kind][]string{query.KindInformationSystem: {"mes"}}, 0},
		{"SELECT * FROM Observation WHERE Observation.observed_property = 'temperature'", map[query.Kind][]string{query.KindObservation: {"ob1"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := run(t, e, tt.query, query.ClassReference)
			assert.Equal(t, tt.want, res.References)
			assert.Len(t, res.Diagnostics, tt.diagnostics)
		})
	}
}

func TestQuery_Comparisons(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	tests := []struct {
		where string
		want  []string
	}{
		{"Event.timestamp > '2024-03-01T08:00:00Z'", []string{"p2", "i1", "ob1"}},
		{"Event.timestamp <= '2024-03-01 08:05:00'", []string{"p1", "i1", "ob1"}},
		{"Event.activity_id = NULL", []string{"i1", "ob1"}},
		{"Event.activity_type != NULL AND Event.activity_type <> 'inspect'", []string{"p1"}},
		{"NOT Event.event_type = 'process event'", []string{"i1", "ob1"}},
		{"Event.data_source_id = 'dev1' OR Object.object_id = 'o2'", []string{"p1", "i1", "ob1"}},
		{"(Event.event_class = 'Assemble' OR Event.event_class = 'Inspect') AND Object.object_id = 'o1'", []string{"p1", "p2"}},
		{"IoTDevice.firmware = '1.2.0'", []string{"i1", "ob1"}},
		{"DataSource.vendor = 'acme'", []string{"p1", "p2"}},
		{"Activity.cost = 12.5", []string{"p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.where, func(t *testing.T) {
			res := run(t, e, "SELECT * FROM Event WHERE "+tt.where, query.ClassReference)
			assert.Equal(t, tt.want, res.Matched)
		})
	}
}

func TestQuery_CandidateFailuresAreDiagnostics(t *testing.T) {
	e, hook := newEngine(fixture.ScenarioA())

	res := run(t, e, "SELECT * FROM Event WHERE Object.object_type = 'batch'", query.ClassReference)
	assert.Equal(t, []string{"p1"}, res.Matched)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, errors.CodeQueryEvaluation, res.Diagnostics[0].Code)
	assert.Equal(t, "i1", res.Diagnostics[0].Subject)

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
}

func TestQuery_EvaluationErrors(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	tests := []string{
		"Event.timestamp > 5",
		"Event.event_id < TRUE",
		"Event.no_such_field = 1",
		"Event.object_ids = 'o1'",
		"Event.timestamp = 'not a time'",
		"Event.event_id > NULL",
		"Object.object_id = 'o1' AND Event.passed > FALSE",
	}

	for _, where := range tests {
		t.Run(where, func(t *testing.T) {
			res := run(t, e, "SELECT * FROM Event WHERE "+where, query.ClassReference)
			assert.NotEmpty(t, res.Diagnostics)
			for _, d := range res.Diagnostics {
				assert.Equal(t, errors.CodeQueryEvaluation, d.Code)
			}
		})
	}
}

func TestQuery_ShortCircuit(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	res := run(t, e, "SELECT * FROM Event WHERE Event.event_type = 'iot event' AND Event.temperature > 70", query.ClassReference)
	assert.Equal(t, []string{"i1"}, res.Matched)
	assert.Empty(t, res.Diagnostics)

	res = run(t, e, "SELECT * FROM Event WHERE Event.event_type != 'iot event' OR Event.temperature > 70", query.ClassReference)
	assert.Equal(t, []string{"p1", "p2", "i1", "ob1"}, res.Matched)
	assert.Empty(t, res.Diagnostics)
}

func TestQuery_ExtendedProjection(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	res := run(t, e,
		"SELECT event_id, Object.object_type, Event.operator, DataSource.vendor, Activity.activity_type, missing FROM ProcessEvent",
		query.ExtendedTable)

	assert.Equal(t, []string{
		materialize.ColEventID,
		materialize.ColObjectType,
		"event:operator",
		"data_source:vendor",
		materialize.ColActivityType,
		"event:missing",
	}, res.Table.Columns)
	require.Equal(t, 3, res.Table.Len())
	assert.Equal(t, []any{"p1", "batch", "alice", "acme", "assemble", nil}, res.Table.Rows[0])
	assert.Equal(t, []any{"p1", "press", "alice", "acme", "assemble", nil}, res.Table.Rows[1])
	assert.Equal(t, []any{"p2", "batch", nil, "acme", "inspect", nil}, res.Table.Rows[2])
}

func TestQuery_UsageErrors(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	for _, q := range []string{"SELECT * FROM Object", "SELECT * FROM Activity", "SELECT * FROM IoTDevice"} {
		_, err := e.Query(context.Background(), q, query.ExtendedTable)
		require.Error(t, err, q)
		assert.True(t, errors.IsUsage(err), "got %v", err)
	}

	_, err := e.Query(context.Background(), "SELECT * FROM Event", query.Mode("table"))
	assert.True(t, errors.IsUsage(err))
}

func TestQuery_SyntaxErrorHasNoResult(t *testing.T) {
	e, _ := newEngine(fixture.Plant())

	res, err := e.Query(context.Background(), "SELECT * FROM Event WHERE", query.ClassReference)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsQuerySyntax(err))
}

func TestQuery_DoesNotMutateGraph(t *testing.T) {
	g := fixture.Plant()
	before := g.Stats()
	e, _ := newEngine(g)

	run(t, e, "SELECT * FROM Event WHERE Object.object_id = 'o1'", query.ExtendedTable)
	run(t, e, "SELECT * FROM Object", query.ClassReference)
	assert.Equal(t, before, g.Stats())
}

func TestQuery_PlanCache(t *testing.T) {
	cache := query.NewPlanCache(1, time.Minute)
	e := query.NewEngine(fixture.Plant(), query.WithPlanCache(cache))

	q := "SELECT * FROM Event"
	run(t, e, q, query.ClassReference)
	run(t, e, q, query.ExtendedTable)
	stats := e.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	run(t, e, "SELECT * FROM Object", query.ClassReference)
	assert.Equal(t, 1, e.CacheStats().Entries)

	cache.InvalidateAll()
	assert.Zero(t, e.CacheStats().Entries)
}

func TestQuery_Cancelled(t *testing.T) {
	g := ccm.NewGraph()
	for i := 0; i < 2048; i++ {
		require.NoError(t, g.AddObject(ccm.NewObject("", "box")))
	}
	e, _ := newEngine(g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Query(ctx, "SELECT * FROM Object", query.ClassReference)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	m, err := query.ParseMode(" Extended_Table ")
	require.NoError(t, err)
	assert.Equal(t, query.ExtendedTable, m)

	_, err = query.ParseMode("rows")
	assert.True(t, errors.IsUsage(err))
}
