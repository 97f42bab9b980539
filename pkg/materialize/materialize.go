// Package materialize flattens a graph, or a filtered subset of it, into
// one wide "extended" table: one row per (event, related object) pair and
// exactly one row for an event with no matching object.
package materialize

import (
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/table"
)

// TableName is the name of every materialized table.
const TableName = "extended"

// Core columns.
const (
	ColEventID        = "ccm:event_id"
	ColEventType      = "ccm:event_type"
	ColEventClass     = "ccm:event_class"
	ColTimestamp      = "ccm:timestamp"
	ColObjectID       = "ccm:object_id"
	ColObjectType     = "ccm:object_type"
	ColObjectClass    = "ccm:object_class"
	ColDataSourceID   = "ccm:data_source_id"
	ColDataSourceType = "ccm:data_source_type"
)

// Activity columns, present only when some row is a process event with an
// activity.
const (
	ColActivityID   = "ccm:activity_id"
	ColActivityType = "ccm:activity_type"
)

// Attribute column prefixes.
const (
	PrefixEvent      = "event:"
	PrefixObject     = "object:"
	PrefixDataSource = "data_source:"
	PrefixActivity   = "activity:"
)

// CoreColumns lists the core columns in table order.
func CoreColumns() []string {
	return []string{
		ColEventID, ColEventType, ColEventClass, ColTimestamp,
		ColObjectID, ColObjectType, ColObjectClass,
		ColDataSourceID, ColDataSourceType,
	}
}

// Pair is one (event, object) binding. Object is nil for an event that
// matched without a related object.
type Pair struct {
	Event  *ccm.Event
	Object *ccm.Object
}

// Materialize flattens the whole graph.
func Materialize(g *ccm.Graph) *table.Table {
	return MaterializeSubset(g, g.Events(), g.Objects(), g.DataSources())
}

// MaterializeSubset flattens the given events against the given objects and
// data sources. An event's related objects are intersected with objects by
// id, in the event's own link order. Data sources outside the supplied set
// are left unresolved.
func MaterializeSubset(g *ccm.Graph, events []*ccm.Event, objects []*ccm.Object, sources []*ccm.DataSource) *table.Table {
	objSet := make(map[string]*ccm.Object, len(objects))
	for _, o := range objects {
		objSet[o.ID] = o
	}
	dsSet := make(map[string]struct{}, len(sources))
	for _, d := range sources {
		dsSet[d.ID] = struct{}{}
	}

	b := newBuilder()
	for _, e := range events {
		matched := 0
		for _, id := range e.ObjectIDs() {
			o, ok := objSet[id]
			if !ok {
				continue
			}
			b.row(e, o, dsSet)
			matched++
		}
		if matched == 0 {
			b.row(e, nil, dsSet)
		}
	}
	return b.t
}

// FromBindings flattens query bindings in order. Repeated pairs are emitted
// once. Every data source in the graph is resolvable.
func FromBindings(g *ccm.Graph, pairs []Pair) *table.Table {
	dsSet := make(map[string]struct{})
	for _, d := range g.DataSources() {
		dsSet[d.ID] = struct{}{}
	}

	type key struct{ event, object string }
	seen := make(map[key]struct{}, len(pairs))

	b := newBuilder()
	for _, p := range pairs {
		if p.Event == nil {
			continue
		}
		k := key{event: p.Event.ID}
		if p.Object != nil {
			k.object = p.Object.ID
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		b.row(p.Event, p.Object, dsSet)
	}
	return b.t
}

// RowCount returns the number of rows MaterializeSubset emits for e given
// the supplied object ids: max(1, |related ∩ supplied|).
func RowCount(e *ccm.Event, objectIDs map[string]struct{}) int {
	n := 0
	for _, id := range e.ObjectIDs() {
		if _, ok := objectIDs[id]; ok {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

type builder struct {
	t    *table.Table
	cols []string
	vals []any
}

func newBuilder() *builder {
	return &builder{t: table.New(TableName, CoreColumns()...)}
}

func (b *builder) row(e *ccm.Event, o *ccm.Object, dsSet map[string]struct{}) {
	b.cols = append(b.cols[:0], CoreColumns()...)
	b.vals = append(b.vals[:0],
		e.ID, e.Kind.Label(), nullable(e.Class), timestamp(e),
		nil, nil, nil,
		nil, nil,
	)

	if o != nil {
		b.vals[4] = o.ID
		b.vals[5] = o.Type
		b.vals[6] = string(o.Class)
	}

	var ds *ccm.DataSource
	if d := e.DataSource(); d != nil {
		if _, ok := dsSet[d.ID]; ok {
			ds = d
			b.vals[7] = d.ID
			b.vals[8] = d.Kind.Tag()
		}
	}

	b.attrs(PrefixEvent, e.Attributes)
	if o != nil {
		b.attrs(PrefixObject, o.Attributes)
	}
	if ds != nil {
		b.attrs(PrefixDataSource, ds.Attributes)
	}

	switch e.Kind {
	case ccm.ProcessEvent:
		if a := e.Activity(); a != nil {
			b.cols = append(b.cols, ColActivityID, ColActivityType)
			b.vals = append(b.vals, a.ID, a.Type)
			b.attrs(PrefixActivity, a.Attributes)
		}
	case ccm.IoTEvent, ccm.Observation:
	default:
		panic("materialize: invalid EventKind")
	}

	b.t.AppendOrdered(b.cols, b.vals)
}

func (b *builder) attrs(prefix string, attrs ccm.Attributes) {
	for _, k := range attrs.Keys() {
		b.cols = append(b.cols, prefix+k)
		b.vals = append(b.vals, attrs[k])
	}
}

func timestamp(e *ccm.Event) any {
	if e.Timestamp.IsZero() {
		return nil
	}
	return e.Timestamp
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
