package mapping

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/telemetry"
)

// Export walks the graph in insertion order and emits one row per entity and
// one row per relationship edge.
func Export(ctx context.Context, g *ccm.Graph) (tables *Tables, err error) {
	_, span := telemetry.StartSpan(ctx, "mapping.Export")
	defer func() { telemetry.EndSpan(span, err) }()

	t := NewTables()

	for _, e := range g.Events() {
		cols := []string{ColEventID, ColEventType, ColEventClass, ColActivity, ColTimestamp}
		vals := []any{e.ID, e.Kind.Tag(), nullable(e.Class), nil, e.Timestamp}
		if a := e.Activity(); a != nil {
			vals[3] = a.Type
		}
		if e.Timestamp.IsZero() {
			vals[4] = nil
		}
		cols, vals = appendAttrs(cols, vals, e.Attributes)
		t.Events.AppendOrdered(cols, vals)
	}

	for _, o := range g.Objects() {
		if strings.HasPrefix(o.Type, ReservedPrefix) {
			return nil, errors.Usage("object type uses the reserved %q prefix", ReservedPrefix).
				WithContext("object_id", o.ID).
				WithContext("object_type", o.Type)
		}
		cols := []string{ColObjectID, ColObjectType, ColObjectClass, ColName}
		vals := []any{o.ID, o.Type, string(o.Class), nil}
		cols, vals = appendAttrs(cols, vals, o.Attributes)
		t.Objects.AppendOrdered(cols, vals)
	}

	for _, d := range g.DataSources() {
		cols := []string{ColObjectID, ColObjectType, ColObjectClass, ColName}
		vals := []any{d.ID, dataSourceTypeTag(d.Kind), nil, nullable(d.Name)}
		cols, vals = appendAttrs(cols, vals, d.Attributes)
		t.Objects.AppendOrdered(cols, vals)
	}

	for _, a := range g.Activities() {
		cols := []string{ColObjectID, ColObjectType, ColObjectClass, ColName}
		vals := []any{a.ID, TypeActivity, nil, nullable(a.Type)}
		cols, vals = appendAttrs(cols, vals, a.Attributes)
		t.Objects.AppendOrdered(cols, vals)
	}

	for _, r := range g.E2O() {
		if err := checkQualifier("e2o", r.Source, r.Target, r.Qualifier); err != nil {
			return nil, err
		}
		appendRelation(t.E2O, r.Source, r.Target, r.Qualifier)
	}
	for _, e := range g.Events() {
		if d := e.DataSource(); d != nil {
			appendRelation(t.E2O, e.ID, d.ID, QualifierDataSource)
		}
		if a := e.Activity(); a != nil {
			appendRelation(t.E2O, e.ID, a.ID, QualifierActivity)
		}
	}

	for _, r := range g.O2O() {
		if err := checkQualifier("o2o", r.Source, r.Target, r.Qualifier); err != nil {
			return nil, err
		}
		appendRelation(t.O2O, r.Source, r.Target, r.Qualifier)
	}
	for _, o := range g.Objects() {
		if ds := o.DataSourceID(); ds != "" {
			appendRelation(t.O2O, o.ID, ds, QualifierOwnedBy)
		}
	}

	for _, r := range g.E2E() {
		if err := checkQualifier("e2e", r.Source, r.Target, r.Qualifier); err != nil {
			return nil, err
		}
		appendRelation(t.E2E, r.Source, r.Target, r.Qualifier)
	}

	span.SetAttributes(
		attribute.Int("ccm.events", t.Events.Len()),
		attribute.Int("ccm.objects", t.Objects.Len()),
		attribute.Int("ccm.e2o", t.E2O.Len()),
		attribute.Int("ccm.o2o", t.O2O.Len()),
		attribute.Int("ccm.e2e", t.E2E.Len()),
	)
	return t, nil
}

// checkQualifier rejects graph edges whose qualifier would be read back as
// one of the mapping's own link kinds.
func checkQualifier(kind, source, target, qualifier string) error {
	if !strings.HasPrefix(qualifier, ReservedPrefix) {
		return nil
	}
	return errors.Usage("%s qualifier uses the reserved %q prefix", kind, ReservedPrefix).
		WithContext("source", source).
		WithContext("target", target).
		WithContext("qualifier", qualifier)
}

func appendAttrs(cols []string, vals []any, attrs ccm.Attributes) ([]string, []any) {
	for _, k := range attrs.Keys() {
		cols = append(cols, AttrColumn(k))
		vals = append(vals, attrs[k])
	}
	return cols, vals
}

func appendRelation(t *table.Table, source, target, qualifier string) {
	t.AppendOrdered([]string{ColSource, ColTarget, ColQualifier}, []any{source, target, qualifier})
}

func dataSourceTypeTag(k ccm.DataSourceKind) string {
	switch k {
	case ccm.InformationSystem:
		return TypeInformationSystem
	case ccm.IoTDevice:
		return TypeIoTDevice
	default:
		panic("mapping: invalid DataSourceKind")
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
