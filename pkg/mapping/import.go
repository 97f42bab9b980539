package mapping

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/telemetry"
)

// Import loads tables into g in two phases.
//
// Staging parses every row without touching the graph. A missing reserved
// column, a null id, an unknown subtype tag, a bad timestamp or a bad
// attribute value fails the whole import with a structural error.
//
// Applying upserts the staged entities (idempotent by id) and then resolves
// relationship rows sequentially. See Apply for the handling of dangling
// endpoints.
func Import(ctx context.Context, tables *Tables, g *ccm.Graph, opts ...Option) (report *Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mapping.Import")
	defer func() { telemetry.EndSpan(span, err) }()

	batch, err := Stage(tables)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("ccm.staged.events", len(batch.Events)),
		attribute.Int("ccm.staged.objects", len(batch.Objects)),
		attribute.Int("ccm.staged.links", len(batch.Links)),
	)
	return Apply(ctx, g, batch, opts...)
}

// Stage parses tables into a batch.
func Stage(tables *Tables) (*Batch, error) {
	if tables == nil || tables.Events == nil || tables.Objects == nil {
		return nil, errors.New(errors.CodeInvalidDocument, "events and objects tables are required")
	}

	b := &Batch{ActivityLabels: make(map[string]string)}
	if err := stageEvents(tables.Events, b); err != nil {
		return nil, err
	}
	if err := stageObjects(tables.Objects, b); err != nil {
		return nil, err
	}
	for _, rt := range []struct {
		t    *table.Table
		kind LinkKind
	}{
		{tables.E2O, LinkE2O},
		{tables.O2O, LinkO2O},
		{tables.E2E, LinkE2E},
	} {
		if rt.t == nil {
			continue
		}
		if err := stageLinks(rt.t, rt.kind, b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func stageEvents(t *table.Table, b *Batch) error {
	if err := requireColumns(t, ColEventID, ColEventType, ColTimestamp); err != nil {
		return err
	}
	attrCols := attributeColumns(t)

	for i := 0; i < t.Len(); i++ {
		rec := rowName(t, i)
		id, err := requiredID(t, i, ColEventID)
		if err != nil {
			return err
		}

		tag, err := requiredString(t, i, ColEventType)
		if err != nil {
			return err
		}
		kind, err := ccm.ParseEventKind(tag)
		if err != nil {
			return withRow(err, rec)
		}

		ts, err := cellTime(t.Get(i, ColTimestamp))
		if err != nil {
			return withRow(err, rec)
		}

		class, _ := t.String(i, ColEventClass)
		e := ccm.NewEvent(kind, id, class, ts)
		if err := fillAttributes(e.Attributes, t, i, attrCols); err != nil {
			return withRow(err, rec)
		}
		b.Events = append(b.Events, e)

		if label, ok := t.String(i, ColActivity); ok && label != "" && kind == ccm.ProcessEvent {
			b.ActivityLabels[id] = label
		}
	}
	return nil
}

func stageObjects(t *table.Table, b *Batch) error {
	if err := requireColumns(t, ColObjectID, ColObjectType); err != nil {
		return err
	}
	attrCols := attributeColumns(t)

	for i := 0; i < t.Len(); i++ {
		rec := rowName(t, i)
		id, err := requiredID(t, i, ColObjectID)
		if err != nil {
			return err
		}
		typ, err := requiredString(t, i, ColObjectType)
		if err != nil {
			return err
		}
		name, _ := t.String(i, ColName)

		var attrs ccm.Attributes
		switch typ {
		case TypeInformationSystem, TypeIoTDevice:
			kind := ccm.InformationSystem
			if typ == TypeIoTDevice {
				kind = ccm.IoTDevice
			}
			d := ccm.NewDataSource(kind, id, name)
			b.DataSources = append(b.DataSources, d)
			attrs = d.Attributes
		case TypeActivity:
			a := ccm.NewActivity(id, name)
			b.Activities = append(b.Activities, a)
			attrs = a.Attributes
		default:
			if strings.HasPrefix(typ, ReservedPrefix) {
				return withRow(errors.UnknownSubtype("object type", typ), rec)
			}
			classCell, _ := t.String(i, ColObjectClass)
			class, err := ccm.ParseObjectClass(classCell)
			if err != nil {
				return withRow(err, rec)
			}
			o := ccm.NewObject(id, typ)
			o.Class = class
			b.Objects = append(b.Objects, o)
			attrs = o.Attributes
		}
		if err := fillAttributes(attrs, t, i, attrCols); err != nil {
			return withRow(err, rec)
		}
	}
	return nil
}

func stageLinks(t *table.Table, kind LinkKind, b *Batch) error {
	if t.Len() == 0 {
		return nil
	}
	if err := requireColumns(t, ColSource, ColTarget); err != nil {
		return err
	}
	for i := 0; i < t.Len(); i++ {
		src, err := requiredID(t, i, ColSource)
		if err != nil {
			return err
		}
		dst, err := requiredID(t, i, ColTarget)
		if err != nil {
			return err
		}
		q, _ := t.String(i, ColQualifier)
		b.Links = append(b.Links, Link{Kind: kind, Source: src, Target: dst, Qualifier: q})
	}
	return nil
}

func requireColumns(t *table.Table, cols ...string) error {
	for _, c := range cols {
		if !t.HasColumn(c) {
			return errors.MissingField(t.Name, c)
		}
	}
	return nil
}

// attributeColumns returns the columns holding attributes: every column
// under AttrPrefix plus any column outside the reserved namespace, so tables
// produced by other tools keep their extra columns.
func attributeColumns(t *table.Table) map[string]string {
	out := make(map[string]string)
	for _, c := range t.Columns {
		if key, ok := AttrKey(c); ok {
			out[c] = key
			continue
		}
		if !strings.HasPrefix(c, ReservedPrefix) {
			out[c] = c
		}
	}
	return out
}

func fillAttributes(attrs ccm.Attributes, t *table.Table, i int, cols map[string]string) error {
	for col, key := range cols {
		v := t.Get(i, col)
		if v == nil {
			continue
		}
		if err := attrs.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}

func rowName(t *table.Table, i int) string {
	return fmt.Sprintf("%s row %d", t.Name, i+1)
}

func withRow(err error, rec string) error {
	if ce, ok := err.(*errors.CCMError); ok {
		return ce.WithContext("row", rec)
	}
	return errors.Wrap(err, errors.CodeInvalidDocument, rec)
}

// requiredID reads an identifier cell. Integer ids from typed formats are
// accepted and rendered in decimal.
func requiredID(t *table.Table, i int, col string) (string, error) {
	switch v := t.Get(i, col).(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", errors.MissingField(rowName(t, i), col)
}

func requiredString(t *table.Table, i int, col string) (string, error) {
	s, ok := t.String(i, col)
	if !ok || s == "" {
		return "", errors.MissingField(rowName(t, i), col)
	}
	return s, nil
}

// cellTime reads a timestamp cell. Null yields the zero time.
func cellTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case string:
		return timeparse.Parse(x)
	default:
		return time.Time{}, errors.Newf(errors.CodeInvalidTimestamp, "timestamp cell holds %T", v)
	}
}
