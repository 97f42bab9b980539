package interchange

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/mapping"
	"github.com/logflow/ccm/pkg/telemetry"
)

// Attribute keys carried by observation events.
const (
	AttrObservedProperty = "observed_property"
	AttrValue            = "value"
)

// stage is the output of one ingestion worker. Each worker owns its stage
// exclusively until the barrier.
type stage struct {
	objects     []*ccm.Object
	events      []*ccm.Event
	activities  []*ccm.Activity
	dataSources []*ccm.DataSource
	links       []mapping.Link
}

// Load ingests doc into g.
//
// Entity groups are staged by parallel workers. A structural error in any
// worker cancels the others and the load fails with the graph untouched.
// After the barrier the staged entities are committed in a fixed group
// order and relationships are resolved sequentially, dropping dangling ones
// with a diagnostic.
func Load(ctx context.Context, doc *Document, g *ccm.Graph, opts ...mapping.Option) (report *mapping.Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "interchange.Load",
		attribute.Int("ccm.objects", len(doc.Objects)),
		attribute.Int("ccm.events", len(doc.ProcessEvents)+len(doc.IoTEvents)+len(doc.Observations)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if err := Validate(doc); err != nil {
		return nil, err
	}

	var objects, sources, process, iot, observations stage

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return stageObjects(gctx, doc.Objects, &objects) })
	eg.Go(func() error { return stageSources(gctx, doc.IoTDevices, doc.InformationSystems, &sources) })
	eg.Go(func() error { return stageEvents(gctx, "process_events", ccm.ProcessEvent, doc.ProcessEvents, &process) })
	eg.Go(func() error { return stageEvents(gctx, "iot_events", ccm.IoTEvent, doc.IoTEvents, &iot) })
	eg.Go(func() error { return stageObservations(gctx, doc.Observations, &observations) })
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	b := &mapping.Batch{}
	for _, s := range []*stage{&objects, &sources, &process, &iot, &observations} {
		b.Objects = append(b.Objects, s.objects...)
		b.DataSources = append(b.DataSources, s.dataSources...)
		b.Activities = append(b.Activities, s.activities...)
		b.Events = append(b.Events, s.events...)
	}

	for _, r := range doc.ObjectObject {
		b.Links = append(b.Links, mapping.Link{Kind: mapping.LinkO2O, Source: r.ObjectID, Target: r.RelatedObjectID, Qualifier: r.Qualifier})
	}
	b.Links = append(b.Links, objects.links...)
	for _, r := range doc.EventObject {
		b.Links = append(b.Links, mapping.Link{Kind: mapping.LinkE2O, Source: r.EventID, Target: r.ObjectID, Qualifier: r.Qualifier})
	}
	b.Links = append(b.Links, process.links...)
	for _, r := range doc.EventEvent {
		b.Links = append(b.Links, mapping.Link{Kind: mapping.LinkE2E, Source: r.EventID, Target: r.DerivedFromEventID, Qualifier: r.Qualifier})
	}
	for _, r := range doc.EventDataSource {
		b.Links = append(b.Links, mapping.Link{Kind: mapping.LinkE2O, Source: r.EventID, Target: r.DataSourceID, Qualifier: mapping.QualifierDataSource})
	}
	b.Links = append(b.Links, observations.links...)

	return mapping.Apply(ctx, g, b, opts...)
}

func stageObjects(ctx context.Context, records []ObjectRecord, out *stage) error {
	for i, r := range records {
		if err := checkpoint(ctx, i); err != nil {
			return err
		}
		class, err := ccm.ParseObjectClass(r.ObjectClass)
		if err != nil {
			return recordError(err, "objects", i)
		}
		attrs, err := attributes(r.Attributes, "objects", i)
		if err != nil {
			return err
		}
		o := ccm.NewObject(r.ObjectID, r.ObjectType)
		o.Class = class
		o.Attributes = attrs
		out.objects = append(out.objects, o)

		if r.DataSourceID != "" {
			out.links = append(out.links, mapping.Link{
				Kind:      mapping.LinkO2O,
				Source:    r.ObjectID,
				Target:    r.DataSourceID,
				Qualifier: mapping.QualifierOwnedBy,
			})
		}
	}
	return nil
}

func stageSources(ctx context.Context, devices []DeviceRecord, systems []SystemRecord, out *stage) error {
	for i, r := range devices {
		if err := checkpoint(ctx, i); err != nil {
			return err
		}
		attrs, err := attributes(r.Attributes, "iot_devices", i)
		if err != nil {
			return err
		}
		d := ccm.NewDataSource(ccm.IoTDevice, r.DeviceID, r.Name)
		d.Attributes = attrs
		out.dataSources = append(out.dataSources, d)
	}
	for i, r := range systems {
		if err := checkpoint(ctx, i); err != nil {
			return err
		}
		attrs, err := attributes(r.Attributes, "information_systems", i)
		if err != nil {
			return err
		}
		d := ccm.NewDataSource(ccm.InformationSystem, r.ISID, r.SystemName)
		d.Attributes = attrs
		out.dataSources = append(out.dataSources, d)
	}
	return nil
}

func stageEvents(ctx context.Context, group string, kind ccm.EventKind, records []EventRecord, out *stage) error {
	staged := make(map[string]*ccm.Activity)
	for i, r := range records {
		if err := checkpoint(ctx, i); err != nil {
			return err
		}
		ts, err := timestamp(r.Timestamp, group, i)
		if err != nil {
			return err
		}
		attrs, err := attributes(r.Attributes, group, i)
		if err != nil {
			return err
		}
		e := ccm.NewEvent(kind, r.EventID, r.EventType, ts)
		e.Attributes = attrs
		out.events = append(out.events, e)

		if r.Activity == nil {
			continue
		}
		if kind != ccm.ProcessEvent {
			return recordError(errors.New(errors.CodeInvalidDocument, "only process events carry an activity"), group, i)
		}
		act, err := activity(r.Activity, group, i)
		if err != nil {
			return err
		}
		id := r.Activity.ID
		if act != nil {
			id = act.ID
			if prev, ok := staged[id]; ok {
				prev.Attributes.Merge(act.Attributes)
			} else {
				staged[id] = act
				out.activities = append(out.activities, act)
			}
		}
		out.links = append(out.links, mapping.Link{
			Kind:      mapping.LinkE2O,
			Source:    r.EventID,
			Target:    id,
			Qualifier: mapping.QualifierActivity,
		})
	}
	return nil
}

// activity builds the staged activity for ref. A ref carrying only an id
// refers to an activity defined by another record and stages nothing.
func activity(ref *ActivityRef, group string, i int) (*ccm.Activity, error) {
	if ref.Type == "" {
		if ref.ID == "" {
			return nil, recordError(errors.MissingField(group, "activity.activity_type"), group, i)
		}
		return nil, nil
	}
	id := ref.ID
	if id == "" {
		id = mapping.ImplicitActivityID(ref.Type)
	}
	attrs, err := attributes(ref.Attributes, group, i)
	if err != nil {
		return nil, err
	}
	a := ccm.NewActivity(id, ref.Type)
	a.Attributes = attrs
	return a, nil
}

func stageObservations(ctx context.Context, records []ObservationRecord, out *stage) error {
	for i, r := range records {
		if err := checkpoint(ctx, i); err != nil {
			return err
		}
		ts, err := timestamp(r.Timestamp, "observations", i)
		if err != nil {
			return err
		}
		attrs, err := attributes(r.Attributes, "observations", i)
		if err != nil {
			return err
		}
		if r.ObservedProperty != "" {
			attrs[AttrObservedProperty] = r.ObservedProperty
		}
		if r.Value != nil {
			if err := attrs.Set(AttrValue, r.Value); err != nil {
				return recordError(err, "observations", i)
			}
		}
		e := ccm.NewEvent(ccm.Observation, r.ID(), r.EventType, ts)
		e.Attributes = attrs
		out.events = append(out.events, e)

		if r.IoTDeviceID != "" {
			out.links = append(out.links, mapping.Link{
				Kind:      mapping.LinkE2O,
				Source:    e.ID,
				Target:    r.IoTDeviceID,
				Qualifier: mapping.QualifierDataSource,
			})
		}
	}
	return nil
}

func checkpoint(ctx context.Context, i int) error {
	if i%256 == 0 {
		return ctx.Err()
	}
	return nil
}

func timestamp(s, group string, i int) (time.Time, error) {
	ts, err := timeparse.Parse(s)
	if err != nil {
		return time.Time{}, recordError(err, group, i)
	}
	return ts.UTC(), nil
}

func attributes(in map[string]any, group string, i int) (ccm.Attributes, error) {
	attrs, err := ccm.Attributes(in).Normalize()
	if err != nil {
		return nil, recordError(err, group, i)
	}
	return attrs, nil
}

func recordError(err error, group string, i int) error {
	record := fmt.Sprintf("%s[%d]", group, i)
	if ce, ok := err.(*errors.CCMError); ok {
		return ce.WithContext("record", record)
	}
	return errors.Wrap(err, errors.CodeInvalidDocument, "invalid record").WithContext("record", record)
}
