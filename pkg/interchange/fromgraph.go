package interchange

import (
	"github.com/logflow/ccm/internal/timeparse"
	"github.com/logflow/ccm/pkg/ccm"
)

// FromGraph writes g back as a document. Observations recorded by an IoT
// device carry the device in iot_device_id; every other recorded event gets
// an event_data_source_relationships entry. Activities are written inline
// on their process events, so an activity no event refers to is not
// represented.
func FromGraph(g *ccm.Graph) *Document {
	doc := &Document{}

	for _, o := range g.Objects() {
		doc.Objects = append(doc.Objects, ObjectRecord{
			ObjectID:     o.ID,
			ObjectType:   o.Type,
			ObjectClass:  string(o.Class),
			DataSourceID: o.DataSourceID(),
			Attributes:   attributeMap(o.Attributes),
		})
	}

	for _, d := range g.IoTDevices() {
		doc.IoTDevices = append(doc.IoTDevices, DeviceRecord{
			DeviceID:   d.ID,
			Name:       d.Name,
			Attributes: attributeMap(d.Attributes),
		})
	}
	for _, d := range g.InformationSystems() {
		doc.InformationSystems = append(doc.InformationSystems, SystemRecord{
			ISID:       d.ID,
			SystemName: d.Name,
			Attributes: attributeMap(d.Attributes),
		})
	}

	for _, e := range g.Events() {
		ds := e.DataSource()
		switch e.Kind {
		case ccm.ProcessEvent:
			rec := eventRecord(e)
			if act := e.Activity(); act != nil {
				rec.Activity = &ActivityRef{ID: act.ID, Type: act.Type, Attributes: attributeMap(act.Attributes)}
			}
			doc.ProcessEvents = append(doc.ProcessEvents, rec)
		case ccm.IoTEvent:
			doc.IoTEvents = append(doc.IoTEvents, eventRecord(e))
		case ccm.Observation:
			rec := ObservationRecord{
				ObservationID: e.ID,
				EventType:     e.Class,
				Timestamp:     timeparse.Format(e.Timestamp),
			}
			attrs := e.Attributes.Clone()
			if p, ok := attrs[AttrObservedProperty].(string); ok {
				rec.ObservedProperty = p
				delete(attrs, AttrObservedProperty)
			}
			if v, ok := attrs[AttrValue]; ok {
				rec.Value = v
				delete(attrs, AttrValue)
			}
			rec.Attributes = attributeMap(attrs)
			if ds != nil && ds.Kind == ccm.IoTDevice {
				rec.IoTDeviceID = ds.ID
				ds = nil
			}
			doc.Observations = append(doc.Observations, rec)
		default:
			panic("interchange: invalid EventKind")
		}
		if ds != nil {
			doc.EventDataSource = append(doc.EventDataSource, E2DSRecord{EventID: e.ID, DataSourceID: ds.ID})
		}
	}

	for _, r := range g.O2O() {
		doc.ObjectObject = append(doc.ObjectObject, O2ORecord{ObjectID: r.Source, RelatedObjectID: r.Target, Qualifier: r.Qualifier})
	}
	for _, r := range g.E2O() {
		doc.EventObject = append(doc.EventObject, E2ORecord{EventID: r.Source, ObjectID: r.Target, Qualifier: r.Qualifier})
	}
	for _, r := range g.E2E() {
		doc.EventEvent = append(doc.EventEvent, E2ERecord{EventID: r.Source, DerivedFromEventID: r.Target, Qualifier: r.Qualifier})
	}
	return doc
}

func eventRecord(e *ccm.Event) EventRecord {
	return EventRecord{
		EventID:    e.ID,
		EventType:  e.Class,
		Timestamp:  timeparse.Format(e.Timestamp),
		Attributes: attributeMap(e.Attributes),
	}
}

func attributeMap(a ccm.Attributes) map[string]any {
	if len(a) == 0 {
		return nil
	}
	return map[string]any(a.Clone())
}
