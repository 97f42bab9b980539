package ccm

import (
	"time"
)

// Default relationship qualifiers.
const (
	QualifierRelated     = "related"
	QualifierDerivedFrom = "derived_from"
)

// Relation is a qualified edge between two ids.
// O2O: object -> object, E2O: event -> object, E2E: event -> derived-from event.
type Relation struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Qualifier string `json:"qualifier"`
}

// Link is one side of a relation as seen from the owning entity.
type Link struct {
	ID        string
	Qualifier string
}

// Object is a physical or logical object.
type Object struct {
	ID         string
	Type       string
	Class      ObjectClass
	Attributes Attributes

	// Maintained by Graph.
	dataSource string
	related    []Link
	events     []string
}

// NewObject creates an object of the default class.
func NewObject(id, objectType string) *Object {
	return &Object{ID: id, Type: objectType, Class: ClassBusinessObject, Attributes: Attributes{}}
}

// DataSourceID returns the owning data source id, if any.
func (o *Object) DataSourceID() string { return o.dataSource }

// Related returns the object's o2o links, in either direction.
func (o *Object) Related() []Link { return append([]Link(nil), o.related...) }

// EventIDs returns the ids of events related to the object.
func (o *Object) EventIDs() []string { return append([]string(nil), o.events...) }

// Serialize projects the object to its scalar fields plus related ids.
func (o *Object) Serialize() map[string]any {
	related := make([]string, 0, len(o.related))
	for _, l := range o.related {
		related = append(related, l.ID)
	}
	return map[string]any{
		"object_id":          o.ID,
		"object_type":        o.Type,
		"object_class":       string(o.Class),
		"object_category":    string(o.Class.Category()),
		"data_source_id":     optional(o.dataSource),
		"related_object_ids": related,
		"event_ids":          o.EventIDs(),
		"attributes":         o.Attributes.Clone(),
	}
}

// Event is a timestamped occurrence. Events are immutable apart from
// attribute extension and relationship additions.
type Event struct {
	ID         string
	Kind       EventKind
	Class      string
	Timestamp  time.Time
	Attributes Attributes

	// Maintained by Graph.
	activity    *Activity
	dataSource  *DataSource
	objects     []Link
	derivedFrom []Link
}

// NewEvent creates an event of the given variant.
func NewEvent(kind EventKind, id, class string, ts time.Time) *Event {
	return &Event{ID: id, Kind: kind, Class: class, Timestamp: ts, Attributes: Attributes{}}
}

// Activity returns the activity of a process event, or nil.
func (e *Event) Activity() *Activity { return e.activity }

// DataSource returns the data source that recorded the event, or nil.
func (e *Event) DataSource() *DataSource { return e.dataSource }

// Objects returns the event's e2o links in insertion order.
func (e *Event) Objects() []Link { return append([]Link(nil), e.objects...) }

// DerivedFrom returns the event's e2e links in insertion order.
func (e *Event) DerivedFrom() []Link { return append([]Link(nil), e.derivedFrom...) }

// ObjectIDs returns the distinct ids of related objects in insertion order.
// An object linked under several qualifiers appears once.
func (e *Event) ObjectIDs() []string {
	ids := make([]string, 0, len(e.objects))
	seen := make(map[string]struct{}, len(e.objects))
	for _, l := range e.objects {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		ids = append(ids, l.ID)
	}
	return ids
}

// Serialize projects the event to its scalar fields plus related ids.
// Related entities are referenced by id only, so derivation cycles cannot
// recurse.
func (e *Event) Serialize() map[string]any {
	derived := make([]string, 0, len(e.derivedFrom))
	for _, l := range e.derivedFrom {
		derived = append(derived, l.ID)
	}

	m := map[string]any{
		"event_id":         e.ID,
		"event_type":       e.Kind.Label(),
		"event_class":      e.Class,
		"timestamp":        e.Timestamp,
		"activity_id":      nil,
		"activity_type":    nil,
		"data_source_id":   nil,
		"data_source_type": nil,
		"object_ids":       e.ObjectIDs(),
		"derived_from":     derived,
		"attributes":       e.Attributes.Clone(),
	}
	if e.activity != nil {
		m["activity_id"] = e.activity.ID
		m["activity_type"] = e.activity.Type
	}
	if e.dataSource != nil {
		m["data_source_id"] = e.dataSource.ID
		m["data_source_type"] = e.dataSource.Kind.Tag()
	}
	return m
}

// Activity is a named process step shared by process events.
type Activity struct {
	ID         string
	Type       string
	Attributes Attributes
}

// NewActivity creates an activity.
func NewActivity(id, activityType string) *Activity {
	return &Activity{ID: id, Type: activityType, Attributes: Attributes{}}
}

// Serialize projects the activity to its scalar fields.
func (a *Activity) Serialize() map[string]any {
	return map[string]any{
		"activity_id":   a.ID,
		"activity_type": a.Type,
		"attributes":    a.Attributes.Clone(),
	}
}

// DataSource produces events. An InformationSystem also tracks the last
// process event it recorded.
type DataSource struct {
	ID         string
	Kind       DataSourceKind
	Name       string
	Attributes Attributes

	// Maintained by Graph.
	events    []string
	lastEvent string
}

// NewDataSource creates a data source of the given variant.
func NewDataSource(kind DataSourceKind, id, name string) *DataSource {
	return &DataSource{ID: id, Kind: kind, Name: name, Attributes: Attributes{}}
}

// EventIDs returns the ids of recorded events in recording order.
func (d *DataSource) EventIDs() []string { return append([]string(nil), d.events...) }

// LastEventID returns the last process event recorded by an information
// system.
func (d *DataSource) LastEventID() string { return d.lastEvent }

// Serialize projects the data source to its scalar fields plus event ids.
func (d *DataSource) Serialize() map[string]any {
	m := map[string]any{
		"data_source_id":   d.ID,
		"data_source_type": d.Kind.Tag(),
		"name":             d.Name,
		"event_ids":        d.EventIDs(),
		"attributes":       d.Attributes.Clone(),
	}
	switch d.Kind {
	case InformationSystem:
		m["last_event_id"] = optional(d.lastEvent)
	case IoTDevice:
	default:
		panic("ccm: invalid DataSourceKind")
	}
	return m
}

func optional(id string) any {
	if id == "" {
		return nil
	}
	return id
}
