// Package ccm implements the IoT-augmented object-centric entity graph.
//
// A Graph holds four ordered namespaces (objects, events, activities, data
// sources) and three qualified edge lists:
//
//	O2O ⊆ O × qual × O   symmetric object relations
//	E2O ⊆ E × qual × O   event/object relations, indexed on both sides
//	E2E ⊆ E × qual × E   derived-from relations
//
// Insertion order is preserved everywhere and drives export and
// materialization order. The graph is append-only.
package ccm

import (
	"strconv"
	"sync"

	"github.com/logflow/ccm/pkg/errors"
)

// Namespaces used in error context.
const (
	NamespaceObject     = "object"
	NamespaceEvent      = "event"
	NamespaceActivity   = "activity"
	NamespaceDataSource = "data_source"
)

type edgeKind uint8

const (
	edgeO2O edgeKind = iota
	edgeE2O
	edgeE2E
)

type edgeKey struct {
	kind edgeKind
	rel  Relation
}

// Graph is the in-memory entity graph.
//
// Each collection has its own lock so that ingestion workers can append to
// disjoint collections in parallel. Edge mutations serialize on relMu.
// Readers get no isolation from concurrent writers.
type Graph struct {
	objMu     sync.RWMutex
	objects   []*Object
	objectIdx map[string]*Object

	evMu     sync.RWMutex
	events   []*Event
	eventIdx map[string]*Event

	actMu       sync.RWMutex
	activities  []*Activity
	activityIdx map[string]*Activity

	dsMu          sync.RWMutex
	dataSources   []*DataSource
	dataSourceIdx map[string]*DataSource

	relMu sync.RWMutex
	o2o   []Relation
	e2o   []Relation
	e2e   []Relation
	edges map[edgeKey]struct{}
	pairs map[[2]string]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		objectIdx:     make(map[string]*Object),
		eventIdx:      make(map[string]*Event),
		activityIdx:   make(map[string]*Activity),
		dataSourceIdx: make(map[string]*DataSource),
		edges:         make(map[edgeKey]struct{}),
		pairs:         make(map[[2]string]struct{}),
	}
}

// --- Entity insertion ---

// AddObject appends an object. A missing id is generated; a duplicate id is
// rejected.
func (g *Graph) AddObject(o *Object) error {
	if err := prepareObject(o); err != nil {
		return err
	}

	g.objMu.Lock()
	defer g.objMu.Unlock()

	if _, ok := g.objectIdx[o.ID]; ok {
		return errors.DuplicateID(NamespaceObject, o.ID)
	}
	g.objects = append(g.objects, o)
	g.objectIdx[o.ID] = o
	return nil
}

// AddEvent appends an event.
func (g *Graph) AddEvent(e *Event) error {
	if err := prepareEvent(e); err != nil {
		return err
	}

	g.evMu.Lock()
	defer g.evMu.Unlock()

	if _, ok := g.eventIdx[e.ID]; ok {
		return errors.DuplicateID(NamespaceEvent, e.ID)
	}
	g.events = append(g.events, e)
	g.eventIdx[e.ID] = e
	return nil
}

// AddActivity appends an activity.
func (g *Graph) AddActivity(a *Activity) error {
	if err := prepareActivity(a); err != nil {
		return err
	}

	g.actMu.Lock()
	defer g.actMu.Unlock()

	if _, ok := g.activityIdx[a.ID]; ok {
		return errors.DuplicateID(NamespaceActivity, a.ID)
	}
	g.activities = append(g.activities, a)
	g.activityIdx[a.ID] = a
	return nil
}

// AddDataSource appends a data source.
func (g *Graph) AddDataSource(d *DataSource) error {
	if err := prepareDataSource(d); err != nil {
		return err
	}

	g.dsMu.Lock()
	defer g.dsMu.Unlock()

	if _, ok := g.dataSourceIdx[d.ID]; ok {
		return errors.DuplicateID(NamespaceDataSource, d.ID)
	}
	g.dataSources = append(g.dataSources, d)
	g.dataSourceIdx[d.ID] = d
	return nil
}

// AddInformationSystem creates and appends an information system.
func (g *Graph) AddInformationSystem(id, name string) (*DataSource, error) {
	d := NewDataSource(InformationSystem, id, name)
	if err := g.AddDataSource(d); err != nil {
		return nil, err
	}
	return d, nil
}

// AddIoTDevice creates and appends an IoT device.
func (g *Graph) AddIoTDevice(id, name string) (*DataSource, error) {
	d := NewDataSource(IoTDevice, id, name)
	if err := g.AddDataSource(d); err != nil {
		return nil, err
	}
	return d, nil
}

// --- Upserts (import path) ---

// UpsertObject inserts o, or merges it into the object with the same id.
// It returns the object held by the graph.
func (g *Graph) UpsertObject(o *Object) (*Object, error) {
	if err := prepareObject(o); err != nil {
		return nil, err
	}

	g.objMu.Lock()
	defer g.objMu.Unlock()

	existing, ok := g.objectIdx[o.ID]
	if !ok {
		g.objects = append(g.objects, o)
		g.objectIdx[o.ID] = o
		return o, nil
	}
	if o.Type != "" {
		existing.Type = o.Type
	}
	existing.Class = o.Class
	existing.Attributes.Merge(o.Attributes)
	return existing, nil
}

// UpsertEvent inserts e, or merges it into the event with the same id.
// Changing the variant of an existing event is a structural error.
func (g *Graph) UpsertEvent(e *Event) (*Event, error) {
	if err := prepareEvent(e); err != nil {
		return nil, err
	}

	g.evMu.Lock()
	defer g.evMu.Unlock()

	existing, ok := g.eventIdx[e.ID]
	if !ok {
		g.events = append(g.events, e)
		g.eventIdx[e.ID] = e
		return e, nil
	}
	if existing.Kind != e.Kind {
		return nil, variantConflict(NamespaceEvent, e.ID, existing.Kind.Tag(), e.Kind.Tag())
	}
	if e.Class != "" {
		existing.Class = e.Class
	}
	if !e.Timestamp.IsZero() {
		existing.Timestamp = e.Timestamp
	}
	existing.Attributes.Merge(e.Attributes)
	return existing, nil
}

// UpsertActivity inserts a, or merges it into the activity with the same id.
func (g *Graph) UpsertActivity(a *Activity) (*Activity, error) {
	if err := prepareActivity(a); err != nil {
		return nil, err
	}

	g.actMu.Lock()
	defer g.actMu.Unlock()

	existing, ok := g.activityIdx[a.ID]
	if !ok {
		g.activities = append(g.activities, a)
		g.activityIdx[a.ID] = a
		return a, nil
	}
	if a.Type != "" {
		existing.Type = a.Type
	}
	existing.Attributes.Merge(a.Attributes)
	return existing, nil
}

// UpsertDataSource inserts d, or merges it into the data source with the
// same id.
func (g *Graph) UpsertDataSource(d *DataSource) (*DataSource, error) {
	if err := prepareDataSource(d); err != nil {
		return nil, err
	}

	g.dsMu.Lock()
	defer g.dsMu.Unlock()

	existing, ok := g.dataSourceIdx[d.ID]
	if !ok {
		g.dataSources = append(g.dataSources, d)
		g.dataSourceIdx[d.ID] = d
		return d, nil
	}
	if existing.Kind != d.Kind {
		return nil, variantConflict(NamespaceDataSource, d.ID, existing.Kind.Tag(), d.Kind.Tag())
	}
	if d.Name != "" {
		existing.Name = d.Name
	}
	existing.Attributes.Merge(d.Attributes)
	return existing, nil
}

// --- Relationships ---

// RelateEventObject adds an e2o edge and updates both the event's object
// index and the object's event index. Identical edges are ignored.
func (g *Graph) RelateEventObject(eventID, objectID, qualifier string) error {
	if qualifier == "" {
		qualifier = QualifierRelated
	}

	g.relMu.Lock()
	defer g.relMu.Unlock()

	ev := g.Event(eventID)
	if ev == nil {
		return errors.Dangling(NamespaceEvent, eventID)
	}
	obj := g.Object(objectID)
	if obj == nil {
		return errors.Dangling(NamespaceObject, objectID)
	}

	rel := Relation{Source: eventID, Target: objectID, Qualifier: qualifier}
	if !g.addEdge(edgeE2O, rel) {
		return nil
	}
	g.e2o = append(g.e2o, rel)
	ev.objects = append(ev.objects, Link{ID: objectID, Qualifier: qualifier})

	pair := [2]string{eventID, objectID}
	if _, seen := g.pairs[pair]; !seen {
		g.pairs[pair] = struct{}{}
		obj.events = append(obj.events, eventID)
	}
	return nil
}

// RelateObjects adds a symmetric o2o edge.
func (g *Graph) RelateObjects(sourceID, targetID, qualifier string) error {
	if qualifier == "" {
		qualifier = QualifierRelated
	}

	g.relMu.Lock()
	defer g.relMu.Unlock()

	src := g.Object(sourceID)
	if src == nil {
		return errors.Dangling(NamespaceObject, sourceID)
	}
	dst := g.Object(targetID)
	if dst == nil {
		return errors.Dangling(NamespaceObject, targetID)
	}

	rel := Relation{Source: sourceID, Target: targetID, Qualifier: qualifier}
	if !g.addEdge(edgeO2O, rel) {
		return nil
	}
	g.o2o = append(g.o2o, rel)
	src.related = append(src.related, Link{ID: targetID, Qualifier: qualifier})
	if src != dst {
		dst.related = append(dst.related, Link{ID: sourceID, Qualifier: qualifier})
	}
	return nil
}

// DeriveEvent records that eventID was derived from fromID.
// Cycles are not rejected.
func (g *Graph) DeriveEvent(eventID, fromID, qualifier string) error {
	if qualifier == "" {
		qualifier = QualifierDerivedFrom
	}

	g.relMu.Lock()
	defer g.relMu.Unlock()

	ev := g.Event(eventID)
	if ev == nil {
		return errors.Dangling(NamespaceEvent, eventID)
	}
	if g.Event(fromID) == nil {
		return errors.Dangling(NamespaceEvent, fromID)
	}

	rel := Relation{Source: eventID, Target: fromID, Qualifier: qualifier}
	if !g.addEdge(edgeE2E, rel) {
		return nil
	}
	g.e2e = append(g.e2e, rel)
	ev.derivedFrom = append(ev.derivedFrom, Link{ID: fromID, Qualifier: qualifier})
	return nil
}

// RecordEvent sets the data source back-reference of an event and appends
// the event to the source's record. An event has at most one data source.
func (g *Graph) RecordEvent(eventID, dataSourceID string) error {
	g.relMu.Lock()
	defer g.relMu.Unlock()

	ev := g.Event(eventID)
	if ev == nil {
		return errors.Dangling(NamespaceEvent, eventID)
	}
	ds := g.DataSource(dataSourceID)
	if ds == nil {
		return errors.Dangling(NamespaceDataSource, dataSourceID)
	}

	if ev.dataSource != nil {
		if ev.dataSource == ds {
			return nil
		}
		return errors.Usage("event already recorded by another data source").
			WithContext("event_id", eventID).
			WithContext("data_source_id", ev.dataSource.ID)
	}

	ev.dataSource = ds
	ds.events = append(ds.events, eventID)

	switch ds.Kind {
	case InformationSystem:
		if ev.Kind == ProcessEvent {
			ds.lastEvent = eventID
		}
	case IoTDevice:
	default:
		panic("ccm: invalid DataSourceKind")
	}
	return nil
}

// SetActivity attaches an activity to a process event.
func (g *Graph) SetActivity(eventID, activityID string) error {
	g.relMu.Lock()
	defer g.relMu.Unlock()

	ev := g.Event(eventID)
	if ev == nil {
		return errors.Dangling(NamespaceEvent, eventID)
	}
	act := g.Activity(activityID)
	if act == nil {
		return errors.Dangling(NamespaceActivity, activityID)
	}

	switch ev.Kind {
	case ProcessEvent:
	case IoTEvent, Observation:
		return errors.Usage("only process events carry an activity").
			WithContext("event_id", eventID).
			WithContext("event_type", ev.Kind.Label())
	default:
		panic("ccm: invalid EventKind")
	}

	if ev.activity != nil && ev.activity != act {
		return errors.Usage("process event already has an activity").
			WithContext("event_id", eventID).
			WithContext("activity_id", ev.activity.ID)
	}
	ev.activity = act
	return nil
}

// SetObjectDataSource sets the owning data source of an object.
func (g *Graph) SetObjectDataSource(objectID, dataSourceID string) error {
	g.relMu.Lock()
	defer g.relMu.Unlock()

	obj := g.Object(objectID)
	if obj == nil {
		return errors.Dangling(NamespaceObject, objectID)
	}
	if g.DataSource(dataSourceID) == nil {
		return errors.Dangling(NamespaceDataSource, dataSourceID)
	}

	if obj.dataSource != "" && obj.dataSource != dataSourceID {
		return errors.Usage("object already owned by another data source").
			WithContext("object_id", objectID).
			WithContext("data_source_id", obj.dataSource)
	}
	obj.dataSource = dataSourceID
	return nil
}

// addEdge registers rel and reports whether it was new. Caller holds relMu.
func (g *Graph) addEdge(kind edgeKind, rel Relation) bool {
	key := edgeKey{kind: kind, rel: rel}
	if _, ok := g.edges[key]; ok {
		return false
	}
	g.edges[key] = struct{}{}
	return true
}

// --- Validation helpers ---

func prepareObject(o *Object) error {
	if o == nil {
		return errors.Usage("nil object")
	}
	if o.ID == "" {
		o.ID = NewID()
	}
	class, err := ParseObjectClass(string(o.Class))
	if err != nil {
		return err
	}
	o.Class = class
	attrs, err := o.Attributes.Normalize()
	if err != nil {
		return wrapEntity(err, NamespaceObject, o.ID)
	}
	o.Attributes = attrs
	return nil
}

func prepareEvent(e *Event) error {
	if e == nil {
		return errors.Usage("nil event")
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	if !validEventKind(e.Kind) {
		return errors.UnknownSubtype("event", strconv.Itoa(int(e.Kind))).WithContext("id", e.ID)
	}
	attrs, err := e.Attributes.Normalize()
	if err != nil {
		return wrapEntity(err, NamespaceEvent, e.ID)
	}
	e.Attributes = attrs
	return nil
}

func prepareActivity(a *Activity) error {
	if a == nil {
		return errors.Usage("nil activity")
	}
	if a.ID == "" {
		a.ID = NewID()
	}
	attrs, err := a.Attributes.Normalize()
	if err != nil {
		return wrapEntity(err, NamespaceActivity, a.ID)
	}
	a.Attributes = attrs
	return nil
}

func prepareDataSource(d *DataSource) error {
	if d == nil {
		return errors.Usage("nil data source")
	}
	if d.ID == "" {
		d.ID = NewID()
	}
	if !validDataSourceKind(d.Kind) {
		return errors.UnknownSubtype("data_source", strconv.Itoa(int(d.Kind))).WithContext("id", d.ID)
	}
	attrs, err := d.Attributes.Normalize()
	if err != nil {
		return wrapEntity(err, NamespaceDataSource, d.ID)
	}
	d.Attributes = attrs
	return nil
}

func validEventKind(k EventKind) bool {
	return k >= ProcessEvent && k <= Observation
}

func validDataSourceKind(k DataSourceKind) bool {
	return k >= InformationSystem && k <= IoTDevice
}

func wrapEntity(err error, namespace, id string) error {
	if ce, ok := err.(*errors.CCMError); ok {
		return ce.WithContext(namespace+"_id", id)
	}
	return err
}

func variantConflict(namespace, id, have, got string) error {
	return errors.New(errors.CodeInvalidDocument, "id already bound to another variant").
		WithContext("namespace", namespace).
		WithContext("id", id).
		WithContext("existing", have).
		WithContext("incoming", got)
}
