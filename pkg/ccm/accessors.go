package ccm

// --- Collections ---

// Objects returns all objects in insertion order.
func (g *Graph) Objects() []*Object {
	g.objMu.RLock()
	defer g.objMu.RUnlock()
	return append([]*Object(nil), g.objects...)
}

// Events returns all events in insertion order.
func (g *Graph) Events() []*Event {
	g.evMu.RLock()
	defer g.evMu.RUnlock()
	return append([]*Event(nil), g.events...)
}

// EventsOfKind returns the events of one variant in insertion order.
func (g *Graph) EventsOfKind(kind EventKind) []*Event {
	g.evMu.RLock()
	defer g.evMu.RUnlock()

	var out []*Event
	for _, e := range g.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ProcessEvents returns all process events.
func (g *Graph) ProcessEvents() []*Event { return g.EventsOfKind(ProcessEvent) }

// IoTEvents returns all IoT events.
func (g *Graph) IoTEvents() []*Event { return g.EventsOfKind(IoTEvent) }

// Observations returns all observation events.
func (g *Graph) Observations() []*Event { return g.EventsOfKind(Observation) }

// Activities returns all activities in insertion order.
func (g *Graph) Activities() []*Activity {
	g.actMu.RLock()
	defer g.actMu.RUnlock()
	return append([]*Activity(nil), g.activities...)
}

// DataSources returns all data sources in insertion order.
func (g *Graph) DataSources() []*DataSource {
	g.dsMu.RLock()
	defer g.dsMu.RUnlock()
	return append([]*DataSource(nil), g.dataSources...)
}

// DataSourcesOfKind returns the data sources of one variant.
func (g *Graph) DataSourcesOfKind(kind DataSourceKind) []*DataSource {
	g.dsMu.RLock()
	defer g.dsMu.RUnlock()

	var out []*DataSource
	for _, d := range g.dataSources {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// InformationSystems returns all information systems.
func (g *Graph) InformationSystems() []*DataSource { return g.DataSourcesOfKind(InformationSystem) }

// IoTDevices returns all IoT devices.
func (g *Graph) IoTDevices() []*DataSource { return g.DataSourcesOfKind(IoTDevice) }

// --- Lookups ---

// Object returns the object with id, or nil.
func (g *Graph) Object(id string) *Object {
	g.objMu.RLock()
	defer g.objMu.RUnlock()
	return g.objectIdx[id]
}

// Event returns the event with id, or nil.
func (g *Graph) Event(id string) *Event {
	g.evMu.RLock()
	defer g.evMu.RUnlock()
	return g.eventIdx[id]
}

// Activity returns the activity with id, or nil.
func (g *Graph) Activity(id string) *Activity {
	g.actMu.RLock()
	defer g.actMu.RUnlock()
	return g.activityIdx[id]
}

// DataSource returns the data source with id, or nil.
func (g *Graph) DataSource(id string) *DataSource {
	g.dsMu.RLock()
	defer g.dsMu.RUnlock()
	return g.dataSourceIdx[id]
}

// --- Traversal ---

// ObjectsOf returns the distinct objects related to an event, in insertion
// order.
func (g *Graph) ObjectsOf(e *Event) []*Object {
	ids := e.ObjectIDs()
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		if o := g.Object(id); o != nil {
			out = append(out, o)
		}
	}
	return out
}

// EventsOf returns the events related to an object.
func (g *Graph) EventsOf(o *Object) []*Event {
	out := make([]*Event, 0, len(o.events))
	for _, id := range o.events {
		if e := g.Event(id); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// RelatedObjects returns the objects linked to o by o2o edges.
func (g *Graph) RelatedObjects(o *Object) []*Object {
	out := make([]*Object, 0, len(o.related))
	for _, l := range o.related {
		if r := g.Object(l.ID); r != nil {
			out = append(out, r)
		}
	}
	return out
}

// DerivedFrom returns the events e was derived from.
func (g *Graph) DerivedFrom(e *Event) []*Event {
	out := make([]*Event, 0, len(e.derivedFrom))
	for _, l := range e.derivedFrom {
		if src := g.Event(l.ID); src != nil {
			out = append(out, src)
		}
	}
	return out
}

// --- Edge lists ---

// O2O returns the object-object edges in insertion order.
func (g *Graph) O2O() []Relation {
	g.relMu.RLock()
	defer g.relMu.RUnlock()
	return append([]Relation(nil), g.o2o...)
}

// E2O returns the event-object edges in insertion order.
func (g *Graph) E2O() []Relation {
	g.relMu.RLock()
	defer g.relMu.RUnlock()
	return append([]Relation(nil), g.e2o...)
}

// E2E returns the event-event edges in insertion order.
func (g *Graph) E2E() []Relation {
	g.relMu.RLock()
	defer g.relMu.RUnlock()
	return append([]Relation(nil), g.e2e...)
}
