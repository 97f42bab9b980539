package ccm

import (
	"fmt"
	"time"
)

// Stats summarizes a graph.
type Stats struct {
	Objects     int `json:"objects" yaml:"objects"`
	Events      int `json:"events" yaml:"events"`
	Activities  int `json:"activities" yaml:"activities"`
	DataSources int `json:"data_sources" yaml:"data_sources"`

	O2O int `json:"o2o" yaml:"o2o"`
	E2O int `json:"e2o" yaml:"e2o"`
	E2E int `json:"e2e" yaml:"e2e"`

	EventsByType      map[string]int `json:"events_by_type" yaml:"events_by_type"`
	EventsByClass     map[string]int `json:"events_by_class" yaml:"events_by_class"`
	ObjectsByType     map[string]int `json:"objects_by_type" yaml:"objects_by_type"`
	DataSourcesByType map[string]int `json:"data_sources_by_type" yaml:"data_sources_by_type"`

	TimeRange struct {
		Min time.Time `json:"min" yaml:"min"`
		Max time.Time `json:"max" yaml:"max"`
	} `json:"time_range" yaml:"time_range"`
}

// Stats computes a summary of the graph.
func (g *Graph) Stats() Stats {
	s := Stats{
		EventsByType:      make(map[string]int),
		EventsByClass:     make(map[string]int),
		ObjectsByType:     make(map[string]int),
		DataSourcesByType: make(map[string]int),
	}

	for _, o := range g.Objects() {
		s.Objects++
		s.ObjectsByType[o.Type]++
	}
	for _, e := range g.Events() {
		s.Events++
		s.EventsByType[e.Kind.Label()]++
		if e.Class != "" {
			s.EventsByClass[e.Class]++
		}
		if e.Timestamp.IsZero() {
			continue
		}
		if s.TimeRange.Min.IsZero() || e.Timestamp.Before(s.TimeRange.Min) {
			s.TimeRange.Min = e.Timestamp
		}
		if e.Timestamp.After(s.TimeRange.Max) {
			s.TimeRange.Max = e.Timestamp
		}
	}
	s.Activities = len(g.Activities())
	for _, d := range g.DataSources() {
		s.DataSources++
		s.DataSourcesByType[d.Kind.Tag()]++
	}

	g.relMu.RLock()
	s.O2O, s.E2O, s.E2E = len(g.o2o), len(g.e2o), len(g.e2e)
	g.relMu.RUnlock()

	return s
}

// Validate checks the edge lists and back-references for ids missing from
// their namespace. Graphs built through the Graph API always validate.
func (g *Graph) Validate() []string {
	var problems []string

	for _, r := range g.O2O() {
		if g.Object(r.Source) == nil {
			problems = append(problems, fmt.Sprintf("o2o: source object %s not found", r.Source))
		}
		if g.Object(r.Target) == nil {
			problems = append(problems, fmt.Sprintf("o2o: target object %s not found", r.Target))
		}
	}
	for _, r := range g.E2O() {
		if g.Event(r.Source) == nil {
			problems = append(problems, fmt.Sprintf("e2o: event %s not found", r.Source))
		}
		if g.Object(r.Target) == nil {
			problems = append(problems, fmt.Sprintf("e2o: object %s not found", r.Target))
		}
	}
	for _, r := range g.E2E() {
		if g.Event(r.Source) == nil {
			problems = append(problems, fmt.Sprintf("e2e: event %s not found", r.Source))
		}
		if g.Event(r.Target) == nil {
			problems = append(problems, fmt.Sprintf("e2e: source event %s not found", r.Target))
		}
	}
	for _, o := range g.Objects() {
		if o.dataSource != "" && g.DataSource(o.dataSource) == nil {
			problems = append(problems, fmt.Sprintf("object %s: data source %s not found", o.ID, o.dataSource))
		}
	}
	for _, e := range g.Events() {
		if e.activity != nil && e.Kind != ProcessEvent {
			problems = append(problems, fmt.Sprintf("event %s: activity on %s", e.ID, e.Kind.Label()))
		}
	}

	return problems
}
