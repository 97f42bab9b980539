// Package query implements the restricted query language over an entity
// graph:
//
//	SELECT (* | field {, field}) FROM Kind [WHERE expr]
//
// Queries are lexed and parsed into a small AST and evaluated by an
// interpreter over a closed operator set. A failure to evaluate one
// candidate excludes that candidate and is reported as a diagnostic.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/materialize"
	"github.com/logflow/ccm/pkg/table"
	"github.com/logflow/ccm/pkg/telemetry"
)

// Mode selects the result shape.
type Mode string

const (
	ClassReference Mode = "class_reference"
	ExtendedTable  Mode = "extended_table"
)

// ParseMode parses a result mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ClassReference:
		return ClassReference, nil
	case ExtendedTable:
		return ExtendedTable, nil
	default:
		return "", errors.Usage("unknown result mode %q", s).
			WithContext("valid", []string{string(ClassReference), string(ExtendedTable)})
	}
}

// Binding is one matched candidate. For event kinds Object and DataSource
// may be nil; for other kinds only the entity of the FROM kind is set.
type Binding struct {
	Event      *ccm.Event
	Object     *ccm.Object
	Activity   *ccm.Activity
	DataSource *ccm.DataSource
}

// Result is the outcome of a query.
type Result struct {
	Mode   Mode
	Kind   Kind
	Fields []string

	// References groups the ids of matched FROM-kind entities by concrete
	// kind name, deduplicated, in collection order. Matched keeps the same
	// ids across groups in collection order.
	References map[Kind][]string
	Matched    []string

	Bindings []Binding

	// Table is set in ExtendedTable mode.
	Table *table.Table

	Diagnostics []errors.Diagnostic
}

// Count returns the number of distinct matched entities.
func (r *Result) Count() int { return len(r.Matched) }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for candidate diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPlanCache replaces the default plan cache.
func WithPlanCache(c *PlanCache) Option {
	return func(e *Engine) { e.cache = c }
}

// Engine runs queries against a finished graph. Queries never mutate the
// graph, and an Engine is safe for concurrent use while no writer mutates
// the graph.
type Engine struct {
	g      *ccm.Graph
	cache  *PlanCache
	logger logrus.FieldLogger
}

// Default plan cache bounds.
const (
	DefaultPlanCacheSize = 256
	DefaultPlanCacheTTL  = 10 * time.Minute
)

// NewEngine creates an engine over g.
func NewEngine(g *ccm.Graph, opts ...Option) *Engine {
	e := &Engine{
		g:      g,
		cache:  NewPlanCache(DefaultPlanCacheSize, DefaultPlanCacheTTL),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CacheStats returns plan cache statistics.
func (e *Engine) CacheStats() CacheStats { return e.cache.Stats() }

// Prepare parses q, consulting the plan cache.
func (e *Engine) Prepare(q string) (*Select, error) {
	if stmt, ok := e.cache.Get(q); ok {
		return stmt, nil
	}
	stmt, err := Parse(q)
	if err != nil {
		return nil, err
	}
	e.cache.Put(q, stmt)
	return stmt, nil
}

// Query parses and evaluates q in the given mode.
func (e *Engine) Query(ctx context.Context, q string, mode Mode) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "query.Query",
		attribute.String("ccm.query", q),
		attribute.String("ccm.mode", string(mode)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if mode != ClassReference && mode != ExtendedTable {
		return nil, errors.Usage("unknown result mode %q", mode)
	}
	stmt, err := e.Prepare(q)
	if err != nil {
		return nil, err
	}
	if mode == ExtendedTable && !stmt.From.IsEvent() {
		return nil, errors.Usage("%s mode requires FROM Event, got FROM %s", ExtendedTable, stmt.From).
			WithContext("query", q)
	}

	res = &Result{
		Mode:       mode,
		Kind:       stmt.From,
		References: make(map[Kind][]string),
	}
	if !stmt.Star {
		for _, f := range stmt.Fields {
			res.Fields = append(res.Fields, f.String())
		}
	}

	if err := e.run(ctx, stmt, res); err != nil {
		return nil, err
	}

	if mode == ExtendedTable {
		pairs := make([]materialize.Pair, len(res.Bindings))
		for i, b := range res.Bindings {
			pairs[i] = materialize.Pair{Event: b.Event, Object: b.Object}
		}
		t := materialize.FromBindings(e.g, pairs)
		if !stmt.Star {
			t, err = project(t, stmt.Fields)
			if err != nil {
				return nil, err
			}
		}
		res.Table = t
	}

	span.SetAttributes(
		attribute.Int("ccm.matched", len(res.Matched)),
		attribute.Int("ccm.diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}

// run evaluates every candidate of the FROM kind.
func (e *Engine) run(ctx context.Context, stmt *Select, res *Result) error {
	ev := newEvaluator()
	seen := make(map[string]struct{})
	n := 0

	consider := func(b binding, match Binding, ref Kind, id string) error {
		n++
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ok := true
		if stmt.Where != nil {
			var err error
			ok, err = ev.eval(stmt.Where, b)
			if err != nil {
				e.diagnose(res, id, match, err)
				return nil
			}
		}
		if !ok {
			return nil
		}
		res.Bindings = append(res.Bindings, match)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			res.Matched = append(res.Matched, id)
			res.References[ref] = append(res.References[ref], id)
		}
		return nil
	}

	switch {
	case stmt.From.IsEvent():
		variant, filtered := stmt.From.eventKind()
		for _, evt := range e.g.Events() {
			if filtered && evt.Kind != variant {
				continue
			}
			alias := eventAlias(evt.Kind)
			ds := evt.DataSource()
			act := evt.Activity()

			b := binding{KindEvent: evt, alias: evt, KindObject: nil, KindDataSource: nil}
			if ds != nil {
				b[KindDataSource] = ds
				b[dataSourceAlias(ds.Kind)] = ds
			}
			if evt.Kind == ccm.ProcessEvent {
				b[KindActivity] = nil
				if act != nil {
					b[KindActivity] = act
				}
			}

			objects := e.g.ObjectsOf(evt)
			if len(objects) == 0 {
				if err := consider(b, Binding{Event: evt, Activity: act, DataSource: ds}, alias, evt.ID); err != nil {
					return err
				}
				continue
			}
			for _, o := range objects {
				b[KindObject] = o
				if err := consider(b, Binding{Event: evt, Object: o, Activity: act, DataSource: ds}, alias, evt.ID); err != nil {
					return err
				}
			}
		}

	case stmt.From == KindObject:
		for _, o := range e.g.Objects() {
			if err := consider(binding{KindObject: o}, Binding{Object: o}, KindObject, o.ID); err != nil {
				return err
			}
		}

	case stmt.From == KindActivity:
		for _, a := range e.g.Activities() {
			if err := consider(binding{KindActivity: a}, Binding{Activity: a}, KindActivity, a.ID); err != nil {
				return err
			}
		}

	default:
		var sources []*ccm.DataSource
		switch stmt.From {
		case KindDataSource:
			sources = e.g.DataSources()
		case KindInformationSystem:
			sources = e.g.InformationSystems()
		case KindIoTDevice:
			sources = e.g.IoTDevices()
		default:
			return errors.Usage("unsupported kind %s", stmt.From)
		}
		for _, d := range sources {
			alias := dataSourceAlias(d.Kind)
			b := binding{KindDataSource: d, alias: d}
			if err := consider(b, Binding{DataSource: d}, alias, d.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) diagnose(res *Result, id string, match Binding, err error) {
	subject := id
	if match.Object != nil {
		subject += " x " + match.Object.ID
	}
	res.Diagnostics = append(res.Diagnostics, errors.DiagnosticFrom(subject, err))
	e.logger.WithFields(logrus.Fields{
		"candidate": subject,
		"code":      errors.GetCode(err),
	}).WithError(err).Debug("candidate excluded")
}

// project narrows an extended table to the selected fields. A bare field
// maps to its core column when one exists; a kind-qualified field maps to
// the core column of that kind, or to the kind's attribute prefix.
// Columns absent from every row are emitted as all-null columns.
func project(t *table.Table, fields []FieldRef) (*table.Table, error) {
	out := t.Clone()
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		col := columnFor(f)
		if !out.HasColumn(col) {
			out.AddColumn(col)
		}
		cols = append(cols, col)
	}
	return out.Project(cols)
}

func columnFor(f FieldRef) string {
	if !f.Qualified {
		if core := "ccm:" + f.Field; isCoreColumn(core) {
			return core
		}
		return materialize.PrefixEvent + f.Field
	}

	switch f.Kind {
	case KindEvent, KindProcessEvent, KindIoTEvent, KindObservation:
		switch f.Field {
		case "event_id", "event_type", "event_class", "timestamp":
			return "ccm:" + f.Field
		case "activity_id", "activity_type":
			return "ccm:" + f.Field
		case "data_source_id", "data_source_type":
			return "ccm:" + f.Field
		}
		return materialize.PrefixEvent + f.Field
	case KindObject:
		switch f.Field {
		case "object_id", "object_type", "object_class":
			return "ccm:" + f.Field
		}
		return materialize.PrefixObject + f.Field
	case KindDataSource, KindInformationSystem, KindIoTDevice:
		switch f.Field {
		case "data_source_id", "data_source_type":
			return "ccm:" + f.Field
		}
		return materialize.PrefixDataSource + f.Field
	case KindActivity:
		switch f.Field {
		case "activity_id", "activity_type":
			return "ccm:" + f.Field
		}
		return materialize.PrefixActivity + f.Field
	default:
		panic("query: invalid Kind")
	}
}

func isCoreColumn(col string) bool {
	for _, c := range materialize.CoreColumns() {
		if c == col {
			return true
		}
	}
	return false
}
