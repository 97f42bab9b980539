package mapping

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/ccm/pkg/ccm"
	"github.com/logflow/ccm/pkg/errors"
	"github.com/logflow/ccm/pkg/telemetry"
)

// LinkKind identifies the relationship table a link came from.
type LinkKind int

const (
	LinkE2O LinkKind = iota
	LinkO2O
	LinkE2E
)

func (k LinkKind) String() string {
	switch k {
	case LinkE2O:
		return TableE2O
	case LinkO2O:
		return TableO2O
	case LinkE2E:
		return TableE2E
	default:
		return "unknown"
	}
}

// Link is a staged relationship row.
type Link struct {
	Kind      LinkKind
	Source    string
	Target    string
	Qualifier string
}

// Batch holds staged entities and relationship rows. Entities are upserted
// first; links are then resolved in order against the complete id space.
type Batch struct {
	Objects     []*ccm.Object
	Events      []*ccm.Event
	Activities  []*ccm.Activity
	DataSources []*ccm.DataSource
	Links       []Link

	// ActivityLabels maps a process event id to an activity label given
	// without an explicit activity link.
	ActivityLabels map[string]string
}

// ImplicitActivityID is the id given to an activity created from a bare
// label.
func ImplicitActivityID(label string) string {
	return "activity:" + label
}

// Report summarizes an import.
type Report struct {
	Objects     int
	Events      int
	Activities  int
	DataSources int

	E2O           int
	O2O           int
	E2E           int
	Recorded      int // event -> data source links
	ActivityLinks int // process event -> activity links
	Owned         int // object -> data source links

	Dropped     int
	Diagnostics []errors.Diagnostic
}

// Option configures Import and Apply.
type Option func(*options)

type options struct {
	strict bool
	logger logrus.FieldLogger
}

// WithStrict makes any relationship that would be dropped abort the import
// before the graph is modified.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// WithLogger sets the logger for dropped-relationship diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: logrus.StandardLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Apply upserts the batch into g and resolves its links sequentially.
//
// Structural problems (a staged id bound to another variant) abort before
// anything is applied. A link naming a nonexistent id is dropped with a
// diagnostic unless WithStrict is set, in which case the whole batch is
// rejected up front.
func Apply(ctx context.Context, g *ccm.Graph, b *Batch, opts ...Option) (report *Report, err error) {
	ctx, span := telemetry.StartSpan(ctx, "mapping.Apply")
	defer func() { telemetry.EndSpan(span, err) }()

	o := buildOptions(opts)

	if err := checkVariants(g, b); err != nil {
		return nil, err
	}
	if o.strict {
		if err := checkLinks(g, b); err != nil {
			return nil, err
		}
	}

	report = &Report{}
	for _, obj := range b.Objects {
		if _, err := g.UpsertObject(obj); err != nil {
			return report, err
		}
		report.Objects++
	}
	for _, d := range b.DataSources {
		if _, err := g.UpsertDataSource(d); err != nil {
			return report, err
		}
		report.DataSources++
	}
	for _, a := range b.Activities {
		if _, err := g.UpsertActivity(a); err != nil {
			return report, err
		}
		report.Activities++
	}
	for _, e := range b.Events {
		if _, err := g.UpsertEvent(e); err != nil {
			return report, err
		}
		report.Events++
	}

	for i, l := range b.Links {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return report, err
			}
		}
		if err := applyLink(g, l, report); err != nil {
			report.drop(ctx, o.logger, l, err)
		}
	}

	for _, e := range b.Events {
		label, ok := b.ActivityLabels[e.ID]
		if !ok {
			continue
		}
		ev := g.Event(e.ID)
		if ev == nil || ev.Kind != ccm.ProcessEvent || ev.Activity() != nil {
			continue
		}
		act, err := g.UpsertActivity(ccm.NewActivity(ImplicitActivityID(label), label))
		if err != nil {
			return report, err
		}
		if err := g.SetActivity(ev.ID, act.ID); err != nil {
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("ccm.events", report.Events),
		attribute.Int("ccm.objects", report.Objects),
		attribute.Int("ccm.dropped", report.Dropped),
	)
	return report, nil
}

func applyLink(g *ccm.Graph, l Link, r *Report) error {
	switch l.Kind {
	case LinkE2O:
		switch l.Qualifier {
		case QualifierDataSource:
			if err := g.RecordEvent(l.Source, l.Target); err != nil {
				return err
			}
			r.Recorded++
		case QualifierActivity:
			if err := g.SetActivity(l.Source, l.Target); err != nil {
				return err
			}
			r.ActivityLinks++
		default:
			if err := g.RelateEventObject(l.Source, l.Target, l.Qualifier); err != nil {
				return err
			}
			r.E2O++
		}
	case LinkO2O:
		if l.Qualifier == QualifierOwnedBy {
			if err := g.SetObjectDataSource(l.Source, l.Target); err != nil {
				return err
			}
			r.Owned++
			return nil
		}
		if err := g.RelateObjects(l.Source, l.Target, l.Qualifier); err != nil {
			return err
		}
		r.O2O++
	case LinkE2E:
		if err := g.DeriveEvent(l.Source, l.Target, l.Qualifier); err != nil {
			return err
		}
		r.E2E++
	default:
		return errors.Usage("unknown link kind %d", int(l.Kind))
	}
	return nil
}

func (r *Report) drop(ctx context.Context, logger logrus.FieldLogger, l Link, err error) {
	r.Dropped++
	subject := l.Kind.String() + " " + l.Source + " -> " + l.Target
	r.Diagnostics = append(r.Diagnostics, errors.DiagnosticFrom(subject, err))
	telemetry.AddSpanEvent(ctx, "relationship.dropped",
		attribute.String("table", l.Kind.String()),
		attribute.String("code", string(errors.GetCode(err))),
	)
	logger.WithFields(logrus.Fields{
		"table":     l.Kind.String(),
		"source":    l.Source,
		"target":    l.Target,
		"qualifier": l.Qualifier,
		"code":      errors.GetCode(err),
	}).Warn("dropped relationship")
}

// checkVariants rejects ids staged under two variants, or staged under a
// variant other than the one already in the graph.
func checkVariants(g *ccm.Graph, b *Batch) error {
	events := make(map[string]ccm.EventKind, len(b.Events))
	for _, e := range b.Events {
		if prev, ok := events[e.ID]; ok && prev != e.Kind {
			return variantError(ccm.NamespaceEvent, e.ID, prev.Tag(), e.Kind.Tag())
		}
		events[e.ID] = e.Kind
		if existing := g.Event(e.ID); existing != nil && existing.Kind != e.Kind {
			return variantError(ccm.NamespaceEvent, e.ID, existing.Kind.Tag(), e.Kind.Tag())
		}
	}

	sources := make(map[string]ccm.DataSourceKind, len(b.DataSources))
	for _, d := range b.DataSources {
		if prev, ok := sources[d.ID]; ok && prev != d.Kind {
			return variantError(ccm.NamespaceDataSource, d.ID, prev.Tag(), d.Kind.Tag())
		}
		sources[d.ID] = d.Kind
		if existing := g.DataSource(d.ID); existing != nil && existing.Kind != d.Kind {
			return variantError(ccm.NamespaceDataSource, d.ID, existing.Kind.Tag(), d.Kind.Tag())
		}
	}
	return nil
}

func variantError(namespace, id, have, got string) error {
	return errors.New(errors.CodeInvalidDocument, "id staged under conflicting variants").
		WithContext("namespace", namespace).
		WithContext("id", id).
		WithContext("first", have).
		WithContext("second", got)
}

// checkLinks verifies every link against the id space of the graph plus
// the batch, without touching the graph.
func checkLinks(g *ccm.Graph, b *Batch) error {
	objects := make(map[string]struct{}, len(b.Objects))
	for _, o := range b.Objects {
		objects[o.ID] = struct{}{}
	}
	events := make(map[string]ccm.EventKind, len(b.Events))
	for _, e := range b.Events {
		events[e.ID] = e.Kind
	}
	activities := make(map[string]struct{}, len(b.Activities))
	for _, a := range b.Activities {
		activities[a.ID] = struct{}{}
	}
	sources := make(map[string]struct{}, len(b.DataSources))
	for _, d := range b.DataSources {
		sources[d.ID] = struct{}{}
	}

	hasObject := func(id string) bool {
		_, ok := objects[id]
		return ok || g.Object(id) != nil
	}
	eventKind := func(id string) (ccm.EventKind, bool) {
		if k, ok := events[id]; ok {
			return k, true
		}
		if e := g.Event(id); e != nil {
			return e.Kind, true
		}
		return 0, false
	}
	hasActivity := func(id string) bool {
		_, ok := activities[id]
		return ok || g.Activity(id) != nil
	}
	hasSource := func(id string) bool {
		_, ok := sources[id]
		return ok || g.DataSource(id) != nil
	}

	var errs errors.MultiError
	for _, l := range b.Links {
		switch l.Kind {
		case LinkE2O:
			kind, ok := eventKind(l.Source)
			if !ok {
				errs.Add(errors.Dangling(ccm.NamespaceEvent, l.Source))
				continue
			}
			switch l.Qualifier {
			case QualifierDataSource:
				if !hasSource(l.Target) {
					errs.Add(errors.Dangling(ccm.NamespaceDataSource, l.Target))
				}
			case QualifierActivity:
				if !hasActivity(l.Target) {
					errs.Add(errors.Dangling(ccm.NamespaceActivity, l.Target))
				} else if kind != ccm.ProcessEvent {
					errs.Add(errors.Usage("only process events carry an activity").WithContext("event_id", l.Source))
				}
			default:
				if !hasObject(l.Target) {
					errs.Add(errors.Dangling(ccm.NamespaceObject, l.Target))
				}
			}
		case LinkO2O:
			if !hasObject(l.Source) {
				errs.Add(errors.Dangling(ccm.NamespaceObject, l.Source))
			} else if l.Qualifier == QualifierOwnedBy {
				if !hasSource(l.Target) {
					errs.Add(errors.Dangling(ccm.NamespaceDataSource, l.Target))
				}
			} else if !hasObject(l.Target) {
				errs.Add(errors.Dangling(ccm.NamespaceObject, l.Target))
			}
		case LinkE2E:
			if _, ok := eventKind(l.Source); !ok {
				errs.Add(errors.Dangling(ccm.NamespaceEvent, l.Source))
			} else if _, ok := eventKind(l.Target); !ok {
				errs.Add(errors.Dangling(ccm.NamespaceEvent, l.Target))
			}
		}
	}
	return errs.Combined()
}
