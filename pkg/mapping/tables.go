// Package mapping converts between the entity graph and its normalized
// tabular form: two entity tables (events, objects) and three relationship
// tables (e2o, o2o, e2e) of (source, target, qualifier) rows.
//
// Activities and data sources are normalized into object rows under reserved
// type tags. Their links travel as e2o and o2o rows under reserved
// qualifiers, so no downstream consumer has to special-case them.
package mapping

import (
	"fmt"
	"strings"

	"github.com/logflow/ccm/pkg/table"
)

// Table names.
const (
	TableEvents  = "events"
	TableObjects = "objects"
	TableE2O     = "e2o"
	TableO2O     = "o2o"
	TableE2E     = "e2e"
)

// Reserved columns.
const (
	ColEventID    = "ccm:eid"
	ColEventType  = "ccm:event_type"
	ColEventClass = "ccm:event_class"
	ColActivity   = "ccm:activity"
	ColTimestamp  = "ccm:timestamp"

	ColObjectID    = "ccm:oid"
	ColObjectType  = "ccm:type"
	ColObjectClass = "ccm:object_class"
	ColName        = "ccm:name"

	ColSource    = "ccm:source"
	ColTarget    = "ccm:target"
	ColQualifier = "ccm:qualifier"

	// AttrPrefix prefixes every attribute column.
	AttrPrefix = "ccm:attr:"
)

// Reserved object type tags for normalized non-object entities.
const (
	TypeInformationSystem = "ccm:information_system"
	TypeIoTDevice         = "ccm:iot_device"
	TypeActivity          = "ccm:activity"
)

// Reserved relationship qualifiers.
const (
	QualifierDataSource = "ccm:data_source" // e2o: event -> data source
	QualifierActivity   = "ccm:activity"    // e2o: process event -> activity
	QualifierOwnedBy    = "ccm:owned_by"    // o2o: object -> owning data source
)

// ReservedPrefix marks names owned by the mapping.
const ReservedPrefix = "ccm:"

// Tables is the normalized tabular form of a graph.
type Tables struct {
	Events  *table.Table
	Objects *table.Table
	E2O     *table.Table
	O2O     *table.Table
	E2E     *table.Table
}

// NewTables creates empty tables with their reserved columns.
func NewTables() *Tables {
	return &Tables{
		Events:  table.New(TableEvents, ColEventID, ColEventType, ColEventClass, ColActivity, ColTimestamp),
		Objects: table.New(TableObjects, ColObjectID, ColObjectType, ColObjectClass, ColName),
		E2O:     table.New(TableE2O, ColSource, ColTarget, ColQualifier),
		O2O:     table.New(TableO2O, ColSource, ColTarget, ColQualifier),
		E2E:     table.New(TableE2E, ColSource, ColTarget, ColQualifier),
	}
}

// List returns the tables in canonical order.
func (t *Tables) List() []*table.Table {
	return []*table.Table{t.Events, t.Objects, t.E2O, t.O2O, t.E2E}
}

// FromList assembles Tables from tables identified by name. Missing
// relationship tables are treated as empty; missing entity tables are an
// error.
func FromList(list []*table.Table) (*Tables, error) {
	out := &Tables{}
	for _, t := range list {
		switch strings.ToLower(t.Name) {
		case TableEvents:
			out.Events = t
		case TableObjects:
			out.Objects = t
		case TableE2O:
			out.E2O = t
		case TableO2O:
			out.O2O = t
		case TableE2E:
			out.E2E = t
		default:
			return nil, fmt.Errorf("unexpected table %q", t.Name)
		}
	}
	if out.Events == nil || out.Objects == nil {
		return nil, fmt.Errorf("tables %q and %q are required", TableEvents, TableObjects)
	}
	if out.E2O == nil {
		out.E2O = table.New(TableE2O, ColSource, ColTarget, ColQualifier)
	}
	if out.O2O == nil {
		out.O2O = table.New(TableO2O, ColSource, ColTarget, ColQualifier)
	}
	if out.E2E == nil {
		out.E2E = table.New(TableE2E, ColSource, ColTarget, ColQualifier)
	}
	return out, nil
}

// AttrColumn returns the column name for an attribute key.
func AttrColumn(key string) string {
	return AttrPrefix + key
}

// AttrKey returns the attribute key of a column and whether the column is an
// attribute column.
func AttrKey(column string) (string, bool) {
	if !strings.HasPrefix(column, AttrPrefix) {
		return "", false
	}
	return strings.TrimPrefix(column, AttrPrefix), true
}
