package ccm

import (
	"fmt"
	"strings"

	"github.com/logflow/ccm/pkg/errors"
)

// --- Event variants ---

// EventKind is the closed set of event variants.
type EventKind int

const (
	ProcessEvent EventKind = iota + 1
	IoTEvent
	Observation
)

// EventKinds lists every event variant in declaration order.
func EventKinds() []EventKind {
	return []EventKind{ProcessEvent, IoTEvent, Observation}
}

// Label is the human-readable event_type value ("process event").
func (k EventKind) Label() string {
	switch k {
	case ProcessEvent:
		return "process event"
	case IoTEvent:
		return "iot event"
	case Observation:
		return "observation"
	default:
		panic(fmt.Sprintf("ccm: invalid EventKind %d", int(k)))
	}
}

// Tag is the subtype value written to tabular exports ("process_event").
func (k EventKind) Tag() string {
	switch k {
	case ProcessEvent:
		return "process_event"
	case IoTEvent:
		return "iot_event"
	case Observation:
		return "observation"
	default:
		panic(fmt.Sprintf("ccm: invalid EventKind %d", int(k)))
	}
}

// Name is the query kind name ("ProcessEvent").
func (k EventKind) Name() string {
	switch k {
	case ProcessEvent:
		return "ProcessEvent"
	case IoTEvent:
		return "IoTEvent"
	case Observation:
		return "Observation"
	default:
		panic(fmt.Sprintf("ccm: invalid EventKind %d", int(k)))
	}
}

func (k EventKind) String() string {
	return k.Label()
}

// ParseEventKind accepts a label, a tag or a kind name. Anything else is a
// structural error.
func ParseEventKind(s string) (EventKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, k := range EventKinds() {
		if norm == k.Label() || norm == k.Tag() || norm == strings.ToLower(k.Name()) {
			return k, nil
		}
	}
	return 0, errors.UnknownSubtype("event", s)
}

// --- Data source variants ---

// DataSourceKind is the closed set of data source variants.
type DataSourceKind int

const (
	InformationSystem DataSourceKind = iota + 1
	IoTDevice
)

// DataSourceKinds lists every data source variant in declaration order.
func DataSourceKinds() []DataSourceKind {
	return []DataSourceKind{InformationSystem, IoTDevice}
}

// Tag is the data_source_type value ("iot_device").
func (k DataSourceKind) Tag() string {
	switch k {
	case InformationSystem:
		return "information_system"
	case IoTDevice:
		return "iot_device"
	default:
		panic(fmt.Sprintf("ccm: invalid DataSourceKind %d", int(k)))
	}
}

// Name is the query kind name ("IoTDevice").
func (k DataSourceKind) Name() string {
	switch k {
	case InformationSystem:
		return "InformationSystem"
	case IoTDevice:
		return "IoTDevice"
	default:
		panic(fmt.Sprintf("ccm: invalid DataSourceKind %d", int(k)))
	}
}

func (k DataSourceKind) String() string {
	return k.Tag()
}

// ParseDataSourceKind accepts a tag or a kind name.
func ParseDataSourceKind(s string) (DataSourceKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, k := range DataSourceKinds() {
		if norm == k.Tag() || norm == strings.ToLower(k.Name()) {
			return k, nil
		}
	}
	return 0, errors.UnknownSubtype("data_source", s)
}

// --- Object class taxonomy ---

// ObjectCategory is the top level of the object class taxonomy.
type ObjectCategory string

const (
	CategoryDataSource     ObjectCategory = "data_source"
	CategoryBusinessObject ObjectCategory = "business_object"
	CategoryGeneralObject  ObjectCategory = "general_object"
)

// ObjectClass refines an ObjectCategory.
type ObjectClass string

const (
	ClassSensor            ObjectClass = "sensor"
	ClassActuator          ObjectClass = "actuator"
	ClassInformationSystem ObjectClass = "information_system"
	ClassLink              ObjectClass = "link"

	ClassCaseObject     ObjectClass = "case_object"
	ClassMachine        ObjectClass = "machine"
	ClassBusinessObject ObjectClass = "business_object"
	ClassProcess        ObjectClass = "process"

	ClassActivity   ObjectClass = "activity"
	ClassSubprocess ObjectClass = "subprocess"
	ClassResource   ObjectClass = "resource"
)

var classCategories = map[ObjectClass]ObjectCategory{
	ClassSensor:            CategoryDataSource,
	ClassActuator:          CategoryDataSource,
	ClassInformationSystem: CategoryDataSource,
	ClassLink:              CategoryDataSource,
	ClassCaseObject:        CategoryBusinessObject,
	ClassMachine:           CategoryBusinessObject,
	ClassBusinessObject:    CategoryBusinessObject,
	ClassProcess:           CategoryBusinessObject,
	ClassActivity:          CategoryGeneralObject,
	ClassSubprocess:        CategoryGeneralObject,
	ClassResource:          CategoryGeneralObject,
}

// Category returns the taxonomy category of c.
func (c ObjectClass) Category() ObjectCategory {
	return classCategories[c]
}

// Valid reports whether c belongs to the taxonomy.
func (c ObjectClass) Valid() bool {
	_, ok := classCategories[c]
	return ok
}

// ParseObjectClass parses a class name. The empty string yields the
// default class.
func ParseObjectClass(s string) (ObjectClass, error) {
	norm := ObjectClass(strings.ToLower(strings.TrimSpace(s)))
	if norm == "" {
		return ClassBusinessObject, nil
	}
	if !norm.Valid() {
		return "", errors.UnknownSubtype("object_class", s)
	}
	return norm, nil
}
