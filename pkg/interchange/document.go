// Package interchange reads and writes the structured interchange document
// and loads it into an entity graph.
//
// A document carries one array per entity group and one per relationship
// kind. Loading fans the entity groups out to parallel workers, waits for
// all of them, and only then resolves relationships sequentially, because
// an edge may name an id from any group.
package interchange

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the interchange document.
type Document struct {
	Objects            []ObjectRecord      `json:"objects,omitempty" yaml:"objects,omitempty" validate:"dive"`
	IoTEvents          []EventRecord       `json:"iot_events,omitempty" yaml:"iot_events,omitempty" validate:"dive"`
	ProcessEvents      []EventRecord       `json:"process_events,omitempty" yaml:"process_events,omitempty" validate:"dive"`
	IoTDevices         []DeviceRecord      `json:"iot_devices,omitempty" yaml:"iot_devices,omitempty" validate:"dive"`
	Observations       []ObservationRecord `json:"observations,omitempty" yaml:"observations,omitempty" validate:"dive"`
	InformationSystems []SystemRecord      `json:"information_systems,omitempty" yaml:"information_systems,omitempty" validate:"dive"`

	ObjectObject    []O2ORecord  `json:"object_object_relationships,omitempty" yaml:"object_object_relationships,omitempty" validate:"dive"`
	EventObject     []E2ORecord  `json:"event_object_relationships,omitempty" yaml:"event_object_relationships,omitempty" validate:"dive"`
	EventEvent      []E2ERecord  `json:"event_event_relationships,omitempty" yaml:"event_event_relationships,omitempty" validate:"dive"`
	EventDataSource []E2DSRecord `json:"event_data_source_relationships,omitempty" yaml:"event_data_source_relationships,omitempty" validate:"dive"`
}

// ObjectRecord describes an object.
type ObjectRecord struct {
	ObjectID     string         `json:"object_id" yaml:"object_id" validate:"required"`
	ObjectType   string         `json:"object_type" yaml:"object_type" validate:"required"`
	ObjectClass  string         `json:"object_class,omitempty" yaml:"object_class,omitempty"`
	DataSourceID string         `json:"data_source_id,omitempty" yaml:"data_source_id,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// EventRecord describes an IoT event or a process event. EventType is the
// free-form event class.
type EventRecord struct {
	EventID    string         `json:"event_id" yaml:"event_id" validate:"required"`
	EventType  string         `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Timestamp  string         `json:"timestamp" yaml:"timestamp" validate:"required"`
	Activity   *ActivityRef   `json:"activity,omitempty" yaml:"activity,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ObservationRecord describes a measurement taken by an IoT device.
type ObservationRecord struct {
	ObservationID    string         `json:"observation_id,omitempty" yaml:"observation_id,omitempty" validate:"required_without=EventID"`
	EventID          string         `json:"event_id,omitempty" yaml:"event_id,omitempty" validate:"required_without=ObservationID"`
	EventType        string         `json:"event_type,omitempty" yaml:"event_type,omitempty"`
	Timestamp        string         `json:"timestamp" yaml:"timestamp" validate:"required"`
	IoTDeviceID      string         `json:"iot_device_id,omitempty" yaml:"iot_device_id,omitempty"`
	ObservedProperty string         `json:"observed_property,omitempty" yaml:"observed_property,omitempty"`
	Value            any            `json:"value,omitempty" yaml:"value,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ID returns the observation id, falling back to the event id.
func (r ObservationRecord) ID() string {
	if r.ObservationID != "" {
		return r.ObservationID
	}
	return r.EventID
}

// DeviceRecord describes an IoT device.
type DeviceRecord struct {
	DeviceID   string         `json:"device_id" yaml:"device_id" validate:"required"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// SystemRecord describes an information system.
type SystemRecord struct {
	ISID       string         `json:"is_id" yaml:"is_id" validate:"required"`
	SystemName string         `json:"system_name,omitempty" yaml:"system_name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// O2ORecord relates two objects.
type O2ORecord struct {
	ObjectID        string `json:"object_id" yaml:"object_id" validate:"required"`
	RelatedObjectID string `json:"related_object_id" yaml:"related_object_id" validate:"required"`
	Qualifier       string `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
}

// E2ORecord relates an event to an object.
type E2ORecord struct {
	EventID   string `json:"event_id" yaml:"event_id" validate:"required"`
	ObjectID  string `json:"object_id" yaml:"object_id" validate:"required"`
	Qualifier string `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
}

// E2ERecord records that an event was derived from another.
type E2ERecord struct {
	EventID            string `json:"event_id" yaml:"event_id" validate:"required"`
	DerivedFromEventID string `json:"derived_from_event_id" yaml:"derived_from_event_id" validate:"required"`
	Qualifier          string `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
}

// E2DSRecord records which data source produced an event.
type E2DSRecord struct {
	EventID      string `json:"event_id" yaml:"event_id" validate:"required"`
	DataSourceID string `json:"data_source_id" yaml:"data_source_id" validate:"required"`
}

// ActivityRef is a process event's activity. It decodes from a bare
// activity type string or from {activity_id, activity_type}.
type ActivityRef struct {
	ID         string         `json:"activity_id,omitempty" yaml:"activity_id,omitempty"`
	Type       string         `json:"activity_type" yaml:"activity_type"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

type activityRefFields ActivityRef

// UnmarshalJSON implements json.Unmarshaler.
func (a *ActivityRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ActivityRef{Type: s}
		return nil
	}
	var f activityRefFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	*a = ActivityRef(f)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActivityRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = ActivityRef{Type: node.Value}
		return nil
	}
	var f activityRefFields
	if err := node.Decode(&f); err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	*a = ActivityRef(f)
	return nil
}
