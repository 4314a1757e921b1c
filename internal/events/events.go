// Package events defines the change notifications published by the
// registry and the instance store and consumed by the websocket feed.
package events

import (
	"sync"
	"time"
)

// Type names a change notification.
type Type string

const (
	// SchemaChanged indicates a schema or one of its fields was created,
	// updated or deleted.
	SchemaChanged Type = "schema_changed"

	// InstanceCreated indicates a new instance was stored.
	InstanceCreated Type = "instance_created"

	// InstanceUpdated indicates a stored instance was rewritten.
	InstanceUpdated Type = "instance_updated"

	// InstanceDeleted indicates a stored instance was removed.
	InstanceDeleted Type = "instance_deleted"

	// InstancesRemoved indicates a field change pruned stored instances.
	InstancesRemoved Type = "instances_removed"
)

// Actions carried by SchemaChanged.
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionDeleted      = "deleted"
	ActionFieldAdded   = "field_added"
	ActionFieldUpdated = "field_updated"
	ActionFieldRemoved = "field_removed"
)

// Event is one change notification.
type Event struct {
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	SchemaID   int64     `json:"schema_id"`
	Schema     string    `json:"schema,omitempty"`
	Action     string    `json:"action,omitempty"`
	Field      string    `json:"field,omitempty"`
	InstanceID int64     `json:"instance_id,omitempty"`
	Removed    int       `json:"removed,omitempty"`
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}
