// Package sync implements the bidirectional reconciliation engine bridging
// the production tracking system ("source") and the issue tracking system
// ("target"). Events arrive from the front-end already normalized; the engine
// reads the counterpart record, translates mapped field values, and issues a
// single batched write per event.
package sync

import "github.com/spf13/cast"

type Origin string

const (
	OriginSource Origin = "source"
	OriginTarget Origin = "target"
)

// Opposite returns the system a write goes to for an event of this origin.
func (o Origin) Opposite() Origin {
	if o == OriginSource {
		return OriginTarget
	}
	return OriginSource
}

type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Actor is the remote account that caused an event.
type Actor struct {
	Name  string
	Email string
}

// Event is one normalized change notification. Events are transient:
// consumed once, never persisted, tolerated as duplicates because processing
// re-derives counterpart state from current remote field values.
type Event struct {
	Origin        Origin
	Channel       string
	EntityType    string
	EntityID      string
	Change        ChangeType
	ChangedFields []string
	Actor         *Actor
	Payload       map[string]interface{}

	// Resync marks a replay of the record's entire current field state,
	// set by the enable-flag handler on a rising edge.
	Resync bool
}

// FieldChanged reports whether the named field is part of this event. Every
// field counts as changed during a full resync.
func (e *Event) FieldChanged(name string) bool {
	if e.Resync {
		return true
	}

	for _, f := range e.ChangedFields {
		if f == name {
			return true
		}
	}

	return false
}

// NewValue returns the post-change value carried in the event payload, if
// the front-end supplied one.
func (e *Event) NewValue() interface{} {
	return e.Payload["new_value"]
}

// OldValue returns the pre-change value carried in the event payload.
func (e *Event) OldValue() interface{} {
	return e.Payload["old_value"]
}

// RisingEdge reports whether the event flips a boolean field from false to
// true.
func (e *Event) RisingEdge() bool {
	return cast.ToBool(e.NewValue()) && !cast.ToBool(e.OldValue())
}

// ProcessResult is the outcome handed back to the transport layer.
type ProcessResult struct {
	Applied bool
	Err     error
}
