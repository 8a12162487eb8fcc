// Package document defines the document model of the platform: a persisted
// record described by pluggable behaviours, hydrated at runtime so it can
// respond to named messages.
package document

import (
	"strings"
	"time"
)

// Document is a persisted record owned by the remote data service. Locally
// cached copies are transient projections. User-entered values live in the
// Fields bag; bookkeeping fields mirror the service's underscore/dollar keys.
type Document struct {
	ID      string `json:"_id"`
	Version string `json:"_version,omitempty"`
	Parent  string `json:"_parent,omitempty"`

	// Created is set once the document really exists on the service. Lazily
	// created documents stay false until their first committed change.
	Created   bool      `json:"$created,omitempty"`
	TrackID   string    `json:"$trackId,omitempty"`
	CreatedAt time.Time `json:"$createdAt,omitempty"`

	Fields     map[string]any `json:"fields,omitempty"`
	Behaviours *Behaviours    `json:"behaviours,omitempty"`

	// Settings holds the type-level configuration the document was created
	// with (merged on upgrade).
	Settings map[string]any `json:"_settings,omitempty"`

	hydrated bool
	handlers map[string][]boundHandler
	machine  *stateMachine
}

// Behaviours is the behaviour bag of a document or type: the current state,
// the declared state graph, and named lists of behaviour instances.
type Behaviours struct {
	State     string                `json:"state,omitempty"`
	States    []StateDef            `json:"states,omitempty"`
	Instances map[string][]Instance `json:"instances,omitempty"`
}

// StateDef declares one state and the states reachable from it. An empty To
// list means the state is terminal.
type StateDef struct {
	Name string   `json:"name"`
	To   []string `json:"to,omitempty"`
}

// Instance is one configured behaviour attached to a document.
type Instance struct {
	ID        string         `json:"id"`
	Behaviour string         `json:"behaviour"`
	StoreIn   string         `json:"storeIn,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// Hydrated reports whether behaviour implementations have been attached.
func (d *Document) Hydrated() bool {
	return d.hydrated
}

// Field returns a top-level field value, or nil.
func (d *Document) Field(name string) any {
	if d.Fields == nil {
		return nil
	}
	return d.Fields[name]
}

// SetField sets a top-level field value.
func (d *Document) SetField(name string, value any) {
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[name] = value
}

// FieldAt resolves a dot-delimited path inside the fields bag. When create is
// true, missing intermediate maps are created so the result is addressable.
func (d *Document) FieldAt(path string, create bool) map[string]any {
	if d.Fields == nil {
		if !create {
			return nil
		}
		d.Fields = make(map[string]any)
	}
	current := d.Fields
	for _, seg := range strings.Split(path, ".") {
		next, ok := current[seg].(map[string]any)
		if !ok {
			if !create {
				return nil
			}
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	return current
}

// Apply shallow-assigns an instance snapshot onto the document's fields.
// $trackId is never copied and a stray TrackID left over from a previous
// replay is cleared; $created lands in its typed field so a replayed
// creation marks the document real.
func (d *Document) Apply(snapshot map[string]any) {
	if d.Fields == nil {
		d.Fields = make(map[string]any, len(snapshot))
	}
	for k, v := range snapshot {
		switch k {
		case "$trackId":
			continue
		case "$created":
			if created, ok := v.(bool); ok {
				d.Created = created
			}
		default:
			d.Fields[k] = v
		}
	}
	d.TrackID = ""
}

// Action finds a configured form action by id, or nil.
func (d *Document) Action(actionID string) *Instance {
	if d.Behaviours == nil {
		return nil
	}
	for i := range d.Behaviours.Instances["formAction"] {
		inst := &d.Behaviours.Instances["formAction"][i]
		if inst.ID == actionID {
			return inst
		}
	}
	return nil
}

// State returns the current behaviour state, or "".
func (d *Document) State() string {
	if d.Behaviours == nil {
		return ""
	}
	return d.Behaviours.State
}
