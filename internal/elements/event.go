package elements

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	// EventAdd inserts or overwrites a whole element.
	EventAdd EventKind = "add-element"
	// EventUpdate shallow-merges a patch into an existing element.
	EventUpdate EventKind = "update-element"
	// EventDelete removes an element.
	EventDelete EventKind = "delete-element"
)

// ErrInvalidEvent indicates a malformed event payload.
var ErrInvalidEvent = errors.New("elements: invalid event")

// Patch holds the fields an update sets. Nil fields are left untouched.
type Patch struct {
	ID          string   `json:"id"`
	Kind        *Kind    `json:"type,omitempty"`
	Points      []Point  `json:"points,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	W           *float64 `json:"w,omitempty"`
	H           *float64 `json:"h,omitempty"`
	Color       *string  `json:"color,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	CreatedBy   *string  `json:"createdBy,omitempty"`
	CreatedAt   *int64   `json:"createdAt,omitempty"`
}

// Merge returns element with every set field of the patch copied over it.
// The element id is never rewritten.
func (p Patch) Merge(element Element) Element {
	merged := element.Clone()
	if p.Kind != nil {
		merged.Kind = *p.Kind
	}
	if p.Points != nil {
		merged.Points = append(make([]Point, 0, len(p.Points)), p.Points...)
	}
	if p.X != nil {
		merged.X = *p.X
	}
	if p.Y != nil {
		merged.Y = *p.Y
	}
	if p.W != nil {
		merged.W = *p.W
	}
	if p.H != nil {
		merged.H = *p.H
	}
	if p.Color != nil {
		merged.Color = *p.Color
	}
	if p.StrokeWidth != nil {
		merged.StrokeWidth = *p.StrokeWidth
	}
	if p.CreatedBy != nil {
		merged.CreatedBy = *p.CreatedBy
	}
	if p.CreatedAt != nil {
		merged.CreatedAt = *p.CreatedAt
	}
	return merged
}

// SizePatch sets only w and h.
func SizePatch(id string, w, h float64) Patch {
	return Patch{ID: id, W: &w, H: &h}
}

// PointsPatch replaces the point sequence.
func PointsPatch(id string, points []Point) Patch {
	return Patch{ID: id, Points: append(make([]Point, 0, len(points)), points...)}
}

// Event is a tagged variant: exactly one of Element (add), Patch (update) or
// ID (delete) is meaningful, selected by Kind.
//
// A decoded event remembers its wire form and encodes back to it, so fields
// this package does not model survive a relay hop. Decoded events are
// treated as immutable.
type Event struct {
	Kind    EventKind
	Element Element
	Patch   Patch
	ID      string

	raw json.RawMessage
}

// AddEvent wraps an element in an add event.
func AddEvent(element Element) Event {
	return Event{Kind: EventAdd, Element: element.Clone()}
}

// UpdateEvent wraps a patch in an update event.
func UpdateEvent(patch Patch) Event {
	return Event{Kind: EventUpdate, Patch: patch}
}

// DeleteEvent builds a delete event for id.
func DeleteEvent(id string) Event {
	return Event{Kind: EventDelete, ID: id}
}

// TargetID returns the element id the event refers to.
func (e Event) TargetID() string {
	switch e.Kind {
	case EventAdd:
		return e.Element.ID
	case EventUpdate:
		return e.Patch.ID
	default:
		return e.ID
	}
}

// Validate checks the tag, that the event names an element and that any
// element kind it carries is known.
func (e Event) Validate() error {
	switch e.Kind {
	case EventAdd:
		if !e.Element.Kind.Valid() {
			return fmt.Errorf("%w: element kind %q", ErrInvalidEvent, e.Element.Kind)
		}
	case EventUpdate:
		if e.Patch.Kind != nil && !e.Patch.Kind.Valid() {
			return fmt.Errorf("%w: element kind %q", ErrInvalidEvent, *e.Patch.Kind)
		}
	case EventDelete:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Kind)
	}
	if _, err := ValidateElementID(e.TargetID()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

type eventWire struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type deletePayload struct {
	ID string `json:"id"`
}

// MarshalJSON encodes the event as {type, payload}. A decoded event is
// written back exactly as it was read.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	var (
		payload []byte
		err     error
	)
	switch e.Kind {
	case EventAdd:
		payload, err = json.Marshal(e.Element)
	case EventUpdate:
		payload, err = json.Marshal(e.Patch)
	case EventDelete:
		payload, err = json.Marshal(deletePayload{ID: e.ID})
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventWire{Type: e.Kind, Payload: payload})
}

// UnmarshalJSON decodes {type, payload} and validates the result.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	decoded := Event{Kind: wire.Type}
	switch wire.Type {
	case EventAdd:
		if err := json.Unmarshal(wire.Payload, &decoded.Element); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	case EventUpdate:
		if err := json.Unmarshal(wire.Payload, &decoded.Patch); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	case EventDelete:
		var payload deletePayload
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		decoded.ID = payload.ID
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	decoded.raw = append(json.RawMessage(nil), data...)
	*e = decoded
	return nil
}
