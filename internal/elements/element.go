package elements

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the drawable element shapes.
type Kind string

const (
	// KindFreehand is a pen stroke described by its points.
	KindFreehand Kind = "pen"
	// KindRectangle is an axis-aligned rectangle described by its bounds.
	KindRectangle Kind = "rect"
	// KindEllipse is an ellipse inscribed in its bounds.
	KindEllipse Kind = "ellipse"
	// KindLine is a segment from (x,y) to (x+w,y+h).
	KindLine Kind = "line"
	// KindArrow is a line with a head at (x+w,y+h).
	KindArrow Kind = "arrow"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidElementID indicates that an element identifier is empty or exceeds storage bounds.
	ErrInvalidElementID = errors.New("elements: invalid element id")
	// ErrInvalidKind indicates an unknown element kind.
	ErrInvalidKind = errors.New("elements: invalid kind")
)

// NewKind validates raw input and returns a Kind.
func NewKind(rawInput string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(rawInput)))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, rawInput)
	}
	return kind, nil
}

// Valid reports whether the kind is one of the known shapes.
func (k Kind) Valid() bool {
	switch k {
	case KindFreehand, KindRectangle, KindEllipse, KindLine, KindArrow:
		return true
	default:
		return false
	}
}

// Bounded reports whether the kind is described by x,y,w,h rather than points.
func (k Kind) Bounded() bool {
	return k.Valid() && k != KindFreehand
}

// Point is a canvas-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is one drawable object. ID is assigned at creation and never changes.
type Element struct {
	ID          string
	Kind        Kind
	Points      []Point
	X           float64
	Y           float64
	W           float64
	H           float64
	Color       string
	StrokeWidth float64
	CreatedBy   string
	// CreatedAt is unix milliseconds.
	CreatedAt int64
}

// ValidateElementID trims and bounds-checks an identifier.
func ValidateElementID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidElementID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidElementID, maxIdentifierLength)
	}
	return trimmed, nil
}

// Clone returns a deep copy; the points slice is not shared.
func (e Element) Clone() Element {
	copied := e
	if e.Points != nil {
		copied.Points = append(make([]Point, 0, len(e.Points)), e.Points...)
	}
	return copied
}

// Equal reports field-by-field equality including points.
func (e Element) Equal(other Element) bool {
	if e.ID != other.ID || e.Kind != other.Kind || e.Color != other.Color ||
		e.StrokeWidth != other.StrokeWidth || e.CreatedBy != other.CreatedBy || e.CreatedAt != other.CreatedAt ||
		e.X != other.X || e.Y != other.Y || e.W != other.W || e.H != other.H {
		return false
	}
	if len(e.Points) != len(other.Points) {
		return false
	}
	for index := range e.Points {
		if e.Points[index] != other.Points[index] {
			return false
		}
	}
	return true
}

type elementWire struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"type"`
	Points      []Point  `json:"points,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
	W           *float64 `json:"w,omitempty"`
	H           *float64 `json:"h,omitempty"`
	Color       string   `json:"color"`
	StrokeWidth float64  `json:"strokeWidth"`
	CreatedBy   string   `json:"createdBy"`
	CreatedAt   int64    `json:"createdAt"`
}

// MarshalJSON emits bounds for bounded kinds (zero values included) and points for freehand.
func (e Element) MarshalJSON() ([]byte, error) {
	wire := elementWire{
		ID:          e.ID,
		Kind:        e.Kind,
		Points:      e.Points,
		Color:       e.Color,
		StrokeWidth: e.StrokeWidth,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
	}
	if e.Kind != KindFreehand {
		x, y, w, h := e.X, e.Y, e.W, e.H
		wire.X, wire.Y, wire.W, wire.H = &x, &y, &w, &h
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the wire shape; absent bounds decode as zero.
func (e *Element) UnmarshalJSON(data []byte) error {
	var wire elementWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Element{
		ID:          wire.ID,
		Kind:        wire.Kind,
		Points:      wire.Points,
		X:           deref(wire.X),
		Y:           deref(wire.Y),
		W:           deref(wire.W),
		H:           deref(wire.H),
		Color:       wire.Color,
		StrokeWidth: wire.StrokeWidth,
		CreatedBy:   wire.CreatedBy,
		CreatedAt:   wire.CreatedAt,
	}
	return nil
}

func deref(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
