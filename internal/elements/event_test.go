package elements

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRectangleWireShapeKeepsZeroBounds(t *testing.T) {
	encoded, err := json.Marshal(rectangle("r1", 0, 0, 100, 50))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"x", "y", "w", "h"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected %q in %s", key, encoded)
		}
	}
	if fields["type"] != "rect" {
		t.Fatalf("expected type rect, got %v", fields["type"])
	}
	if _, ok := fields["points"]; ok {
		t.Fatalf("did not expect points on a rectangle: %s", encoded)
	}
}

func TestFreehandWireShapeOmitsBounds(t *testing.T) {
	stroke := Element{ID: "p1", Kind: KindFreehand, Points: []Point{{X: 1, Y: 2}}, Color: "#000", StrokeWidth: 1}
	encoded, err := json.Marshal(stroke)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(encoded), `"x":0`) || strings.Contains(string(encoded), `"w"`) {
		t.Fatalf("did not expect bounds on a stroke: %s", encoded)
	}
}

func TestUpdateEventDecodesPartialPatch(t *testing.T) {
	var event Event
	if err := json.Unmarshal([]byte(`{"type":"update-element","payload":{"id":"r1","w":-40}}`), &event); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.Kind != EventUpdate || event.Patch.ID != "r1" {
		t.Fatalf("unexpected event: %#v", event)
	}
	if event.Patch.W == nil || *event.Patch.W != -40 {
		t.Fatalf("expected w=-40, got %#v", event.Patch.W)
	}
	if event.Patch.H != nil || event.Patch.Color != nil {
		t.Fatalf("expected untouched fields to stay nil: %#v", event.Patch)
	}
}

func TestEventDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := []string{
		`{"type":"rename-element","payload":{"id":"r1"}}`,
		`{"type":"delete-element","payload":{"id":""}}`,
		`{"type":"add-element"}`,
		`{"type":"add-element","payload":{"id":"r1"}}`,
		`{"type":"add-element","payload":{"id":"r1","type":"star"}}`,
		`{"type":"update-element","payload":{"id":"r1","type":"star"}}`,
	}
	for _, raw := range cases {
		var event Event
		err := json.Unmarshal([]byte(raw), &event)
		if !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("expected ErrInvalidEvent for %s, got %v", raw, err)
		}
	}
}

func TestAddEventRoundTripsThroughWire(t *testing.T) {
	original := AddEvent(rectangle("r1", 0, 0, 100, 50))
	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Kind != EventAdd || !decoded.Element.Equal(original.Element) {
		t.Fatalf("expected %#v, got %#v", original, decoded)
	}
}

func TestUpdateEventAcceptsKnownKindChange(t *testing.T) {
	var event Event
	if err := json.Unmarshal([]byte(`{"type":"update-element","payload":{"id":"r1","type":"ellipse"}}`), &event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Patch.Kind == nil || *event.Patch.Kind != KindEllipse {
		t.Fatalf("expected kind patch, got %#v", event.Patch)
	}
}

func TestDecodedEventReencodesUnknownFields(t *testing.T) {
	raw := `{"type":"add-element","payload":{"id":"p1","type":"pen","points":[{"x":1,"y":2,"pressure":0.5}],"color":"#000","strokeWidth":2,"createdBy":"u","createdAt":1,"opacity":0.4}}`
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var payload struct {
		Payload struct {
			Opacity float64 `json:"opacity"`
			Points  []struct {
				Pressure float64 `json:"pressure"`
			} `json:"points"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("failed to decode re-encoded event: %v", err)
	}
	if payload.Payload.Opacity != 0.4 || len(payload.Payload.Points) != 1 || payload.Payload.Points[0].Pressure != 0.5 {
		t.Fatalf("expected unknown fields to survive, got %s", encoded)
	}
	if event.Element.ID != "p1" || len(event.Element.Points) != 1 {
		t.Fatalf("expected modeled fields to decode, got %#v", event.Element)
	}
}

func TestNewElementIDCombinesUserAndMillis(t *testing.T) {
	id := NewElementID("user-7", time.UnixMilli(1700000000123))
	if id != "user-7_1700000000123" {
		t.Fatalf("unexpected id %q", id)
	}
}
