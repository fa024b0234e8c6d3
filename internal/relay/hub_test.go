package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"go.uber.org/zap"
)

type recordingPeer struct {
	id       string
	mu       sync.Mutex
	received []Envelope
	refuse   bool
}

func (p *recordingPeer) ID() string {
	return p.id
}

func (p *recordingPeer) Deliver(envelope Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refuse {
		return false
	}
	p.received = append(p.received, envelope)
	return true
}

func (p *recordingPeer) envelopes() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.received...)
}

func startHub(t *testing.T) (*Hub, *rooms.Registry) {
	t.Helper()
	registry := rooms.NewRegistry()
	hub := NewHub(HubConfig{Registry: registry, Logger: zap.NewNop(), CommandBuffer: 64})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return hub, registry
}

// drain waits until every previously submitted command has run.
func drain(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := hub.Snapshot(ctx, "barrier"); err != nil {
		t.Fatalf("hub did not drain: %v", err)
	}
}

func mustJoin(t *testing.T, hub *Hub, peer Peer, roomID, userID string) {
	t.Helper()
	if err := hub.Join(peer, roomID, userID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
}

func TestJoinSendsSnapshotBeforeLaterEvents(t *testing.T) {
	hub, _ := startHub(t)
	author := &recordingPeer{id: "conn-a"}
	mustJoin(t, hub, author, "room-1", "user-a")
	if err := hub.Edit(author, "room-1", elements.AddEvent(elements.Element{ID: "r1", Kind: elements.KindRectangle, W: 10})); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	late := &recordingPeer{id: "conn-b"}
	mustJoin(t, hub, late, "room-1", "user-b")
	if err := hub.Edit(author, "room-1", elements.UpdateEvent(elements.SizePatch("r1", 20, 30))); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	drain(t, hub)

	received := late.envelopes()
	if len(received) != 2 {
		t.Fatalf("expected init and one edit, got %#v", received)
	}
	if received[0].Type != MessageRoomInit || len(received[0].Elements) != 1 || received[0].Elements[0].W != 10 {
		t.Fatalf("expected snapshot first, got %#v", received[0])
	}
	if received[1].Type != MessageCanvasEvent || received[1].Event.Kind != elements.EventUpdate {
		t.Fatalf("expected update after snapshot, got %#v", received[1])
	}
}

func TestEditIsNeverEchoedToSender(t *testing.T) {
	hub, registry := startHub(t)
	author := &recordingPeer{id: "conn-a"}
	observer := &recordingPeer{id: "conn-b"}
	mustJoin(t, hub, author, "room-1", "user-a")
	mustJoin(t, hub, observer, "room-1", "user-b")

	event := elements.AddEvent(elements.Element{ID: "p1", Kind: elements.KindFreehand, Points: []elements.Point{{X: 1, Y: 1}}})
	if err := hub.Edit(author, "room-1", event); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	drain(t, hub)

	for _, envelope := range author.envelopes() {
		if envelope.Type == MessageCanvasEvent {
			t.Fatalf("sender must not receive its own event")
		}
	}
	observed := observer.envelopes()
	last := observed[len(observed)-1]
	if last.Type != MessageCanvasEvent || last.Event.TargetID() != "p1" {
		t.Fatalf("expected observer to receive the edit, got %#v", last)
	}
	if got := registry.Snapshot("room-1"); len(got) != 1 {
		t.Fatalf("expected authoritative store to hold the element, got %#v", got)
	}
}

func TestPerSenderOrderIsPreserved(t *testing.T) {
	hub, _ := startHub(t)
	author := &recordingPeer{id: "conn-a"}
	observer := &recordingPeer{id: "conn-b"}
	mustJoin(t, hub, author, "room-1", "user-a")
	mustJoin(t, hub, observer, "room-1", "user-b")

	if err := hub.Edit(author, "room-1", elements.AddEvent(elements.Element{ID: "r1", Kind: elements.KindRectangle})); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	for step := 1; step <= 5; step++ {
		if err := hub.Edit(author, "room-1", elements.UpdateEvent(elements.SizePatch("r1", float64(step), float64(step)))); err != nil {
			t.Fatalf("edit failed: %v", err)
		}
	}
	drain(t, hub)

	var widths []float64
	for _, envelope := range observer.envelopes() {
		if envelope.Type == MessageCanvasEvent && envelope.Event.Kind == elements.EventUpdate {
			widths = append(widths, *envelope.Event.Patch.W)
		}
	}
	for index, width := range widths {
		if width != float64(index+1) {
			t.Fatalf("expected updates in send order, got %v", widths)
		}
	}
	if len(widths) != 5 {
		t.Fatalf("expected 5 updates, got %d", len(widths))
	}
}

func TestJoinAndLeaveAreAnnounced(t *testing.T) {
	hub, _ := startHub(t)
	first := &recordingPeer{id: "conn-a"}
	second := &recordingPeer{id: "conn-b"}
	mustJoin(t, hub, first, "room-1", "user-a")
	mustJoin(t, hub, second, "room-1", "user-b")
	if err := hub.Leave(second); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	drain(t, hub)

	received := first.envelopes()
	if len(received) != 3 {
		t.Fatalf("expected init, joined and left, got %#v", received)
	}
	if received[1].Type != MessageUserJoined || received[1].UserID != "user-b" {
		t.Fatalf("unexpected join notice: %#v", received[1])
	}
	if received[2].Type != MessageUserLeft || received[2].UserID != "user-b" {
		t.Fatalf("unexpected leave notice: %#v", received[2])
	}
	for _, envelope := range second.envelopes() {
		if envelope.Type == MessageUserJoined {
			t.Fatalf("joining peer must not be told about itself")
		}
	}
}

func TestEditForUnknownRoomIsIgnored(t *testing.T) {
	hub, registry := startHub(t)
	peer := &recordingPeer{id: "conn-a"}
	if err := hub.Edit(peer, "nowhere", elements.AddEvent(elements.Element{ID: "x", Kind: elements.KindLine})); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	drain(t, hub)
	if _, ok := registry.Lookup("nowhere"); ok {
		t.Fatalf("edit must not create a room")
	}
}

func TestCursorIsRelayedButNotStored(t *testing.T) {
	hub, registry := startHub(t)
	first := &recordingPeer{id: "conn-a"}
	second := &recordingPeer{id: "conn-b"}
	mustJoin(t, hub, first, "room-1", "user-a")
	mustJoin(t, hub, second, "room-1", "user-b")
	if err := hub.Cursor(first, "room-1", "user-a", elements.Point{X: 3, Y: 4}); err != nil {
		t.Fatalf("cursor failed: %v", err)
	}
	drain(t, hub)

	received := second.envelopes()
	last := received[len(received)-1]
	if last.Type != MessageCursorMove || last.UserID != "user-a" || last.Position.X != 3 {
		t.Fatalf("unexpected cursor envelope: %#v", last)
	}
	if got := registry.Snapshot("room-1"); len(got) != 0 {
		t.Fatalf("cursor must not touch element state, got %#v", got)
	}
}

func TestDroppedDeliveryDoesNotStopFanOut(t *testing.T) {
	hub, _ := startHub(t)
	author := &recordingPeer{id: "conn-a"}
	stalled := &recordingPeer{id: "conn-b", refuse: true}
	healthy := &recordingPeer{id: "conn-c"}
	mustJoin(t, hub, author, "room-1", "user-a")
	mustJoin(t, hub, stalled, "room-1", "user-b")
	mustJoin(t, hub, healthy, "room-1", "user-c")

	if err := hub.Edit(author, "room-1", elements.DeleteEvent("missing")); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	drain(t, hub)

	received := healthy.envelopes()
	if received[len(received)-1].Type != MessageCanvasEvent {
		t.Fatalf("expected healthy peer to receive the event, got %#v", received)
	}
}

func TestCallsAfterStopReturnError(t *testing.T) {
	hub := NewHub(HubConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = hub.Run(ctx)

	if err := hub.Join(&recordingPeer{id: "conn-a"}, "room-1", "user-a"); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}
