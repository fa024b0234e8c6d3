package relay

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"go.uber.org/zap"
)

const (
	defaultCommandBuffer = 1024
	fieldRoomID          = "room_id"
	fieldUserID          = "user_id"
	fieldConnectionID    = "connection_id"
	fieldElementID       = "element_id"
)

// ErrHubStopped is returned by calls made after Run has returned.
var ErrHubStopped = errors.New("relay: hub stopped")

// Peer is one connected replica. Deliver must not block; it reports whether
// the envelope was queued for the connection.
type Peer interface {
	ID() string
	Deliver(Envelope) bool
}

// HubConfig describes the dependencies of a Hub.
type HubConfig struct {
	Registry      *rooms.Registry
	Logger        *zap.Logger
	CommandBuffer int
}

// Hub applies edits to the room registry and fans them out. Every mutation runs
// on the Run goroutine, one command at a time, in the order commands were
// submitted.
type Hub struct {
	registry    *rooms.Registry
	logger      *zap.Logger
	commands    chan func()
	done        chan struct{}
	peers       map[string]Peer
	memberships map[string]map[string]struct{}
}

// NewHub constructs a hub. Call Run to start processing.
func NewHub(cfg HubConfig) *Hub {
	registry := cfg.Registry
	if registry == nil {
		registry = rooms.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.CommandBuffer
	if bufferSize <= 0 {
		bufferSize = defaultCommandBuffer
	}
	return &Hub{
		registry:    registry,
		logger:      logger,
		commands:    make(chan func(), bufferSize),
		done:        make(chan struct{}),
		peers:       make(map[string]Peer),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Run processes commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case command := <-h.commands:
			command()
		}
	}
}

// Join registers peer in roomID, sends it the snapshot and announces it to the others.
func (h *Hub) Join(peer Peer, roomID, userID string) error {
	return h.submit(func() {
		room := h.registry.GetOrCreate(roomID)
		room.AddParticipant(peer.ID(), userID)
		h.peers[peer.ID()] = peer
		if _, ok := h.memberships[peer.ID()]; !ok {
			h.memberships[peer.ID()] = make(map[string]struct{})
		}
		h.memberships[peer.ID()][roomID] = struct{}{}

		h.deliver(peer, Envelope{Type: MessageRoomInit, RoomID: roomID, Elements: room.Snapshot()})
		h.broadcast(room, peer.ID(), Envelope{Type: MessageUserJoined, RoomID: roomID, UserID: userID})
		h.logger.Info("participant joined",
			zap.String(fieldRoomID, roomID),
			zap.String(fieldUserID, userID),
			zap.String(fieldConnectionID, peer.ID()))
	})
}

// Edit applies event to roomID and forwards it unchanged to every other participant.
// Edits for rooms nobody has joined are ignored.
func (h *Hub) Edit(peer Peer, roomID string, event elements.Event) error {
	return h.submit(func() {
		room, ok := h.registry.Lookup(roomID)
		if !ok {
			h.logger.Debug("edit for unknown room ignored",
				zap.String(fieldRoomID, roomID),
				zap.String(fieldConnectionID, peer.ID()))
			return
		}
		h.registry.Apply(roomID, event)
		h.broadcast(room, peer.ID(), EditEnvelope(roomID, event))
	})
}

// Cursor forwards a presence update to the other participants of roomID.
func (h *Hub) Cursor(peer Peer, roomID, userID string, position elements.Point) error {
	return h.submit(func() {
		room, ok := h.registry.Lookup(roomID)
		if !ok {
			return
		}
		h.broadcast(room, peer.ID(), CursorEnvelope(roomID, userID, position))
	})
}

// Leave removes peer from every room it joined and announces the departure.
func (h *Hub) Leave(peer Peer) error {
	return h.submit(func() {
		for roomID := range h.memberships[peer.ID()] {
			room, ok := h.registry.Lookup(roomID)
			if !ok {
				continue
			}
			userID, joined := room.RemoveParticipant(peer.ID())
			if !joined {
				continue
			}
			h.broadcast(room, peer.ID(), Envelope{Type: MessageUserLeft, RoomID: roomID, UserID: userID})
			h.logger.Info("participant left",
				zap.String(fieldRoomID, roomID),
				zap.String(fieldUserID, userID),
				zap.String(fieldConnectionID, peer.ID()))
		}
		delete(h.memberships, peer.ID())
		delete(h.peers, peer.ID())
	})
}

// Snapshot reads the ordered elements of roomID through the command loop.
func (h *Hub) Snapshot(ctx context.Context, roomID string) ([]elements.Element, error) {
	reply := make(chan []elements.Element, 1)
	if err := h.submit(func() {
		reply <- h.registry.Snapshot(roomID)
	}); err != nil {
		return nil, err
	}
	select {
	case snapshot := <-reply:
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// RoomCount reports how many rooms the registry holds.
func (h *Hub) RoomCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.submit(func() {
		reply <- h.registry.Len()
	}); err != nil {
		return 0, err
	}
	select {
	case count := <-reply:
		return count, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return 0, ErrHubStopped
	}
}

func (h *Hub) submit(command func()) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.commands <- command:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) broadcast(room *rooms.Room, senderID string, envelope Envelope) {
	for _, connectionID := range room.ConnectionIDs() {
		if connectionID == senderID {
			continue
		}
		peer, ok := h.peers[connectionID]
		if !ok {
			continue
		}
		h.deliver(peer, envelope)
	}
}

func (h *Hub) deliver(peer Peer, envelope Envelope) {
	if peer.Deliver(envelope) {
		return
	}
	fields := []zap.Field{
		zap.String(fieldConnectionID, peer.ID()),
		zap.String("message_type", string(envelope.Type)),
	}
	if envelope.Event != nil {
		fields = append(fields, zap.String(fieldElementID, envelope.Event.TargetID()))
	}
	h.logger.Debug("relay delivery dropped", fields...)
}
