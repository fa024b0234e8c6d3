package relay

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
)

// MessageType names a wire envelope.
type MessageType string

const (
	// MessageJoinRoom registers the sender in a room (client to server).
	MessageJoinRoom MessageType = "join-room"
	// MessageCanvasEvent carries an element event (both directions).
	MessageCanvasEvent MessageType = "canvas-event"
	// MessageCursorMove carries presence-only pointer positions (both directions).
	MessageCursorMove MessageType = "cursor-move"
	// MessageRoomInit carries the room snapshot to a joining client.
	MessageRoomInit MessageType = "room-init"
	// MessageUserJoined announces a new participant.
	MessageUserJoined MessageType = "user-joined"
	// MessageUserLeft announces a disconnected participant.
	MessageUserLeft MessageType = "user-left"
	// MessageError reports a rejected client message.
	MessageError MessageType = "error"
)

// Envelope is the single JSON frame exchanged over a connection.
type Envelope struct {
	Type     MessageType        `json:"type"`
	RoomID   string             `json:"roomId,omitempty"`
	UserID   string             `json:"userId,omitempty"`
	Event    *elements.Event    `json:"event,omitempty"`
	Position *elements.Point    `json:"position,omitempty"`
	Elements []elements.Element `json:"elements,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// MarshalJSON always emits the elements array on room-init, even when the
// room is empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != MessageRoomInit {
		return json.Marshal(plain(e))
	}
	snapshot := e.Elements
	if snapshot == nil {
		snapshot = []elements.Element{}
	}
	return json.Marshal(struct {
		plain
		Elements []elements.Element `json:"elements"`
	}{plain: plain(e), Elements: snapshot})
}

// JoinEnvelope builds a join request.
func JoinEnvelope(roomID, userID string) Envelope {
	return Envelope{Type: MessageJoinRoom, RoomID: roomID, UserID: userID}
}

// EditEnvelope wraps an element event for roomID.
func EditEnvelope(roomID string, event elements.Event) Envelope {
	return Envelope{Type: MessageCanvasEvent, RoomID: roomID, Event: &event}
}

// CursorEnvelope builds a presence update.
func CursorEnvelope(roomID, userID string, position elements.Point) Envelope {
	return Envelope{Type: MessageCursorMove, RoomID: roomID, UserID: userID, Position: &position}
}

// ErrorEnvelope builds a rejection notice.
func ErrorEnvelope(reason string) Envelope {
	return Envelope{Type: MessageError, Error: reason}
}
