package rooms

import (
	"sort"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
)

// Room holds one authoritative element table and the connections joined to it.
type Room struct {
	ID           string
	elements     *elements.Table
	participants map[string]string
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		elements:     elements.NewTable(nil),
		participants: make(map[string]string),
	}
}

// Snapshot returns the room's elements in draw order.
func (r *Room) Snapshot() []elements.Element {
	return r.elements.Snapshot()
}

// Len returns the number of elements in the room.
func (r *Room) Len() int {
	return r.elements.Len()
}

// AddParticipant records connectionID as joined by userID.
func (r *Room) AddParticipant(connectionID, userID string) {
	r.participants[connectionID] = userID
}

// RemoveParticipant forgets connectionID and returns the user it belonged to.
func (r *Room) RemoveParticipant(connectionID string) (string, bool) {
	userID, ok := r.participants[connectionID]
	if ok {
		delete(r.participants, connectionID)
	}
	return userID, ok
}

// ConnectionIDs lists joined connections in a stable order.
func (r *Room) ConnectionIDs() []string {
	ids := make([]string, 0, len(r.participants))
	for connectionID := range r.participants {
		ids = append(ids, connectionID)
	}
	sort.Strings(ids)
	return ids
}

// Registry owns every room of the process. Rooms are created on first use and
// never evicted, so the table grows with the number of distinct room ids.
//
// A Registry is not safe for concurrent use; the relay serializes access.
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the room for roomID, creating it if needed.
func (r *Registry) GetOrCreate(roomID string) *Room {
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room := newRoom(roomID)
	r.rooms[roomID] = room
	return room
}

// Lookup returns an existing room without creating one.
func (r *Registry) Lookup(roomID string) (*Room, bool) {
	room, ok := r.rooms[roomID]
	return room, ok
}

// Apply applies event to the room's table. Stale references are no-ops.
func (r *Registry) Apply(roomID string, event elements.Event) *Room {
	room := r.GetOrCreate(roomID)
	room.elements.Apply(event)
	return room
}

// Snapshot returns the ordered elements of roomID; unknown rooms are empty.
func (r *Registry) Snapshot(roomID string) []elements.Element {
	room, ok := r.rooms[roomID]
	if !ok {
		return []elements.Element{}
	}
	return room.Snapshot()
}

// Len returns the number of rooms ever created.
func (r *Registry) Len() int {
	return len(r.rooms)
}
