package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
)

// EntryKind enumerates journaled actions.
type EntryKind string

// EntryCreate records a completed gesture that produced an element.
const EntryCreate EntryKind = "create"

const maxKeyPartLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("history: invalid room id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("history: invalid user id")
)

// Entry is one undoable action with a deep snapshot of the element.
type Entry struct {
	Kind    EntryKind        `json:"type"`
	Element elements.Element `json:"element"`
}

// NewCreateEntry snapshots element into a create entry.
func NewCreateEntry(element elements.Element) Entry {
	return Entry{Kind: EntryCreate, Element: element.Clone()}
}

// Stack holds the undo and redo stacks of one user in one room. The last
// element of each slice is the top.
type Stack struct {
	Undo []Entry `json:"undo"`
	Redo []Entry `json:"redo"`
}

// EmptyStack returns a stack with non-nil empty slices.
func EmptyStack() Stack {
	return Stack{Undo: []Entry{}, Redo: []Entry{}}
}

// Clone deep-copies both stacks.
func (s Stack) Clone() Stack {
	return Stack{Undo: cloneEntries(s.Undo), Redo: cloneEntries(s.Redo)}
}

// Empty reports whether both stacks are empty.
func (s Stack) Empty() bool {
	return len(s.Undo) == 0 && len(s.Redo) == 0
}

func cloneEntries(entries []Entry) []Entry {
	cloned := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		cloned = append(cloned, Entry{Kind: entry.Kind, Element: entry.Element.Clone()})
	}
	return cloned
}

// Key is the composite (room, user) storage key.
type Key struct {
	RoomID string
	UserID string
}

// NewKey validates both parts of the key.
func NewKey(roomID, userID string) (Key, error) {
	room := strings.TrimSpace(roomID)
	if room == "" || len(room) > maxKeyPartLength {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
	}
	user := strings.TrimSpace(userID)
	if user == "" || len(user) > maxKeyPartLength {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return Key{RoomID: room, UserID: user}, nil
}

// String renders the key the way browser clients name their local storage slot.
func (k Key) String() string {
	return "history_" + k.RoomID + "_" + k.UserID
}
