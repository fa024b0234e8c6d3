package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/history"
	"go.uber.org/zap"
)

var (
	errMissingSender = errors.New("client: sender is required")
	errMissingUserID = errors.New("client: user id is required")
)

// Sender delivers an event to the relay. It must not block and gives no
// acknowledgement.
type Sender interface {
	Send(roomID string, event elements.Event)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(roomID string, event elements.Event)

// Send implements Sender.
func (f SenderFunc) Send(roomID string, event elements.Event) {
	f(roomID, event)
}

// Style is the stroke appearance chosen for a new element.
type Style struct {
	Color       string
	StrokeWidth float64
}

// CanvasConfig describes the dependencies of a Canvas.
type CanvasConfig struct {
	RoomID  string
	UserID  string
	Sender  Sender
	History *history.SafeStore
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Canvas is one user's view of a room: the mirror, the in-progress gesture
// and the user's history. All methods are safe to call from the UI and from
// the connection's read loop concurrently.
type Canvas struct {
	mu      sync.Mutex
	roomID  string
	userID  string
	sender  Sender
	clock   func() time.Time
	logger  *zap.Logger
	mirror  *Mirror
	history *historyManager
	gesture *gesture
}

type gesture struct {
	elementID string
	kind      elements.Kind
	origin    elements.Point
}

// NewCanvas constructs a canvas for (RoomID, UserID).
func NewCanvas(cfg CanvasConfig) (*Canvas, error) {
	if cfg.Sender == nil {
		return nil, errMissingSender
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errMissingUserID
	}
	key, err := history.NewKey(cfg.RoomID, cfg.UserID)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := cfg.History
	if store == nil {
		store = history.NewSafeStore(nil, logger)
	}

	canvas := &Canvas{
		roomID: key.RoomID,
		userID: key.UserID,
		sender: cfg.Sender,
		clock:  clock,
		logger: logger,
		mirror: NewMirror(),
	}
	canvas.history = newHistoryManager(key, store, canvas.mirror, canvas.send)
	return canvas, nil
}

// RoomID returns the room this canvas mirrors.
func (c *Canvas) RoomID() string {
	return c.roomID
}

// UserID returns the local user.
func (c *Canvas) UserID() string {
	return c.userID
}

// HandleInit seeds the mirror with the authoritative snapshot and then
// reconciles the persisted history against it. The history is read before
// the canvas is locked so a slow store never stalls pointer input.
func (c *Canvas) HandleInit(ctx context.Context, snapshot []elements.Element) {
	loaded := c.history.load(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror.Seed(snapshot)
	c.gesture = nil
	c.history.restore(loaded, snapshot)
	c.logger.Debug("canvas initialized",
		zap.String("room_id", c.roomID),
		zap.Int("elements", len(snapshot)),
		zap.Int("undo_depth", len(c.history.stack.Undo)))
}

// HandleEvent applies an event relayed from another participant.
func (c *Canvas) HandleEvent(event elements.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror.ApplyRemote(event)
}

// PointerDown starts a gesture by creating an element at position and
// returns its id. An unfinished gesture is completed first.
func (c *Canvas) PointerDown(ctx context.Context, kind elements.Kind, position elements.Point, style Style) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", elements.ErrInvalidKind, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gesture != nil {
		c.completeGesture(ctx)
	}

	createdAt := c.clock()
	element := elements.Element{
		ID:          elements.NewElementID(c.userID, createdAt),
		Kind:        kind,
		Color:       style.Color,
		StrokeWidth: style.StrokeWidth,
		CreatedBy:   c.userID,
		CreatedAt:   createdAt.UnixMilli(),
	}
	if kind == elements.KindFreehand {
		element.Points = []elements.Point{position}
	} else {
		element.X = position.X
		element.Y = position.Y
	}

	c.gesture = &gesture{elementID: element.ID, kind: kind, origin: position}
	c.applyAndSend(elements.AddEvent(element))
	return element.ID, nil
}

// PointerMove extends the active gesture. Without one it does nothing.
func (c *Canvas) PointerMove(position elements.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gesture == nil {
		return
	}
	var patch elements.Patch
	if c.gesture.kind == elements.KindFreehand {
		current, ok := c.mirror.Get(c.gesture.elementID)
		if !ok {
			return
		}
		patch = elements.PointsPatch(c.gesture.elementID, append(current.Points, position))
	} else {
		patch = elements.SizePatch(c.gesture.elementID, position.X-c.gesture.origin.X, position.Y-c.gesture.origin.Y)
	}
	c.applyAndSend(elements.UpdateEvent(patch))
}

// PointerUp completes the active gesture and journals it. No event is sent.
func (c *Canvas) PointerUp(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completeGesture(ctx)
}

// Undo removes the user's most recent creation from the room.
func (c *Canvas) Undo(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.undo(ctx)
}

// Redo re-inserts the most recently undone creation.
func (c *Canvas) Redo(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.redo(ctx)
}

// Delete removes any element from the room. History is left as is, so a later
// undo of this element is a harmless no-op on every replica.
func (c *Canvas) Delete(elementID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mirror.Has(elementID) {
		return false
	}
	c.applyAndSend(elements.DeleteEvent(elementID))
	return true
}

// Elements returns what the user sees, in draw order.
func (c *Canvas) Elements() []elements.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Elements()
}

// Authoritative returns the server-derived tier, in draw order.
func (c *Canvas) Authoritative() []elements.Element {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Authoritative()
}

// History returns a copy of the user's stacks.
func (c *Canvas) History() history.Stack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.snapshot()
}

// FlushHistory waits until every history change made so far has reached
// the store.
func (c *Canvas) FlushHistory(ctx context.Context) error {
	return c.history.flush(ctx)
}

// Drawing reports whether a gesture is active.
func (c *Canvas) Drawing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gesture != nil
}

// Handlers routes a session's incoming messages for this canvas's room.
func (c *Canvas) Handlers() Handlers {
	return Handlers{
		OnInit: func(ctx context.Context, roomID string, snapshot []elements.Element) {
			if roomID == c.roomID {
				c.HandleInit(ctx, snapshot)
			}
		},
		OnEvent: func(roomID string, event elements.Event) {
			if roomID == c.roomID {
				c.HandleEvent(event)
			}
		},
	}
}

func (c *Canvas) completeGesture(ctx context.Context) {
	if c.gesture == nil {
		return
	}
	elementID := c.gesture.elementID
	c.gesture = nil
	if !c.history.commit(ctx, elementID) {
		c.logger.Debug("gesture element vanished before commit",
			zap.String("room_id", c.roomID),
			zap.String("element_id", elementID))
	}
}

func (c *Canvas) applyAndSend(event elements.Event) {
	c.mirror.ApplyLocal(event)
	c.send(event)
}

func (c *Canvas) send(event elements.Event) {
	c.sender.Send(c.roomID, event)
}
