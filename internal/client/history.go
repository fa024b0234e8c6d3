package client

import (
	"context"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/history"
)

// historyManager owns one user's undo/redo stacks for one room. Its stacks are
// private, but undo and redo publish Delete/Add events to the whole room.
type historyManager struct {
	key    history.Key
	store  *history.SafeStore
	stack  history.Stack
	mirror *Mirror
	emit   func(elements.Event)
}

func newHistoryManager(key history.Key, store *history.SafeStore, mirror *Mirror, emit func(elements.Event)) *historyManager {
	return &historyManager{
		key:    key,
		store:  store,
		stack:  history.EmptyStack(),
		mirror: mirror,
		emit:   emit,
	}
}

// load reads the persisted stacks. It touches storage and must be called
// without the canvas lock held.
func (h *historyManager) load(ctx context.Context) history.Stack {
	return h.store.Get(ctx, h.key)
}

// restore prunes loaded against snapshot and adopts the result.
func (h *historyManager) restore(loaded history.Stack, snapshot []elements.Element) {
	h.stack = history.Reconcile(loaded, snapshot, h.key.UserID)
}

// commit journals the current state of elementID and invalidates redo.
func (h *historyManager) commit(ctx context.Context, elementID string) bool {
	element, ok := h.mirror.Get(elementID)
	if !ok {
		return false
	}
	h.stack.Undo = append(h.stack.Undo, history.NewCreateEntry(element))
	h.stack.Redo = []history.Entry{}
	h.persist(ctx)
	return true
}

func (h *historyManager) undo(ctx context.Context) bool {
	entry, ok := pop(&h.stack.Undo)
	if !ok {
		return false
	}
	event := elements.DeleteEvent(entry.Element.ID)
	h.mirror.ApplyLocal(event)
	h.emit(event)
	h.stack.Redo = append(h.stack.Redo, entry)
	h.persist(ctx)
	return true
}

func (h *historyManager) redo(ctx context.Context) bool {
	entry, ok := pop(&h.stack.Redo)
	if !ok {
		return false
	}
	event := elements.AddEvent(entry.Element)
	h.mirror.ApplyLocal(event)
	h.emit(event)
	h.stack.Undo = append(h.stack.Undo, entry)
	h.persist(ctx)
	return true
}

func (h *historyManager) snapshot() history.Stack {
	return h.stack.Clone()
}

// persist hands the stacks to the store's background writer.
func (h *historyManager) persist(ctx context.Context) {
	h.store.Set(ctx, h.key, h.stack)
}

func (h *historyManager) flush(ctx context.Context) error {
	return h.store.Flush(ctx)
}

func pop(entries *[]history.Entry) (history.Entry, bool) {
	count := len(*entries)
	if count == 0 {
		return history.Entry{}, false
	}
	top := (*entries)[count-1]
	*entries = (*entries)[:count-1]
	return top, true
}
