package elements

// Table is an insertion-ordered element set keyed by id. The order is the
// draw order. A Table is not safe for concurrent use.
type Table struct {
	order []string
	byID  map[string]Element
}

// NewTable returns a table seeded with the given elements in order.
func NewTable(seed []Element) *Table {
	table := &Table{byID: make(map[string]Element, len(seed))}
	for _, element := range seed {
		table.put(element)
	}
	return table
}

// Apply applies one event:
//   - add overwrites any element with the same id, keeping its position;
//   - update merges into an existing element and is dropped when the id is unknown;
//   - delete removes the id if present.
//
// It reports whether the table changed membership or content.
func (t *Table) Apply(event Event) bool {
	switch event.Kind {
	case EventAdd:
		t.put(event.Element)
		return true
	case EventUpdate:
		existing, ok := t.byID[event.Patch.ID]
		if !ok {
			return false
		}
		t.byID[event.Patch.ID] = event.Patch.Merge(existing)
		return true
	case EventDelete:
		return t.remove(event.ID)
	default:
		return false
	}
}

// Get returns a deep copy of the element with id.
func (t *Table) Get(id string) (Element, bool) {
	element, ok := t.byID[id]
	if !ok {
		return Element{}, false
	}
	return element.Clone(), true
}

// Has reports whether id is present.
func (t *Table) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Len returns the number of elements.
func (t *Table) Len() int {
	return len(t.order)
}

// Snapshot returns deep copies of all elements in insertion order.
func (t *Table) Snapshot() []Element {
	snapshot := make([]Element, 0, len(t.order))
	for _, id := range t.order {
		snapshot = append(snapshot, t.byID[id].Clone())
	}
	return snapshot
}

// Reset replaces the contents with seed.
func (t *Table) Reset(seed []Element) {
	t.order = nil
	t.byID = make(map[string]Element, len(seed))
	for _, element := range seed {
		t.put(element)
	}
}

func (t *Table) put(element Element) {
	if t.byID == nil {
		t.byID = make(map[string]Element)
	}
	if _, exists := t.byID[element.ID]; !exists {
		t.order = append(t.order, element.ID)
	}
	t.byID[element.ID] = element.Clone()
}

func (t *Table) remove(id string) bool {
	if _, ok := t.byID[id]; !ok {
		return false
	}
	delete(t.byID, id)
	for index, candidate := range t.order {
		if candidate == id {
			t.order = append(t.order[:index], t.order[index+1:]...)
			break
		}
	}
	return true
}
