package elements

import "testing"

func rectangle(id string, x, y, w, h float64) Element {
	return Element{
		ID:          id,
		Kind:        KindRectangle,
		X:           x,
		Y:           y,
		W:           w,
		H:           h,
		Color:       "#222222",
		StrokeWidth: 2,
		CreatedBy:   "user-1",
		CreatedAt:   1700000000000,
	}
}

func TestApplyAddTwiceKeepsSecondPayload(t *testing.T) {
	table := NewTable(nil)
	first := rectangle("r1", 0, 0, 10, 10)
	second := rectangle("r1", 5, 5, 20, 20)

	table.Apply(AddEvent(first))
	table.Apply(AddEvent(second))

	once := NewTable(nil)
	once.Apply(AddEvent(second))

	if table.Len() != 1 {
		t.Fatalf("expected a single element, got %d", table.Len())
	}
	stored, _ := table.Get("r1")
	expected, _ := once.Get("r1")
	if !stored.Equal(expected) {
		t.Fatalf("expected %#v, got %#v", expected, stored)
	}
}

func TestApplyAddOverwriteKeepsDrawOrder(t *testing.T) {
	table := NewTable([]Element{rectangle("a", 0, 0, 1, 1), rectangle("b", 0, 0, 1, 1)})
	table.Apply(AddEvent(rectangle("a", 9, 9, 9, 9)))

	snapshot := table.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != "a" || snapshot[1].ID != "b" {
		t.Fatalf("unexpected order: %#v", snapshot)
	}
	if snapshot[0].X != 9 {
		t.Fatalf("expected overwritten payload, got x=%v", snapshot[0].X)
	}
}

func TestApplyUnknownIDIsNoOp(t *testing.T) {
	table := NewTable([]Element{rectangle("r1", 0, 0, 10, 10)})
	before := table.Snapshot()

	if table.Apply(UpdateEvent(SizePatch("ghost", 3, 4))) {
		t.Fatalf("expected ghost update to report no change")
	}
	if table.Apply(DeleteEvent("ghost")) {
		t.Fatalf("expected delete of absent id to report no change")
	}

	after := table.Snapshot()
	if len(after) != len(before) || !after[0].Equal(before[0]) {
		t.Fatalf("expected table unchanged, got %#v", after)
	}
}

func TestApplyDeleteThenAddAppends(t *testing.T) {
	table := NewTable([]Element{rectangle("a", 0, 0, 1, 1), rectangle("b", 0, 0, 1, 1)})
	table.Apply(DeleteEvent("a"))
	table.Apply(AddEvent(rectangle("a", 0, 0, 1, 1)))

	snapshot := table.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != "b" || snapshot[1].ID != "a" {
		t.Fatalf("expected re-added element at the end, got %#v", snapshot)
	}
}

func TestDisjointUpdatesCommute(t *testing.T) {
	w := UpdateEvent(Patch{ID: "e", W: float64Ptr(10)})
	h := UpdateEvent(Patch{ID: "e", H: float64Ptr(20)})

	first := NewTable([]Element{rectangle("e", 0, 0, 0, 0)})
	first.Apply(w)
	first.Apply(h)

	second := NewTable([]Element{rectangle("e", 0, 0, 0, 0)})
	second.Apply(h)
	second.Apply(w)

	left, _ := first.Get("e")
	right, _ := second.Get("e")
	if !left.Equal(right) {
		t.Fatalf("expected convergence, got %#v and %#v", left, right)
	}
	if left.W != 10 || left.H != 20 {
		t.Fatalf("expected w=10 h=20, got w=%v h=%v", left.W, left.H)
	}
}

func TestSameFieldUpdatesLastAppliedWins(t *testing.T) {
	table := NewTable([]Element{rectangle("e", 0, 0, 0, 0)})
	table.Apply(UpdateEvent(Patch{ID: "e", W: float64Ptr(10)}))
	table.Apply(UpdateEvent(Patch{ID: "e", W: float64Ptr(30)}))

	stored, _ := table.Get("e")
	if stored.W != 30 {
		t.Fatalf("expected last applied value 30, got %v", stored.W)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	stroke := Element{ID: "p1", Kind: KindFreehand, Points: []Point{{X: 1, Y: 1}}}
	table := NewTable([]Element{stroke})

	snapshot := table.Snapshot()
	snapshot[0].Points[0].X = 99

	stored, _ := table.Get("p1")
	if stored.Points[0].X != 1 {
		t.Fatalf("expected snapshot mutation not to leak into table")
	}
}

func TestUpdateNeverRewritesID(t *testing.T) {
	table := NewTable([]Element{rectangle("r1", 0, 0, 0, 0)})
	kind := KindEllipse
	table.Apply(UpdateEvent(Patch{ID: "r1", Kind: &kind}))

	stored, ok := table.Get("r1")
	if !ok || stored.ID != "r1" || stored.Kind != KindEllipse {
		t.Fatalf("unexpected element after update: %#v", stored)
	}
}

func float64Ptr(value float64) *float64 {
	return &value
}
