package client

import "github.com/MarcoPoloResearchLab/inkroom/internal/elements"

// Mirror is a client's replica of one room, kept in two tiers:
//   - authoritative: the last snapshot plus every relayed event, i.e. what
//     this client has learned from the server;
//   - predicted: authoritative plus this client's own optimistic events.
//
// Both tiers change only through elements.Table.Apply. The predicted tier is
// what the user sees.
type Mirror struct {
	authoritative *elements.Table
	predicted     *elements.Table
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{
		authoritative: elements.NewTable(nil),
		predicted:     elements.NewTable(nil),
	}
}

// Seed replaces both tiers with a snapshot received on join.
func (m *Mirror) Seed(snapshot []elements.Element) {
	m.authoritative.Reset(snapshot)
	m.predicted.Reset(snapshot)
}

// ApplyLocal applies a self-originated event to the predicted tier.
func (m *Mirror) ApplyLocal(event elements.Event) {
	m.predicted.Apply(event)
}

// ApplyRemote applies a relayed event to both tiers.
func (m *Mirror) ApplyRemote(event elements.Event) {
	m.authoritative.Apply(event)
	m.predicted.Apply(event)
}

// Get returns the predicted version of an element.
func (m *Mirror) Get(id string) (elements.Element, bool) {
	return m.predicted.Get(id)
}

// Has reports whether the user currently sees id.
func (m *Mirror) Has(id string) bool {
	return m.predicted.Has(id)
}

// Elements returns the predicted elements in draw order.
func (m *Mirror) Elements() []elements.Element {
	return m.predicted.Snapshot()
}

// Authoritative returns the server-derived elements in draw order.
func (m *Mirror) Authoritative() []elements.Element {
	return m.authoritative.Snapshot()
}
