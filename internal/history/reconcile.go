package history

import "github.com/MarcoPoloResearchLab/inkroom/internal/elements"

// Reconcile prunes a loaded stack against a freshly received snapshot. An
// entry survives only when its element id is in the snapshot and the snapshot
// element was created by userID. Survivors keep their relative order and carry
// the snapshot's version of the element.
func Reconcile(stack Stack, snapshot []elements.Element, userID string) Stack {
	byID := make(map[string]elements.Element, len(snapshot))
	for _, element := range snapshot {
		byID[element.ID] = element
	}
	return Stack{
		Undo: reconcileEntries(stack.Undo, byID, userID),
		Redo: reconcileEntries(stack.Redo, byID, userID),
	}
}

func reconcileEntries(entries []Entry, byID map[string]elements.Element, userID string) []Entry {
	kept := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		current, ok := byID[entry.Element.ID]
		if !ok || current.CreatedBy != userID {
			continue
		}
		kept = append(kept, Entry{Kind: entry.Kind, Element: current.Clone()})
	}
	return kept
}
