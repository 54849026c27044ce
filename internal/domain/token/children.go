package token

import (
	"encoding/json"
	"sort"

	"github.com/nestkit/nestkit/internal/protocol"
)

type placement struct {
	Parent protocol.TokenID     `json:"parent"`
	Status protocol.ChildStatus `json:"status"`
}

// Ledger tracks pending and accepted children per parent token. A child
// key sits in at most one set of at most one parent; index enforces that.
type Ledger struct {
	pending  map[protocol.TokenID]map[protocol.ChildKey]struct{}
	accepted map[protocol.TokenID]map[protocol.ChildKey]struct{}
	index    map[protocol.ChildKey]placement
}

func NewLedger() *Ledger {
	return &Ledger{
		pending:  map[protocol.TokenID]map[protocol.ChildKey]struct{}{},
		accepted: map[protocol.TokenID]map[protocol.ChildKey]struct{}{},
		index:    map[protocol.ChildKey]placement{},
	}
}

// Add records key as a pending child of parent.
func (l *Ledger) Add(parent protocol.TokenID, key protocol.ChildKey) error {
	return l.insert(parent, key, protocol.ChildPending)
}

// AddAccepted records key directly as an accepted child of parent.
func (l *Ledger) AddAccepted(parent protocol.TokenID, key protocol.ChildKey) error {
	return l.insert(parent, key, protocol.ChildAccepted)
}

func (l *Ledger) insert(parent protocol.TokenID, key protocol.ChildKey, status protocol.ChildStatus) error {
	if key.Actor.IsZero() {
		return protocol.InvalidInput("child actor cannot be zero")
	}
	if p, ok := l.index[key]; ok {
		return protocol.Conflict("child %s is already %s under token %s", key, p.Status, p.Parent)
	}
	l.set(status)[parent] = addKey(l.set(status)[parent], key)
	l.index[key] = placement{Parent: parent, Status: status}
	return nil
}

// Accept moves a pending child of parent to the accepted set.
func (l *Ledger) Accept(parent protocol.TokenID, key protocol.ChildKey) error {
	if err := l.expect(parent, key, protocol.ChildPending); err != nil {
		return err
	}
	l.unlink(parent, key, protocol.ChildPending)
	l.accepted[parent] = addKey(l.accepted[parent], key)
	l.index[key] = placement{Parent: parent, Status: protocol.ChildAccepted}
	return nil
}

// Reject drops a pending child of parent.
func (l *Ledger) Reject(parent protocol.TokenID, key protocol.ChildKey) error {
	if err := l.expect(parent, key, protocol.ChildPending); err != nil {
		return err
	}
	l.unlink(parent, key, protocol.ChildPending)
	delete(l.index, key)
	return nil
}

// Remove drops an accepted child of parent.
func (l *Ledger) Remove(parent protocol.TokenID, key protocol.ChildKey) error {
	if err := l.expect(parent, key, protocol.ChildAccepted); err != nil {
		return err
	}
	l.unlink(parent, key, protocol.ChildAccepted)
	delete(l.index, key)
	return nil
}

// Move re-parents key from one parent to another with the given status.
func (l *Ledger) Move(from, to protocol.TokenID, key protocol.ChildKey, status protocol.ChildStatus) error {
	p, ok := l.index[key]
	if !ok || p.Parent != from {
		return protocol.NotFound("child %s is not under token %s", key, from)
	}
	l.unlink(from, key, p.Status)
	l.set(status)[to] = addKey(l.set(status)[to], key)
	l.index[key] = placement{Parent: to, Status: status}
	return nil
}

// Burn removes key from whichever set of parent holds it.
func (l *Ledger) Burn(parent protocol.TokenID, key protocol.ChildKey) (protocol.ChildStatus, error) {
	p, ok := l.index[key]
	if !ok || p.Parent != parent {
		return "", protocol.NotFound("child %s is not under token %s", key, parent)
	}
	l.unlink(parent, key, p.Status)
	delete(l.index, key)
	return p.Status, nil
}

// Placement returns where key currently lives.
func (l *Ledger) Placement(key protocol.ChildKey) (protocol.TokenID, protocol.ChildStatus, bool) {
	p, ok := l.index[key]
	return p.Parent, p.Status, ok
}

func (l *Ledger) HasAccepted(parent protocol.TokenID, key protocol.ChildKey) bool {
	p, ok := l.index[key]
	return ok && p.Parent == parent && p.Status == protocol.ChildAccepted
}

func (l *Ledger) Pending(parent protocol.TokenID) []protocol.ChildKey {
	return sortedKeys(l.pending[parent])
}

func (l *Ledger) Accepted(parent protocol.TokenID) []protocol.ChildKey {
	return sortedKeys(l.accepted[parent])
}

// Children lists pending then accepted children of parent.
func (l *Ledger) Children(parent protocol.TokenID) []protocol.ChildKey {
	return append(l.Pending(parent), l.Accepted(parent)...)
}

func (l *Ledger) Len() int { return len(l.index) }

func (l *Ledger) expect(parent protocol.TokenID, key protocol.ChildKey, status protocol.ChildStatus) error {
	p, ok := l.index[key]
	if !ok || p.Parent != parent || p.Status != status {
		return protocol.NotFound("child %s is not %s under token %s", key, status, parent)
	}
	return nil
}

func (l *Ledger) set(status protocol.ChildStatus) map[protocol.TokenID]map[protocol.ChildKey]struct{} {
	if status == protocol.ChildAccepted {
		return l.accepted
	}
	return l.pending
}

func (l *Ledger) unlink(parent protocol.TokenID, key protocol.ChildKey, status protocol.ChildStatus) {
	sets := l.set(status)
	delete(sets[parent], key)
	if len(sets[parent]) == 0 {
		delete(sets, parent)
	}
}

func addKey(set map[protocol.ChildKey]struct{}, key protocol.ChildKey) map[protocol.ChildKey]struct{} {
	if set == nil {
		set = map[protocol.ChildKey]struct{}{}
	}
	set[key] = struct{}{}
	return set
}

func sortedKeys(set map[protocol.ChildKey]struct{}) []protocol.ChildKey {
	out := make([]protocol.ChildKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type ledgerEntry struct {
	Child  protocol.ChildKey    `json:"child"`
	Parent protocol.TokenID     `json:"parent"`
	Status protocol.ChildStatus `json:"status"`
}

// MarshalJSON stores the index only; both sets are rebuilt from it.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	entries := make([]ledgerEntry, 0, len(l.index))
	for k, p := range l.index {
		entries = append(entries, ledgerEntry{Child: k, Parent: p.Parent, Status: p.Status})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Child.Less(entries[j].Child) })
	return json.Marshal(entries)
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var entries []ledgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = *NewLedger()
	for _, e := range entries {
		if err := l.insert(e.Parent, e.Child, e.Status); err != nil {
			return err
		}
	}
	return nil
}
