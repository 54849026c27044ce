package asset

import (
	"encoding/json"

	"github.com/nestkit/nestkit/internal/protocol"
)

// MaxPendingResources bounds the pending list of one token.
const MaxPendingResources = 128

type tokenResources struct {
	Pending    []protocol.ResourceID                       `json:"pending,omitempty"`
	Active     []protocol.ResourceID                       `json:"active,omitempty"`
	Overwrites map[protocol.ResourceID]protocol.ResourceID `json:"overwrites,omitempty"`
	Priorities []uint64                                    `json:"priorities,omitempty"`
}

// Resources keeps the pending and active resources of each token.
type Resources struct {
	tokens map[protocol.TokenID]*tokenResources
}

func NewResources() *Resources {
	return &Resources{tokens: map[protocol.TokenID]*tokenResources{}}
}

func (r *Resources) entry(token protocol.TokenID) *tokenResources {
	e, ok := r.tokens[token]
	if !ok {
		e = &tokenResources{}
		r.tokens[token] = e
	}
	return e
}

// Add proposes id for token. A non-zero overwrite must be active.
func (r *Resources) Add(token protocol.TokenID, id, overwrite protocol.ResourceID) error {
	if id == 0 {
		return protocol.InvalidInput("resource id cannot be zero")
	}
	e := r.entry(token)
	if contains(e.Pending, id) || contains(e.Active, id) {
		return protocol.Conflict("resource %d already added to token %s", id, token)
	}
	if len(e.Pending) >= MaxPendingResources {
		return protocol.InvalidInput("token %s has %d pending resources", token, MaxPendingResources)
	}
	if overwrite != 0 {
		if !contains(e.Active, overwrite) {
			return protocol.NotFound("resource %d is not active on token %s", overwrite, token)
		}
		if e.Overwrites == nil {
			e.Overwrites = map[protocol.ResourceID]protocol.ResourceID{}
		}
		e.Overwrites[id] = overwrite
	}
	e.Pending = append(e.Pending, id)
	return nil
}

// Accept activates a pending resource, replacing its overwrite target in place.
func (r *Resources) Accept(token protocol.TokenID, id protocol.ResourceID) error {
	e, ok := r.tokens[token]
	if !ok || !contains(e.Pending, id) {
		return protocol.NotFound("resource %d is not pending on token %s", id, token)
	}
	e.Pending = without(e.Pending, id)
	if old, ok := e.Overwrites[id]; ok {
		delete(e.Overwrites, id)
		replaced := false
		for i, a := range e.Active {
			if a == old {
				e.Active[i] = id
				replaced = true
				break
			}
		}
		if !replaced {
			e.Active = append(e.Active, id)
		}
	} else {
		e.Active = append(e.Active, id)
	}
	e.Priorities = nil
	return nil
}

func (r *Resources) Reject(token protocol.TokenID, id protocol.ResourceID) error {
	e, ok := r.tokens[token]
	if !ok || !contains(e.Pending, id) {
		return protocol.NotFound("resource %d is not pending on token %s", id, token)
	}
	e.Pending = without(e.Pending, id)
	delete(e.Overwrites, id)
	return nil
}

// SetPriority assigns one priority per active resource.
func (r *Resources) SetPriority(token protocol.TokenID, priorities []uint64) error {
	e, ok := r.tokens[token]
	if !ok || len(e.Active) == 0 {
		return protocol.NotFound("token %s has no active resources", token)
	}
	if len(priorities) != len(e.Active) {
		return protocol.InvalidInput("got %d priorities for %d active resources", len(priorities), len(e.Active))
	}
	e.Priorities = append([]uint64(nil), priorities...)
	return nil
}

func (r *Resources) IsActive(token protocol.TokenID, id protocol.ResourceID) bool {
	e, ok := r.tokens[token]
	return ok && contains(e.Active, id)
}

func (r *Resources) Pending(token protocol.TokenID) []protocol.ResourceID {
	if e, ok := r.tokens[token]; ok {
		return append([]protocol.ResourceID{}, e.Pending...)
	}
	return []protocol.ResourceID{}
}

func (r *Resources) Active(token protocol.TokenID) []protocol.ResourceID {
	if e, ok := r.tokens[token]; ok {
		return append([]protocol.ResourceID{}, e.Active...)
	}
	return []protocol.ResourceID{}
}

func (r *Resources) Priorities(token protocol.TokenID) []uint64 {
	if e, ok := r.tokens[token]; ok {
		return append([]uint64{}, e.Priorities...)
	}
	return []uint64{}
}

// Drop forgets every resource of a burnt token.
func (r *Resources) Drop(token protocol.TokenID) {
	delete(r.tokens, token)
}

func (r *Resources) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.tokens)
}

func (r *Resources) UnmarshalJSON(data []byte) error {
	tokens := map[protocol.TokenID]*tokenResources{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return err
	}
	r.tokens = tokens
	return nil
}

func contains(ids []protocol.ResourceID, id protocol.ResourceID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []protocol.ResourceID, id protocol.ResourceID) []protocol.ResourceID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
