package asset

import (
	"encoding/json"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Registry is the resource entry table of a resource store actor.
type Registry struct {
	entries map[protocol.ResourceID]protocol.Resource
}

func NewRegistry() *Registry {
	return &Registry{entries: map[protocol.ResourceID]protocol.Resource{}}
}

func (r *Registry) Add(id protocol.ResourceID, res protocol.Resource) error {
	if id == 0 {
		return protocol.InvalidInput("resource id cannot be zero")
	}
	if err := res.Validate(); err != nil {
		return err
	}
	if _, ok := r.entries[id]; ok {
		return protocol.Conflict("resource %d already exists", id)
	}
	r.entries[id] = res
	return nil
}

func (r *Registry) Get(id protocol.ResourceID) (protocol.Resource, error) {
	res, ok := r.entries[id]
	if !ok {
		return protocol.Resource{}, protocol.NotFound("resource %d does not exist", id)
	}
	return res, nil
}

// CanAddPart validates that part may be attached to the composed resource id.
func (r *Registry) CanAddPart(id protocol.ResourceID, part protocol.PartID) error {
	res, err := r.Get(id)
	if err != nil {
		return err
	}
	if res.Kind != protocol.ResourceComposed {
		return protocol.InvalidInput("resource %d is %s, parts need a composed resource", id, res.Kind)
	}
	if part == 0 {
		return protocol.InvalidInput("part id cannot be zero")
	}
	for _, p := range res.Parts {
		if p == part {
			return protocol.Conflict("part %d already on resource %d", part, id)
		}
	}
	return nil
}

func (r *Registry) AddPart(id protocol.ResourceID, part protocol.PartID) error {
	if err := r.CanAddPart(id, part); err != nil {
		return err
	}
	res := r.entries[id]
	res.Parts = append(append([]protocol.PartID{}, res.Parts...), part)
	r.entries[id] = res
	return nil
}

func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.entries)
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	entries := map[protocol.ResourceID]protocol.Resource{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	r.entries = entries
	return nil
}
