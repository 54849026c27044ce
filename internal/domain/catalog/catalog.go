package catalog

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Catalog holds the part definitions of one base.
type Catalog struct {
	parts map[protocol.PartID]protocol.Part
}

func New() *Catalog {
	return &Catalog{parts: map[protocol.PartID]protocol.Part{}}
}

// AddParts inserts a batch atomically: any invalid part rejects the batch.
func (c *Catalog) AddParts(parts map[protocol.PartID]protocol.Part) error {
	if len(parts) == 0 {
		return protocol.InvalidInput("no parts given")
	}
	for id, p := range parts {
		if id == 0 {
			return protocol.InvalidInput("part id cannot be zero")
		}
		if _, ok := c.parts[id]; ok {
			return protocol.Conflict("part %d already exists", id)
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for id, p := range parts {
		p.Equippable = dedupe(p.Equippable)
		c.parts[id] = p
	}
	return nil
}

func (c *Catalog) RemoveParts(ids []protocol.PartID) error {
	if len(ids) == 0 {
		return protocol.InvalidInput("no parts given")
	}
	for _, id := range ids {
		if _, ok := c.parts[id]; !ok {
			return protocol.NotFound("part %d does not exist", id)
		}
	}
	for _, id := range ids {
		delete(c.parts, id)
	}
	return nil
}

func (c *Catalog) Part(id protocol.PartID) (protocol.Part, error) {
	p, ok := c.parts[id]
	if !ok {
		return protocol.Part{}, protocol.NotFound("part %d does not exist", id)
	}
	return p, nil
}

func (c *Catalog) slot(id protocol.PartID) (protocol.Part, error) {
	p, err := c.Part(id)
	if err != nil {
		return p, err
	}
	if p.Kind != protocol.PartSlot {
		return p, protocol.InvalidInput("part %d is not a slot part", id)
	}
	return p, nil
}

func (c *Catalog) AddEquippableAddresses(id protocol.PartID, collections []protocol.ActorRef) error {
	if len(collections) == 0 {
		return protocol.InvalidInput("no collections given")
	}
	p, err := c.slot(id)
	if err != nil {
		return err
	}
	for _, col := range collections {
		if col.IsZero() {
			return protocol.InvalidInput("collection cannot be zero")
		}
	}
	p.Equippable = dedupe(append(append([]protocol.ActorRef{}, p.Equippable...), collections...))
	c.parts[id] = p
	return nil
}

func (c *Catalog) RemoveEquippableAddress(id protocol.PartID, collection protocol.ActorRef) error {
	p, err := c.slot(id)
	if err != nil {
		return err
	}
	out := make([]protocol.ActorRef, 0, len(p.Equippable))
	for _, col := range p.Equippable {
		if col != collection {
			out = append(out, col)
		}
	}
	if len(out) == len(p.Equippable) {
		return protocol.NotFound("collection %s is not equippable into part %d", collection, id)
	}
	p.Equippable = out
	c.parts[id] = p
	return nil
}

func (c *Catalog) ResetEquippableAddresses(id protocol.PartID) error {
	p, err := c.slot(id)
	if err != nil {
		return err
	}
	p.Equippable = nil
	p.EquippableToAll = false
	c.parts[id] = p
	return nil
}

func (c *Catalog) SetEquippableToAll(id protocol.PartID) error {
	p, err := c.slot(id)
	if err != nil {
		return err
	}
	p.EquippableToAll = true
	c.parts[id] = p
	return nil
}

// CheckEquippable reports whether collection may fill slot part id.
func (c *Catalog) CheckEquippable(id protocol.PartID, collection protocol.ActorRef) error {
	p, err := c.slot(id)
	if err != nil {
		return err
	}
	if p.EquippableToAll {
		return nil
	}
	for _, col := range p.Equippable {
		if col == collection {
			return nil
		}
	}
	return protocol.NotFound("collection %s is not in the equippable list of part %d", collection, id)
}

func (c *Catalog) Len() int { return len(c.parts) }

func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.parts)
}

func (c *Catalog) UnmarshalJSON(data []byte) error {
	parts := map[protocol.PartID]protocol.Part{}
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.parts = parts
	return nil
}

func dedupe(refs []protocol.ActorRef) []protocol.ActorRef {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[protocol.ActorRef]struct{}, len(refs))
	out := make([]protocol.ActorRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
