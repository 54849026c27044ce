package asset

import (
	"encoding/json"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Equipment records which local tokens are equipped into a parent slot.
// A token fills at most one slot.
type Equipment struct {
	equipped map[protocol.TokenID]protocol.TokenEquipped
}

func NewEquipment() *Equipment {
	return &Equipment{equipped: map[protocol.TokenID]protocol.TokenEquipped{}}
}

func (e *Equipment) IsEquipped(token protocol.TokenID) bool {
	_, ok := e.equipped[token]
	return ok
}

func (e *Equipment) Get(token protocol.TokenID) (protocol.TokenEquipped, bool) {
	rec, ok := e.equipped[token]
	return rec, ok
}

func (e *Equipment) Equip(rec protocol.TokenEquipped) error {
	if _, ok := e.equipped[rec.Token]; ok {
		return protocol.Conflict("token %s is already equipped", rec.Token)
	}
	e.equipped[rec.Token] = rec
	return nil
}

func (e *Equipment) Unequip(token protocol.TokenID) (protocol.TokenEquipped, error) {
	rec, ok := e.equipped[token]
	if !ok {
		return protocol.TokenEquipped{}, protocol.NotFound("token %s is not equipped", token)
	}
	delete(e.equipped, token)
	return rec, nil
}

func (e *Equipment) Len() int { return len(e.equipped) }

func (e *Equipment) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.equipped)
}

func (e *Equipment) UnmarshalJSON(data []byte) error {
	equipped := map[protocol.TokenID]protocol.TokenEquipped{}
	if err := json.Unmarshal(data, &equipped); err != nil {
		return err
	}
	e.equipped = equipped
	return nil
}
