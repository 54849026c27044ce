package collection

import (
	"slices"

	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func (c *Collection) equip(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionEquip:
		return c.equipToken(t)
	case protocol.ActionUnequip:
		return c.unequipToken(t)
	default:
		return c.checkEquippable(t)
	}
}

type equipCarry struct {
	Slot protocol.SlotID `json:"slot"`
}

// equipToken runs on the child's actor: its slot resource is looked up in
// the resource store, then the parent's actor confirms that the slot of its
// composed resource accepts the child.
func (c *Collection) equipToken(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.Equip](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial, tx.StateRootOwnerReceived:
		if t.State == tx.StateInitial {
			if err := c.equippable(req); err != nil {
				return tx.Fail(err)
			}
			if req.Equippable.Actor.IsZero() {
				return tx.Fail(protocol.InvalidInput("equippable actor cannot be zero"))
			}
			if err := c.requireResourceStore(); err != nil {
				return tx.Fail(err)
			}
			if err := c.lock(t, req.Token); err != nil {
				return tx.Fail(err)
			}
		}
		return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(protocol.ActorRef) tx.Outcome {
			return tx.Suspend(tx.StateAwaitingResource, c.resourceStore, protocol.ActionGetResource,
				protocol.GetResource{ID: req.Resource}, nil)
		}))
	case tx.StateResourceReceived:
		found, err := tx.Reply[protocol.ResourceFound](t)
		if err != nil {
			return tx.Fail(err)
		}
		res := found.Resource
		if res.Kind != protocol.ResourceSlot {
			return tx.Fail(protocol.InvalidInput("resource %d is %s, not a slot resource", req.Resource, res.Kind))
		}
		if req.Slot != 0 && req.Slot != res.Slot {
			return tx.Fail(protocol.InvalidInput("resource %d fits slot %d, not %d", req.Resource, res.Slot, req.Slot))
		}
		if err := c.equippable(req); err != nil {
			return tx.Fail(err)
		}
		check := protocol.CheckEquippable{
			Token:      req.Equippable.Token,
			ChildToken: req.Token,
			Resource:   req.EquippableResource,
			Slot:       res.Slot,
			Base:       res.Base,
		}
		return tx.Suspend(tx.StateAwaitingCheckEquippable, req.Equippable.Actor, protocol.ActionCheckEquippable,
			check, equipCarry{Slot: res.Slot})
	case tx.StateCheckEquippableReceived:
		if _, err := tx.Reply[protocol.EquippableIsOk](t); err != nil {
			return tx.Fail(err)
		}
		carry, err := tx.Saved[equipCarry](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := c.equippable(req); err != nil {
			return tx.Fail(err)
		}
		rec := protocol.TokenEquipped{
			Token:      req.Token,
			Resource:   req.Resource,
			Slot:       carry.Slot,
			Equippable: req.Equippable,
		}
		if err := c.equipment.Equip(rec); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventTokenEquipped, rec)
	default:
		return unexpected(t)
	}
}

// equippable holds before every equip step: the token exists, is free and
// has the resource active.
func (c *Collection) equippable(req protocol.Equip) error {
	if _, err := c.tokens.Lookup(req.Token); err != nil {
		return err
	}
	if c.equipment.IsEquipped(req.Token) {
		return protocol.Conflict("token %s is already equipped", req.Token)
	}
	if !c.resources.IsActive(req.Token, req.Resource) {
		return protocol.NotFound("resource %d is not active on token %s", req.Resource, req.Token)
	}
	return nil
}

func (c *Collection) unequipToken(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.Unequip](t)
	if err != nil {
		return tx.Fail(err)
	}
	if t.State == tx.StateInitial {
		if !c.equipment.IsEquipped(req.Token) {
			return tx.Fail(protocol.NotFound("token %s is not equipped", req.Token))
		}
		if err := c.lock(t, req.Token); err != nil {
			return tx.Fail(err)
		}
	}
	return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(protocol.ActorRef) tx.Outcome {
		rec, err := c.equipment.Unequip(req.Token)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventTokenUnequipped, rec)
	}))
}

// checkEquippable runs on the parent's actor for a child hosted by the
// caller: the child must be accepted and the parent's composed resource
// must expose the slot on the same catalog, which has the final say.
func (c *Collection) checkEquippable(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.CheckEquippable](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		if err := c.requireResourceStore(); err != nil {
			return tx.Fail(err)
		}
		if err := c.acceptsEquip(t, req); err != nil {
			return tx.Fail(err)
		}
		return tx.Suspend(tx.StateAwaitingResource, c.resourceStore, protocol.ActionGetResource,
			protocol.GetResource{ID: req.Resource}, nil)
	case tx.StateResourceReceived:
		found, err := tx.Reply[protocol.ResourceFound](t)
		if err != nil {
			return tx.Fail(err)
		}
		res := found.Resource
		if res.Kind != protocol.ResourceComposed {
			return tx.Fail(protocol.InvalidInput("resource %d is %s, not a composed resource", req.Resource, res.Kind))
		}
		if res.Base != req.Base {
			return tx.Fail(protocol.InvalidInput("resource %d uses catalog %s, not %s", req.Resource, res.Base, req.Base))
		}
		if !slices.Contains(res.Parts, req.Slot) {
			return tx.Fail(protocol.InvalidInput("resource %d has no slot %d", req.Resource, req.Slot))
		}
		return tx.Suspend(tx.StateAwaitingCatalogCheck, req.Base, protocol.ActionCatalogCheckEquippable,
			protocol.EquippableAddress{Part: req.Slot, Collection: t.Caller()}, nil)
	case tx.StateCatalogCheckReceived:
		if _, err := tx.Reply[protocol.EquippableAddress](t); err != nil {
			return tx.Fail(err)
		}
		if err := c.acceptsEquip(t, req); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventEquippableIsOk, protocol.EquippableIsOk{
			Token:      req.Token,
			ChildToken: req.ChildToken,
			Slot:       req.Slot,
		})
	default:
		return unexpected(t)
	}
}

func (c *Collection) acceptsEquip(t *tx.Tx, req protocol.CheckEquippable) error {
	if _, err := c.tokens.Lookup(req.Token); err != nil {
		return err
	}
	key := protocol.ChildKey{Actor: t.Caller(), Token: req.ChildToken}
	if !c.children.HasAccepted(req.Token, key) {
		return protocol.NotFound("child %s is not accepted by token %s", key, req.Token)
	}
	if !c.resources.IsActive(req.Token, req.Resource) {
		return protocol.NotFound("resource %d is not active on token %s", req.Resource, req.Token)
	}
	return nil
}
