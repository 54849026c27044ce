package collection

import (
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

// burnCarry tracks a cascade: the root owner handed to every child and the
// child whose acknowledgement is awaited.
type burnCarry struct {
	Root    protocol.ActorRef  `json:"root"`
	Current *protocol.TokenRef `json:"current,omitempty"`
}

func (c *Collection) burning(t *tx.Tx) tx.Outcome {
	if t.Request.Kind == protocol.ActionBurnFromParent {
		return c.burnFromParent(t)
	}
	return c.burn(t)
}

// burn destroys a token on behalf of its controller: children first, then
// the entry in its own parent, then the local record.
func (c *Collection) burn(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.Burn](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial, tx.StateRootOwnerReceived:
		if t.State == tx.StateInitial {
			if err := c.lock(t, req.Token); err != nil {
				return tx.Fail(err)
			}
		}
		return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(root protocol.ActorRef) tx.Outcome {
			return c.cascade(req.Token, burnCarry{Root: root}, c.detachFromParent)
		}))
	case tx.StateBurnFromParentReceived:
		return c.resumeCascade(t, req.Token, c.detachFromParent)
	case tx.StateBurnChildReceived:
		if _, err := tx.Reply[protocol.ChildOp](t); tolerateNotFound(err) != nil {
			return tx.Fail(err)
		}
		return c.finalizeBurn(req.Token)
	default:
		return unexpected(t)
	}
}

// burnFromParent is the downward cascade ordered by the actor hosting the
// parent. It overrides any user operation guarding the token.
func (c *Collection) burnFromParent(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.BurnFromParent](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		rec, err := c.tokens.Lookup(req.ChildToken)
		if err != nil {
			return tx.Fail(err)
		}
		if !rec.IsNested() || rec.Owner != t.Caller() {
			return tx.Fail(protocol.Unauthorized("%s does not host the parent of token %s", t.Caller(), req.ChildToken))
		}
		c.seize(t, req.ChildToken)
		return c.cascade(req.ChildToken, burnCarry{Root: req.RootOwner}, c.finalizeBurn)
	case tx.StateBurnFromParentReceived:
		return c.resumeCascade(t, req.ChildToken, c.finalizeBurn)
	default:
		return unexpected(t)
	}
}

// cascade burns the next remaining child of id, or calls then when none
// is left. Children are read from the ledger on every round so entries
// added during the cascade are burnt too.
func (c *Collection) cascade(id protocol.TokenID, carry burnCarry, then func(protocol.TokenID) tx.Outcome) tx.Outcome {
	remaining := c.children.Children(id)
	if len(remaining) == 0 {
		return then(id)
	}
	next := remaining[0]
	carry.Current = &next
	return tx.Suspend(tx.StateAwaitingBurnFromParent, next.Actor, protocol.ActionBurnFromParent,
		protocol.BurnFromParent{ChildToken: next.Token, RootOwner: carry.Root}, carry)
}

func (c *Collection) resumeCascade(t *tx.Tx, id protocol.TokenID, then func(protocol.TokenID) tx.Outcome) tx.Outcome {
	if _, err := tx.Reply[protocol.TokensBurnt](t); tolerateNotFound(err) != nil {
		return tx.Fail(err)
	}
	carry, err := tx.Saved[burnCarry](t)
	if err != nil {
		return tx.Fail(err)
	}
	if !c.tokens.Exists(id) {
		return tx.Fail(protocol.NotFound("token %s was removed during its burn", id))
	}
	if carry.Current != nil {
		// the child may already have reported itself gone through BURN_CHILD
		_, _ = c.children.Burn(id, *carry.Current)
		carry.Current = nil
	}
	return c.cascade(id, carry, then)
}

func (c *Collection) detachFromParent(id protocol.TokenID) tx.Outcome {
	rec, err := c.tokens.Lookup(id)
	if err != nil {
		return tx.Fail(err)
	}
	if parent, nested := rec.Parent(); nested {
		return tx.Suspend(tx.StateAwaitingBurnChild, parent.Actor, protocol.ActionBurnChild,
			protocol.BurnChild{ParentToken: parent.Token, ChildToken: id}, nil)
	}
	return c.finalizeBurn(id)
}

func (c *Collection) finalizeBurn(id protocol.TokenID) tx.Outcome {
	if _, ok := c.tokens.Remove(id); !ok {
		return tx.Fail(protocol.NotFound("token %s does not exist", id))
	}
	c.resources.Drop(id)
	c.dropEquipment(id)
	c.logger.Info().Str("token", id.String()).Msg("token burnt")
	return tx.Done(protocol.EventTokensBurnt, protocol.TokensBurnt{Tokens: []protocol.TokenID{id}})
}

// dropEquipment forgets the slot id occupies. An equip holds only while the
// parent keeps the child accepted, so leaving the parent ends it.
func (c *Collection) dropEquipment(id protocol.TokenID) {
	if c.equipment.IsEquipped(id) {
		_, _ = c.equipment.Unequip(id)
	}
}
