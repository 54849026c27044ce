package collection

import (
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func (c *Collection) childrenFamily(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionAddChild:
		return c.addChild(t)
	case protocol.ActionAddAcceptedChild:
		return c.addAcceptedChild(t)
	case protocol.ActionAcceptChild:
		return c.acceptChild(t)
	case protocol.ActionRejectChild, protocol.ActionRemoveChild:
		return c.dropChild(t)
	case protocol.ActionTransferChild:
		return c.transferChild(t)
	default:
		return c.burnChild(t)
	}
}

// addChild is sent by the actor hosting the child token.
func (c *Collection) addChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddChild](t)
	if err != nil {
		return tx.Fail(err)
	}
	if err := protocol.RequireToken(req.ChildToken); err != nil {
		return tx.Fail(err)
	}
	if _, err := c.tokens.Lookup(req.ParentToken); err != nil {
		return tx.Fail(err)
	}
	op := protocol.ChildOp{ParentToken: req.ParentToken, ChildActor: t.Caller(), ChildToken: req.ChildToken}
	if err := c.children.Add(req.ParentToken, op.Key()); err != nil {
		return tx.Fail(err)
	}
	return tx.Done(protocol.EventPendingChild, op)
}

// addAcceptedChild skips the pending phase when the account behind the
// chain controls the parent; otherwise the child lands in pending.
func (c *Collection) addAcceptedChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddChild](t)
	if err != nil {
		return tx.Fail(err)
	}
	op := protocol.ChildOp{ParentToken: req.ParentToken, ChildActor: t.Caller(), ChildToken: req.ChildToken}
	if t.State == tx.StateInitial {
		if err := protocol.RequireToken(req.ChildToken); err != nil {
			return tx.Fail(err)
		}
		if parent, _, ok := c.children.Placement(op.Key()); ok {
			return tx.Fail(protocol.Conflict("child %s is already under token %s", op.Key(), parent))
		}
	}
	return c.withRootOwner(t, req.ParentToken, nil, func(root protocol.ActorRef) tx.Outcome {
		origin := t.Request.Origin
		if origin == root || c.tokens.IsApproved(req.ParentToken, origin) {
			if err := c.children.AddAccepted(req.ParentToken, op.Key()); err != nil {
				return tx.Fail(err)
			}
			return tx.Done(protocol.EventAcceptedChild, op)
		}
		if err := c.children.Add(req.ParentToken, op.Key()); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventPendingChild, op)
	})
}

func (c *Collection) acceptChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.ChildOp](t)
	if err != nil {
		return tx.Fail(err)
	}
	if t.State == tx.StateInitial {
		if err := c.expectChild(req, protocol.ChildPending); err != nil {
			return tx.Fail(err)
		}
	}
	return c.withRootOwner(t, req.ParentToken, nil, c.authorized(t, req.ParentToken, func(protocol.ActorRef) tx.Outcome {
		if err := c.children.Accept(req.ParentToken, req.Key()); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventAcceptedChild, req)
	}))
}

// dropChild serves reject (pending) and remove (accepted). The ledger entry
// goes first; the child actor then burns its token.
func (c *Collection) dropChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.ChildOp](t)
	if err != nil {
		return tx.Fail(err)
	}
	status, event := protocol.ChildPending, protocol.EventRejectedChild
	if t.Request.Kind == protocol.ActionRemoveChild {
		status, event = protocol.ChildAccepted, protocol.EventRemovedChild
	}
	switch t.State {
	case tx.StateInitial, tx.StateRootOwnerReceived:
		if t.State == tx.StateInitial {
			if err := c.expectChild(req, status); err != nil {
				return tx.Fail(err)
			}
		}
		return c.withRootOwner(t, req.ParentToken, nil, c.authorized(t, req.ParentToken, func(root protocol.ActorRef) tx.Outcome {
			drop := c.children.Reject
			if status == protocol.ChildAccepted {
				drop = c.children.Remove
			}
			if err := drop(req.ParentToken, req.Key()); err != nil {
				return tx.Fail(err)
			}
			return tx.Suspend(tx.StateAwaitingBurnFromParent, req.ChildActor, protocol.ActionBurnFromParent,
				protocol.BurnFromParent{ChildToken: req.ChildToken, RootOwner: root}, nil)
		}))
	case tx.StateBurnFromParentReceived:
		if _, err := tx.Reply[protocol.TokensBurnt](t); tolerateNotFound(err) != nil {
			return tx.Fail(err)
		}
		return tx.Done(event, req)
	default:
		return unexpected(t)
	}
}

func (c *Collection) expectChild(req protocol.ChildOp, status protocol.ChildStatus) error {
	if _, err := c.tokens.Lookup(req.ParentToken); err != nil {
		return err
	}
	parent, got, ok := c.children.Placement(req.Key())
	if !ok || parent != req.ParentToken || got != status {
		return protocol.NotFound("child %s is not %s under token %s", req.Key(), status, req.ParentToken)
	}
	return nil
}

// transferChildCarry keeps the first root owner while the second is
// resolved.
type transferChildCarry struct {
	FromRoot protocol.ActorRef `json:"from_root"`
}

// transferChild moves a child between two local parents on behalf of the
// child actor. Acceptance survives only under an unchanged root owner.
func (c *Collection) transferChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.TransferChild](t)
	if err != nil {
		return tx.Fail(err)
	}
	key := protocol.ChildKey{Actor: t.Caller(), Token: req.ChildToken}
	switch t.State {
	case tx.StateInitial:
		if req.From == req.To {
			return tx.Fail(protocol.Conflict("child %s is already under token %s", key, req.To))
		}
		if err := c.expectTransferable(req, key); err != nil {
			return tx.Fail(err)
		}
		root, o, ok := c.resolve(req.From, nil, tx.StateAwaitingRootOwner, nil)
		if !ok {
			return o
		}
		return c.resolveTransferTarget(req, key, root)
	case tx.StateRootOwnerReceived:
		res, err := tx.Reply[protocol.RootOwnerResolved](t)
		if err != nil {
			return tx.Fail(err)
		}
		return c.resolveTransferTarget(req, key, res.Account)
	case tx.StateNewRootOwnerReceived:
		res, err := tx.Reply[protocol.RootOwnerResolved](t)
		if err != nil {
			return tx.Fail(err)
		}
		carry, err := tx.Saved[transferChildCarry](t)
		if err != nil {
			return tx.Fail(err)
		}
		return c.moveChild(req, key, carry.FromRoot, res.Account)
	default:
		return unexpected(t)
	}
}

func (c *Collection) expectTransferable(req protocol.TransferChild, key protocol.ChildKey) error {
	if _, err := c.tokens.Lookup(req.From); err != nil {
		return err
	}
	if _, err := c.tokens.Lookup(req.To); err != nil {
		return err
	}
	if parent, _, ok := c.children.Placement(key); !ok || parent != req.From {
		return protocol.NotFound("child %s is not under token %s", key, req.From)
	}
	return nil
}

func (c *Collection) resolveTransferTarget(req protocol.TransferChild, key protocol.ChildKey, fromRoot protocol.ActorRef) tx.Outcome {
	toRoot, o, ok := c.resolve(req.To, nil, tx.StateAwaitingNewRootOwner, transferChildCarry{FromRoot: fromRoot})
	if !ok {
		return o
	}
	return c.moveChild(req, key, fromRoot, toRoot)
}

func (c *Collection) moveChild(req protocol.TransferChild, key protocol.ChildKey, fromRoot, toRoot protocol.ActorRef) tx.Outcome {
	if err := c.expectTransferable(req, key); err != nil {
		return tx.Fail(err)
	}
	_, current, _ := c.children.Placement(key)
	status := protocol.ChildPending
	if current == protocol.ChildAccepted && fromRoot == toRoot {
		status = protocol.ChildAccepted
	}
	if err := c.children.Move(req.From, req.To, key, status); err != nil {
		return tx.Fail(err)
	}
	return tx.Done(protocol.EventChildTransferred, protocol.ChildTransferred{
		From:       req.From,
		To:         req.To,
		ChildActor: key.Actor,
		ChildToken: key.Token,
		Status:     status,
	})
}

// burnChild is the cleanup sent by a child actor that destroyed or moved
// away its token.
func (c *Collection) burnChild(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.BurnChild](t)
	if err != nil {
		return tx.Fail(err)
	}
	op := protocol.ChildOp{ParentToken: req.ParentToken, ChildActor: t.Caller(), ChildToken: req.ChildToken}
	if _, err := c.children.Burn(req.ParentToken, op.Key()); err != nil {
		return tx.Fail(err)
	}
	return tx.Done(protocol.EventChildBurnt, op)
}
