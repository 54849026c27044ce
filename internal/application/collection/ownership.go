package collection

import (
	"github.com/nestkit/nestkit/internal/domain/token"
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func (c *Collection) ownership(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionMintToRootOwner:
		return c.mintToRootOwner(t)
	case protocol.ActionMintToNft:
		return c.mintToNft(t)
	case protocol.ActionTransfer:
		return c.transfer(t)
	case protocol.ActionTransferToNft:
		return c.transferToNft(t)
	case protocol.ActionApprove:
		return c.approve(t)
	default:
		return c.rootOwnerQuery(t)
	}
}

func (c *Collection) mintToRootOwner(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.MintToRootOwner](t)
	if err != nil {
		return tx.Fail(err)
	}
	if _, reserved := c.locks[req.Token]; reserved {
		return tx.Fail(protocol.Conflict("token %s is being minted", req.Token))
	}
	if err := c.tokens.Insert(req.Token, token.OwnedBy(req.Owner)); err != nil {
		return tx.Fail(err)
	}
	c.logger.Info().Str("token", req.Token.String()).Str("owner", req.Owner.String()).Msg("token minted")
	return tx.Done(protocol.EventMintToRootOwner, req)
}

// mintToNft reserves the id, registers the token as a pending child of its
// parent and only then creates the record.
func (c *Collection) mintToNft(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.MintToNft](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		if err := protocol.RequireToken(req.Token); err != nil {
			return tx.Fail(err)
		}
		if req.ParentActor.IsZero() {
			return tx.Fail(protocol.InvalidInput("parent actor cannot be zero"))
		}
		if c.tokens.Exists(req.Token) {
			return tx.Fail(protocol.Conflict("token %s already exists", req.Token))
		}
		if err := c.lock(t, req.Token); err != nil {
			return tx.Fail(err)
		}
		return tx.Suspend(tx.StateAwaitingAddChild, req.ParentActor, protocol.ActionAddChild,
			protocol.AddChild{ParentToken: req.ParentToken, ChildToken: req.Token}, nil)
	case tx.StateAddChildReceived:
		if _, err := tx.Reply[protocol.ChildOp](t); err != nil {
			return tx.Fail(err)
		}
		if err := c.tokens.Insert(req.Token, token.NestedUnder(req.ParentActor, req.ParentToken)); err != nil {
			return tx.Fail(err)
		}
		c.logger.Info().Str("token", req.Token.String()).Str("parent", req.ParentActor.String()).Msg("token minted into parent")
		return tx.Done(protocol.EventMintToNft, req)
	default:
		return unexpected(t)
	}
}

func (c *Collection) transfer(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.Transfer](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial, tx.StateRootOwnerReceived:
		if t.State == tx.StateInitial {
			if req.To.IsZero() {
				return tx.Fail(protocol.InvalidInput("cannot transfer to the zero account"))
			}
			if err := c.lock(t, req.Token); err != nil {
				return tx.Fail(err)
			}
		}
		return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(protocol.ActorRef) tx.Outcome {
			rec, err := c.tokens.Lookup(req.Token)
			if err != nil {
				return tx.Fail(err)
			}
			if parent, nested := rec.Parent(); nested {
				return tx.Suspend(tx.StateAwaitingBurnChild, parent.Actor, protocol.ActionBurnChild,
					protocol.BurnChild{ParentToken: parent.Token, ChildToken: req.Token}, nil)
			}
			return c.completeTransfer(req)
		}))
	case tx.StateBurnChildReceived:
		if _, err := tx.Reply[protocol.ChildOp](t); tolerateNotFound(err) != nil {
			return tx.Fail(err)
		}
		return c.completeTransfer(req)
	default:
		return unexpected(t)
	}
}

func (c *Collection) completeTransfer(req protocol.Transfer) tx.Outcome {
	if err := c.tokens.Set(req.Token, token.OwnedBy(req.To)); err != nil {
		return tx.Fail(err)
	}
	c.dropEquipment(req.Token)
	return tx.Done(protocol.EventTransfer, req)
}

// transferCarry survives the hops of a transfer into another token.
type transferCarry struct {
	Root    protocol.ActorRef `json:"root"`
	NewRoot protocol.ActorRef `json:"new_root"`
}

// transferToNft nests a local token under destination hosted by To. The
// destination lookup starts with the moving token in its trail, so nesting
// a token under its own descendant is reported as a cycle.
func (c *Collection) transferToNft(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.TransferToNft](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial, tx.StateRootOwnerReceived:
		if t.State == tx.StateInitial {
			if req.To.IsZero() {
				return tx.Fail(protocol.InvalidInput("destination actor cannot be zero"))
			}
			if err := protocol.RequireToken(req.Destination); err != nil {
				return tx.Fail(err)
			}
			if err := c.lock(t, req.Token); err != nil {
				return tx.Fail(err)
			}
		}
		return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(root protocol.ActorRef) tx.Outcome {
			query := protocol.RootOwnerQuery{
				Token: req.Destination,
				Trail: []protocol.TokenRef{c.ref(req.Token)},
			}
			return tx.Suspend(tx.StateAwaitingNewRootOwner, req.To, protocol.ActionRootOwner, query, transferCarry{Root: root})
		}))
	case tx.StateNewRootOwnerReceived:
		res, err := tx.Reply[protocol.RootOwnerResolved](t)
		if err != nil {
			return tx.Fail(err)
		}
		carry, err := tx.Saved[transferCarry](t)
		if err != nil {
			return tx.Fail(err)
		}
		carry.NewRoot = res.Account
		rec, err := c.tokens.Lookup(req.Token)
		if err != nil {
			return tx.Fail(err)
		}
		parent, nested := rec.Parent()
		switch {
		case nested && parent.Actor == req.To && parent.Token == req.Destination:
			return tx.Fail(protocol.Conflict("token %s is already nested under %s", req.Token, parent))
		case nested && parent.Actor == req.To:
			return tx.Suspend(tx.StateAwaitingTransferChild, req.To, protocol.ActionTransferChild,
				protocol.TransferChild{From: parent.Token, To: req.Destination, ChildToken: req.Token}, carry)
		case nested:
			return tx.Suspend(tx.StateAwaitingBurnChild, parent.Actor, protocol.ActionBurnChild,
				protocol.BurnChild{ParentToken: parent.Token, ChildToken: req.Token}, carry)
		default:
			return c.addToDestination(req, carry)
		}
	case tx.StateBurnChildReceived:
		if _, err := tx.Reply[protocol.ChildOp](t); tolerateNotFound(err) != nil {
			return tx.Fail(err)
		}
		carry, err := tx.Saved[transferCarry](t)
		if err != nil {
			return tx.Fail(err)
		}
		return c.addToDestination(req, carry)
	case tx.StateTransferChildReceived:
		if _, err := tx.Reply[protocol.ChildTransferred](t); err != nil {
			return tx.Fail(err)
		}
		return c.completeTransferToNft(req)
	case tx.StateAddChildReceived, tx.StateAddAcceptedChildReceived:
		if _, err := tx.Reply[protocol.ChildOp](t); err != nil {
			return tx.Fail(err)
		}
		return c.completeTransferToNft(req)
	default:
		return unexpected(t)
	}
}

// addToDestination proposes the token to its new parent. Under a shared
// root owner the parent may accept it directly.
func (c *Collection) addToDestination(req protocol.TransferToNft, carry transferCarry) tx.Outcome {
	add := protocol.AddChild{ParentToken: req.Destination, ChildToken: req.Token}
	if carry.Root == carry.NewRoot {
		return tx.Suspend(tx.StateAwaitingAddAcceptedChild, req.To, protocol.ActionAddAcceptedChild, add, carry)
	}
	return tx.Suspend(tx.StateAwaitingAddChild, req.To, protocol.ActionAddChild, add, carry)
}

func (c *Collection) completeTransferToNft(req protocol.TransferToNft) tx.Outcome {
	if err := c.tokens.Set(req.Token, token.NestedUnder(req.To, req.Destination)); err != nil {
		return tx.Fail(err)
	}
	c.dropEquipment(req.Token)
	return tx.Done(protocol.EventTransferToNft, req)
}

// approve lets the root owner (and only the root owner) grant an account
// rights over one token.
func (c *Collection) approve(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.Approve](t)
	if err != nil {
		return tx.Fail(err)
	}
	if t.State == tx.StateInitial {
		if req.To.IsZero() {
			return tx.Fail(protocol.InvalidInput("cannot approve the zero account"))
		}
		if err := c.lock(t, req.Token); err != nil {
			return tx.Fail(err)
		}
	}
	return c.withRootOwner(t, req.Token, nil, func(root protocol.ActorRef) tx.Outcome {
		if t.Caller() != root {
			return tx.Fail(protocol.Unauthorized("only the root owner can approve token %s", req.Token))
		}
		if req.To == root {
			return tx.Fail(protocol.InvalidInput("root owner cannot approve itself"))
		}
		if err := c.tokens.Approve(req.Token, req.To); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventApproval, protocol.Approval{RootOwner: root, Approved: req.To, Token: req.Token})
	})
}
