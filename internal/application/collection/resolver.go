package collection

import (
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func revisits(trail []protocol.TokenRef, here protocol.TokenRef) error {
	for _, seen := range trail {
		if seen == here {
			return protocol.Conflict("ownership cycle through %s", here)
		}
	}
	return nil
}

// extendTrail appends here to a lookup trail, refusing chains deeper than
// the configured bound.
func (c *Collection) extendTrail(trail []protocol.TokenRef, here protocol.TokenRef) ([]protocol.TokenRef, error) {
	if len(trail) >= c.maxDepth {
		return nil, protocol.InvalidInput("ownership chain deeper than %d", c.maxDepth)
	}
	out := make([]protocol.TokenRef, 0, len(trail)+1)
	out = append(out, trail...)
	return append(out, here), nil
}

// resolve returns the root owner of a local token when it is not nested.
// Otherwise ok is false and o suspends in awaiting on a lookup sent to the
// actor hosting the parent. A token already on the trail is a cycle even
// when it is a root.
func (c *Collection) resolve(id protocol.TokenID, trail []protocol.TokenRef, awaiting tx.State, carry any) (root protocol.ActorRef, o tx.Outcome, ok bool) {
	if err := revisits(trail, c.ref(id)); err != nil {
		return protocol.ZeroActor, tx.Fail(err), false
	}
	rec, err := c.tokens.Lookup(id)
	if err != nil {
		return protocol.ZeroActor, tx.Fail(err), false
	}
	parent, nested := rec.Parent()
	if !nested {
		return rec.Owner, tx.Outcome{}, true
	}
	next, err := c.extendTrail(trail, c.ref(id))
	if err != nil {
		return protocol.ZeroActor, tx.Fail(err), false
	}
	query := protocol.RootOwnerQuery{Token: parent.Token, Trail: next}
	return protocol.ZeroActor, tx.Suspend(awaiting, parent.Actor, protocol.ActionRootOwner, query, carry), false
}

// withRootOwner is the first phase of every operation that authorizes its
// caller. It must be entered in StateInitial or StateRootOwnerReceived;
// next runs once the root owner of id is known and id still exists.
func (c *Collection) withRootOwner(t *tx.Tx, id protocol.TokenID, carry any, next func(root protocol.ActorRef) tx.Outcome) tx.Outcome {
	switch t.State {
	case tx.StateInitial:
		root, o, ok := c.resolve(id, nil, tx.StateAwaitingRootOwner, carry)
		if !ok {
			return o
		}
		return next(root)
	case tx.StateRootOwnerReceived:
		res, err := tx.Reply[protocol.RootOwnerResolved](t)
		if err != nil {
			return tx.Fail(err)
		}
		if !c.tokens.Exists(id) {
			return tx.Fail(protocol.NotFound("token %s was removed while resolving its owner", id))
		}
		return next(res.Account)
	default:
		return unexpected(t)
	}
}

// authorized wraps next with the root-owner-or-approved check on id.
func (c *Collection) authorized(t *tx.Tx, id protocol.TokenID, next func(root protocol.ActorRef) tx.Outcome) func(protocol.ActorRef) tx.Outcome {
	return func(root protocol.ActorRef) tx.Outcome {
		if err := c.tokens.Authorize(id, t.Caller(), root); err != nil {
			return tx.Fail(err)
		}
		return next(root)
	}
}

// rootOwnerQuery answers ROOT_OWNER, forwarding one hop up when the token
// is nested.
func (c *Collection) rootOwnerQuery(t *tx.Tx) tx.Outcome {
	switch t.State {
	case tx.StateInitial:
		q, err := tx.Request[protocol.RootOwnerQuery](t)
		if err != nil {
			return tx.Fail(err)
		}
		root, o, ok := c.resolve(q.Token, q.Trail, tx.StateAwaitingRootOwner, nil)
		if !ok {
			return o
		}
		return tx.Done(protocol.EventRootOwner, protocol.RootOwnerResolved{Account: root})
	case tx.StateRootOwnerReceived:
		res, err := tx.Reply[protocol.RootOwnerResolved](t)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventRootOwner, res)
	default:
		return unexpected(t)
	}
}

// tolerateNotFound treats a missing counterpart as already cleaned up.
func tolerateNotFound(err error) error {
	if err == nil {
		return nil
	}
	if e := protocol.AsError(err); e.Code == protocol.CodeNotFound {
		return nil
	}
	return err
}
