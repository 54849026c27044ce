package collection

import (
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func (c *Collection) resourceFamily(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionAddResourceEntry:
		return c.addResourceEntry(t)
	case protocol.ActionAddResource:
		return c.addResource(t)
	case protocol.ActionSetPriority:
		return c.setPriority(t)
	default:
		return c.decideResource(t)
	}
}

func (c *Collection) requireResourceStore() error {
	if c.resourceStore.IsZero() {
		return protocol.InvalidInput("collection %s has no resource store", c.self)
	}
	return nil
}

// addResourceEntry forwards an admin's new resource to the store.
func (c *Collection) addResourceEntry(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddResourceEntry](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		if err := c.requireAdmin(t.Caller()); err != nil {
			return tx.Fail(err)
		}
		if err := c.requireResourceStore(); err != nil {
			return tx.Fail(err)
		}
		return tx.Suspend(tx.StateAwaitingResourceEntry, c.resourceStore, protocol.ActionAddResourceEntry, req, nil)
	case tx.StateResourceEntryReceived:
		res, err := tx.Reply[protocol.ResourceEntryAdded](t)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventResourceEntryAdded, res)
	default:
		return unexpected(t)
	}
}

// addResource proposes a stored resource to a token. The store is asked
// first so a token never references an unknown resource.
func (c *Collection) addResource(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddResource](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		if err := c.requireAdmin(t.Caller()); err != nil {
			return tx.Fail(err)
		}
		if err := c.requireResourceStore(); err != nil {
			return tx.Fail(err)
		}
		if _, err := c.tokens.Lookup(req.Token); err != nil {
			return tx.Fail(err)
		}
		if req.Resource == 0 {
			return tx.Fail(protocol.InvalidInput("resource id cannot be zero"))
		}
		return tx.Suspend(tx.StateAwaitingResource, c.resourceStore, protocol.ActionGetResource,
			protocol.GetResource{ID: req.Resource}, nil)
	case tx.StateResourceReceived:
		if _, err := tx.Reply[protocol.ResourceFound](t); err != nil {
			return tx.Fail(err)
		}
		if _, err := c.tokens.Lookup(req.Token); err != nil {
			return tx.Fail(err)
		}
		if err := c.resources.Add(req.Token, req.Resource, req.Overwrite); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventResourceAdded, protocol.ResourceOp{Token: req.Token, Resource: req.Resource})
	default:
		return unexpected(t)
	}
}

// decideResource serves accept and reject of a pending resource.
func (c *Collection) decideResource(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.ResourceOp](t)
	if err != nil {
		return tx.Fail(err)
	}
	if t.State == tx.StateInitial {
		if err := c.lock(t, req.Token); err != nil {
			return tx.Fail(err)
		}
	}
	return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(protocol.ActorRef) tx.Outcome {
		if t.Request.Kind == protocol.ActionAcceptResource {
			if err := c.resources.Accept(req.Token, req.Resource); err != nil {
				return tx.Fail(err)
			}
			return tx.Done(protocol.EventResourceAccepted, req)
		}
		if err := c.resources.Reject(req.Token, req.Resource); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventResourceRejected, req)
	}))
}

func (c *Collection) setPriority(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.SetPriority](t)
	if err != nil {
		return tx.Fail(err)
	}
	if t.State == tx.StateInitial {
		if err := c.lock(t, req.Token); err != nil {
			return tx.Fail(err)
		}
	}
	return c.withRootOwner(t, req.Token, nil, c.authorized(t, req.Token, func(protocol.ActorRef) tx.Outcome {
		if err := c.resources.SetPriority(req.Token, req.Priorities); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventPrioritySet, req)
	}))
}
