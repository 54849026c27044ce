package collection

import (
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

func (c *Collection) query(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionTokenInfo:
		req, err := tx.Request[protocol.TokenInfo](t)
		if err != nil {
			return tx.Fail(err)
		}
		view, err := c.tokenView(req.Token)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventTokenView, view)
	case protocol.ActionBalanceOf:
		req, err := tx.Request[protocol.BalanceOf](t)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventBalance, protocol.Balance{Account: req.Account, Count: c.tokens.BalanceOf(req.Account)})
	default:
		stats := c.stats()
		// the query itself is in flight
		stats.InFlight--
		return tx.Done(protocol.EventStatsView, stats)
	}
}

func (c *Collection) tokenView(id protocol.TokenID) (protocol.TokenView, error) {
	rec, err := c.tokens.Lookup(id)
	if err != nil {
		return protocol.TokenView{}, err
	}
	view := protocol.TokenView{
		Token:            id,
		Owner:            rec.Owner,
		ParentToken:      rec.ParentToken,
		Pending:          c.children.Pending(id),
		Accepted:         c.children.Accepted(id),
		Approvals:        c.tokens.Approvals(id),
		PendingResources: c.resources.Pending(id),
		ActiveResources:  c.resources.Active(id),
		Priorities:       c.resources.Priorities(id),
	}
	if eq, ok := c.equipment.Get(id); ok {
		view.Equipped = &eq
	}
	return view, nil
}

func (c *Collection) stats() protocol.StatsView {
	txs := c.runner.Manager()
	return protocol.StatsView{
		Tokens:       c.tokens.Len(),
		InFlight:     txs.Len(),
		Correlations: txs.Correlations(),
		Children:     c.children.Len(),
	}
}
