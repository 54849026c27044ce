package continuation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

// StepFunc advances one operation. It is called once on the request and
// once per consumed reply, and must only rely on the Tx.
type StepFunc func(t *tx.Tx) tx.Outcome

// Runner drives operations of one actor through a tx.Manager. It turns
// outcomes into outbound envelopes and guarantees one reply per request.
type Runner struct {
	txs     *tx.Manager
	step    StepFunc
	release func(t *tx.Tx)
	logger  zerolog.Logger
}

func NewRunner(txs *tx.Manager, step StepFunc, logger zerolog.Logger) *Runner {
	return &Runner{
		txs:     txs,
		step:    step,
		release: func(*tx.Tx) {},
		logger:  logger,
	}
}

// OnFinish registers a hook run after an operation terminates, whatever the
// outcome. Aggregates use it to drop per-token guards.
func (r *Runner) OnFinish(fn func(t *tx.Tx)) {
	if fn != nil {
		r.release = fn
	}
}

func (r *Runner) Manager() *tx.Manager { return r.txs }

// Handle routes an inbound envelope: replies resume, SWEEP expires, and
// everything else starts a new operation.
func (r *Runner) Handle(env protocol.Envelope) []protocol.Envelope {
	switch {
	case env.IsReply():
		return r.Resume(env)
	case env.Kind == protocol.ActionSweep:
		if env.Source != env.Target {
			r.logger.Warn().Str("source", env.Source.String()).Msg("rejecting foreign sweep")
			return []protocol.Envelope{env.ReplyError(protocol.Unauthorized("sweep must come from the actor itself"), env.SentAt)}
		}
		now := env.SentAt
		if len(env.Payload) > 0 {
			if sweep, err := protocol.DecodePayload[protocol.Sweep](env.Payload); err == nil && !sweep.Now.IsZero() {
				now = sweep.Now
			}
		}
		return r.Sweep(now)
	default:
		return r.Start(env)
	}
}

// Start begins the operation carried by req.
func (r *Runner) Start(req protocol.Envelope) []protocol.Envelope {
	if err := req.ValidateBasic(); err != nil {
		r.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("rejecting malformed request")
		if req.Source.IsZero() || req.ID == uuid.Nil {
			return nil
		}
		return []protocol.Envelope{req.ReplyError(protocol.InvalidInput("%v", err), req.SentAt)}
	}
	t, err := r.txs.Begin(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("operation", req.ID.String()).Msg("dropping redelivered request")
		return nil
	}
	return r.advance(t, req.SentAt)
}

// Resume feeds a reply to the operation waiting for it.
func (r *Runner) Resume(reply protocol.Envelope) []protocol.Envelope {
	t, err := r.txs.Resolve(reply)
	if errors.Is(err, tx.ErrOrphanReply) {
		r.logger.Warn().
			Str("in_reply_to", reply.InReplyTo.String()).
			Str("kind", string(reply.Kind)).
			Msg("dropping orphan reply")
		return nil
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("operation", t.OperationID.String()).Msg("protocol violation")
		return r.fail(t, err, reply.SentAt)
	}
	r.logger.Debug().
		Str("operation", t.OperationID.String()).
		Str("state", string(t.State)).
		Msg("resuming operation")
	return r.advance(t, reply.SentAt)
}

// Sweep fails every operation whose deadline passed at now.
func (r *Runner) Sweep(now time.Time) []protocol.Envelope {
	var out []protocol.Envelope
	for _, t := range r.txs.Expired(now) {
		r.logger.Warn().
			Str("operation", t.OperationID.String()).
			Str("state", string(t.State)).
			Msg("operation timed out")
		out = append(out, r.fail(t, protocol.Errorf(protocol.CodeTimeout, "operation %s timed out in %s", t.OperationID, t.State), now)...)
	}
	return out
}

func (r *Runner) advance(t *tx.Tx, at time.Time) []protocol.Envelope {
	o := r.step(t)
	switch o.Kind {
	case tx.OutcomeSuspend:
		out, err := r.txs.Suspend(t, o, at)
		if err != nil {
			return r.fail(t, err, at)
		}
		r.logger.Debug().
			Str("operation", t.OperationID.String()).
			Str("state", string(t.State)).
			Str("target", out.Target.String()).
			Str("request", string(out.Kind)).
			Msg("operation suspended")
		return []protocol.Envelope{out}
	case tx.OutcomeDone:
		reply, err := t.Request.Reply(o.Reply, o.ReplyValue, at)
		if err != nil {
			return r.fail(t, err, at)
		}
		r.txs.Finish(t, nil)
		r.release(t)
		return []protocol.Envelope{reply}
	default:
		return r.fail(t, o.Err, at)
	}
}

func (r *Runner) fail(t *tx.Tx, err error, at time.Time) []protocol.Envelope {
	r.txs.Finish(t, err)
	r.release(t)
	r.logger.Debug().
		Str("operation", t.OperationID.String()).
		Str("kind", string(t.Request.Kind)).
		Err(t.Err).
		Msg("operation failed")
	return []protocol.Envelope{t.Request.ReplyError(t.Err, at)}
}
