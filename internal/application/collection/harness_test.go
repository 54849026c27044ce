package collection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	appCatalog "github.com/nestkit/nestkit/internal/application/catalog"
	"github.com/nestkit/nestkit/internal/application/resourcestore"
	"github.com/nestkit/nestkit/internal/protocol"
)

type handler interface {
	HandleMessage(ctx context.Context, env protocol.Envelope) []protocol.Envelope
}

// network delivers envelopes between in-process actors in FIFO order and
// records every reply by the request it answers.
type network struct {
	t       *testing.T
	clock   time.Time
	actors  map[protocol.ActorRef]handler
	queue   []protocol.Envelope
	replies map[uuid.UUID]protocol.Envelope
	sent    []protocol.Envelope
}

func newNetwork(t *testing.T) *network {
	return &network{
		t:       t,
		clock:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		actors:  map[protocol.ActorRef]handler{},
		replies: map[uuid.UUID]protocol.Envelope{},
	}
}

func (n *network) now() time.Time {
	n.clock = n.clock.Add(time.Millisecond)
	return n.clock
}

// request builds a request from an account without sending it.
func (n *network) request(from, to protocol.ActorRef, kind protocol.Kind, payload any) protocol.Envelope {
	n.t.Helper()
	env, err := protocol.NewRequest(from, to, kind, payload, n.now())
	require.NoError(n.t, err)
	return env
}

// step hands env to its target and returns what it produced, without
// delivering the output.
func (n *network) step(env protocol.Envelope) []protocol.Envelope {
	n.t.Helper()
	h, ok := n.actors[env.Target]
	require.True(n.t, ok, "no actor %s", env.Target)
	out := h.HandleMessage(context.Background(), env)
	for _, o := range out {
		if !o.IsReply() {
			n.sent = append(n.sent, o)
		}
	}
	return out
}

// drain delivers queued envelopes until the network is quiet.
func (n *network) drain() {
	for len(n.queue) > 0 {
		env := n.queue[0]
		n.queue = n.queue[1:]
		if env.IsReply() {
			n.replies[env.InReplyTo] = env
		}
		if _, ok := n.actors[env.Target]; !ok {
			require.True(n.t, env.IsReply(), "request %s to unknown actor", env.Kind)
			continue
		}
		n.queue = append(n.queue, n.step(env)...)
	}
}

func (n *network) deliver(envs ...protocol.Envelope) {
	n.queue = append(n.queue, envs...)
	n.drain()
}

// call sends a request from an account and returns its final reply.
func (n *network) call(from, to protocol.ActorRef, kind protocol.Kind, payload any) protocol.Envelope {
	n.t.Helper()
	req := n.request(from, to, kind, payload)
	n.deliver(req)
	reply, ok := n.replies[req.ID]
	require.True(n.t, ok, "%s to %s got no reply", kind, to)
	return reply
}

// ok is call that requires a success reply of the given kind.
func (n *network) ok(from, to protocol.ActorRef, kind protocol.Kind, payload any, want protocol.Kind) protocol.Envelope {
	n.t.Helper()
	reply := n.call(from, to, kind, payload)
	require.Nil(n.t, reply.Error, "%s failed: %v", kind, reply.Error)
	require.Equal(n.t, want, reply.Kind)
	return reply
}

// fails is call that requires an error reply with code.
func (n *network) fails(from, to protocol.ActorRef, kind protocol.Kind, payload any, code protocol.Code) *protocol.Error {
	n.t.Helper()
	reply := n.call(from, to, kind, payload)
	require.Equal(n.t, protocol.EventError, reply.Kind, "%s unexpectedly succeeded", kind)
	require.Equal(n.t, code, reply.Error.Code, reply.Error.Message)
	return reply.Error
}

// sentKinds counts actor-originated requests of kind since mark.
func (n *network) sentKinds(kind protocol.Kind, mark int) int {
	count := 0
	for _, env := range n.sent[mark:] {
		if env.Kind == kind {
			count++
		}
	}
	return count
}

// world is a small deployment: collections sharing one resource store and
// one catalog, plus a few accounts.
type world struct {
	*network
	admin    protocol.ActorRef
	alice    protocol.ActorRef
	bob      protocol.ActorRef
	store    protocol.ActorRef
	base     protocol.ActorRef
	cols     []*Collection
	catalog  *appCatalog.Actor
	registry *resourcestore.Store
}

func newWorld(t *testing.T, collections int) *world {
	w := &world{
		network: newNetwork(t),
		admin:   protocol.NewActorRef(),
		alice:   protocol.NewActorRef(),
		bob:     protocol.NewActorRef(),
		store:   protocol.NewActorRef(),
		base:    protocol.NewActorRef(),
	}
	admins := []protocol.ActorRef{w.admin}
	for i := 0; i < collections; i++ {
		c := New(Config{
			Self:          protocol.NewActorRef(),
			Admin:         w.admin,
			ResourceStore: w.store,
			TxTimeout:     time.Minute,
		}, zerolog.Nop())
		w.cols = append(w.cols, c)
		w.actors[c.Self()] = c
		admins = append(admins, c.Self())
	}
	w.registry = resourcestore.New(resourcestore.Config{Self: w.store, Admins: admins}, zerolog.Nop())
	w.actors[w.store] = w.registry
	w.catalog = appCatalog.New(appCatalog.Config{Self: w.base, Admin: w.admin}, zerolog.Nop())
	w.actors[w.base] = w.catalog
	return w
}

func (w *world) col(i int) protocol.ActorRef { return w.cols[i].Self() }

func tok(n uint64) protocol.TokenID { return protocol.NewTokenID(n) }

func (w *world) mint(col int, owner protocol.ActorRef, id uint64) {
	w.t.Helper()
	w.ok(owner, w.col(col), protocol.ActionMintToRootOwner,
		protocol.MintToRootOwner{Owner: owner, Token: tok(id)}, protocol.EventMintToRootOwner)
}

func (w *world) mintInto(col int, by protocol.ActorRef, id uint64, parentCol int, parent uint64) {
	w.t.Helper()
	w.ok(by, w.col(col), protocol.ActionMintToNft,
		protocol.MintToNft{ParentActor: w.col(parentCol), ParentToken: tok(parent), Token: tok(id)}, protocol.EventMintToNft)
}

func (w *world) accept(col int, by protocol.ActorRef, parent uint64, childCol int, child uint64) {
	w.t.Helper()
	w.ok(by, w.col(col), protocol.ActionAcceptChild,
		protocol.ChildOp{ParentToken: tok(parent), ChildActor: w.col(childCol), ChildToken: tok(child)}, protocol.EventAcceptedChild)
}

func (w *world) rootOwner(col int, id uint64) protocol.ActorRef {
	w.t.Helper()
	reply := w.ok(w.alice, w.col(col), protocol.ActionRootOwner, protocol.RootOwnerQuery{Token: tok(id)}, protocol.EventRootOwner)
	res, err := protocol.DecodePayload[protocol.RootOwnerResolved](reply.Payload)
	require.NoError(w.t, err)
	return res.Account
}

func (w *world) view(col int, id uint64) protocol.TokenView {
	w.t.Helper()
	reply := w.ok(w.alice, w.col(col), protocol.ActionTokenInfo, protocol.TokenInfo{Token: tok(id)}, protocol.EventTokenView)
	v, err := protocol.DecodePayload[protocol.TokenView](reply.Payload)
	require.NoError(w.t, err)
	return v
}

func (w *world) gone(col int, id uint64) {
	w.t.Helper()
	w.fails(w.alice, w.col(col), protocol.ActionTokenInfo, protocol.TokenInfo{Token: tok(id)}, protocol.CodeNotFound)
}

func (w *world) ref(col int, id uint64) protocol.TokenRef {
	return protocol.TokenRef{Actor: w.col(col), Token: tok(id)}
}
