package tx

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestkit/nestkit/internal/protocol"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func request(t *testing.T, self protocol.ActorRef, token uint64) protocol.Envelope {
	t.Helper()
	req, err := protocol.NewRequest(protocol.NewActorRef(), self, protocol.ActionRootOwner,
		protocol.RootOwnerQuery{Token: protocol.NewTokenID(token)}, base)
	require.NoError(t, err)
	return req
}

func suspendLookup(t *testing.T, m *Manager, tx *Tx, host protocol.ActorRef) protocol.Envelope {
	t.Helper()
	out, err := m.Suspend(tx, Suspend(StateAwaitingRootOwner, host, protocol.ActionRootOwner,
		protocol.RootOwnerQuery{Token: protocol.NewTokenID(100)}, map[string]string{"step": "lookup"}), base)
	require.NoError(t, err)
	return out
}

func replyTo(t *testing.T, out protocol.Envelope, kind protocol.Kind, payload any) protocol.Envelope {
	t.Helper()
	reply, err := out.Reply(kind, payload, base.Add(time.Second))
	require.NoError(t, err)
	return reply
}

func TestManager_BeginRejectsDuplicates(t *testing.T) {
	m := NewManager(time.Minute)
	req := request(t, protocol.NewActorRef(), 1)

	tx, err := m.Begin(req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, tx.OperationID)
	assert.Equal(t, StateInitial, tx.State)
	assert.Equal(t, base.Add(time.Minute), tx.Deadline)

	_, err = m.Begin(req)
	assert.ErrorIs(t, err, ErrDuplicateOperation)
}

func TestManager_SuspendAndResolve(t *testing.T) {
	m := NewManager(0)
	self := protocol.NewActorRef()
	host := protocol.NewActorRef()
	req := request(t, self, 1)
	tx, err := m.Begin(req)
	require.NoError(t, err)

	out := suspendLookup(t, m, tx, host)
	assert.Equal(t, OutboundID(req.ID, 0), out.ID, "outbound ids are derived from the operation")
	assert.Equal(t, self, out.Source)
	assert.Equal(t, host, out.Target)
	assert.Equal(t, req.Origin, out.Origin)
	assert.Equal(t, StateAwaitingRootOwner, tx.State)
	assert.Equal(t, 1, m.Correlations())

	t.Run("one outstanding message per operation", func(t *testing.T) {
		_, err := m.Suspend(tx, Suspend(StateAwaitingBurnChild, host, protocol.ActionBurnChild, nil, nil), base)
		assert.True(t, errors.Is(err, protocol.ErrProtocolViolation))
	})

	account := protocol.NewActorRef()
	got, err := m.Resolve(replyTo(t, out, protocol.EventRootOwner, protocol.RootOwnerResolved{Account: account}))
	require.NoError(t, err)
	assert.Same(t, tx, got)
	assert.Equal(t, StateRootOwnerReceived, tx.State)
	assert.Equal(t, 0, m.Correlations())

	resolved, err := Reply[protocol.RootOwnerResolved](tx)
	require.NoError(t, err)
	assert.Equal(t, account, resolved.Account)

	carry, err := Saved[map[string]string](tx)
	require.NoError(t, err)
	assert.Equal(t, "lookup", carry["step"])
}

func TestManager_IndependentSuspension(t *testing.T) {
	m := NewManager(0)
	self := protocol.NewActorRef()
	host := protocol.NewActorRef()

	o1, err := m.Begin(request(t, self, 1))
	require.NoError(t, err)
	o2, err := m.Begin(request(t, self, 2))
	require.NoError(t, err)
	out1 := suspendLookup(t, m, o1, host)
	out2 := suspendLookup(t, m, o2, host)
	require.NotEqual(t, out1.ID, out2.ID)

	got, err := m.Resolve(replyTo(t, out2, protocol.EventRootOwner, protocol.RootOwnerResolved{Account: protocol.NewActorRef()}))
	require.NoError(t, err)
	assert.Same(t, o2, got)
	assert.Equal(t, StateRootOwnerReceived, o2.State)
	assert.Equal(t, StateAwaitingRootOwner, o1.State, "o1 must not move on o2's reply")
	assert.Equal(t, out1.ID, o1.Outstanding)

	got, err = m.Resolve(replyTo(t, out1, protocol.EventRootOwner, protocol.RootOwnerResolved{Account: protocol.NewActorRef()}))
	require.NoError(t, err)
	assert.Same(t, o1, got)
}

func TestManager_ResolveViolations(t *testing.T) {
	self := protocol.NewActorRef()
	host := protocol.NewActorRef()

	t.Run("orphan reply", func(t *testing.T) {
		m := NewManager(0)
		stray := replyTo(t, request(t, self, 1), protocol.EventRootOwner, protocol.RootOwnerResolved{})
		_, err := m.Resolve(stray)
		assert.ErrorIs(t, err, ErrOrphanReply)
	})

	t.Run("reply consumed twice", func(t *testing.T) {
		m := NewManager(0)
		tx, err := m.Begin(request(t, self, 1))
		require.NoError(t, err)
		out := suspendLookup(t, m, tx, host)
		reply := replyTo(t, out, protocol.EventRootOwner, protocol.RootOwnerResolved{Account: protocol.NewActorRef()})
		_, err = m.Resolve(reply)
		require.NoError(t, err)
		_, err = m.Resolve(reply)
		assert.ErrorIs(t, err, ErrOrphanReply)
	})

	t.Run("unexpected variant", func(t *testing.T) {
		m := NewManager(0)
		tx, err := m.Begin(request(t, self, 1))
		require.NoError(t, err)
		out := suspendLookup(t, m, tx, host)
		got, err := m.Resolve(replyTo(t, out, protocol.EventChildBurnt, nil))
		require.Same(t, tx, got)
		assert.True(t, errors.Is(err, protocol.ErrProtocolViolation))
		assert.Equal(t, uuid.Nil, tx.Outstanding)
	})

	t.Run("collaborator error is handed to the step", func(t *testing.T) {
		m := NewManager(0)
		tx, err := m.Begin(request(t, self, 1))
		require.NoError(t, err)
		out := suspendLookup(t, m, tx, host)
		_, err = m.Resolve(out.ReplyError(protocol.NotFound("token 100 does not exist"), base))
		require.NoError(t, err)
		assert.Equal(t, StateRootOwnerReceived, tx.State)
		_, err = Reply[protocol.RootOwnerResolved](tx)
		assert.True(t, errors.Is(err, protocol.ErrNotFound))
	})

	t.Run("undecodable payload", func(t *testing.T) {
		m := NewManager(0)
		tx, err := m.Begin(request(t, self, 1))
		require.NoError(t, err)
		out := suspendLookup(t, m, tx, host)
		_, err = m.Resolve(replyTo(t, out, protocol.EventRootOwner, json.RawMessage(`"nope"`)))
		require.NoError(t, err)
		_, err = Reply[protocol.RootOwnerResolved](tx)
		assert.True(t, errors.Is(err, protocol.ErrProtocolViolation))
	})
}

func TestManager_ExpiredAndFinish(t *testing.T) {
	m := NewManager(time.Minute)
	self := protocol.NewActorRef()
	tx, err := m.Begin(request(t, self, 1))
	require.NoError(t, err)
	out := suspendLookup(t, m, tx, protocol.NewActorRef())

	assert.Empty(t, m.Expired(base.Add(30*time.Second)))
	expired := m.Expired(base.Add(2 * time.Minute))
	require.Len(t, expired, 1)

	m.Finish(expired[0], protocol.Errorf(protocol.CodeTimeout, "deadline passed"))
	assert.Equal(t, StateFailed, tx.State)
	assert.Equal(t, protocol.CodeTimeout, tx.Err.Code)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0, m.Correlations())

	_, err = m.Resolve(replyTo(t, out, protocol.EventRootOwner, protocol.RootOwnerResolved{}))
	assert.ErrorIs(t, err, ErrOrphanReply, "late replies are orphans")
}

func TestManager_SnapshotRebuildsCorrelations(t *testing.T) {
	m := NewManager(time.Minute)
	self := protocol.NewActorRef()
	tx, err := m.Begin(request(t, self, 1))
	require.NoError(t, err)
	out := suspendLookup(t, m, tx, protocol.NewActorRef())

	data, err := json.Marshal(m)
	require.NoError(t, err)
	restored := NewManager(0)
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, 1, restored.Len())
	assert.Equal(t, 1, restored.Correlations())

	got, err := restored.Resolve(replyTo(t, out, protocol.EventRootOwner, protocol.RootOwnerResolved{Account: self}))
	require.NoError(t, err)
	assert.Equal(t, tx.OperationID, got.OperationID)
	assert.Equal(t, StateRootOwnerReceived, got.State)
}
