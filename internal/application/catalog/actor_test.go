package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestkit/nestkit/internal/protocol"
)

func send(t *testing.T, a *Actor, from protocol.ActorRef, kind protocol.Kind, payload any) protocol.Envelope {
	t.Helper()
	req, err := protocol.NewRequest(from, a.Self(), kind, payload, time.Now())
	require.NoError(t, err)
	out := a.HandleMessage(context.Background(), req)
	require.Len(t, out, 1)
	assert.Equal(t, req.ID, out[0].InReplyTo)
	return out[0]
}

func TestActor_AdminOperations(t *testing.T) {
	admin := protocol.NewActorRef()
	a := New(Config{Self: protocol.NewActorRef(), Admin: admin}, zerolog.Nop())
	parts := protocol.AddParts{Parts: map[protocol.PartID]protocol.Part{
		1: {Kind: protocol.PartFixed},
		2: {Kind: protocol.PartSlot},
	}}

	reply := send(t, a, protocol.NewActorRef(), protocol.ActionAddParts, parts)
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeUnauthorized, reply.Error.Code)

	reply = send(t, a, admin, protocol.ActionAddParts, parts)
	require.Nil(t, reply.Error)
	assert.Equal(t, protocol.EventPartsAdded, reply.Kind)

	collection := protocol.NewActorRef()
	steps := []struct {
		kind    protocol.Kind
		payload any
		want    protocol.Kind
	}{
		{protocol.ActionAddEquippableAddresses, protocol.EquippableAddresses{Part: 2, Collections: []protocol.ActorRef{collection}}, protocol.EventEquippablesAdded},
		{protocol.ActionRemoveEquippableAddress, protocol.EquippableAddress{Part: 2, Collection: collection}, protocol.EventEquippableRemoved},
		{protocol.ActionSetEquippableToAll, protocol.PartRef{Part: 2}, protocol.EventEquippableToAllSet},
		{protocol.ActionResetEquippableAddresses, protocol.PartRef{Part: 2}, protocol.EventEquippablesReset},
		{protocol.ActionRemoveParts, protocol.PartIDs{Parts: []protocol.PartID{1}}, protocol.EventPartsRemoved},
	}
	for _, s := range steps {
		reply := send(t, a, admin, s.kind, s.payload)
		require.Nil(t, reply.Error, "%s: %v", s.kind, reply.Error)
		assert.Equal(t, s.want, reply.Kind)
	}
}

func TestActor_PublicChecks(t *testing.T) {
	admin := protocol.NewActorRef()
	collection := protocol.NewActorRef()
	a := New(Config{Self: protocol.NewActorRef(), Admin: admin}, zerolog.Nop())
	require.NoError(t, a.Seed(map[protocol.PartID]protocol.Part{
		3: {Kind: protocol.PartSlot, Equippable: []protocol.ActorRef{collection}},
	}))
	anyone := protocol.NewActorRef()

	reply := send(t, a, anyone, protocol.ActionCatalogCheckEquippable, protocol.EquippableAddress{Part: 3, Collection: collection})
	assert.Equal(t, protocol.EventInEquippableList, reply.Kind)

	reply = send(t, a, anyone, protocol.ActionCatalogCheckEquippable, protocol.EquippableAddress{Part: 3, Collection: anyone})
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeNotFound, reply.Error.Code)

	reply = send(t, a, anyone, protocol.ActionCheckPart, protocol.PartRef{Part: 3})
	require.Equal(t, protocol.EventPart, reply.Kind)
	found, err := protocol.DecodePayload[protocol.PartFound](reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.PartSlot, found.Definition.Kind)

	t.Run("snapshot keeps parts", func(t *testing.T) {
		data, err := json.Marshal(a)
		require.NoError(t, err)
		restored := New(Config{Self: a.Self(), Admin: admin}, zerolog.Nop())
		require.NoError(t, json.Unmarshal(data, restored))
		reply := send(t, restored, anyone, protocol.ActionCheckPart, protocol.PartRef{Part: 3})
		assert.Equal(t, protocol.EventPart, reply.Kind)
	})
}
