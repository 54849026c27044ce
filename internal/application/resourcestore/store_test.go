package resourcestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestkit/nestkit/internal/application/catalog"
	"github.com/nestkit/nestkit/internal/protocol"
)

type fixture struct {
	admin protocol.ActorRef
	store *Store
	base  *catalog.Actor
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		admin: protocol.NewActorRef(),
		clock: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	f.store = New(Config{Self: protocol.NewActorRef(), Admins: []protocol.ActorRef{f.admin}}, zerolog.Nop())
	f.base = catalog.New(catalog.Config{Self: protocol.NewActorRef(), Admin: f.admin}, zerolog.Nop())
	require.NoError(t, f.base.Seed(map[protocol.PartID]protocol.Part{
		4: {Kind: protocol.PartSlot},
	}))
	return f
}

// call runs one request against the store, bouncing its outbound messages
// off the catalog until the final reply comes back.
func (f *fixture) call(t *testing.T, from protocol.ActorRef, kind protocol.Kind, payload any) protocol.Envelope {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	req, err := protocol.NewRequest(from, f.store.Self(), kind, payload, f.clock)
	require.NoError(t, err)

	queue := []protocol.Envelope{req}
	for len(queue) > 0 {
		env := queue[0]
		queue = queue[1:]
		if env.IsReply() && env.InReplyTo == req.ID {
			return env
		}
		switch env.Target {
		case f.store.Self():
			queue = append(queue, f.store.HandleMessage(context.Background(), env)...)
		case f.base.Self():
			queue = append(queue, f.base.HandleMessage(context.Background(), env)...)
		default:
			t.Fatalf("unexpected target %s for %s", env.Target, env.Kind)
		}
	}
	t.Fatalf("%s got no reply", kind)
	return protocol.Envelope{}
}

func (f *fixture) composed() protocol.Resource {
	return protocol.Resource{Kind: protocol.ResourceComposed, Base: f.base.Self()}
}

func TestStore_Entries(t *testing.T) {
	f := newFixture(t)

	reply := f.call(t, protocol.NewActorRef(), protocol.ActionAddResourceEntry,
		protocol.AddResourceEntry{ID: 1, Resource: f.composed()})
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeUnauthorized, reply.Error.Code)

	reply = f.call(t, f.admin, protocol.ActionAddResourceEntry, protocol.AddResourceEntry{ID: 1, Resource: f.composed()})
	require.Nil(t, reply.Error)
	assert.Equal(t, protocol.EventResourceEntryAdded, reply.Kind)

	reply = f.call(t, protocol.NewActorRef(), protocol.ActionGetResource, protocol.GetResource{ID: 1})
	require.Equal(t, protocol.EventResource, reply.Kind)
	found, err := protocol.DecodePayload[protocol.ResourceFound](reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.ResourceComposed, found.Resource.Kind)

	reply = f.call(t, f.admin, protocol.ActionGetResource, protocol.GetResource{ID: 2})
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeNotFound, reply.Error.Code)

	reply = f.call(t, f.admin, protocol.ActionAddResourceEntry,
		protocol.AddResourceEntry{ID: 3, Resource: protocol.Resource{Kind: protocol.ResourceSlot, Base: f.base.Self()}})
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeInvalidInput, reply.Error.Code, "slot resources need a slot id")
}

func TestStore_AddPart(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.call(t, f.admin, protocol.ActionAddResourceEntry, protocol.AddResourceEntry{ID: 1, Resource: f.composed()}).Error)
	require.Nil(t, f.call(t, f.admin, protocol.ActionAddResourceEntry,
		protocol.AddResourceEntry{ID: 2, Resource: protocol.Resource{Kind: protocol.ResourceBasic}}).Error)

	tests := []struct {
		name string
		req  protocol.AddPartToResource
		want protocol.Code
	}{
		{"basic resource", protocol.AddPartToResource{ID: 2, Part: 4}, protocol.CodeInvalidInput},
		{"unknown resource", protocol.AddPartToResource{ID: 7, Part: 4}, protocol.CodeNotFound},
		{"part missing from catalog", protocol.AddPartToResource{ID: 1, Part: 9}, protocol.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := f.call(t, f.admin, protocol.ActionAddPartToResource, tt.req)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.want, reply.Error.Code)
		})
	}

	reply := f.call(t, f.admin, protocol.ActionAddPartToResource, protocol.AddPartToResource{ID: 1, Part: 4})
	require.Nil(t, reply.Error)
	assert.Equal(t, protocol.EventPartAddedToResource, reply.Kind)

	reply = f.call(t, f.admin, protocol.ActionAddPartToResource, protocol.AddPartToResource{ID: 1, Part: 4})
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeConflict, reply.Error.Code)
}

func TestStore_SnapshotRestore(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.call(t, f.admin, protocol.ActionAddResourceEntry, protocol.AddResourceEntry{ID: 1, Resource: f.composed()}).Error)

	data, err := json.Marshal(f.store)
	require.NoError(t, err)
	restored := New(Config{Self: f.store.Self(), Admins: []protocol.ActorRef{f.admin}}, zerolog.Nop())
	require.NoError(t, json.Unmarshal(data, restored))
	f.store = restored

	reply := f.call(t, f.admin, protocol.ActionGetResource, protocol.GetResource{ID: 1})
	assert.Equal(t, protocol.EventResource, reply.Kind)
}
