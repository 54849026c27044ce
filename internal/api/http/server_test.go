package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nestkit/nestkit/internal/actor"
	"github.com/nestkit/nestkit/internal/application/collection"
	"github.com/nestkit/nestkit/internal/consensus"
	"github.com/nestkit/nestkit/internal/infrastructure/sse"
	"github.com/nestkit/nestkit/internal/protocol"
)

// MockCluster is a mock implementation of Cluster
type MockCluster struct {
	mock.Mock
}

func (m *MockCluster) Status() consensus.Status {
	return m.Called().Get(0).(consensus.Status)
}

func (m *MockCluster) IsLeader() bool {
	return m.Called().Bool(0)
}

func (m *MockCluster) LeaderAddr() string {
	return m.Called().String(0)
}

func (m *MockCluster) AddVoter(ctx context.Context, nodeID, raftAddr string) error {
	return m.Called(ctx, nodeID, raftAddr).Error(0)
}

func (m *MockCluster) RemoveServer(ctx context.Context, nodeID string) error {
	return m.Called(ctx, nodeID).Error(0)
}

type gateway struct {
	sys     *actor.System
	hub     *sse.Hub
	handler http.Handler
	admin   protocol.ActorRef
	col     protocol.ActorRef
}

func newGateway(t *testing.T, cluster Cluster) *gateway {
	t.Helper()
	sys := actor.NewSystem(actor.Options{MailboxSize: 64}, zerolog.Nop())
	t.Cleanup(sys.Stop)
	g := &gateway{sys: sys, hub: sse.NewHub(), admin: protocol.NewActorRef(), col: protocol.NewActorRef()}
	c := collection.New(collection.Config{Self: g.col, Admin: g.admin, TxTimeout: time.Minute}, zerolog.Nop())
	require.NoError(t, sys.Spawn(g.col, "collection", c))
	sys.Observe(g.hub.Publish)
	g.handler = NewServer(sys, cluster, g.hub, Options{CallTimeout: 5 * time.Second}, zerolog.Nop()).Router()
	return g
}

func (g *gateway) do(t *testing.T, method, path string, account protocol.ActorRef, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if !account.IsZero() {
		req.Header.Set(AccountHeader, account.String())
	}
	rec := httptest.NewRecorder()
	g.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_SubmitAndQuery(t *testing.T) {
	g := newGateway(t, nil)
	alice := protocol.NewActorRef()
	base := "/v1/actors/" + g.col.String()

	rec := g.do(t, http.MethodPost, base+"/messages", alice, map[string]any{
		"kind":    protocol.ActionMintToRootOwner,
		"payload": protocol.MintToRootOwner{Owner: alice, Token: protocol.NewTokenID(5)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[protocol.Envelope](t, rec)
	assert.Equal(t, protocol.EventMintToRootOwner, reply.Kind)
	assert.Equal(t, alice, reply.Target)

	rec = g.do(t, http.MethodGet, base+"/tokens/5", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view, err := protocol.DecodePayload[protocol.TokenView](decode[protocol.Envelope](t, rec).Payload)
	require.NoError(t, err)
	assert.Equal(t, alice, view.Owner)

	rec = g.do(t, http.MethodGet, base+"/balances/"+alice.String(), alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance, err := protocol.DecodePayload[protocol.Balance](decode[protocol.Envelope](t, rec).Payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), balance.Count)

	rec = g.do(t, http.MethodGet, base+"/stats", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/v1/actors", protocol.ZeroActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[map[string][]actor.Stats](t, rec)
	require.Len(t, listed["actors"], 1)
	assert.Equal(t, "collection", listed["actors"][0].Name)
}

func TestServer_Errors(t *testing.T) {
	g := newGateway(t, nil)
	alice := protocol.NewActorRef()
	base := "/v1/actors/" + g.col.String()

	tests := []struct {
		name    string
		method  string
		path    string
		account protocol.ActorRef
		body    any
		status  int
		code    string
	}{
		{"missing account", http.MethodGet, base + "/stats", protocol.ZeroActor, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown actor", http.MethodGet, "/v1/actors/" + protocol.NewActorRef().String() + "/stats", alice, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad token id", http.MethodGet, base + "/tokens/abc", alice, nil, http.StatusBadRequest, "INVALID_PARAM"},
		{"missing token", http.MethodGet, base + "/tokens/9", alice, nil, http.StatusNotFound, "NOT_FOUND"},
		{"sweep is internal", http.MethodPost, base + "/messages", alice, map[string]any{"kind": protocol.ActionSweep}, http.StatusBadRequest, "INVALID_PARAM"},
		{"reply kinds rejected", http.MethodPost, base + "/messages", alice, map[string]any{"kind": protocol.EventBalance}, http.StatusBadRequest, "INVALID_PARAM"},
		{"unknown field", http.MethodPost, base + "/messages", alice, map[string]any{"verb": "x"}, http.StatusBadRequest, "INVALID_PARAM"},
		{"raft disabled", http.MethodGet, "/v1/raft/", protocol.ZeroActor, nil, http.StatusNotFound, "RAFT_DISABLED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := g.do(t, tt.method, tt.path, tt.account, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[map[string]any](t, rec)["error"])
		})
	}
}

func TestServer_Raft(t *testing.T) {
	cluster := &MockCluster{}
	g := newGateway(t, cluster)

	cluster.On("Status").Return(consensus.Status{NodeID: "n1", State: "Leader", Leader: "127.0.0.1:7000"})
	cluster.On("IsLeader").Return(true).Once()
	rec := g.do(t, http.MethodGet, "/v1/raft/", protocol.ZeroActor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "n1", decode[map[string]any](t, rec)["node_id"])

	cluster.On("IsLeader").Return(true).Once()
	cluster.On("AddVoter", mock.Anything, "n2", "127.0.0.1:7001").Return(nil).Once()
	rec = g.do(t, http.MethodPost, "/v1/raft/join", protocol.ZeroActor, raftJoinRequest{NodeID: "n2", RaftAddr: "127.0.0.1:7001"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cluster.On("IsLeader").Return(true).Once()
	cluster.On("RemoveServer", mock.Anything, "n2").Return(raft.ErrLeadershipLost).Once()
	cluster.On("LeaderAddr").Return("127.0.0.1:7002")
	rec = g.do(t, http.MethodPost, "/v1/raft/remove", protocol.ZeroActor, raftRemoveRequest{NodeID: "n2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "127.0.0.1:7002", decode[map[string]any](t, rec)["leader"])

	cluster.On("IsLeader").Return(false).Once()
	rec = g.do(t, http.MethodPost, "/v1/raft/join", protocol.ZeroActor, raftJoinRequest{NodeID: "n3", RaftAddr: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	cluster.AssertExpectations(t)
}

func TestServer_CompletedOperationsReachStream(t *testing.T) {
	g := newGateway(t, nil)
	alice := protocol.NewActorRef()
	stream := sse.NewClient("test", alice, 4)
	g.hub.Register(stream)

	rec := g.do(t, http.MethodPost, "/v1/actors/"+g.col.String()+"/messages", alice, map[string]any{
		"kind":    protocol.ActionMintToRootOwner,
		"payload": protocol.MintToRootOwner{Owner: alice, Token: protocol.NewTokenID(1)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-stream.MessageChan:
		assert.Equal(t, protocol.EventMintToRootOwner, msg.Event)
		assert.Equal(t, alice, msg.Data.Target)
	case <-time.After(5 * time.Second):
		t.Fatal("no event streamed")
	}
}

func TestServer_HostedActorsCannotActThroughGateway(t *testing.T) {
	g := newGateway(t, nil)
	alice := protocol.NewActorRef()
	base := "/v1/actors/" + g.col.String()

	rec := g.do(t, http.MethodPost, base+"/messages", alice, map[string]any{
		"kind":    protocol.ActionMintToRootOwner,
		"payload": protocol.MintToRootOwner{Owner: alice, Token: protocol.NewTokenID(10)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = g.do(t, http.MethodPost, base+"/messages", g.col, map[string]any{
		"kind":    protocol.ActionBurnFromParent,
		"payload": protocol.BurnFromParent{ChildToken: protocol.NewTokenID(10), RootOwner: alice},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	assert.Equal(t, "UNAUTHORIZED", decode[map[string]any](t, rec)["error"])

	rec = g.do(t, http.MethodGet, base+"/tokens/10", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "the token survives")
}
