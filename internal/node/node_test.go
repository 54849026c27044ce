package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/nestkit/nestkit/internal/api/http"
	"github.com/nestkit/nestkit/internal/config"
	"github.com/nestkit/nestkit/internal/infrastructure/boltstore"
	"github.com/nestkit/nestkit/internal/protocol"
)

const admin = "3b241101-e2bb-4255-8caf-4136c566a962"

const topologyYAML = `
catalogs:
  - name: wardrobe
    admin: ` + admin + `
    parts:
      - {id: 1, kind: FIXED, z: 0}
      - {id: 5, kind: SLOT, z: 2, equippable: [hats]}
resource_stores:
  - name: assets
    admin: ` + admin + `
collections:
  - name: avatars
    admin: ` + admin + `
    resource_store: assets
    replicated: true
  - name: hats
    admin: ` + admin + `
    resource_store: assets
`

func setup(t *testing.T, vars map[string]string) (*config.Config, *config.Topology) {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	topo, err := config.ParseTopology([]byte(topologyYAML))
	require.NoError(t, err)
	return cfg, topo
}

func post(t *testing.T, h http.Handler, target, account protocol.ActorRef, kind protocol.Kind, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{"kind": kind, "payload": payload})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/actors/"+target.String()+"/messages", bytes.NewReader(body))
	req.Header.Set(httpapi.AccountHeader, account.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBuild_NestsAcrossCollectionsAndRestores(t *testing.T) {
	cfg, topo := setup(t, map[string]string{"NEST_CHECKPOINT_INTERVAL": "1h"})
	repo, err := boltstore.Open(filepath.Join(t.TempDir(), "nest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	n, err := Build(ctx, cfg, topo, repo, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, n.Cluster, "raft is off without a node id")
	require.NoError(t, n.SeedParts(ctx))
	require.NoError(t, n.SeedParts(ctx), "seeding twice is harmless")

	runCtx, cancel := context.WithCancel(ctx)
	n.Start(runCtx)

	alice := protocol.NewActorRef()
	avatars, _ := topo.Ref("avatars")
	hats, _ := topo.Ref("hats")
	wardrobe, _ := topo.Ref("wardrobe")
	h := n.Handler()

	rec := post(t, h, avatars, alice, protocol.ActionMintToRootOwner,
		protocol.MintToRootOwner{Owner: alice, Token: protocol.NewTokenID(1)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = post(t, h, hats, alice, protocol.ActionMintToNft,
		protocol.MintToNft{ParentActor: avatars, ParentToken: protocol.NewTokenID(1), Token: protocol.NewTokenID(9)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = post(t, h, wardrobe, alice, protocol.ActionCatalogCheckEquippable,
		protocol.EquippableAddress{Part: 5, Collection: hats})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cancel()
	n.Stop()

	saved, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 4)

	restarted, err := Build(ctx, cfg, topo, repo, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(restarted.Stop)
	rec = post(t, restarted.Handler(), hats, alice, protocol.ActionRootOwner,
		protocol.RootOwnerQuery{Token: protocol.NewTokenID(9)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reply protocol.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	owner, err := protocol.DecodePayload[protocol.RootOwnerResolved](reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, alice, owner.Account)
}

func TestBuild_ReplicatedCollection(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a raft node")
	}
	cfg, topo := setup(t, map[string]string{
		"NEST_SNAPSHOT_STORE": "none",
		"NEST_RAFT_NODE_ID":   "n1",
		"NEST_RAFT_ADDR":      "127.0.0.1:0",
		"NEST_RAFT_DATA_DIR":  t.TempDir(),
		"NEST_RAFT_BOOTSTRAP": "true",
	})
	ctx := context.Background()
	n, err := Build(ctx, cfg, topo, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	require.NotNil(t, n.Cluster)
	assert.Nil(t, n.Checkpoint)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = n.Cluster.WaitForLeader(waitCtx, 50*time.Millisecond)
	require.NoError(t, err)
	require.Eventually(t, n.Cluster.IsLeader, 5*time.Second, 50*time.Millisecond)

	alice := protocol.NewActorRef()
	avatars, _ := topo.Ref("avatars")
	hats, _ := topo.Ref("hats")
	rec := post(t, n.Handler(), avatars, alice, protocol.ActionMintToRootOwner,
		protocol.MintToRootOwner{Owner: alice, Token: protocol.NewTokenID(1)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// the plain collection nests under the replicated one through the mailbox
	rec = post(t, n.Handler(), hats, alice, protocol.ActionMintToNft,
		protocol.MintToNft{ParentActor: avatars, ParentToken: protocol.NewTokenID(1), Token: protocol.NewTokenID(2)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/v1/raft/", nil)
	out := httptest.NewRecorder()
	n.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
