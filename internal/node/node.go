package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/actor"
	httpapi "github.com/nestkit/nestkit/internal/api/http"
	"github.com/nestkit/nestkit/internal/application/catalog"
	"github.com/nestkit/nestkit/internal/application/checkpoint"
	"github.com/nestkit/nestkit/internal/application/collection"
	"github.com/nestkit/nestkit/internal/application/resourcestore"
	"github.com/nestkit/nestkit/internal/config"
	"github.com/nestkit/nestkit/internal/consensus"
	"github.com/nestkit/nestkit/internal/domain/snapshot"
	"github.com/nestkit/nestkit/internal/infrastructure/sse"
	"github.com/nestkit/nestkit/internal/protocol"
)

// Node is one running process: the actors of a topology, their
// checkpoints, an optional raft group and the HTTP gateway.
type Node struct {
	System     *actor.System
	Hub        *sse.Hub
	Checkpoint *checkpoint.Service
	Cluster    *consensus.Node
	Gateway    *httpapi.Server

	cfg    *config.Config
	topo   *config.Topology
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// Build creates every actor in topo, restores checkpoints from repo and
// spawns the actors. repo may be nil to run without persistence.
func Build(ctx context.Context, cfg *config.Config, topo *config.Topology, repo snapshot.Repository, logger zerolog.Logger) (*Node, error) {
	n := &Node{
		System: actor.NewSystem(actor.Options{
			MailboxSize:   cfg.MailboxSize,
			SweepInterval: cfg.SweepInterval,
		}, logger),
		Hub:    sse.NewHub(),
		cfg:    cfg,
		topo:   topo,
		logger: logger,
	}
	n.System.Observe(n.Hub.Publish)
	if repo != nil {
		n.Checkpoint = checkpoint.NewService(repo, logger)
	}

	type spawn struct {
		ref     protocol.ActorRef
		name    string
		handler actor.Handler
	}
	var spawns []spawn

	for _, spec := range topo.Catalogs {
		ref, _ := topo.Ref(spec.Name)
		a := catalog.New(catalog.Config{Self: ref, Admin: topo.Account(spec.Admin)}, logger)
		n.track(ref, snapshot.KindCatalog, a)
		spawns = append(spawns, spawn{ref, spec.Name, a})
	}
	for _, spec := range topo.ResourceStores {
		ref, _ := topo.Ref(spec.Name)
		s := resourcestore.New(resourcestore.Config{
			Self:      ref,
			Admins:    topo.StoreAdmins(spec),
			TxTimeout: cfg.TxTimeout,
		}, logger)
		n.track(ref, snapshot.KindResourceStore, s)
		spawns = append(spawns, spawn{ref, spec.Name, s})
	}
	for _, spec := range topo.Collections {
		ref, _ := topo.Ref(spec.Name)
		store := protocol.ZeroActor
		if spec.ResourceStore != "" {
			store, _ = topo.Ref(spec.ResourceStore)
		}
		c := collection.New(collection.Config{
			Self:          ref,
			Admin:         topo.Account(spec.Admin),
			ResourceStore: store,
			TxTimeout:     cfg.TxTimeout,
			MaxDepth:      cfg.MaxOwnershipDepth,
		}, logger)
		if spec.Replicated && cfg.RaftEnabled() {
			node, err := consensus.NewNode(consensus.Config{
				NodeID:       cfg.Raft.NodeID,
				RaftAddr:     cfg.Raft.Addr,
				DataDir:      cfg.Raft.DataDir,
				Bootstrap:    cfg.Raft.Bootstrap,
				ApplyTimeout: cfg.Raft.ApplyTimeout,
			}, c, logger)
			if err != nil {
				return nil, fmt.Errorf("raft node for %s: %w", spec.Name, err)
			}
			n.Cluster = node
			spawns = append(spawns, spawn{ref, spec.Name, node})
			continue
		}
		n.track(ref, snapshot.KindCollection, c)
		spawns = append(spawns, spawn{ref, spec.Name, c})
	}

	if n.Checkpoint != nil {
		restored, err := n.Checkpoint.Restore(ctx)
		if err != nil {
			n.shutdownCluster()
			return nil, fmt.Errorf("restore checkpoints: %w", err)
		}
		logger.Info().Int("actors", restored).Msg("checkpoints restored")
	}
	for _, s := range spawns {
		if err := n.System.Spawn(s.ref, s.name, s.handler); err != nil {
			n.System.Stop()
			n.shutdownCluster()
			return nil, err
		}
	}

	var cluster httpapi.Cluster
	if n.Cluster != nil {
		cluster = n.Cluster
	}
	n.Gateway = httpapi.NewServer(n.System, cluster, n.Hub, httpapi.Options{CallTimeout: cfg.CallTimeout}, logger)
	return n, nil
}

func (n *Node) track(ref protocol.ActorRef, kind snapshot.Kind, agg checkpoint.Aggregate) {
	if n.Checkpoint != nil {
		n.Checkpoint.Track(ref, kind, agg)
	}
}

// SeedParts adds the topology's catalog parts. Parts that survived a
// restart are left alone.
func (n *Node) SeedParts(ctx context.Context) error {
	var errs []error
	for _, spec := range n.topo.Catalogs {
		if len(spec.Parts) == 0 {
			continue
		}
		ref, _ := n.topo.Ref(spec.Name)
		parts, err := n.topo.Parts(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for id, part := range parts {
			if err := n.seedPart(ctx, ref, n.topo.Account(spec.Admin), id, part); err != nil {
				errs = append(errs, fmt.Errorf("catalog %s part %d: %w", spec.Name, id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (n *Node) seedPart(ctx context.Context, ref, admin protocol.ActorRef, id protocol.PartID, part protocol.Part) error {
	req, err := protocol.NewRequest(admin, ref, protocol.ActionAddParts,
		protocol.AddParts{Parts: map[protocol.PartID]protocol.Part{id: part}}, time.Now())
	if err != nil {
		return err
	}
	reply, err := n.System.Call(ctx, req)
	if err != nil {
		return err
	}
	if reply.Error != nil && !errors.Is(reply.Error, protocol.ErrConflict) {
		return reply.Error
	}
	return nil
}

// Start runs the sweep ticker and the checkpoint loop until ctx ends.
func (n *Node) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.System.Run(ctx)
	}()
	if n.Checkpoint != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.Checkpoint.Run(ctx, n.cfg.CheckpointInterval)
		}()
	}
}

// Handler returns the HTTP gateway router.
func (n *Node) Handler() http.Handler {
	return n.Gateway.Router()
}

// Stop waits for the loops started by Start, which must already be
// cancelled, then stops the actors and raft.
func (n *Node) Stop() {
	n.wg.Wait()
	n.Hub.Stop()
	n.System.Stop()
	n.shutdownCluster()
}

func (n *Node) shutdownCluster() {
	if n.Cluster == nil {
		return
	}
	if err := n.Cluster.Shutdown(); err != nil {
		n.logger.Warn().Err(err).Msg("raft shutdown")
	}
}
