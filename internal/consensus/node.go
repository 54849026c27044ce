package consensus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Machine is the replicated aggregate. HandleMessage must be deterministic:
// every replica applies the same envelopes in log order.
type Machine interface {
	HandleMessage(ctx context.Context, env protocol.Envelope) []protocol.Envelope
	json.Marshaler
	json.Unmarshaler
}

// Config defines one Raft node runtime.
type Config struct {
	NodeID         string
	RaftAddr       string
	DataDir        string
	Bootstrap      bool
	SnapshotRetain int
	ApplyTimeout   time.Duration
}

// Node replicates the envelopes of one actor through Raft.
type Node struct {
	id           string
	raftAddr     string
	applyTimeout time.Duration

	raft      *raft.Raft
	transport *raft.NetworkTransport
	fsm       *fsm
	logger    zerolog.Logger
}

func (c Config) normalized() (Config, error) {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.RaftAddr = strings.TrimSpace(c.RaftAddr)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.NodeID == "" {
		return c, errors.New("node_id is required")
	}
	if c.RaftAddr == "" {
		return c, errors.New("raft_addr is required")
	}
	if c.DataDir == "" {
		return c, errors.New("data_dir is required")
	}
	if c.SnapshotRetain <= 0 {
		c.SnapshotRetain = 2
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	return c, nil
}

// NewNode creates a Raft node around machine.
func NewNode(cfg Config, machine Machine, logger zerolog.Logger) (*Node, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	if machine == nil {
		return nil, errors.New("machine is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "raft").Str("node", cfg.NodeID).Logger()
	f := &fsm{machine: machine, logger: logger}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, err
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, err
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, cfg.SnapshotRetain, os.Stderr)
	if err != nil {
		return nil, err
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, err
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	n := &Node{
		id:           cfg.NodeID,
		raftAddr:     string(transport.LocalAddr()),
		applyTimeout: cfg.ApplyTimeout,
		raft:         r,
		transport:    transport,
		fsm:          f,
		logger:       logger,
	}

	if cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
		if err != nil {
			return nil, err
		}
		if !hasState {
			future := r.BootstrapCluster(raft.Configuration{Servers: []raft.Server{{
				ID:      raft.ServerID(cfg.NodeID),
				Address: transport.LocalAddr(),
			}}})
			if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
				return nil, err
			}
		}
	}

	return n, nil
}

// Apply replicates env and returns what the machine produced for it.
func (n *Node) Apply(ctx context.Context, env protocol.Envelope) ([]protocol.Envelope, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	timeout := n.applyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return nil, err
	}
	switch resp := future.Response().(type) {
	case error:
		return nil, resp
	case []protocol.Envelope:
		return resp, nil
	default:
		return nil, nil
	}
}

// HandleMessage makes a node usable as a mailbox handler: the envelope is
// replicated first, then its effects are returned. A request that cannot
// be replicated is answered with an error; a lost reply leaves its
// operation to the sweep.
func (n *Node) HandleMessage(ctx context.Context, env protocol.Envelope) []protocol.Envelope {
	out, err := n.Apply(ctx, env)
	if err == nil {
		return out
	}
	n.logger.Warn().Err(err).Str("kind", string(env.Kind)).Msg("replication failed")
	if env.IsReply() {
		return nil
	}
	code := protocol.CodeTimeout
	if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
		code = protocol.CodeConflict
	}
	return []protocol.Envelope{env.ReplyError(protocol.Errorf(code, "replicate %s: %v", env.Kind, err), env.SentAt)}
}

// AddVoter joins or updates one voter in the cluster config.
func (n *Node) AddVoter(ctx context.Context, nodeID, raftAddr string) error {
	nodeID = strings.TrimSpace(nodeID)
	raftAddr = strings.TrimSpace(raftAddr)
	if nodeID == "" || raftAddr == "" {
		return errors.New("node_id and raft_addr are required")
	}
	cfgFuture := n.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return err
	}
	for _, srv := range cfgFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) && srv.Address == raft.ServerAddress(raftAddr) {
			return nil
		}
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(raftAddr) {
			if err := n.raft.RemoveServer(srv.ID, 0, n.raftTimeout(ctx)).Error(); err != nil {
				return err
			}
		}
	}
	return n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(raftAddr), 0, n.raftTimeout(ctx)).Error()
}

func (n *Node) RemoveServer(ctx context.Context, nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return errors.New("node_id is required")
	}
	return n.raft.RemoveServer(raft.ServerID(nodeID), 0, n.raftTimeout(ctx)).Error()
}

func (n *Node) raftTimeout(ctx context.Context) time.Duration {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// WaitForLeader waits until any leader is elected.
func (n *Node) WaitForLeader(ctx context.Context, pollInterval time.Duration) (string, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if leader := n.LeaderAddr(); leader != "" {
			return leader, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) ID() string         { return n.id }
func (n *Node) RaftAddr() string   { return n.raftAddr }
func (n *Node) IsLeader() bool     { return n.raft.State() == raft.Leader }
func (n *Node) LeaderAddr() string { return strings.TrimSpace(string(n.raft.Leader())) }
func (n *Node) State() string      { return n.raft.State().String() }

// Status is the node view served by the HTTP gateway.
type Status struct {
	NodeID string            `json:"node_id"`
	Addr   string            `json:"raft_addr"`
	State  string            `json:"state"`
	Leader string            `json:"leader"`
	Stats  map[string]string `json:"stats"`
}

func (n *Node) Status() Status {
	return Status{
		NodeID: n.id,
		Addr:   n.raftAddr,
		State:  n.State(),
		Leader: n.LeaderAddr(),
		Stats:  n.raft.Stats(),
	}
}

// Snapshot forces a Raft snapshot of the machine.
func (n *Node) Snapshot() error {
	return n.raft.Snapshot().Error()
}

// Shutdown stops Raft and transport.
func (n *Node) Shutdown() error {
	var shutdownErr error
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			shutdownErr = err
		}
	}
	if n.transport != nil {
		_ = n.transport.Close()
	}
	return shutdownErr
}

// fsm feeds committed envelopes to the machine.
type fsm struct {
	machine Machine
	logger  zerolog.Logger
}

func (f *fsm) Apply(log *raft.Log) interface{} {
	var env protocol.Envelope
	if err := json.Unmarshal(log.Data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return f.machine.HandleMessage(context.Background(), env)
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.machine.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{data: data}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	f.logger.Info().Int("bytes", len(data)).Msg("restoring machine from raft snapshot")
	return f.machine.UnmarshalJSON(data)
}

type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if len(s.data) == 0 {
		return sink.Close()
	}
	if _, err := sink.Write(s.data); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
