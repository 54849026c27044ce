package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "NEST_"

// Snapshot store backends.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// Config holds node configuration.
type Config struct {
	HTTPAddr     string `env:"HTTP_ADDR"     envDefault:"0.0.0.0:8080"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
	TopologyFile string `env:"TOPOLOGY_FILE" envDefault:"topology.yaml"`

	SnapshotStore      string        `env:"SNAPSHOT_STORE"      envDefault:"bolt"`
	CheckpointInterval time.Duration `env:"CHECKPOINT_INTERVAL" envDefault:"30s"`
	BoltPath           string        `env:"BOLT_PATH"           envDefault:"data/nestkit.db"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	DatabaseMaxConns   int32         `env:"DATABASE_MAX_CONNS"  envDefault:"10"`
	MigrationsDir      string        `env:"MIGRATIONS_DIR"      envDefault:"internal/migrations"`

	MailboxSize       int           `env:"MAILBOX_SIZE"        envDefault:"1024"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"      envDefault:"10s"`
	TxTimeout         time.Duration `env:"TX_TIMEOUT"          envDefault:"1m"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT"        envDefault:"10s"`
	MaxOwnershipDepth int           `env:"MAX_OWNERSHIP_DEPTH" envDefault:"64"`

	Raft Raft `envPrefix:"RAFT_"`
}

// Raft configures the node that replicates the collection marked
// replicated in the topology.
type Raft struct {
	NodeID       string        `env:"NODE_ID"`
	Addr         string        `env:"ADDR"          envDefault:"127.0.0.1:7000"`
	DataDir      string        `env:"DATA_DIR"      envDefault:"data/raft"`
	Bootstrap    bool          `env:"BOOTSTRAP"`
	ApplyTimeout time.Duration `env:"APPLY_TIMEOUT" envDefault:"5s"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{Prefix: EnvPrefix})
}

// LoadFrom reads configuration from vars instead of the environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.SnapshotStore = strings.ToLower(strings.TrimSpace(c.SnapshotStore))
	switch c.SnapshotStore {
	case StoreBolt:
		if c.BoltPath == "" {
			return errors.New("bolt snapshot store needs BOLT_PATH")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres snapshot store needs DATABASE_URL")
		}
	case StoreNone:
	default:
		return fmt.Errorf("unknown snapshot store %q", c.SnapshotStore)
	}
	if c.MailboxSize <= 0 {
		return errors.New("mailbox size must be positive")
	}
	if c.MaxOwnershipDepth <= 0 {
		return errors.New("max ownership depth must be positive")
	}
	return nil
}

// RaftEnabled reports whether this node joins a raft group.
func (c *Config) RaftEnabled() bool {
	return strings.TrimSpace(c.Raft.NodeID) != ""
}
