package snapshot

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nestkit/nestkit/internal/protocol"
)

// Kind names the aggregate a snapshot belongs to.
type Kind string

const (
	KindCollection    Kind = "collection"
	KindResourceStore Kind = "resource_store"
	KindCatalog       Kind = "catalog"
)

var validKinds = map[Kind]bool{
	KindCollection:    true,
	KindResourceStore: true,
	KindCatalog:       true,
}

// Snapshot is the persisted state of one actor, including its in-flight
// operations.
type Snapshot struct {
	Actor     protocol.ActorRef `json:"actor"`
	Kind      Kind              `json:"kind"`
	Data      json.RawMessage   `json:"data"`
	Version   int64             `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Validate checks the fields every store relies on.
func (s *Snapshot) Validate() error {
	if s.Actor.IsZero() {
		return errors.New("actor is required")
	}
	if !validKinds[s.Kind] {
		return errors.New("unknown snapshot kind: " + string(s.Kind))
	}
	if len(s.Data) == 0 {
		return errors.New("snapshot data is required")
	}
	return nil
}

// Repository persists actor snapshots. Get returns nil, nil when the
// actor has never been saved.
type Repository interface {
	Save(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, actor protocol.ActorRef) (*Snapshot, error)
	List(ctx context.Context) ([]*Snapshot, error)
	Delete(ctx context.Context, actor protocol.ActorRef) error
}
