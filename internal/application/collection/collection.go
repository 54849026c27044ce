package collection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/application/continuation"
	"github.com/nestkit/nestkit/internal/domain/asset"
	"github.com/nestkit/nestkit/internal/domain/token"
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

// DefaultMaxOwnershipDepth bounds root owner lookups.
const DefaultMaxOwnershipDepth = 64

// Config describes one collection actor.
type Config struct {
	Self          protocol.ActorRef
	Admin         protocol.ActorRef
	ResourceStore protocol.ActorRef
	TxTimeout     time.Duration
	MaxDepth      int
}

// Collection is the aggregate of one token-hosting actor: ownership,
// children, resources, equipment and the operations in flight.
type Collection struct {
	mu sync.Mutex

	self          protocol.ActorRef
	admin         protocol.ActorRef
	resourceStore protocol.ActorRef
	maxDepth      int

	tokens    *token.Store
	children  *token.Ledger
	resources *asset.Resources
	equipment *asset.Equipment

	// locks maps a token to the operation guarding it.
	locks  map[protocol.TokenID]uuid.UUID
	runner *continuation.Runner
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Collection {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxOwnershipDepth
	}
	c := &Collection{
		self:          cfg.Self,
		admin:         cfg.Admin,
		resourceStore: cfg.ResourceStore,
		maxDepth:      cfg.MaxDepth,
		tokens:        token.NewStore(),
		children:      token.NewLedger(),
		resources:     asset.NewResources(),
		equipment:     asset.NewEquipment(),
		locks:         map[protocol.TokenID]uuid.UUID{},
		logger: logger.With().
			Str("actor", cfg.Self.String()).
			Str("aggregate", "collection").
			Logger(),
	}
	c.runner = continuation.NewRunner(tx.NewManager(cfg.TxTimeout), c.step, c.logger)
	c.runner.OnFinish(c.unlock)
	return c
}

func (c *Collection) Self() protocol.ActorRef { return c.self }

// HandleMessage applies one inbound envelope and returns the envelopes it
// produced, in send order.
func (c *Collection) HandleMessage(_ context.Context, env protocol.Envelope) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner.Handle(env)
}

// step dispatches by protocol family.
func (c *Collection) step(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionMintToRootOwner, protocol.ActionMintToNft, protocol.ActionTransfer,
		protocol.ActionTransferToNft, protocol.ActionApprove, protocol.ActionRootOwner:
		return c.ownership(t)
	case protocol.ActionBurn, protocol.ActionBurnFromParent:
		return c.burning(t)
	case protocol.ActionAddChild, protocol.ActionAddAcceptedChild, protocol.ActionAcceptChild,
		protocol.ActionRejectChild, protocol.ActionRemoveChild, protocol.ActionTransferChild,
		protocol.ActionBurnChild:
		return c.childrenFamily(t)
	case protocol.ActionAddResourceEntry, protocol.ActionAddResource, protocol.ActionAcceptResource,
		protocol.ActionRejectResource, protocol.ActionSetPriority:
		return c.resourceFamily(t)
	case protocol.ActionEquip, protocol.ActionUnequip, protocol.ActionCheckEquippable:
		return c.equip(t)
	case protocol.ActionTokenInfo, protocol.ActionBalanceOf, protocol.ActionActorStats:
		return c.query(t)
	default:
		return tx.Fail(protocol.InvalidInput("collection does not handle %s", t.Request.Kind))
	}
}

// lock guards token for t. A token held by another operation is a conflict.
func (c *Collection) lock(t *tx.Tx, id protocol.TokenID) error {
	if holder, ok := c.locks[id]; ok && holder != t.OperationID {
		return protocol.Conflict("token %s is busy with operation %s", id, holder)
	}
	c.locks[id] = t.OperationID
	return nil
}

// seize takes the guard regardless of the current holder. The displaced
// operation notices on resumption that its token changed.
func (c *Collection) seize(t *tx.Tx, id protocol.TokenID) {
	c.locks[id] = t.OperationID
}

func (c *Collection) unlock(t *tx.Tx) {
	for id, holder := range c.locks {
		if holder == t.OperationID {
			delete(c.locks, id)
		}
	}
}

func (c *Collection) ref(id protocol.TokenID) protocol.TokenRef {
	return protocol.TokenRef{Actor: c.self, Token: id}
}

func (c *Collection) requireAdmin(caller protocol.ActorRef) error {
	if c.admin.IsZero() || caller != c.admin {
		return protocol.Unauthorized("%s is not the collection admin", caller)
	}
	return nil
}

func unexpected(t *tx.Tx) tx.Outcome {
	return tx.Fail(protocol.ProtocolViolation("%s cannot continue from state %s", t.Request.Kind, t.State))
}

type snapshot struct {
	Tokens    *token.Store                   `json:"tokens"`
	Children  *token.Ledger                  `json:"children"`
	Resources *asset.Resources               `json:"resources"`
	Equipment *asset.Equipment               `json:"equipment"`
	Locks     map[protocol.TokenID]uuid.UUID `json:"locks,omitempty"`
	Txs       *tx.Manager                    `json:"txs"`
}

// MarshalJSON captures durable and in-flight state together so a restored
// actor can consume replies to operations suspended before the snapshot.
func (c *Collection) MarshalJSON() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(snapshot{
		Tokens:    c.tokens,
		Children:  c.children,
		Resources: c.resources,
		Equipment: c.equipment,
		Locks:     c.locks,
		Txs:       c.runner.Manager(),
	})
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := snapshot{
		Tokens:    token.NewStore(),
		Children:  token.NewLedger(),
		Resources: asset.NewResources(),
		Equipment: asset.NewEquipment(),
		Txs:       c.runner.Manager(),
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	c.tokens, c.children, c.resources, c.equipment = snap.Tokens, snap.Children, snap.Resources, snap.Equipment
	c.locks = snap.Locks
	if c.locks == nil {
		c.locks = map[protocol.TokenID]uuid.UUID{}
	}
	return nil
}
