package catalog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/application/continuation"
	domainCatalog "github.com/nestkit/nestkit/internal/domain/catalog"
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

// Config describes one catalog (base) actor.
type Config struct {
	Self  protocol.ActorRef
	Admin protocol.ActorRef
}

// Actor hosts a part catalog. Every request completes synchronously.
type Actor struct {
	mu sync.Mutex

	self    protocol.ActorRef
	admin   protocol.ActorRef
	catalog *domainCatalog.Catalog
	runner  *continuation.Runner
	logger  zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Actor {
	a := &Actor{
		self:    cfg.Self,
		admin:   cfg.Admin,
		catalog: domainCatalog.New(),
		logger: logger.With().
			Str("actor", cfg.Self.String()).
			Str("aggregate", "catalog").
			Logger(),
	}
	a.runner = continuation.NewRunner(tx.NewManager(0), a.step, a.logger)
	return a
}

func (a *Actor) Self() protocol.ActorRef { return a.self }

func (a *Actor) HandleMessage(_ context.Context, env protocol.Envelope) []protocol.Envelope {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runner.Handle(env)
}

func (a *Actor) step(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionCatalogCheckEquippable:
		req, err := tx.Request[protocol.EquippableAddress](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.CheckEquippable(req.Part, req.Collection); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventInEquippableList, req)
	case protocol.ActionCheckPart:
		req, err := tx.Request[protocol.PartRef](t)
		if err != nil {
			return tx.Fail(err)
		}
		part, err := a.catalog.Part(req.Part)
		if err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventPart, protocol.PartFound{Part: req.Part, Definition: part})
	}

	if a.admin.IsZero() || t.Caller() != a.admin {
		return tx.Fail(protocol.Unauthorized("%s is not the catalog admin", t.Caller()))
	}
	switch t.Request.Kind {
	case protocol.ActionAddParts:
		req, err := tx.Request[protocol.AddParts](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.AddParts(req.Parts); err != nil {
			return tx.Fail(err)
		}
		a.logger.Info().Int("parts", len(req.Parts)).Msg("parts added")
		return tx.Done(protocol.EventPartsAdded, req)
	case protocol.ActionRemoveParts:
		req, err := tx.Request[protocol.PartIDs](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.RemoveParts(req.Parts); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventPartsRemoved, req)
	case protocol.ActionAddEquippableAddresses:
		req, err := tx.Request[protocol.EquippableAddresses](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.AddEquippableAddresses(req.Part, req.Collections); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventEquippablesAdded, req)
	case protocol.ActionRemoveEquippableAddress:
		req, err := tx.Request[protocol.EquippableAddress](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.RemoveEquippableAddress(req.Part, req.Collection); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventEquippableRemoved, req)
	case protocol.ActionResetEquippableAddresses:
		req, err := tx.Request[protocol.PartRef](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.ResetEquippableAddresses(req.Part); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventEquippablesReset, req)
	case protocol.ActionSetEquippableToAll:
		req, err := tx.Request[protocol.PartRef](t)
		if err != nil {
			return tx.Fail(err)
		}
		if err := a.catalog.SetEquippableToAll(req.Part); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventEquippableToAllSet, req)
	default:
		return tx.Fail(protocol.InvalidInput("catalog does not handle %s", t.Request.Kind))
	}
}

// Seed loads parts without going through the admin check. It is used at
// start-up from the topology file.
func (a *Actor) Seed(parts map[protocol.PartID]protocol.Part) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalog.AddParts(parts)
}

func (a *Actor) MarshalJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.catalog)
}

func (a *Actor) UnmarshalJSON(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := domainCatalog.New()
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	a.catalog = c
	return nil
}
