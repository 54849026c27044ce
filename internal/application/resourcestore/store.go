package resourcestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/application/continuation"
	"github.com/nestkit/nestkit/internal/domain/asset"
	"github.com/nestkit/nestkit/internal/domain/tx"
	"github.com/nestkit/nestkit/internal/protocol"
)

// Config describes one resource store actor. Admins may add entries and
// parts; typically the owning collection and its operator account.
type Config struct {
	Self      protocol.ActorRef
	Admins    []protocol.ActorRef
	TxTimeout time.Duration
}

// Store is the resource store aggregate.
type Store struct {
	mu sync.Mutex

	self     protocol.ActorRef
	admins   map[protocol.ActorRef]struct{}
	registry *asset.Registry
	runner   *continuation.Runner
	logger   zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Store {
	s := &Store{
		self:     cfg.Self,
		admins:   make(map[protocol.ActorRef]struct{}, len(cfg.Admins)),
		registry: asset.NewRegistry(),
		logger: logger.With().
			Str("actor", cfg.Self.String()).
			Str("aggregate", "resource_store").
			Logger(),
	}
	for _, a := range cfg.Admins {
		s.admins[a] = struct{}{}
	}
	s.runner = continuation.NewRunner(tx.NewManager(cfg.TxTimeout), s.step, s.logger)
	return s
}

func (s *Store) Self() protocol.ActorRef { return s.self }

func (s *Store) HandleMessage(_ context.Context, env protocol.Envelope) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner.Handle(env)
}

func (s *Store) step(t *tx.Tx) tx.Outcome {
	switch t.Request.Kind {
	case protocol.ActionAddResourceEntry:
		return s.addEntry(t)
	case protocol.ActionGetResource:
		return s.get(t)
	case protocol.ActionAddPartToResource:
		return s.addPart(t)
	default:
		return tx.Fail(protocol.InvalidInput("resource store does not handle %s", t.Request.Kind))
	}
}

func (s *Store) requireAdmin(caller protocol.ActorRef) error {
	if _, ok := s.admins[caller]; !ok {
		return protocol.Unauthorized("%s cannot modify resource store %s", caller, s.self)
	}
	return nil
}

func (s *Store) addEntry(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddResourceEntry](t)
	if err != nil {
		return tx.Fail(err)
	}
	if err := s.requireAdmin(t.Caller()); err != nil {
		return tx.Fail(err)
	}
	if err := s.registry.Add(req.ID, req.Resource); err != nil {
		return tx.Fail(err)
	}
	s.logger.Info().Uint8("resource", uint8(req.ID)).Str("kind", string(req.Resource.Kind)).Msg("resource added")
	return tx.Done(protocol.EventResourceEntryAdded, protocol.ResourceEntryAdded{ID: req.ID})
}

func (s *Store) get(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.GetResource](t)
	if err != nil {
		return tx.Fail(err)
	}
	res, err := s.registry.Get(req.ID)
	if err != nil {
		return tx.Fail(err)
	}
	return tx.Done(protocol.EventResource, protocol.ResourceFound{ID: req.ID, Resource: res})
}

// addPart attaches a catalog part to a composed resource once the catalog
// the resource points at confirms the part exists.
func (s *Store) addPart(t *tx.Tx) tx.Outcome {
	req, err := tx.Request[protocol.AddPartToResource](t)
	if err != nil {
		return tx.Fail(err)
	}
	switch t.State {
	case tx.StateInitial:
		if err := s.requireAdmin(t.Caller()); err != nil {
			return tx.Fail(err)
		}
		if err := s.registry.CanAddPart(req.ID, req.Part); err != nil {
			return tx.Fail(err)
		}
		res, _ := s.registry.Get(req.ID)
		return tx.Suspend(tx.StateAwaitingPart, res.Base, protocol.ActionCheckPart, protocol.PartRef{Part: req.Part}, nil)
	case tx.StatePartReceived:
		if _, err := tx.Reply[protocol.PartFound](t); err != nil {
			return tx.Fail(err)
		}
		if err := s.registry.AddPart(req.ID, req.Part); err != nil {
			return tx.Fail(err)
		}
		return tx.Done(protocol.EventPartAddedToResource, req)
	default:
		return tx.Fail(protocol.ProtocolViolation("%s cannot continue from state %s", t.Request.Kind, t.State))
	}
}

type snapshot struct {
	Registry *asset.Registry `json:"registry"`
	Txs      *tx.Manager     `json:"txs"`
}

func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(snapshot{Registry: s.registry, Txs: s.runner.Manager()})
}

func (s *Store) UnmarshalJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{Registry: asset.NewRegistry(), Txs: s.runner.Manager()}
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.registry = snap.Registry
	return nil
}
