package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/domain/snapshot"
	"github.com/nestkit/nestkit/internal/protocol"
)

// Aggregate is an actor state that can be written to and read back from a
// snapshot, in-flight operations included.
type Aggregate interface {
	json.Marshaler
	json.Unmarshaler
}

type entry struct {
	ref  protocol.ActorRef
	kind snapshot.Kind
	agg  Aggregate
}

// Service persists tracked aggregates through a snapshot.Repository.
type Service struct {
	repo   snapshot.Repository
	clock  func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	entries []entry
}

func NewService(repo snapshot.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		clock:  time.Now,
		logger: logger.With().Str("service", "checkpoint").Logger(),
	}
}

// Track adds an aggregate to every later Restore and Save.
func (s *Service) Track(ref protocol.ActorRef, kind snapshot.Kind, agg Aggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{ref: ref, kind: kind, agg: agg})
}

func (s *Service) tracked() []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry(nil), s.entries...)
}

// Restore loads the last snapshot of every tracked aggregate. Aggregates
// never saved keep their fresh state. It returns how many were restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	restored := 0
	for _, e := range s.tracked() {
		snap, err := s.repo.Get(ctx, e.ref)
		if err != nil {
			return restored, fmt.Errorf("load snapshot %s: %w", e.ref, err)
		}
		if snap == nil {
			continue
		}
		if snap.Kind != e.kind {
			return restored, fmt.Errorf("snapshot %s is a %s, expected %s", e.ref, snap.Kind, e.kind)
		}
		if err := e.agg.UnmarshalJSON(snap.Data); err != nil {
			return restored, fmt.Errorf("restore %s: %w", e.ref, err)
		}
		s.logger.Info().
			Str("actor", e.ref.String()).
			Str("kind", string(e.kind)).
			Int64("version", snap.Version).
			Msg("actor restored")
		restored++
	}
	return restored, nil
}

// Save writes every tracked aggregate. A failing actor does not stop the
// others; the errors are joined.
func (s *Service) Save(ctx context.Context) error {
	var errs []error
	for _, e := range s.tracked() {
		data, err := e.agg.MarshalJSON()
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", e.ref, err))
			continue
		}
		snap := &snapshot.Snapshot{
			Actor:     e.ref,
			Kind:      e.kind,
			Data:      data,
			UpdatedAt: s.clock().UTC(),
		}
		if err := s.repo.Save(ctx, snap); err != nil {
			s.logger.Error().Err(err).Str("actor", e.ref.String()).Msg("snapshot save failed")
			errs = append(errs, fmt.Errorf("save %s: %w", e.ref, err))
			continue
		}
		s.logger.Debug().Str("actor", e.ref.String()).Int64("version", snap.Version).Msg("snapshot saved")
	}
	return errors.Join(errs...)
}

// Run saves every interval until ctx ends, then saves once more.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Save(final); err != nil {
				s.logger.Error().Err(err).Msg("final checkpoint failed")
			}
			cancel()
			return
		case <-ticker.C:
			_ = s.Save(ctx)
		}
	}
}
