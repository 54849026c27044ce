package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestkit/nestkit/internal/domain/snapshot"
	"github.com/nestkit/nestkit/internal/protocol"
)

// SnapshotRepository implements snapshot.Repository.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Save upserts the snapshot and bumps its version; s.Version is updated to
// the stored value.
func (r *SnapshotRepository) Save(ctx context.Context, s *snapshot.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO actor_snapshots (actor_id, kind, data, version, updated_at)
		VALUES ($1,$2,$3,1,$4)
		ON CONFLICT (actor_id) DO UPDATE
		SET kind=EXCLUDED.kind,
			data=EXCLUDED.data,
			version=actor_snapshots.version + 1,
			updated_at=EXCLUDED.updated_at
		RETURNING version
	`, uuid.UUID(s.Actor), string(s.Kind), []byte(s.Data), s.UpdatedAt)
	if err := row.Scan(&s.Version); err != nil {
		return fmt.Errorf("save snapshot %s: %w", s.Actor, err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, actor protocol.ActorRef) (*snapshot.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT actor_id, kind, data, version, updated_at
		FROM actor_snapshots WHERE actor_id=$1
	`, uuid.UUID(actor))
	return scanSnapshot(row)
}

func (r *SnapshotRepository) List(ctx context.Context) ([]*snapshot.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT actor_id, kind, data, version, updated_at
		FROM actor_snapshots ORDER BY kind, actor_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*snapshot.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SnapshotRepository) Delete(ctx context.Context, actor protocol.ActorRef) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM actor_snapshots WHERE actor_id=$1`, uuid.UUID(actor))
	return err
}

func scanSnapshot(row pgx.Row) (*snapshot.Snapshot, error) {
	var (
		s    snapshot.Snapshot
		id   uuid.UUID
		kind string
		data []byte
	)
	if err := row.Scan(&id, &kind, &data, &s.Version, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Actor = protocol.ActorRef(id)
	s.Kind = snapshot.Kind(kind)
	s.Data = json.RawMessage(data)
	return &s, nil
}
