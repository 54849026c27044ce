package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/nestkit/nestkit/internal/domain/snapshot"
	"github.com/nestkit/nestkit/internal/protocol"
)

const snapshotBucket = "actor_snapshots"

// Store is a snapshot.Repository on a single BoltDB file, for nodes that
// run without PostgreSQL.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("snapshot path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes s and bumps its version inside one transaction.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return errors.New("snapshot bucket is missing")
		}
		version := int64(1)
		if prev := bucket.Get(key(snap.Actor)); prev != nil {
			var old snapshot.Snapshot
			if err := json.Unmarshal(prev, &old); err != nil {
				return fmt.Errorf("unmarshal snapshot %s: %w", snap.Actor, err)
			}
			version = old.Version + 1
		}
		stored := *snap
		stored.Version = version
		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		if err := bucket.Put(key(snap.Actor), payload); err != nil {
			return err
		}
		snap.Version = version
		return nil
	})
}

func (s *Store) Get(ctx context.Context, actor protocol.ActorRef) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket([]byte(snapshotBucket)).Get(key(actor))
		if payload == nil {
			return nil
		}
		var snap snapshot.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return fmt.Errorf("unmarshal snapshot %s: %w", actor, err)
		}
		out = &snap
		return nil
	})
	return out, err
}

// List returns every snapshot ordered by kind, then actor.
func (s *Store) List(ctx context.Context) ([]*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*snapshot.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).ForEach(func(_, v []byte) error {
			var snap snapshot.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return fmt.Errorf("unmarshal snapshot: %w", err)
			}
			out = append(out, &snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Actor.String() < out[j].Actor.String()
	})
	return out, nil
}

func (s *Store) Delete(ctx context.Context, actor protocol.ActorRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Delete(key(actor))
	})
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket)); err != nil {
			return fmt.Errorf("create snapshot bucket: %w", err)
		}
		return nil
	})
}

func key(actor protocol.ActorRef) []byte {
	return []byte(actor.String())
}
