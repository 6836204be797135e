// Package memstore is an in-memory store.Store used by pipeline and
// database-lane tests so they don't require a real database.
package memstore

import (
	"context"
	"sync"

	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/store"
)

type key struct {
	uuid  string
	world string
}

// Store is a trivial, mutex-guarded in-memory implementation of
// store.Store. Not for production use; query performance is O(n).
type Store struct {
	mu      sync.Mutex
	records map[key]store.Record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[key]store.Record)}
}

func keyOf(id, world string) key { return key{uuid: id, world: world} }

func inBox(pos, lo, hi spatial.Vector3) bool {
	return pos.X >= lo.X && pos.X < hi.X &&
		pos.Y >= lo.Y && pos.Y < hi.Y &&
		pos.Z >= lo.Z && pos.Z < hi.Z
}

func (s *Store) GetByArea(_ context.Context, world string, pos1, pos2 spatial.Vector3) ([]store.Record, error) {
	lo := spatial.Min(pos1, pos2)
	hi := spatial.Max(pos1, pos2)

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Record
	for _, r := range s.records {
		if r.WorldName == world && inBox(r.Position, lo, hi) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, records []store.PartialRecord) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Record
	for _, want := range records {
		if r, ok := s.records[keyOf(want.UUID.String(), want.WorldName)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Set(_ context.Context, records []store.Record) (created, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		k := keyOf(r.UUID.String(), r.WorldName)
		if _, exists := s.records[k]; exists {
			updated++
		} else {
			created++
		}
		s.records[k] = r
	}
	return created, updated, nil
}

func (s *Store) Delete(_ context.Context, records []store.PartialRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, want := range records {
		k := keyOf(want.UUID.String(), want.WorldName)
		if _, ok := s.records[k]; ok {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) ClearWorld(_ context.Context, world string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, r := range s.records {
		if r.WorldName == world {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) ClearArea(_ context.Context, world string, pos1, pos2 spatial.Vector3) (int, error) {
	lo := spatial.Min(pos1, pos2)
	hi := spatial.Max(pos1, pos2)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, r := range s.records {
		if r.WorldName == world && inBox(r.Position, lo, hi) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

var _ store.Store = (*Store)(nil)
