// Package store defines the Record data model and the RecordStore
// interface the core depends on (spec §4.4); sqlstore provides a concrete
// sqlx/SQLite-backed implementation.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/worldql/worldql-go/internal/spatial"
)

// Record is a durable spatial record, primary-keyed by (UUID, WorldName).
type Record struct {
	UUID      uuid.UUID
	WorldName string
	Position  spatial.Vector3
	Data      []byte // nil means no payload
}

// PartialRecord identifies a Record without its data, used for lookups and
// deletes.
type PartialRecord struct {
	UUID      uuid.UUID
	WorldName string
	Position  spatial.Vector3
}

// Partial strips the data payload from a Record.
func (r Record) Partial() PartialRecord {
	return PartialRecord{UUID: r.UUID, WorldName: r.WorldName, Position: r.Position}
}

// Store is the persistence interface the core consumes. Every method
// returns a plain error; the core never inspects it beyond translating it
// into a generic-database protocol error.
type Store interface {
	// GetByArea returns every record in world whose position lies in the
	// axis-aligned box bounded by min(pos1,pos2) and max(pos1,pos2),
	// half-open on the max side.
	GetByArea(ctx context.Context, world string, pos1, pos2 spatial.Vector3) ([]Record, error)

	// GetByID returns records matching any of the given (uuid, world)
	// pairs.
	GetByID(ctx context.Context, records []PartialRecord) ([]Record, error)

	// Set upserts a batch of records, atomically to the extent the store
	// supports, returning how many were previously absent (created) vs.
	// present (updated).
	Set(ctx context.Context, records []Record) (created, updated int, err error)

	// Delete removes the given records, returning the number of rows
	// affected.
	Delete(ctx context.Context, records []PartialRecord) (affected int, err error)

	// ClearWorld removes every record in world.
	ClearWorld(ctx context.Context, world string) (affected int, err error)

	// ClearArea removes every record in world within the box bounded by
	// min(pos1,pos2) and max(pos1,pos2).
	ClearArea(ctx context.Context, world string, pos1, pos2 spatial.Vector3) (affected int, err error)
}
