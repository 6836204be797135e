// Package sqlstore is the concrete store.Store adapter: a sqlx-driven
// SQLite backend keyed on (uuid, world_name), with region/table columns
// computed from spatial.RegionClamp/TableClamp so bounding-box queries can
// use an indexed range predicate instead of a full table scan.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	uuid       TEXT    NOT NULL,
	world_name TEXT    NOT NULL,
	pos_x      REAL    NOT NULL,
	pos_y      REAL    NOT NULL,
	pos_z      REAL    NOT NULL,
	region_x   INTEGER NOT NULL,
	region_y   INTEGER NOT NULL,
	region_z   INTEGER NOT NULL,
	table_x    INTEGER NOT NULL,
	table_y    INTEGER NOT NULL,
	table_z    INTEGER NOT NULL,
	data       BLOB,
	PRIMARY KEY (uuid, world_name)
);
CREATE INDEX IF NOT EXISTS idx_records_bucket
	ON records (world_name, table_x, table_y, table_z, region_x, region_y, region_z);
`

// SQLStore is the SQLite-backed store.Store implementation.
type SQLStore struct {
	db         *sqlx.DB
	regionSize int64
	tableSize  int64
}

// Open connects to dsn (a database/sql SQLite data source name), applies
// the schema, and returns a ready SQLStore. regionSize/tableSize must match
// the values used elsewhere in the process (they only affect index
// locality, not correctness).
func Open(ctx context.Context, dsn string, regionSize, tableSize int64) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db, regionSize: regionSize, tableSize: tableSize}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type row struct {
	UUID      string  `db:"uuid"`
	WorldName string  `db:"world_name"`
	PosX      float64 `db:"pos_x"`
	PosY      float64 `db:"pos_y"`
	PosZ      float64 `db:"pos_z"`
	RegionX   int64   `db:"region_x"`
	RegionY   int64   `db:"region_y"`
	RegionZ   int64   `db:"region_z"`
	TableX    int64   `db:"table_x"`
	TableY    int64   `db:"table_y"`
	TableZ    int64   `db:"table_z"`
	Data      []byte  `db:"data"`
}

func (r row) toRecord() (store.Record, error) {
	id, err := uuid.Parse(r.UUID)
	if err != nil {
		return store.Record{}, fmt.Errorf("corrupt row uuid %q: %w", r.UUID, err)
	}
	return store.Record{
		UUID:      id,
		WorldName: r.WorldName,
		Position:  spatial.Vector3{X: r.PosX, Y: r.PosY, Z: r.PosZ},
		Data:      r.Data,
	}, nil
}

func (s *SQLStore) rowFor(rec store.Record) row {
	region := spatial.RegionClamp(rec.Position, s.regionSize)
	table := spatial.TableClamp(rec.Position, s.tableSize)
	return row{
		UUID:      rec.UUID.String(),
		WorldName: rec.WorldName,
		PosX:      rec.Position.X,
		PosY:      rec.Position.Y,
		PosZ:      rec.Position.Z,
		RegionX:   region.X,
		RegionY:   region.Y,
		RegionZ:   region.Z,
		TableX:    table.X,
		TableY:    table.Y,
		TableZ:    table.Z,
		Data:      rec.Data,
	}
}

// GetByArea implements store.Store.
func (s *SQLStore) GetByArea(ctx context.Context, world string, pos1, pos2 spatial.Vector3) ([]store.Record, error) {
	lo := spatial.Min(pos1, pos2)
	hi := spatial.Max(pos1, pos2)

	loTable := spatial.TableClamp(lo, s.tableSize)
	hiTable := spatial.TableClamp(hi, s.tableSize)

	const q = `
SELECT uuid, world_name, pos_x, pos_y, pos_z, region_x, region_y, region_z, table_x, table_y, table_z, data
FROM records
WHERE world_name = ?
  AND table_x BETWEEN ? AND ? AND table_y BETWEEN ? AND ? AND table_z BETWEEN ? AND ?
  AND pos_x >= ? AND pos_x < ?
  AND pos_y >= ? AND pos_y < ?
  AND pos_z >= ? AND pos_z < ?`

	var rows []row
	err := s.db.SelectContext(ctx, &rows, q, world,
		loTable.X, hiTable.X, loTable.Y, hiTable.Y, loTable.Z, hiTable.Z,
		lo.X, hi.X, lo.Y, hi.Y, lo.Z, hi.Z)
	if err != nil {
		return nil, fmt.Errorf("get_by_area: %w", err)
	}
	return toRecords(rows)
}

// GetByID implements store.Store: an OR over (uuid=?, world=?) pairs.
func (s *SQLStore) GetByID(ctx context.Context, records []store.PartialRecord) ([]store.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*2)
	for _, r := range records {
		clauses = append(clauses, "(uuid = ? AND world_name = ?)")
		args = append(args, r.UUID.String(), r.WorldName)
	}

	q := fmt.Sprintf(`
SELECT uuid, world_name, pos_x, pos_y, pos_z, region_x, region_y, region_z, table_x, table_y, table_z, data
FROM records WHERE %s`, strings.Join(clauses, " OR "))

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("get_by_id: %w", err)
	}
	return toRecords(rows)
}

// Set implements store.Store: per-record upsert inside a single
// transaction, counting prior absence/presence.
func (s *SQLStore) Set(ctx context.Context, records []store.Record) (created, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const existsQ = `SELECT 1 FROM records WHERE uuid = ? AND world_name = ?`
	const upsertQ = `
INSERT INTO records (uuid, world_name, pos_x, pos_y, pos_z, region_x, region_y, region_z, table_x, table_y, table_z, data)
VALUES (:uuid, :world_name, :pos_x, :pos_y, :pos_z, :region_x, :region_y, :region_z, :table_x, :table_y, :table_z, :data)
ON CONFLICT(uuid, world_name) DO UPDATE SET
	pos_x = excluded.pos_x, pos_y = excluded.pos_y, pos_z = excluded.pos_z,
	region_x = excluded.region_x, region_y = excluded.region_y, region_z = excluded.region_z,
	table_x = excluded.table_x, table_y = excluded.table_y, table_z = excluded.table_z,
	data = excluded.data`

	for _, rec := range records {
		var exists int
		err := tx.GetContext(ctx, &exists, existsQ, rec.UUID.String(), rec.WorldName)
		switch {
		case err == sql.ErrNoRows:
			created++
		case err != nil:
			return 0, 0, fmt.Errorf("set: check existing: %w", err)
		default:
			updated++
		}

		if _, err := tx.NamedExecContext(ctx, upsertQ, s.rowFor(rec)); err != nil {
			return 0, 0, fmt.Errorf("set: upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return created, updated, nil
}

// Delete implements store.Store.
func (s *SQLStore) Delete(ctx context.Context, records []store.PartialRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	clauses := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*2)
	for _, r := range records {
		clauses = append(clauses, "(uuid = ? AND world_name = ?)")
		args = append(args, r.UUID.String(), r.WorldName)
	}

	q := fmt.Sprintf(`DELETE FROM records WHERE %s`, strings.Join(clauses, " OR "))
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearWorld implements store.Store.
func (s *SQLStore) ClearWorld(ctx context.Context, world string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE world_name = ?`, world)
	if err != nil {
		return 0, fmt.Errorf("clear_world: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearArea implements store.Store.
func (s *SQLStore) ClearArea(ctx context.Context, world string, pos1, pos2 spatial.Vector3) (int, error) {
	lo := spatial.Min(pos1, pos2)
	hi := spatial.Max(pos1, pos2)

	const q = `
DELETE FROM records
WHERE world_name = ?
  AND pos_x >= ? AND pos_x < ?
  AND pos_y >= ? AND pos_y < ?
  AND pos_z >= ? AND pos_z < ?`

	res, err := s.db.ExecContext(ctx, q, world, lo.X, hi.X, lo.Y, hi.Y, lo.Z, hi.Z)
	if err != nil {
		return 0, fmt.Errorf("clear_area: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func toRecords(rows []row) ([]store.Record, error) {
	out := make([]store.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ store.Store = (*SQLStore)(nil)
