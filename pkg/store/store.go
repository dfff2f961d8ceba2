package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"machmap/pkg/dyld"
	"machmap/pkg/structs"
	"machmap/pkg/vm"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// taken_at is Unix nanoseconds so ordering is numeric.
const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id       TEXT PRIMARY KEY,
	pid      INTEGER NOT NULL,
	taken_at INTEGER NOT NULL,
	error    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS images (
	snapshot_id  TEXT NOT NULL REFERENCES snapshots(id),
	load_address INTEGER NOT NULL,
	path         TEXT NOT NULL,
	raw_path     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS regions (
	snapshot_id    TEXT NOT NULL REFERENCES snapshots(id),
	start_addr     INTEGER NOT NULL,
	end_addr       INTEGER NOT NULL,
	depth          INTEGER NOT NULL,
	protection     INTEGER NOT NULL,
	max_protection INTEGER NOT NULL,
	share_mode     INTEGER NOT NULL,
	user_tag       INTEGER NOT NULL,
	file_offset    INTEGER NOT NULL,
	object_id      INTEGER NOT NULL,
	ref_count      INTEGER NOT NULL,
	pages_resident INTEGER NOT NULL,
	submap         INTEGER NOT NULL,
	path           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS regions_snapshot ON regions(snapshot_id, start_addr);
CREATE INDEX IF NOT EXISTS images_snapshot ON images(snapshot_id, load_address);
CREATE INDEX IF NOT EXISTS snapshots_taken ON snapshots(taken_at);
`

// Store records snapshots in a sqlite database file.
type Store struct {
	db *sql.DB
}

// Info is one row of the snapshot history.
type Info struct {
	ID      string    `json:"id"`
	PID     int       `json:"pid"`
	TakenAt time.Time `json:"taken_at"`
	Images  int       `json:"images"`
	Regions int       `json:"regions"`
	Error   string    `json:"error,omitempty"`
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes snap in a single transaction.
func (s *Store) Save(ctx context.Context, snap structs.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, pid, taken_at, error) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.PID, snap.TakenAt.UnixNano(), snap.Error); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	imgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO images (snapshot_id, load_address, path, raw_path) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare images: %w", err)
	}
	defer imgStmt.Close()
	for _, img := range snap.Images {
		if _, err := imgStmt.ExecContext(ctx, snap.ID, int64(img.LoadAddress), img.Path, img.RawPath); err != nil {
			return fmt.Errorf("insert image %#x: %w", img.LoadAddress, err)
		}
	}

	regStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO regions (snapshot_id, start_addr, end_addr, depth, protection, max_protection, share_mode,
			user_tag, file_offset, object_id, ref_count, pages_resident, submap, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare regions: %w", err)
	}
	defer regStmt.Close()
	for _, r := range snap.Regions {
		if _, err := regStmt.ExecContext(ctx, snap.ID,
			int64(r.Start), int64(r.End), r.Depth,
			uint32(r.Protection), uint32(r.MaxProtection), uint8(r.ShareMode),
			r.UserTag, int64(r.Offset), r.ObjectID, r.RefCount, r.PagesResident,
			r.Submap, r.Path); err != nil {
			return fmt.Errorf("insert region %#x: %w", r.Start, err)
		}
	}

	return tx.Commit()
}

// Load reads back the snapshot with the given ID.
func (s *Store) Load(ctx context.Context, id string) (structs.Snapshot, error) {
	snap := structs.Snapshot{ID: id}
	var takenAt int64
	err := s.db.QueryRowContext(ctx, `SELECT pid, taken_at, error FROM snapshots WHERE id = ?`, id).
		Scan(&snap.PID, &takenAt, &snap.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return structs.Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return structs.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	snap.TakenAt = time.Unix(0, takenAt).UTC()

	if snap.Images, err = s.loadImages(ctx, id); err != nil {
		return structs.Snapshot{}, err
	}
	if snap.Regions, err = s.loadRegions(ctx, id); err != nil {
		return structs.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadImages(ctx context.Context, id string) ([]dyld.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT load_address, path, raw_path FROM images WHERE snapshot_id = ? ORDER BY load_address`, id)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var images []dyld.Image
	for rows.Next() {
		var (
			img  dyld.Image
			addr int64
		)
		if err := rows.Scan(&addr, &img.Path, &img.RawPath); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.LoadAddress = uint64(addr)
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *Store) loadRegions(ctx context.Context, id string) ([]vm.Region, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_addr, end_addr, depth, protection, max_protection, share_mode,
			user_tag, file_offset, object_id, ref_count, pages_resident, submap, path
		 FROM regions WHERE snapshot_id = ? ORDER BY start_addr`, id)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	var regions []vm.Region
	for rows.Next() {
		var (
			r                    vm.Region
			start, end, offset   int64
			prot, maxProt, share int64
		)
		if err := rows.Scan(&start, &end, &r.Depth, &prot, &maxProt, &share,
			&r.UserTag, &offset, &r.ObjectID, &r.RefCount, &r.PagesResident, &r.Submap, &r.Path); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		r.Start, r.End, r.Offset = uint64(start), uint64(end), uint64(offset)
		r.Protection, r.MaxProtection = vm.Protection(prot), vm.Protection(maxProt)
		r.ShareMode = vm.ParseShareMode(uint8(share))
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// Snapshots lists stored snapshots with their row counts, newest first.
func (s *Store) Snapshots(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.pid, s.taken_at, s.error,
			(SELECT COUNT(*) FROM images i WHERE i.snapshot_id = s.id),
			(SELECT COUNT(*) FROM regions r WHERE r.snapshot_id = s.id)
		FROM snapshots s
		ORDER BY s.taken_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info    Info
			takenAt int64
		)
		if err := rows.Scan(&info.ID, &info.PID, &takenAt, &info.Error, &info.Images, &info.Regions); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		info.TakenAt = time.Unix(0, takenAt).UTC()
		infos = append(infos, info)
	}
	return infos, rows.Err()
}
