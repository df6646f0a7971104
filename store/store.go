// Package store persists the asset cache's bookkeeping: which short paths
// exist, how many bytes each occupies on disk, and the set of users pinning
// each one.
//
// All mutations are applied by a single worker goroutine, which drains the
// pending queue inside one SQL transaction per cycle. Offline downloading
// can generate hundreds of registrations in a burst; batching turns those
// into a handful of disk transactions while keeping strict submission order.
// Blocking reads run on the same worker, ordered with the mutations queued
// before them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// User identifies one reason an asset must remain on disk: an opaque
// (type, key) pair plus the priority used to rank eviction candidates.
type User struct {
	Type     string
	Key      string
	Priority int64
}

// UserTypeAsset is the reserved user type for parent-asset references:
// the user key is the short path of the asset that embeds this one. These
// pins are severed when the parent asset's row is deleted.
const UserTypeAsset = "asset"

// ErrClosed is returned by operations submitted after Close.
var ErrClosed = errors.New("asset store closed")

// ErrReset is returned to blocked callers whose work was discarded by Clear.
var ErrReset = errors.New("asset store reset")

// errStaleSession aborts in-flight work when Clear has superseded it.
var errStaleSession = errors.New("stale store session")

// cleanBatchSize bounds how many unused rows a single scan pass touches.
const cleanBatchSize = 400

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	asset_id   INTEGER PRIMARY KEY,
	bytes      INTEGER NOT NULL DEFAULT 0,
	short_path TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS asset_users (
	asset_id INTEGER NOT NULL,
	type     TEXT NOT NULL,
	user     TEXT NOT NULL,
	priority INTEGER NOT NULL,
	PRIMARY KEY (asset_id, type, user)
);
CREATE INDEX IF NOT EXISTS idx_asset_users_user ON asset_users(user);
`

// Store is the durable asset/user mapping. The zero value is not usable;
// construct with New and release with Close.
type Store struct {
	path   string
	log    *logrus.Logger
	onSize func(total int64)

	q queue
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for fire-and-forget failures.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// WithSizeCallback registers a callback invoked from the worker whenever
// the aggregate tracked byte count has been recomputed. At most one call
// per drain cycle.
func WithSizeCallback(fn func(total int64)) Option {
	return func(s *Store) {
		s.onSize = fn
	}
}

// New creates a store backed by the SQLite database at path. The database
// file is opened lazily by the worker on first use.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logrus.New()
		s.log.SetOutput(io.Discard)
	}
	s.init()
	return s
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Add records that user pins the asset at shortPath. The asset row is
// inserted if absent; the user row is upserted with the given priority.
// Asynchronous; queued behind earlier mutations.
func (s *Store) Add(u User, shortPath string) {
	s.enqueue(op{kind: opAdd, user: u, path: shortPath})
}

// RemoveUser deletes every pin held by (type, key), regardless of asset.
// Asynchronous; queued behind earlier mutations.
func (s *Store) RemoveUser(u User) {
	s.enqueue(op{kind: opRemoveUser, user: u})
}

// SetBytes records the on-disk size of the asset at shortPath, inserting
// the asset row if absent. Marks the aggregate size dirty so it is
// recomputed after the drain. Asynchronous.
func (s *Store) SetBytes(shortPath string, bytes int64) {
	s.enqueue(op{kind: opSetBytes, path: shortPath, bytes: bytes})
}

// Await blocks until every mutation queued before it has been applied.
func (s *Store) Await(ctx context.Context) error {
	return s.submit(ctx, func(*sql.DB, uint64) error { return nil })
}

// Users returns the distinct users of the given type. Blocks the caller;
// runs on the worker after everything queued before it.
func (s *Store) Users(ctx context.Context, userType string) ([]User, error) {
	var out []User
	err := s.submit(ctx, func(db *sql.DB, _ uint64) error {
		rows, err := db.Query(
			`SELECT DISTINCT type, user, priority FROM asset_users WHERE type = ?`, userType)
		if err != nil {
			return fmt.Errorf("query users: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.Type, &u.Key, &u.Priority); err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CleanUnusedAssets removes assets with no remaining users from the table
// and returns their short paths so the caller can delete the files. Rows
// are removed in fixed-size batches; if new work queues up mid-scan the
// scan stops early and returns a partial result. Every returned path has
// already been removed from the table.
func (s *Store) CleanUnusedAssets(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.submit(ctx, func(db *sql.DB, session uint64) error {
		var err error
		paths, err = s.cleanUnused(db, session, true)
		if err != nil {
			return err
		}
		return s.recomputeSize(db, session)
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// TrimResult reports what a Trim pass removed.
type TrimResult struct {
	// Users are the pins removed, lowest priority first.
	Users []User

	// Paths are the short paths of assets deleted as a result.
	Paths []string

	// Freed is how many tracked bytes the pass released.
	Freed int64
}

// Trim repeatedly removes the single lowest-priority user row, deletes any
// assets left unreferenced, and recomputes the aggregate size, until at
// least want bytes have been freed or no users remain. Blocks the caller.
func (s *Store) Trim(ctx context.Context, want int64) (TrimResult, error) {
	var res TrimResult
	err := s.submit(ctx, func(db *sql.DB, session uint64) error {
		start, err := s.queryTotal(db)
		if err != nil {
			return err
		}
		cur := start
		for cur > start-want {
			u, rowid, ok, err := s.lowestUser(db)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := s.deleteUserRow(db, session, rowid); err != nil {
				return err
			}
			paths, err := s.cleanUnused(db, session, false)
			if err != nil {
				return err
			}
			res.Users = append(res.Users, u)
			res.Paths = append(res.Paths, paths...)
			if cur, err = s.queryTotal(db); err != nil {
				return err
			}
		}
		res.Freed = start - cur
		s.publishTotal(cur)
		return nil
	})
	if err != nil {
		return TrimResult{}, err
	}
	return res, nil
}

// RemoveOrphanUsers deletes users of the given type whose key no longer
// names a tracked short path. Parent-asset pins use the embedding asset's
// short path as their key, so this severs references left behind when the
// parent was removed. Returns how many rows were deleted.
func (s *Store) RemoveOrphanUsers(ctx context.Context, userType string) (int64, error) {
	var n int64
	err := s.submit(ctx, func(db *sql.DB, session uint64) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		r, err := tx.Exec(
			`DELETE FROM asset_users WHERE type = ? AND user NOT IN (SELECT short_path FROM assets)`,
			userType)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := s.commit(tx, session); err != nil {
			return err
		}
		n, _ = r.RowsAffected()
		return nil
	})
	return n, err
}

// cleanUnused deletes assets with no users, batch by batch, returning
// their short paths. Pins of type UserTypeAsset keyed by a removed path are
// severed in the same transaction, which can free further assets on the
// next iteration. When interruptible, the scan yields as soon as new
// work has queued.
func (s *Store) cleanUnused(db *sql.DB, session uint64, interruptible bool) ([]string, error) {
	var all []string
	for {
		ids, paths, err := s.unusedBatch(db)
		if err != nil {
			return all, err
		}
		if len(ids) == 0 {
			return all, nil
		}

		tx, err := db.Begin()
		if err != nil {
			return all, err
		}
		marks := placeholders(len(ids))
		if _, err := tx.Exec(
			`DELETE FROM assets WHERE asset_id IN (`+marks+`)`, ids...); err != nil {
			tx.Rollback()
			return all, err
		}
		pathArgs := make([]any, 0, len(paths)+1)
		pathArgs = append(pathArgs, UserTypeAsset)
		for _, p := range paths {
			pathArgs = append(pathArgs, p)
		}
		if _, err := tx.Exec(
			`DELETE FROM asset_users WHERE type = ? AND user IN (`+marks+`)`, pathArgs...); err != nil {
			tx.Rollback()
			return all, err
		}
		if err := s.commit(tx, session); err != nil {
			return all, err
		}
		all = append(all, paths...)

		if interruptible && s.hasPending() {
			return all, nil
		}
	}
}

func (s *Store) unusedBatch(db *sql.DB) (ids []any, paths []string, err error) {
	rows, err := db.Query(
		`SELECT asset_id, short_path FROM assets
		 WHERE asset_id NOT IN (SELECT asset_id FROM asset_users)
		 LIMIT ?`, cleanBatchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("query unused assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, nil, fmt.Errorf("scan unused asset: %w", err)
		}
		ids = append(ids, id)
		paths = append(paths, p)
	}
	return ids, paths, rows.Err()
}

func (s *Store) lowestUser(db *sql.DB) (User, int64, bool, error) {
	var u User
	var rowid int64
	err := db.QueryRow(
		`SELECT rowid, type, user, priority FROM asset_users
		 ORDER BY priority ASC, rowid ASC LIMIT 1`).
		Scan(&rowid, &u.Type, &u.Key, &u.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, 0, false, nil
	}
	if err != nil {
		return User{}, 0, false, fmt.Errorf("query lowest user: %w", err)
	}
	return u, rowid, true, nil
}

func (s *Store) deleteUserRow(db *sql.DB, session uint64, rowid int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM asset_users WHERE rowid = ?`, rowid); err != nil {
		tx.Rollback()
		return err
	}
	return s.commit(tx, session)
}

func (s *Store) queryTotal(db *sql.DB) (int64, error) {
	var total int64
	if err := db.QueryRow(`SELECT COALESCE(SUM(bytes), 0) FROM assets`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum asset bytes: %w", err)
	}
	return total, nil
}

// recomputeSize runs the aggregate scan once and publishes the result.
// A full scan per dirty drain is deliberate: simpler than incremental
// deltas and correct under batched concurrent writes.
func (s *Store) recomputeSize(db *sql.DB, session uint64) error {
	total, err := s.queryTotal(db)
	if err != nil {
		return err
	}
	if s.stale(session) {
		return errStaleSession
	}
	s.publishTotal(total)
	return nil
}

func (s *Store) openDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open asset db: %w", err)
	}
	// The worker is the only writer; a single connection keeps SQLite's
	// locking out of the picture entirely.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		s.log.WithError(err).Warn("asset db: enabling WAL failed")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create asset db schema: %w", err)
	}
	return db, nil
}

// removeFiles deletes the database and its sidecar files.
func (s *Store) removeFiles() {
	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", p).Warn("asset db: removing file failed")
		}
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
