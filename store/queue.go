package store

import (
	"context"
	"database/sql"
	"sync"
)

type opKind int

const (
	opAdd opKind = iota
	opRemoveUser
	opSetBytes
	opJob
)

// op is one queued unit of work. Mutations carry their arguments inline;
// blocking calls carry a job whose done channel releases the caller.
type op struct {
	kind  opKind
	user  User
	path  string
	bytes int64
	job   *job
}

type job struct {
	run  func(db *sql.DB, session uint64) error
	done chan struct{}
	err  error
}

// queue state shared between callers and the worker.
type queue struct {
	mu      sync.Mutex
	pending []op
	session uint64
	closed  bool
	total   int64
	db      *sql.DB

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

func (s *Store) init() {
	s.q.kick = make(chan struct{}, 1)
	s.q.quit = make(chan struct{})
	s.q.done = make(chan struct{})
	go s.run()
}

// enqueue appends an op and nudges the worker.
func (s *Store) enqueue(o op) {
	s.q.mu.Lock()
	if s.q.closed {
		s.q.mu.Unlock()
		failJob(o, ErrClosed)
		return
	}
	s.q.pending = append(s.q.pending, o)
	s.q.mu.Unlock()
	select {
	case s.q.kick <- struct{}{}:
	default:
	}
}

// submit queues a blocking unit of work and waits for the worker to run it.
// The surrounding context only releases the caller; discarded work is
// reported as ErrReset, closed stores as ErrClosed.
func (s *Store) submit(ctx context.Context, run func(db *sql.DB, session uint64) error) error {
	j := &job{run: run, done: make(chan struct{})}
	s.enqueue(op{kind: opJob, job: j})
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failJob(o op, err error) {
	if o.job != nil {
		o.job.err = err
		close(o.job.done)
	}
}

func (s *Store) hasPending() bool {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return len(s.q.pending) > 0
}

func (s *Store) stale(session uint64) bool {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.session != session
}

// commit applies the session guard: work enqueued under an old session must
// never land after a Clear, so a stale transaction is rolled back instead.
func (s *Store) commit(tx *sql.Tx, session uint64) error {
	if s.stale(session) {
		tx.Rollback()
		return errStaleSession
	}
	return tx.Commit()
}

// publishTotal records the recomputed aggregate size and notifies the
// size callback, at most once per drain cycle.
func (s *Store) publishTotal(total int64) {
	s.q.mu.Lock()
	s.q.total = total
	fn := s.onSize
	s.q.mu.Unlock()
	if fn != nil {
		fn(total)
	}
}

// TotalBytes returns the last recomputed aggregate tracked size.
func (s *Store) TotalBytes() int64 {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	return s.q.total
}

// ensureDB returns the open database for the given session, opening it
// lazily. Fails with errStaleSession when a Clear has superseded session.
func (s *Store) ensureDB(session uint64) (*sql.DB, error) {
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.q.closed {
		return nil, ErrClosed
	}
	if s.q.session != session {
		return nil, errStaleSession
	}
	if s.q.db == nil {
		db, err := s.openDB()
		if err != nil {
			return nil, err
		}
		s.q.db = db
	}
	return s.q.db, nil
}

// run is the worker loop. It owns every database mutation; total ordering
// of writes follows from there being exactly one of it.
func (s *Store) run() {
	defer close(s.q.done)
	for {
		select {
		case <-s.q.quit:
			return
		case <-s.q.kick:
		}
		s.drain()
	}
}

// drain repeatedly snapshots the pending list and applies it, so bursts
// queued while a cycle was running are picked up before sleeping again.
func (s *Store) drain() {
	for {
		s.q.mu.Lock()
		if len(s.q.pending) == 0 {
			s.q.mu.Unlock()
			return
		}
		ops := s.q.pending
		s.q.pending = nil
		session := s.q.session
		s.q.mu.Unlock()

		s.apply(ops, session)
	}
}

// apply runs a snapshot in submission order: contiguous runs of mutations
// share one transaction, jobs execute between them on the same goroutine.
// A batch that touched byte counts recomputes the aggregate size before
// anything queued after it runs, so Await observes up-to-date totals.
func (s *Store) apply(ops []op, session uint64) {
	i := 0
	for i < len(ops) {
		if ops[i].kind == opJob {
			j := ops[i].job
			j.err = s.runJob(j, session)
			if j.err == errStaleSession {
				j.err = ErrReset
			}
			close(j.done)
			i++
			continue
		}
		start := i
		for i < len(ops) && ops[i].kind != opJob {
			i++
		}
		dirty, err := s.applyBatch(ops[start:i], session)
		if err != nil && err != errStaleSession {
			// Fire-and-forget callers never see this directly.
			s.log.WithError(err).Error("asset db: applying batch failed")
		}
		if dirty {
			db, err := s.ensureDB(session)
			if err != nil {
				// The session is gone; anything still waiting in this
				// snapshot must be released, not abandoned.
				s.failRemaining(ops[i:], err)
				return
			}
			if err := s.recomputeSize(db, session); err != nil && err != errStaleSession {
				s.log.WithError(err).Warn("asset db: size recompute failed")
			}
		}
	}
}

// failRemaining releases every job left in a snapshot the worker cannot
// finish, mapping session loss to ErrReset.
func (s *Store) failRemaining(ops []op, err error) {
	if err == errStaleSession {
		err = ErrReset
	}
	for _, o := range ops {
		failJob(o, err)
	}
}

func (s *Store) runJob(j *job, session uint64) error {
	db, err := s.ensureDB(session)
	if err != nil {
		return err
	}
	return j.run(db, session)
}

// applyBatch applies contiguous mutations inside one transaction and
// reports whether any of them touched byte counts.
func (s *Store) applyBatch(batch []op, session uint64) (bool, error) {
	db, err := s.ensureDB(session)
	if err != nil {
		return false, err
	}
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	dirty := false
	for _, o := range batch {
		switch o.kind {
		case opAdd:
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO assets (short_path) VALUES (?)`, o.path); err != nil {
				tx.Rollback()
				return false, err
			}
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO asset_users (asset_id, type, user, priority)
				 VALUES ((SELECT asset_id FROM assets WHERE short_path = ?), ?, ?, ?)`,
				o.path, o.user.Type, o.user.Key, o.user.Priority); err != nil {
				tx.Rollback()
				return false, err
			}
		case opRemoveUser:
			if _, err := tx.Exec(
				`DELETE FROM asset_users WHERE type = ? AND user = ?`,
				o.user.Type, o.user.Key); err != nil {
				tx.Rollback()
				return false, err
			}
		case opSetBytes:
			if _, err := tx.Exec(
				`INSERT INTO assets (short_path, bytes) VALUES (?, ?)
				 ON CONFLICT(short_path) DO UPDATE SET bytes = excluded.bytes`,
				o.path, o.bytes); err != nil {
				tx.Rollback()
				return false, err
			}
			dirty = true
		}
	}
	if err := s.commit(tx, session); err != nil {
		return false, err
	}
	return dirty, nil
}

// Clear cancels all queued-but-unexecuted work, closes the database, and
// deletes its files. Blocked callers whose work was dropped get ErrReset.
// The store stays usable: the next operation reopens a fresh database.
func (s *Store) Clear() error {
	s.q.mu.Lock()
	s.q.session++
	dropped := s.q.pending
	s.q.pending = nil
	db := s.q.db
	s.q.db = nil
	s.q.total = 0
	s.q.mu.Unlock()

	for _, o := range dropped {
		failJob(o, ErrReset)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			s.log.WithError(err).Warn("asset db: close failed during clear")
		}
	}
	s.removeFiles()
	if s.onSize != nil {
		s.onSize(0)
	}
	return nil
}

// Close stops the worker and closes the database. Pending work that never
// ran is failed with ErrClosed.
func (s *Store) Close() error {
	s.q.mu.Lock()
	if s.q.closed {
		s.q.mu.Unlock()
		return nil
	}
	s.q.closed = true
	dropped := s.q.pending
	s.q.pending = nil
	db := s.q.db
	s.q.db = nil
	s.q.mu.Unlock()

	close(s.q.quit)
	<-s.q.done
	for _, o := range dropped {
		failJob(o, ErrClosed)
	}
	if db != nil {
		return db.Close()
	}
	return nil
}
