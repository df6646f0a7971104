package assetcache

import "sync"

const (
	// CacheBuffer is headroom reserved under the user-configured limit.
	// The usable limit is always the configured limit minus this buffer,
	// which keeps the lock from thrashing right at the boundary.
	CacheBuffer int64 = 100 * 1024 * 1024

	// restartBuffer is the minimum headroom below which background
	// downloading stays restricted even with the lock cleared.
	restartBuffer int64 = 10 * 1024 * 1024

	// cleanTriggerBytes: an overage at least this large starts a clean
	// pass immediately instead of waiting for the next one.
	cleanTriggerBytes = CacheBuffer * 3 / 4
)

// lockState tracks whether the cache is over its limit and whether
// downloading is latched off.
//
// Without the latch the system would oscillate: fill to the limit, clean,
// free space, and immediately fill again. Entering over-limit sets the
// persisted lock; leaving it does not clear the lock. Only a genuine
// external signal (item removed, settings changed, process restart) does.
type lockState struct {
	c *Cache

	mu          sync.Mutex
	initialized bool
	wasFull     bool
}

// invalidate re-evaluates over-limit status after the aggregate size
// changed. The first call only captures the initial state, so a cold
// start never triggers side effects.
func (s *lockState) invalidate() {
	full := s.c.CacheFull()

	s.mu.Lock()
	if !s.initialized {
		s.initialized = true
		s.wasFull = full
		s.mu.Unlock()
		return
	}
	changed := full != s.wasFull
	s.wasFull = full
	s.mu.Unlock()

	if !changed {
		return
	}
	if full {
		if err := s.c.prefs.SetDownloadsLocked(true); err != nil {
			s.c.log.WithError(err).Warn("persisting download lock failed")
		}
		if s.c.CacheSizeToTrim() >= cleanTriggerBytes {
			s.c.Clean()
		}
		return
	}
	// Back under limit. Resume only when the lock does not still
	// restrict us; otherwise wait for an external signal.
	if !s.restricted() {
		s.c.events.publishDownloadsResumed()
	}
}

// unlockIfUnderLimit clears the latch on an external signal, provided the
// cache is currently under its limit. This is the only path that clears
// the lock while headroom is still inside the restart buffer.
func (s *lockState) unlockIfUnderLimit() {
	if s.c.CacheFull() {
		return
	}
	s.mu.Lock()
	s.wasFull = false
	s.mu.Unlock()
	if err := s.c.prefs.SetDownloadsLocked(false); err != nil {
		s.c.log.WithError(err).Warn("clearing download lock failed")
	}
	s.c.events.publishDownloadsResumed()
}

// restricted reports whether background pre-downloading must stay off:
// a limit is set and the cache is over it, latched, or within the restart
// buffer of the usable limit.
func (s *lockState) restricted() bool {
	c := s.c
	if c.CacheLimit() <= 0 {
		return false
	}
	if c.CacheFull() {
		return true
	}
	if c.prefs.DownloadsLocked() {
		return true
	}
	return c.ActualCacheLimit()-c.CacheSize() < restartBuffer
}
