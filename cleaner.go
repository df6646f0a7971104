package assetcache

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/meigma/assetcache/store"
)

// Clean starts a cache-eviction sweep in the background. Concurrent calls
// coalesce into a single running sweep. Fire-and-forget; failures are
// logged, never returned. A no-op once the cache is closing: the lock
// state machine can trigger sweeps from the store worker, which must not
// race Close.
func (c *Cache) Clean() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.bg.Done()
		_, _, _ = c.sf.Do("clean", func() (any, error) {
			return nil, c.CleanNow(context.Background())
		})
	}()
}

// CleanNow runs one full sweep synchronously:
//
//  1. purge pending cleanup folders on every known storage location,
//  2. let registered UserCleanup collaborators release stale users,
//  3. sever parent-asset references whose parent is gone,
//  4. delete assets with no remaining users (rows first, then files),
//  5. if over limit, trim lowest-priority users until back under budget.
//
// File I/O failures are logged and skipped; the sweep always finishes.
func (c *Cache) CleanNow(ctx context.Context) error {
	c.log.Info("cache sweep starting")

	if err := c.deleteCleanupDirs(ctx); err != nil {
		c.log.WithError(err).Warn("purging cleanup folders failed")
	}

	for _, uc := range c.userCleanups() {
		uc.CleanUsers(ctx, c)
	}

	orphans, err := c.store.RemoveOrphanUsers(ctx, UserTypeAsset)
	if err != nil {
		return err
	}

	dir, dirErr := c.Directory()
	if dirErr != nil {
		c.log.WithError(dirErr).Warn("storage unavailable during sweep; files left in place")
	}

	paths, err := c.store.CleanUnusedAssets(ctx)
	if err != nil {
		return err
	}
	deleted := c.removeAssetFiles(dir, paths)

	var trimmed int
	var freed int64
	if want := c.CacheSizeToTrim(); want > 0 {
		res, err := c.store.Trim(ctx, want)
		if err != nil {
			return err
		}
		deleted += c.removeAssetFiles(dir, res.Paths)
		for _, u := range res.Users {
			c.events.publishUserTrimmed(u)
		}
		trimmed = len(res.Users)
		freed = res.Freed
	}

	c.log.WithFields(logrus.Fields{
		"orphanUsers":  orphans,
		"unusedAssets": len(paths),
		"filesDeleted": deleted,
		"usersTrimmed": trimmed,
		"bytesFreed":   freed,
	}).Info("cache sweep completed")
	return nil
}

// Trim frees at least want tracked bytes (or everything trimmable) by
// removing lowest-priority users, deleting the files of assets left
// unreferenced, and notifying trim subscribers.
func (c *Cache) Trim(ctx context.Context, want int64) (store.TrimResult, error) {
	dir, err := c.Directory()
	if err != nil {
		c.log.WithError(err).Warn("storage unavailable during trim; files left in place")
		dir = nil
	}
	res, err := c.store.Trim(ctx, want)
	if err != nil {
		return store.TrimResult{}, err
	}
	c.removeAssetFiles(dir, res.Paths)
	for _, u := range res.Users {
		c.events.publishUserTrimmed(u)
	}
	return res, nil
}

func (c *Cache) userCleanups() []UserCleanup {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UserCleanup, len(c.cleanups))
	copy(out, c.cleanups)
	return out
}

// removeAssetFiles deletes the files behind short paths the store has
// already forgotten. Row-then-file ordering means a crash here leaves at
// most untracked files, which a later sweep can still collect.
func (c *Cache) removeAssetFiles(dir *Directory, shortPaths []string) int {
	if dir == nil {
		return 0
	}
	deleted := 0
	for _, short := range shortPaths {
		p := dir.Resolve(short)
		if err := os.Remove(p); err != nil {
			if !os.IsNotExist(err) {
				c.log.WithError(err).WithField("path", p).Warn("deleting asset file failed")
			}
			continue
		}
		deleted++
	}
	return deleted
}
