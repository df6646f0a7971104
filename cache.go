package assetcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/assetcache/internal/prefs"
	"github.com/meigma/assetcache/store"
)

const (
	prefsFileName = "assetcache.yml"
	dbFileName    = "assets.db"
)

// Authorization classifies how badly a caller wants a download.
type Authorization int

const (
	// AuthAlways is for user-initiated or currently-visible content;
	// authorized even when the cache is over its limit.
	AuthAlways Authorization = iota

	// AuthWhenSpaceAvailable is for background pre-downloading; deferred
	// while downloading is restricted.
	AuthWhenSpaceAvailable
)

// UserCleanup is a collaborator invoked during a clean sweep, before the
// orphan passes, so other subsystems can release users they no longer
// need.
type UserCleanup interface {
	CleanUsers(ctx context.Context, c *Cache)
}

// Cache is the single entry point feature code uses to participate in the
// offline cache: registering users, authorizing downloads, writing files,
// and running eviction sweeps. Construct with New; all collaborators are
// passed in explicitly.
type Cache struct {
	log    *logrus.Logger
	prefs  *prefs.Prefs
	store  *store.Store
	events *Events
	state  *lockState

	root string

	mu         sync.Mutex
	loc        StorageLocation
	locations  []StorageLocation
	dir        *Directory
	assetBytes int64
	dbBytes    int64
	cleanups   []UserCleanup
	closed     bool

	setupOnce sync.Once
	sf        singleflight.Group
	bg        sync.WaitGroup
}

// New creates a Cache homed at root. The settings file and the bookkeeping
// database live directly under root; offline content lives under the
// configured storage location, which defaults to root itself (internal
// storage).
func New(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root is empty")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, err
	}

	c := &Cache{
		root:   root,
		events: newEvents(),
	}
	c.log = logrus.New()
	c.log.SetOutput(io.Discard)

	p, err := prefs.Open(filepath.Join(root, prefsFileName))
	if err != nil {
		return nil, err
	}
	c.prefs = p

	c.loc = StorageLocation{Kind: StorageInternal, Path: root}
	if kind, path := p.Storage(); path != "" {
		c.loc = StorageLocation{Kind: ParseStorageKind(kind), Path: path}
	}

	for _, opt := range opts {
		opt(c)
	}
	c.locations = []StorageLocation{c.loc}

	c.state = &lockState{c: c}
	c.store = store.New(filepath.Join(root, dbFileName),
		store.WithLogger(c.log),
		store.WithSizeCallback(c.sizeChanged),
	)

	// Seed the size counters from the last recorded values so limit
	// checks work before the first drain recomputes them.
	dbBytes, assetBytes := p.Sizes()
	c.assetBytes, c.dbBytes = assetBytes, dbBytes
	c.state.invalidate()

	// Process restart is one of the signals allowed to clear the
	// download lock, provided the cache is back under its limit.
	if p.DownloadsLocked() && !c.CacheFull() {
		c.state.unlockIfUnderLimit()
	}

	return c, nil
}

// Close waits for background sweeps and releases the store.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.bg.Wait()
	return c.store.Close()
}

// Events returns the cache's notification surface.
func (c *Cache) Events() *Events { return c.events }

// Store exposes the underlying bookkeeping store.
func (c *Cache) Store() *store.Store { return c.store }

// RegisterUserCleanup adds a collaborator consulted during clean sweeps.
func (c *Cache) RegisterUserCleanup(uc UserCleanup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, uc)
}

// Directory lazily resolves and caches the storage directory for the
// configured location. Fails with ErrStorageUnavailable when the location
// (for example a removed SD card) cannot be reached. Resolving a location
// asynchronously installs the .nomedia marker on scannable media; the
// first resolution also purges the scratch folder.
func (c *Cache) Directory() (*Directory, error) {
	c.mu.Lock()
	if c.dir != nil {
		d := c.dir
		c.mu.Unlock()
		return d, nil
	}
	loc := c.loc
	c.mu.Unlock()

	d, err := NewDirectory(loc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	fresh := c.dir == nil
	if fresh {
		c.dir = d
	}
	d = c.dir
	c.mu.Unlock()

	// The temp purge runs once per process; the media marker is installed
	// for every location we resolve, so switching to scannable storage
	// mid-run still gets one.
	if fresh {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.setupOnce.Do(func() {
				if err := d.PurgeTemp(); err != nil {
					c.log.WithError(err).Warn("purging temp folder failed")
				}
			})
			if err := d.InstallMediaMarker(); err != nil {
				c.log.WithError(err).Warn("installing media marker failed")
			}
		}()
	}
	return d, nil
}

// SetStorageLocation changes where new files are written. Existing files
// are not migrated; callers intending a move must pair this with
// ClearOfflineContent.
func (c *Cache) SetStorageLocation(loc StorageLocation) error {
	if !loc.Available() {
		return fmt.Errorf("%w: %s storage at %s", ErrStorageUnavailable, loc.Kind, loc.Path)
	}
	if err := c.prefs.SetStorage(loc.Kind.String(), loc.Path); err != nil {
		return err
	}
	c.mu.Lock()
	c.loc = loc
	c.dir = nil
	c.rememberLocationLocked(loc)
	c.mu.Unlock()
	return nil
}

func (c *Cache) rememberLocationLocked(loc StorageLocation) {
	for _, known := range c.locations {
		if known == loc {
			return
		}
	}
	c.locations = append(c.locations, loc)
}

func (c *Cache) knownLocations() []StorageLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StorageLocation, len(c.locations))
	copy(out, c.locations)
	return out
}

// DownloadAuthorized reports whether a download may proceed right now.
// AuthAlways downloads always may; AuthWhenSpaceAvailable downloads are
// deferred while downloading is restricted.
func (c *Cache) DownloadAuthorized(a Authorization) bool {
	if a == AuthAlways {
		return true
	}
	return !c.state.restricted()
}

// DownloadsRestricted reports whether background pre-downloading is
// currently latched off.
func (c *Cache) DownloadsRestricted() bool {
	return c.state.restricted()
}

// RegisterUser records that u needs the asset on disk.
func (c *Cache) RegisterUser(a *Asset, u User) error {
	dir, err := c.Directory()
	if err != nil {
		return err
	}
	c.store.Add(u, a.ShortPath(dir))
	return nil
}

// UnregisterUser releases every asset pinned by u.
func (c *Cache) UnregisterUser(u User) {
	c.store.RemoveUser(u)
}

// Write stores data as the asset's file, creating parent directories, and
// reports the resulting size to the store. The file lands via a temp file
// and rename so readers never observe a partial write.
func (c *Cache) Write(a *Asset, data []byte) error {
	dir := filepath.Dir(a.Local)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "asset-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, a.Local); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return c.Written(a)
}

// WriteText stores text as the asset's file, UTF-8 encoded.
func (c *Cache) WriteText(a *Asset, text string) error {
	return c.Write(a, []byte(text))
}

// Written reports the asset's current on-disk size to the store. Call
// after writing an asset's file through some other path.
func (c *Cache) Written(a *Asset) error {
	dir, err := c.Directory()
	if err != nil {
		return err
	}
	info, err := os.Stat(a.Local)
	if err != nil {
		return err
	}
	c.store.SetBytes(a.ShortPath(dir), info.Size())
	return nil
}

// ItemRemoved tells the cache an item's offline content was released by
// the user; if under limit this clears the download lock.
func (c *Cache) ItemRemoved() {
	c.state.unlockIfUnderLimit()
}

// CacheLimit returns the configured cache byte limit, 0 when unset.
func (c *Cache) CacheLimit() int64 {
	return c.prefs.CacheLimit()
}

// SetCacheLimit stores a new cache byte limit and re-evaluates the lock.
func (c *Cache) SetCacheLimit(bytes int64) error {
	if err := c.prefs.SetCacheLimit(bytes); err != nil {
		return err
	}
	c.state.unlockIfUnderLimit()
	return nil
}

// SortOrder returns the configured trim-priority sort order.
func (c *Cache) SortOrder() SortOrder {
	if c.prefs.SortOrder() == "oldest_first" {
		return OldestFirst
	}
	return NewestFirst
}

// SetSortOrder stores the trim-priority sort order.
func (c *Cache) SetSortOrder(order SortOrder) error {
	name := "newest_first"
	if order == OldestFirst {
		name = "oldest_first"
	}
	return c.prefs.SetSortOrder(name)
}

// ActualCacheLimit is the usable limit: the configured limit minus
// CacheBuffer, or 0 when no limit is set.
func (c *Cache) ActualCacheLimit() int64 {
	limit := c.CacheLimit()
	if limit <= 0 {
		return 0
	}
	return limit - CacheBuffer
}

// CacheSize is the tracked asset bytes plus the approximate size of the
// bookkeeping database.
func (c *Cache) CacheSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assetBytes + c.dbBytes
}

// CacheSizeToTrim is how far the cache currently exceeds its usable
// limit; 0 when under limit or when no limit is set.
func (c *Cache) CacheSizeToTrim() int64 {
	if c.CacheLimit() <= 0 {
		return 0
	}
	over := c.CacheSize() - c.ActualCacheLimit()
	if over < 0 {
		return 0
	}
	return over
}

// CacheFull reports whether the cache exceeds its usable limit.
func (c *Cache) CacheFull() bool {
	return c.CacheSizeToTrim() > 0
}

// sizeChanged runs on the store worker after each dirty drain.
func (c *Cache) sizeChanged(total int64) {
	dbBytes := c.dbFileBytes()
	c.mu.Lock()
	c.assetBytes = total
	c.dbBytes = dbBytes
	c.mu.Unlock()

	if err := c.prefs.SetSizes(dbBytes, total); err != nil {
		c.log.WithError(err).Warn("persisting cache sizes failed")
	}
	c.state.invalidate()
	c.events.publishSizeChanged(total)
}

// dbFileBytes approximates the database's disk footprint, sidecar files
// included. Unreadable files count as zero.
func (c *Cache) dbFileBytes() int64 {
	var total int64
	base := c.store.Path()
	for _, p := range []string{base, base + "-wal", base + "-shm"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// ClearOfflineContent atomically renames the offline directory aside so a
// fresh one can be created immediately, clears the store, and deletes the
// renamed trees in the background. onReset fires once the rename and clear
// have happened; onComplete fires once physical deletion finishes.
func (c *Cache) ClearOfflineContent(onReset func(), onComplete func(error)) error {
	dir, err := c.Directory()
	if err == nil {
		n, cerr := c.prefs.NextCleanupCounter()
		if cerr != nil {
			c.log.WithError(cerr).Warn("advancing cleanup counter failed")
		}
		if rerr := os.Rename(dir.OfflinePath(), dir.CleanupPath(n)); rerr != nil && !os.IsNotExist(rerr) {
			return rerr
		}
	} else {
		c.log.WithError(err).Warn("storage unavailable during clear; clearing bookkeeping only")
	}

	if err := c.store.Clear(); err != nil {
		return err
	}

	c.mu.Lock()
	c.assetBytes, c.dbBytes = 0, 0
	c.mu.Unlock()
	if err := c.prefs.SetSizes(0, 0); err != nil {
		c.log.WithError(err).Warn("persisting cache sizes failed")
	}
	if dir != nil {
		for _, d := range []string{dir.OfflinePath(), dir.PagesPath(), dir.AssetsPath()} {
			if err := os.MkdirAll(d, dirPerm); err != nil {
				c.log.WithError(err).Warn("recreating offline folders failed")
				break
			}
		}
	}

	c.events.publishCacheReset()
	if onReset != nil {
		onReset()
	}

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		err := c.deleteCleanupDirs(context.Background())
		if onComplete != nil {
			onComplete(err)
		}
	}()
	return nil
}

// deleteCleanupDirs removes every pending cleanup folder across all known
// storage locations, in parallel per folder.
func (c *Cache) deleteCleanupDirs(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, loc := range c.knownLocations() {
		if !loc.Available() {
			continue
		}
		d := &Directory{loc: loc}
		dirs, err := d.CleanupDirs()
		if err != nil {
			c.log.WithError(err).WithField("root", loc.Path).Warn("listing cleanup folders failed")
			continue
		}
		for _, dir := range dirs {
			dir := dir
			g.Go(func() error {
				if err := os.RemoveAll(dir); err != nil {
					c.log.WithError(err).WithField("dir", dir).Warn("deleting cleanup folder failed")
				}
				return nil
			})
		}
	}
	return g.Wait()
}
