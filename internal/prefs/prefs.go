// Package prefs persists the cache's user-facing settings and the few
// bookkeeping values that must survive process restarts. Values live in a
// single YAML file replaced atomically on every change.
package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	yaml "gopkg.in/yaml.v2"
)

// values is the on-disk document.
type values struct {
	CacheLimit      int64  `yaml:"cache_limit"`
	SortOrder       string `yaml:"sort_order"`
	StorageKind     string `yaml:"storage_kind"`
	StoragePath     string `yaml:"storage_path"`
	DownloadsLocked bool   `yaml:"downloads_locked"`
	DBBytes         int64  `yaml:"db_bytes"`
	AssetBytes      int64  `yaml:"asset_bytes"`
	CleanupCounter  int32  `yaml:"cleanup_counter"`
}

// Prefs is a file-backed settings store. Safe for concurrent use.
type Prefs struct {
	mu   sync.Mutex
	path string
	v    values
}

// Open loads the settings file at path, or starts empty when it does not
// exist yet.
func Open(path string) (*Prefs, error) {
	p := &Prefs{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &p.v); err != nil {
		return nil, fmt.Errorf("parse prefs: %w", err)
	}
	return p, nil
}

// save writes the document to a temp file and renames it into place, so a
// crash mid-write never corrupts existing settings. Callers hold p.mu.
func (p *Prefs) save() error {
	data, err := yaml.Marshal(&p.v)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "prefs-*")
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
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (p *Prefs) set(mutate func(*values)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	mutate(&p.v)
	return p.save()
}

// CacheLimit returns the user-configured cache byte limit, 0 when unset.
func (p *Prefs) CacheLimit() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.CacheLimit
}

// SetCacheLimit stores the cache byte limit; 0 clears it.
func (p *Prefs) SetCacheLimit(bytes int64) error {
	return p.set(func(v *values) { v.CacheLimit = bytes })
}

// SortOrder returns the persisted trim-priority sort order name.
func (p *Prefs) SortOrder() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.SortOrder
}

// SetSortOrder stores the trim-priority sort order name.
func (p *Prefs) SetSortOrder(order string) error {
	return p.set(func(v *values) { v.SortOrder = order })
}

// Storage returns the persisted storage kind name and base path. Empty
// values mean the default internal location.
func (p *Prefs) Storage() (kind, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.StorageKind, p.v.StoragePath
}

// SetStorage stores the chosen storage kind name and base path.
func (p *Prefs) SetStorage(kind, path string) error {
	return p.set(func(v *values) {
		v.StorageKind = kind
		v.StoragePath = path
	})
}

// DownloadsLocked returns the persisted download-lock latch.
func (p *Prefs) DownloadsLocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.DownloadsLocked
}

// SetDownloadsLocked stores the download-lock latch.
func (p *Prefs) SetDownloadsLocked(locked bool) error {
	return p.set(func(v *values) { v.DownloadsLocked = locked })
}

// Sizes returns the last recorded approximate database and asset byte
// counts.
func (p *Prefs) Sizes() (dbBytes, assetBytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v.DBBytes, p.v.AssetBytes
}

// SetSizes stores the approximate database and asset byte counts.
func (p *Prefs) SetSizes(dbBytes, assetBytes int64) error {
	return p.set(func(v *values) {
		v.DBBytes = dbBytes
		v.AssetBytes = assetBytes
	})
}

// NextCleanupCounter advances and persists the cleanup-folder counter,
// returning the value to use. Wraps before overflowing int32.
func (p *Prefs) NextCleanupCounter() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.v.CleanupCounter == 1<<31-1 {
		p.v.CleanupCounter = 0
	} else {
		p.v.CleanupCounter++
	}
	if err := p.save(); err != nil {
		return 0, err
	}
	return p.v.CleanupCounter, nil
}
