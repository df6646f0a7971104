package assetcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem layout under a storage root.
const (
	offlineDirName = "RIL_offline"
	pagesDirName   = "RIL_pages"
	assetsDirName  = "RIL_assets"
	tempDirName    = "RIL_temp"
	cleanupPrefix  = "RIL_clean_up"

	// mediaMarkerName keeps media scanners out of the cache on scannable
	// storage.
	mediaMarkerName = ".nomedia"

	dirPerm = os.FileMode(0o700)
)

// StorageKind identifies where a cache root lives.
type StorageKind int

const (
	// StorageInternal is app-private storage, always available.
	StorageInternal StorageKind = iota

	// StorageExternal is shared storage scanned by media indexers.
	StorageExternal

	// StorageRemovable is removable media that may be absent.
	StorageRemovable
)

// String returns the kind's stable settings name.
func (k StorageKind) String() string {
	switch k {
	case StorageExternal:
		return "external"
	case StorageRemovable:
		return "removable"
	default:
		return "internal"
	}
}

// ParseStorageKind maps a settings name back to a StorageKind. Unknown
// names fall back to internal storage.
func ParseStorageKind(s string) StorageKind {
	switch s {
	case "external":
		return StorageExternal
	case "removable":
		return StorageRemovable
	default:
		return StorageInternal
	}
}

// StorageLocation is a place the cache can live: a kind plus a base path.
type StorageLocation struct {
	Kind StorageKind
	Path string
}

// Scannable reports whether media indexers can see this location.
func (l StorageLocation) Scannable() bool {
	return l.Kind != StorageInternal
}

// Available reports whether the location's base path currently exists.
// Internal storage is created on demand and is always considered available.
func (l StorageLocation) Available() bool {
	if l.Kind == StorageInternal {
		return true
	}
	info, err := os.Stat(l.Path)
	return err == nil && info.IsDir()
}

// Directory resolves the on-disk layout of the cache for one storage
// location. It is cheap to construct and safe for concurrent use; all
// methods except the explicit maintenance helpers are pure path math.
type Directory struct {
	loc StorageLocation
}

// NewDirectory verifies the location is reachable and creates the cache
// folder skeleton under it. Returns ErrStorageUnavailable when the location
// (for example a removed SD card) cannot be reached.
func NewDirectory(loc StorageLocation) (*Directory, error) {
	if !loc.Available() {
		return nil, fmt.Errorf("%w: %s storage at %s", ErrStorageUnavailable, loc.Kind, loc.Path)
	}
	d := &Directory{loc: loc}
	for _, dir := range []string{d.OfflinePath(), d.PagesPath(), d.AssetsPath(), d.TempPath()} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return d, nil
}

// Location returns the storage location this directory resolves.
func (d *Directory) Location() StorageLocation { return d.loc }

// Root returns the storage base path.
func (d *Directory) Root() string { return d.loc.Path }

// OfflinePath returns the offline cache root.
func (d *Directory) OfflinePath() string {
	return filepath.Join(d.loc.Path, offlineDirName)
}

// PagesPath returns the folder holding per-item markup.
func (d *Directory) PagesPath() string {
	return filepath.Join(d.OfflinePath(), pagesDirName)
}

// AssetsPath returns the folder holding downloaded images and stylesheets.
func (d *Directory) AssetsPath() string {
	return filepath.Join(d.OfflinePath(), assetsDirName)
}

// TempPath returns the scratch folder, cleared once per process lifetime.
func (d *Directory) TempPath() string {
	return filepath.Join(d.loc.Path, tempDirName)
}

// CleanupPath returns the numbered folder trees are renamed into before
// background deletion.
func (d *Directory) CleanupPath(n int32) string {
	return filepath.Join(d.loc.Path, fmt.Sprintf("%s%d", cleanupPrefix, n))
}

// CleanupDirs lists the cleanup folders currently present at the root.
func (d *Directory) CleanupDirs() ([]string, error) {
	entries, err := os.ReadDir(d.loc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), cleanupPrefix) {
			dirs = append(dirs, filepath.Join(d.loc.Path, e.Name()))
		}
	}
	return dirs, nil
}

// ShortPath strips the storage root prefix from an absolute local path,
// yielding the stable database key. Paths outside the root are returned
// unchanged.
func (d *Directory) ShortPath(local string) string {
	prefix := d.loc.Path + string(filepath.Separator)
	short := strings.TrimPrefix(local, prefix)
	return filepath.ToSlash(short)
}

// Resolve turns a short path back into an absolute path under this root.
func (d *Directory) Resolve(short string) string {
	return filepath.Join(d.loc.Path, filepath.FromSlash(short))
}

// InstallMediaMarker writes the .nomedia marker at the storage root.
// Only meaningful on scannable media; a no-op elsewhere.
func (d *Directory) InstallMediaMarker() error {
	if !d.loc.Scannable() {
		return nil
	}
	marker := filepath.Join(d.loc.Path, mediaMarkerName)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// PurgeTemp empties the scratch folder. Best effort; the folder itself is
// recreated so later writes have somewhere to land.
func (d *Directory) PurgeTemp() error {
	if err := os.RemoveAll(d.TempPath()); err != nil {
		return err
	}
	return os.MkdirAll(d.TempPath(), dirPerm)
}
