package assetcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: root})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "RIL_offline"), d.OfflinePath())
	assert.Equal(t, filepath.Join(root, "RIL_offline", "RIL_pages"), d.PagesPath())
	assert.Equal(t, filepath.Join(root, "RIL_offline", "RIL_assets"), d.AssetsPath())
	assert.Equal(t, filepath.Join(root, "RIL_temp"), d.TempPath())
	assert.Equal(t, filepath.Join(root, "RIL_clean_up7"), d.CleanupPath(7))

	// The skeleton exists after construction.
	for _, p := range []string{d.OfflinePath(), d.PagesPath(), d.AssetsPath(), d.TempPath()} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDirectoryUnavailable(t *testing.T) {
	t.Parallel()

	loc := StorageLocation{Kind: StorageRemovable, Path: filepath.Join(t.TempDir(), "missing")}
	_, err := NewDirectory(loc)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestShortPathRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: root})
	require.NoError(t, err)

	local := filepath.Join(d.AssetsPath(), "example.com", "a.png")
	short := d.ShortPath(local)
	assert.Equal(t, "RIL_offline/RIL_assets/example.com/a.png", short)
	assert.Equal(t, local, d.Resolve(short))
}

func TestCleanupDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: root})
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(d.CleanupPath(1), 0o700))
	require.NoError(t, os.Mkdir(d.CleanupPath(2), 0o700))

	dirs, err := d.CleanupDirs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{d.CleanupPath(1), d.CleanupPath(2)}, dirs)
}

func TestPurgeTemp(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: root})
	require.NoError(t, err)

	scratch := filepath.Join(d.TempPath(), "leftover")
	require.NoError(t, os.WriteFile(scratch, []byte("x"), 0o600))

	require.NoError(t, d.PurgeTemp())

	_, err = os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
	info, err := os.Stat(d.TempPath())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMediaMarker(t *testing.T) {
	t.Parallel()

	internal, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, internal.InstallMediaMarker())
	_, err = os.Stat(filepath.Join(internal.Root(), ".nomedia"))
	assert.True(t, os.IsNotExist(err), "internal storage gets no marker")

	external, err := NewDirectory(StorageLocation{Kind: StorageExternal, Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, external.InstallMediaMarker())
	_, err = os.Stat(filepath.Join(external.Root(), ".nomedia"))
	assert.NoError(t, err)
}
