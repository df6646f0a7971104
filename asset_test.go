package assetcache

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(StorageLocation{Kind: StorageInternal, Path: t.TempDir()})
	require.NoError(t, err)
	return d
}

func TestNewImageQueryRelocation(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	a, err := NewImage("https://cdn.example.com/a/b.jpg?w=200", dir)
	require.NoError(t, err)

	want := filepath.Join(dir.AssetsPath(), "cdn.example.com", "a", "bw200.jpg")
	assert.Equal(t, want, a.Local)
	assert.Equal(t, TypeImage, a.Type)
}

func TestNewImageIsPure(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	a, err := NewImage("https://example.com/x/y.png", dir)
	require.NoError(t, err)
	b, err := NewImage("https://example.com/x/y.png", dir)
	require.NoError(t, err)

	assert.Equal(t, a.Local, b.Local)
	assert.True(t, a.Equal(b))
}

func TestNewImageRejectsUncacheable(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	for _, url := range []string{
		"",
		"data:image/png;base64,AAAA",
		"ftp://example.com/a.jpg",
		"file:///etc/passwd",
		"https://" + strings.Repeat("a/", 60),
	} {
		_, err := NewImage(url, dir)
		assert.ErrorIs(t, err, ErrInvalidAsset, "url %q", url)
	}
}

func TestNewImageRejectsRelativeSegments(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	for _, url := range []string{
		"https://example.com/../../../../victim.txt",
		"https://example.com/a/./b.png",
		"https://example.com/.%./escape.png", // strips to ".."
		"https://../a.png",
	} {
		_, err := NewImage(url, dir)
		assert.ErrorIs(t, err, ErrInvalidAsset, "url %q", url)
	}

	// Every accepted URL must resolve inside the assets root.
	a, err := NewImage("https://example.com/a..b/c.png", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Local, dir.AssetsPath()+string(filepath.Separator)))
}

func TestNewStylesheetForcesSuffix(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)

	a, err := NewStylesheet("https://example.com/theme", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.AssetsPath(), "example.com", "theme.css"), a.Local)

	b, err := NewStylesheet("https://example.com/theme.css", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.AssetsPath(), "example.com", "theme.css"), b.Local)
	assert.Equal(t, TypeStylesheet, b.Type)
}

func TestFragmentRelocationQuirk(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)

	// With a query present, the fragment travels with it.
	a, err := NewImage("https://example.com/a.jpg?x=1#frag", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.AssetsPath(), "example.com", "ax1frag.jpg"), a.Local)

	// Without a query, the fragment stays at the tail and only loses
	// its marker.
	b, err := NewImage("https://example.com/a.jpg#frag", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.AssetsPath(), "example.com", "a.jpgfrag"), b.Local)
}

func TestSegmentTruncation(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	long := strings.Repeat("x", 150)
	a, err := NewImage("https://example.com/"+long+"/y.gif", dir)
	require.NoError(t, err)

	want := filepath.Join(dir.AssetsPath(), "example.com", strings.Repeat("x", 100), "y.gif")
	assert.Equal(t, want, a.Local)
}

func TestStrippedCharacters(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	a, err := NewImage(`https://example.com/a;b*c"d.png`, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.AssetsPath(), "example.com", "abcd.png"), a.Local)
}

func TestAssetIdentityByLocalPath(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	a, err := NewImage("https://example.com/a.png", dir)
	require.NoError(t, err)
	// Differs only in characters that canonicalization strips.
	b, err := NewImage("https://example.com/a.png;", dir)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
}

func TestShortPath(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	a, err := NewImage("https://example.com/a/b.png", dir)
	require.NoError(t, err)

	short := a.ShortPath(dir)
	assert.Equal(t, "RIL_offline/RIL_assets/example.com/a/b.png", short)
	assert.Equal(t, a.Local, dir.Resolve(short))
}

func TestNewPage(t *testing.T) {
	t.Parallel()

	dir := testDirectory(t)
	text := NewPage("item42", PageText, dir)
	web := NewPage("item42", PageWeb, dir)

	assert.Equal(t, filepath.Join(dir.PagesPath(), "item42", "text.html"), text.Local)
	assert.Equal(t, filepath.Join(dir.PagesPath(), "item42", "web.html"), web.Local)
	assert.Equal(t, TypeMarkup, text.Type)
}
