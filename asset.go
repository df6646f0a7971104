package assetcache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AssetType classifies what a cached file contains.
type AssetType int

const (
	// TypeMarkup is page markup (text or web view HTML).
	TypeMarkup AssetType = iota

	// TypeImage is a downloaded image.
	TypeImage

	// TypeStylesheet is a downloaded stylesheet.
	TypeStylesheet
)

const (
	// maxSegmentLen caps the length of each path segment derived from a URL.
	maxSegmentLen = 100

	// maxSegments caps the number of path segments a URL may produce.
	maxSegments = 50
)

// strippedChars are removed from URLs when deriving local paths.
const strippedChars = `#=?&%;:*"<>|`

// Asset maps a remote URL to a canonical location in the offline cache.
//
// Identity is defined solely by Local: two assets with the same resolved
// path are the same asset regardless of the URL they were created from.
type Asset struct {
	// URL is the remote URL the asset was created from. Empty for page
	// markup assets, which are addressed by item key instead.
	URL string

	// Local is the absolute path the asset occupies on disk.
	Local string

	// Type classifies the asset's content.
	Type AssetType
}

// Equal reports whether two assets resolve to the same local path.
func (a *Asset) Equal(b *Asset) bool {
	return b != nil && a.Local == b.Local
}

// ShortPath returns the asset's local path with the storage root stripped.
// Short paths are the stable database key, independent of where the cache
// currently lives on disk.
func (a *Asset) ShortPath(dir *Directory) string {
	return dir.ShortPath(a.Local)
}

// NewImage maps an image URL to an asset under the directory's asset root.
// Returns ErrInvalidAsset when the URL cannot be cached.
func NewImage(url string, dir *Directory) (*Asset, error) {
	return newAsset(url, dir, TypeImage, false)
}

// NewStylesheet maps a stylesheet URL to an asset under the directory's
// asset root, forcing a .css suffix when the URL lacks one.
// Returns ErrInvalidAsset when the URL cannot be cached.
func NewStylesheet(url string, dir *Directory) (*Asset, error) {
	return newAsset(url, dir, TypeStylesheet, true)
}

// PageKind selects which markup file of an item a page asset refers to.
type PageKind int

const (
	// PageText is the article-view markup (text.html).
	PageText PageKind = iota

	// PageWeb is the web-view markup (web.html).
	PageWeb
)

func (k PageKind) filename() string {
	if k == PageWeb {
		return "web.html"
	}
	return "text.html"
}

// NewPage returns the markup asset for an item, stored under the pages root
// keyed by the item's ID key. Page assets have no remote URL of their own.
func NewPage(itemKey string, kind PageKind, dir *Directory) *Asset {
	return &Asset{
		Local: filepath.Join(dir.PagesPath(), itemKey, kind.filename()),
		Type:  TypeMarkup,
	}
}

func newAsset(url string, dir *Directory, t AssetType, forceCSS bool) (*Asset, error) {
	local, err := localPath(url, forceCSS)
	if err != nil {
		return nil, err
	}
	return &Asset{
		URL:   url,
		Local: filepath.Join(dir.AssetsPath(), filepath.FromSlash(local)),
		Type:  t,
	}, nil
}

// localPath derives the canonical cache-relative path for a URL:
//
//  1. Only http and https URLs are cacheable; data: URLs are rejected.
//  2. When forcing a stylesheet, a missing .css suffix is appended.
//  3. The query string is relocated to just before the file extension so
//     the extension stays last. A fragment travels with the query when one
//     is present; a fragment without a query stays at the tail. That
//     asymmetry is load-bearing: on-disk paths of previously cached
//     content depend on it.
//  4. Disallowed characters are stripped.
//  5. The URL is split on "/"; more than 50 segments is rejected, and so
//     is any "." or ".." segment, which would otherwise resolve outside
//     the assets root.
//  6. The scheme segments are dropped, the host becomes the leading
//     directory, and every remaining segment is truncated to 100 chars.
//
// The result is a pure function of its inputs; no disk access happens here.
func localPath(url string, forceCSS bool) (string, error) {
	u := strings.TrimSpace(url)
	if u == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidAsset)
	}
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "data:") {
		return "", fmt.Errorf("%w: data url", ErrInvalidAsset)
	}
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", fmt.Errorf("%w: unsupported scheme", ErrInvalidAsset)
	}

	if forceCSS && !strings.HasSuffix(lower, ".css") {
		u += ".css"
	}

	u = relocateQuery(u)
	u = strings.Map(func(r rune) rune {
		if strings.ContainsRune(strippedChars, r) {
			return -1
		}
		return r
	}, u)

	segments := strings.Split(u, "/")
	if len(segments) > maxSegments {
		return "", fmt.Errorf("%w: too many path segments", ErrInvalidAsset)
	}
	// The first two segments are the scheme residue ("https", "").
	if len(segments) < 3 {
		return "", fmt.Errorf("%w: no host", ErrInvalidAsset)
	}
	segments = segments[2:]

	domain := segments[0]
	if domain == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidAsset)
	}
	if domain == "." || domain == ".." {
		return "", fmt.Errorf("%w: relative host", ErrInvalidAsset)
	}

	parts := make([]string, 0, len(segments))
	parts = append(parts, domain)
	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		// "." and ".." would escape the assets root when joined.
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: relative path segment", ErrInvalidAsset)
		}
		if len(seg) > maxSegmentLen {
			seg = seg[:maxSegmentLen]
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, "/"), nil
}

// relocateQuery moves the query string (and any fragment following it) to
// just before the file extension of the last path segment.
func relocateQuery(u string) string {
	q := strings.Index(u, "?")
	if q < 0 {
		return u
	}
	base, query := u[:q], u[q:]

	dot := strings.LastIndex(base, ".")
	slash := strings.LastIndex(base, "/")
	if dot < 0 || dot < slash {
		// No extension on the last segment; keep the query at the tail.
		return base + query
	}
	return base[:dot] + query + base[dot:]
}
