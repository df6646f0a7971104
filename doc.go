// Package assetcache is a disk-backed, reference-counted cache for
// downloaded files ("assets": page markup, images, stylesheets) used for
// offline viewing.
//
// Feature code asks the [Cache] whether a download is authorized, writes
// the downloaded bytes via [Cache.Write], and registers a [User] pinning
// the asset. Bookkeeping is persisted by the store subpackage, which
// serializes all mutations through a single worker and reports aggregate
// size back so the cache can enforce a user-configured byte limit.
//
// When a pin is released or settings change, the cache may unlock
// deferred downloading or run a clean sweep that deletes files whose last
// user is gone and trims the lowest-priority users until the cache is
// back under budget.
//
// # Quick start
//
//	c, err := assetcache.New("/var/lib/app/cache")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	dir, err := c.Directory()
//	if err != nil {
//	    return err
//	}
//	img, err := assetcache.NewImage("https://example.com/a/b.jpg", dir)
//	if err != nil {
//	    return err // not cacheable
//	}
//	if c.DownloadAuthorized(assetcache.AuthWhenSpaceAvailable) {
//	    if err := c.Write(img, data); err != nil {
//	        return err
//	    }
//	    if err := c.RegisterUser(img, assetcache.NewUser("item", itemKey, priority)); err != nil {
//	        return err
//	    }
//	}
package assetcache
