package assetcache

import "github.com/sirupsen/logrus"

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for best-effort failures and sweep
// diagnostics. The default logger discards everything.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// WithStorageLocation overrides the initial storage location, taking
// precedence over any persisted choice.
func WithStorageLocation(loc StorageLocation) Option {
	return func(c *Cache) {
		c.loc = loc
	}
}
