package assetcache

import (
	"math"
	"time"

	"github.com/meigma/assetcache/store"
)

// User identifies one reason an asset must remain on disk. It is an opaque
// (type, key) pair plus a trim priority; many users may reference the same
// asset. Defined in the store package, aliased here for the public API.
type User = store.User

// Priority sentinels. Higher priorities survive trimming longer.
const (
	PriorityLow  int64 = 0
	PriorityHigh int64 = math.MaxInt64
)

// Reserved user types.
const (
	// UserTypeApp marks assets the application itself always needs.
	UserTypeApp = "app"

	// UserTypeAsset marks a parent-asset reference: the user key is the
	// short path of the markup asset that embeds this one. These users are
	// removed transitively when the parent asset is removed. Defined in
	// the store package, which enforces the severing.
	UserTypeAsset = store.UserTypeAsset
)

// NewUser returns a User with the given type, key and priority.
func NewUser(userType, key string, priority int64) User {
	return User{Type: userType, Key: key, Priority: priority}
}

// SortOrder selects which items survive trimming longest.
type SortOrder int

const (
	// NewestFirst keeps recently saved items and trims the oldest first.
	NewestFirst SortOrder = iota

	// OldestFirst keeps the oldest items and trims the newest first.
	OldestFirst
)

// PriorityForTime derives a trim priority from an item timestamp, honoring
// the configured sort order. Under NewestFirst newer timestamps rank higher;
// under OldestFirst older timestamps rank higher.
func PriorityForTime(t time.Time, order SortOrder) int64 {
	ms := t.UnixMilli()
	if order == OldestFirst {
		return -ms
	}
	return ms
}
