package assetcache

import "errors"

// ErrInvalidAsset is returned when a URL cannot be mapped to a cacheable
// local path (unsupported scheme, data: URL, malformed path).
var ErrInvalidAsset = errors.New("invalid asset")

// ErrStorageUnavailable is returned when the configured storage location
// cannot currently be reached (unmounted removable media, missing directory).
var ErrStorageUnavailable = errors.New("storage unavailable")
