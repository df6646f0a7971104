package assetcache

import (
	evbus "github.com/asaskevich/EventBus"
)

// Event topics.
const (
	topicUserTrimmed      = "assetcache:user_trimmed"
	topicCacheReset       = "assetcache:cache_reset"
	topicSizeChanged      = "assetcache:size_changed"
	topicDownloadsResumed = "assetcache:downloads_resumed"
)

// Events is the cache's notification surface. Handlers run synchronously
// on the goroutine that produced the event (size changes fire on the store
// worker, trim notifications during the clean sweep), at most once per
// logical event.
type Events struct {
	bus evbus.Bus
}

func newEvents() *Events {
	return &Events{bus: evbus.New()}
}

// OnUserTrimmed subscribes to individual users removed by an over-limit
// trim pass.
func (e *Events) OnUserTrimmed(fn func(u User)) error {
	return e.bus.Subscribe(topicUserTrimmed, fn)
}

// OffUserTrimmed removes a previously subscribed handler.
func (e *Events) OffUserTrimmed(fn func(u User)) error {
	return e.bus.Unsubscribe(topicUserTrimmed, fn)
}

// OnCacheReset subscribes to full offline-content resets.
func (e *Events) OnCacheReset(fn func()) error {
	return e.bus.Subscribe(topicCacheReset, fn)
}

// OffCacheReset removes a previously subscribed handler.
func (e *Events) OffCacheReset(fn func()) error {
	return e.bus.Unsubscribe(topicCacheReset, fn)
}

// OnSizeChanged subscribes to aggregate tracked-size updates.
func (e *Events) OnSizeChanged(fn func(total int64)) error {
	return e.bus.Subscribe(topicSizeChanged, fn)
}

// OnDownloadsResumed subscribes to the lock clearing, the signal for
// deferred background downloading to start again.
func (e *Events) OnDownloadsResumed(fn func()) error {
	return e.bus.Subscribe(topicDownloadsResumed, fn)
}

func (e *Events) publishUserTrimmed(u User) { e.bus.Publish(topicUserTrimmed, u) }

func (e *Events) publishCacheReset() { e.bus.Publish(topicCacheReset) }

func (e *Events) publishSizeChanged(total int64) { e.bus.Publish(topicSizeChanged, total) }

func (e *Events) publishDownloadsResumed() { e.bus.Publish(topicDownloadsResumed) }
