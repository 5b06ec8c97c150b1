package feed

import (
	"context"
	"sort"

	"guestbook/pkg/domain"
)

// Cache is a per-connection bounded view of the newest visible messages.
// It is a read replica: an initial snapshot plus the incremental event
// stream, never written to directly.
//
// A Cache is not safe for concurrent use. Each connection owns one instance
// and applies its events strictly in arrival order; the per-event re-sort
// compensates for network reordering between connections.
type Cache struct {
	limit   int
	loading bool
	window  []domain.Message
}

// NewCache creates a cache holding at most limit messages.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return &Cache{limit: limit, loading: true}
}

// Initialize seeds the window from the store snapshot. On failure the cache
// stays in the loading state and Initialize can be retried.
func (c *Cache) Initialize(ctx context.Context, svc *Service) error {
	msgs, err := svc.FetchRecent(ctx, c.limit)
	if err != nil {
		return err
	}
	c.window = append(c.window[:0], msgs...)
	c.loading = false
	return nil
}

// Loading reports whether the cache has not yet been seeded.
func (c *Cache) Loading() bool {
	return c.loading
}

// Apply routes a feed event to the matching window mutation. A hide behaves
// like a delete from the window's point of view; an unhide carries no
// message payload, so the window picks the row back up on its next full
// resync rather than here.
func (c *Cache) Apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventInsert:
		if ev.Message != nil {
			c.OnInsert(*ev.Message)
		}
	case domain.EventDelete, domain.EventHide:
		c.OnDelete(ev.MessageID)
	}
}

// OnInsert adds a message to the window, ignoring hidden messages and
// duplicates. The submitter may have inserted its own message through the
// direct return path before the broadcast copy arrives, so deduplication by
// id is required for exactly-once presence. The window is re-sorted newest
// first after every insert and truncated to its limit.
func (c *Cache) OnInsert(msg domain.Message) {
	if !msg.Visible {
		return
	}
	for _, existing := range c.window {
		if existing.ID == msg.ID {
			return
		}
	}
	c.window = append(c.window, msg)
	sort.Slice(c.window, func(i, j int) bool {
		return domain.MoreRecent(c.window[i], c.window[j])
	})
	if len(c.window) > c.limit {
		c.window = c.window[:c.limit]
	}
}

// OnDelete removes the matching message if it is still in the window. Ids
// already evicted are a no-op, and no replacement is backfilled: the window
// may legitimately hold fewer than limit entries until the next full
// resync.
func (c *Cache) OnDelete(id string) {
	for i, msg := range c.window {
		if msg.ID == id {
			c.window = append(c.window[:i], c.window[i+1:]...)
			return
		}
	}
}

// Window returns a copy of the current window, newest first.
func (c *Cache) Window() []domain.Message {
	out := make([]domain.Message, len(c.window))
	copy(out, c.window)
	return out
}

// Len reports the number of messages currently in the window.
func (c *Cache) Len() int {
	return len(c.window)
}
