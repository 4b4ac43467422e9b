package conflict

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the conflict window
const (
	DefaultWindow   = 5 * time.Minute
	DefaultCapacity = 10
)

// Cache remembers which actor last changed each log for a short window. It
// is a hint for humans editing at the same time, not a lock. When full, the
// least recently recorded id is evicted early.
//
// Cache is safe for concurrent use, although only the mutation worker is
// expected to call it.
type Cache struct {
	entries *expirable.LRU[int64, string]
	window  time.Duration
}

// New creates a cache holding at most capacity ids for window each
func New(capacity int, window time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		entries: expirable.NewLRU[int64, string](capacity, nil, window),
		window:  window,
	}
}

// Check returns the other actor that changed id within the window. A change
// by actor itself is not a conflict.
func (c *Cache) Check(id int64, actor string) (string, bool) {
	last, ok := c.entries.Get(id)
	if !ok || last == actor {
		return "", false
	}
	return last, true
}

// Record marks id as changed by actor and restarts its window
func (c *Cache) Record(id int64, actor string) {
	c.entries.Add(id, actor)
}

// Forget drops any entry for id
func (c *Cache) Forget(id int64) {
	c.entries.Remove(id)
}

// Len returns the number of tracked ids, including any not yet swept
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Window returns the conflict window
func (c *Cache) Window() time.Duration {
	return c.window
}

// Purge drops every entry. Ids are reassigned after a restore, so earlier
// changes no longer refer to the same records.
func (c *Cache) Purge() {
	c.entries.Purge()
}
