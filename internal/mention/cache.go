package mention

import (
	"sync"

	"slackriver/internal/chat"
)

// Cache maps user ids to users resolved during the life of the process.
// Resolved entries are never replaced or evicted.
//
// Entries loaded from storage are kept apart as saved values: they never
// count as hits, and are only served when a live lookup fails.
type Cache struct {
	mu    sync.RWMutex
	users map[string]chat.UserRef
	saved map[string]chat.UserRef
}

func NewCache() *Cache {
	return &Cache{users: map[string]chat.UserRef{}, saved: map[string]chat.UserRef{}}
}

func (c *Cache) Get(id string) (chat.UserRef, bool) {
	c.mu.RLock()
	u, ok := c.users[id]
	c.mu.RUnlock()
	return u, ok
}

// Add inserts u under id unless the id is already present. It reports
// whether the entry was inserted; a concurrent loser keeps the first value.
// Any saved value for id is dropped.
func (c *Cache) Add(id string, u chat.UserRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.users[id]; ok {
		return false
	}
	c.users[id] = u
	delete(c.saved, id)
	return true
}

// Len counts users resolved by this process.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// Saved returns the stored value for id, if one is still pending refresh.
func (c *Cache) Saved(id string) (chat.UserRef, bool) {
	c.mu.RLock()
	u, ok := c.saved[id]
	c.mu.RUnlock()
	return u, ok
}

// Warm loads stored entries as fallbacks. Ids already resolved are
// skipped. It returns the number of entries loaded.
func (c *Cache) Warm(users map[string]chat.UserRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, u := range users {
		if _, ok := c.users[id]; ok || id == "" {
			continue
		}
		c.saved[id] = u
		n++
	}
	return n
}
