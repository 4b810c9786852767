// Package foldercache keeps a short lived copy of each user's folder list.
package foldercache

import (
	"sync"
	"time"

	"fknsrs.biz/p/recall/internal/ctxclock"
	"fknsrs.biz/p/recall/models"
)

const DefaultTTL = time.Minute * 5

type key struct {
	userID       int
	includeCount bool
}

type entry struct {
	folders  []models.FolderWithCount
	storedAt time.Time
}

// Generation identifies a user's folders between two invalidations. A list
// read from the database may only be stored under the generation that was
// current before the read started.
type Generation uint64

type Cache struct {
	ttl   time.Duration
	clock ctxclock.Clock

	m           sync.Mutex
	entries     map[key]entry
	generations map[int]Generation
}

func New(ttl time.Duration, clock ctxclock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = ctxclock.NewRealClock()
	}

	return &Cache{
		ttl:         ttl,
		clock:       clock,
		entries:     make(map[key]entry),
		generations: make(map[int]Generation),
	}
}

func (c *Cache) now() time.Time {
	t, err := c.clock.Now()
	if err != nil {
		return time.Now().UTC()
	}

	return t
}

// Get returns a copy of the cached list, or false when there is nothing
// fresh for this user. The generation it returns is what Set needs when the
// caller goes on to load the list itself.
func (c *Cache) Get(userID int, includeCount bool) ([]models.FolderWithCount, Generation, bool) {
	c.m.Lock()
	defer c.m.Unlock()

	gen := c.generations[userID]
	k := key{userID, includeCount}

	e, ok := c.entries[k]
	if !ok {
		return nil, gen, false
	}

	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, k)
		return nil, gen, false
	}

	return clone(e.folders), gen, true
}

// Set stores folders unless the user's folders were invalidated since gen was
// handed out, and reports whether it did.
func (c *Cache) Set(userID int, includeCount bool, gen Generation, folders []models.FolderWithCount) bool {
	c.m.Lock()
	defer c.m.Unlock()

	if c.generations[userID] != gen {
		return false
	}

	c.entries[key{userID, includeCount}] = entry{folders: clone(folders), storedAt: c.now()}

	return true
}

func (c *Cache) Invalidate(userID int) {
	c.m.Lock()
	defer c.m.Unlock()

	c.generations[userID]++

	delete(c.entries, key{userID, false})
	delete(c.entries, key{userID, true})
}

// Purge drops every expired entry and returns how many went.
func (c *Cache) Purge() int {
	c.m.Lock()
	defer c.m.Unlock()

	now := c.now()

	n := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			n++
		}
	}

	return n
}

func (c *Cache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()

	return len(c.entries)
}

func clone(folders []models.FolderWithCount) []models.FolderWithCount {
	a := make([]models.FolderWithCount, len(folders))
	for i, f := range folders {
		a[i] = f
		if f.VideoCount != nil {
			n := *f.VideoCount
			a[i].VideoCount = &n
		}
	}

	return a
}
