package registry

import (
	"container/list"
	"sync"

	"github.com/relaymail/mailcore/pkg/models"
)

// editStateCapacity bounds the in-flight add/edit-account form cache
// (spec.md §3, §6): never persisted, capped, oldest entry evicted
// first once full.
const editStateCapacity = 100

type editStateEntry struct {
	userID string
	state  *models.EditState
}

// EditStateCache is a bounded, evict-oldest, in-memory map of userID
// to that user's in-flight add/edit-account form state. It is never
// backed by host.Storage: losing it on restart just means the user
// restarts the form, which spec.md §3 accepts.
type EditStateCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	index    map[string]*list.Element
}

func NewEditStateCache() *EditStateCache {
	return &EditStateCache{
		capacity: editStateCapacity,
		order:    list.New(),
		index:    map[string]*list.Element{},
	}
}

// Get returns the cached state for userID, if any, and moves it to
// the front of the eviction order.
func (c *EditStateCache) Get(userID string) (*models.EditState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[userID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*editStateEntry).state, true
}

// Set stores state for userID, evicting the least-recently-used entry
// if the cache is at capacity and userID is new.
func (c *EditStateCache) Set(userID string, state *models.EditState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[userID]; ok {
		el.Value.(*editStateEntry).state = state
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.index, oldest.Value.(*editStateEntry).userID)
		}
	}

	el := c.order.PushFront(&editStateEntry{userID: userID, state: state})
	c.index[userID] = el
}

// Delete removes userID's state, e.g. once the form completes.
func (c *EditStateCache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[userID]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.index, userID)
}

// Len reports the number of cached entries, for tests.
func (c *EditStateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
