package approval

import (
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

const resolvedCacheSize = 256

// Cache fronts a Store with a small in-memory view. Resolved records are
// immutable once transitioned, so they are safe to keep in an LRU. Pending ids
// live in a plain set so list and poll endpoints avoid hitting sqlite on every
// keepalive tick. The store stays the source of truth; on any miss the cache
// falls through and refreshes.
type Cache struct {
	store *Store

	resolved *lru.Cache[string, *Request]

	mu      sync.RWMutex
	pending map[string]struct{}
}

// NewCache wraps a store. The pending index is rebuilt from the store so a
// restart with leftover pending rows still sees them.
func NewCache(store *Store) (*Cache, error) {
	resolved, err := lru.New[string, *Request](resolvedCacheSize)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		store:    store,
		resolved: resolved,
		pending:  make(map[string]struct{}),
	}

	sums, err := store.ListPending()
	if err != nil {
		return nil, err
	}
	for _, s := range sums {
		c.pending[s.RequestID] = struct{}{}
	}
	return c, nil
}

// Create persists and indexes a new pending request.
func (c *Cache) Create(requestID string, toolCalls []chat.ToolCall, messages []chat.Message) error {
	if err := c.store.Create(requestID, toolCalls, messages); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending[requestID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Get returns a record. Resolved records are served from the LRU when
// present; everything else reads through to the store.
func (c *Cache) Get(requestID string) (*Request, error) {
	if req, ok := c.resolved.Get(requestID); ok {
		return req, nil
	}

	req, err := c.store.Get(requestID)
	if err != nil {
		return nil, err
	}
	if req.Resolved() {
		c.resolved.Add(requestID, req)
		c.dropPending(requestID)
	}
	return req, nil
}

// Transition resolves a record and updates both indexes. The store performs
// the pending-only guard; the cache only reflects the outcome.
func (c *Cache) Transition(requestID string, status Status, result json.RawMessage) error {
	if err := c.store.Transition(requestID, status, result); err != nil {
		return err
	}
	c.dropPending(requestID)
	if req, err := c.store.Get(requestID); err == nil {
		c.resolved.Add(requestID, req)
	}
	return nil
}

// ListPending reads from the store so ordering and fields stay canonical.
func (c *Cache) ListPending() ([]Summary, error) {
	return c.store.ListPending()
}

// PendingCount reports the size of the in-memory index.
func (c *Cache) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

func (c *Cache) dropPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}
