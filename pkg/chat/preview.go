package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Preview summarises the latest message of a project for list display.
type Preview struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// PreviewFromMessage builds the preview entry for msg.
func PreviewFromMessage(msg Message) Preview {
	return Preview{Role: msg.Role, Content: msg.Content, CreatedAt: msg.CreatedAt}
}

// PreviewSource bulk-loads previews for every project of a user.
type PreviewSource interface {
	Previews(ctx context.Context, userID string) (map[string]Preview, error)
}

// PreviewCache maps project ids to their latest message. It outlives any
// single project timeline and may be read from outside the event loop.
type PreviewCache struct {
	mu      sync.RWMutex
	entries map[string]Preview
}

func NewPreviewCache() *PreviewCache {
	return &PreviewCache{entries: make(map[string]Preview)}
}

func (c *PreviewCache) Get(projectID string) (Preview, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[projectID]
	return p, ok
}

// Set records p unless a strictly newer preview is already cached.
func (c *PreviewCache) Set(projectID string, p Preview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(projectID, p)
}

// Put records p as the latest message of projectID regardless of its
// timestamp. Local sends and their replies are newer than anything cached
// even when the backend clock lags behind ours.
func (c *PreviewCache) Put(projectID string, p Preview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[projectID] = p
}

func (c *PreviewCache) setLocked(projectID string, p Preview) {
	if current, ok := c.entries[projectID]; ok && current.CreatedAt.After(p.CreatedAt) {
		return
	}
	c.entries[projectID] = p
}

// LoadAll seeds the cache from src. Entries written locally after the
// backend snapshot are kept.
func (c *PreviewCache) LoadAll(ctx context.Context, src PreviewSource, userID string) error {
	previews, err := src.Previews(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load previews: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for projectID, p := range previews {
		c.setLocked(projectID, p)
	}
	return nil
}

// All returns a snapshot of every cached preview.
func (c *PreviewCache) All() map[string]Preview {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Preview, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Clear drops every entry, used on logout.
func (c *PreviewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Preview)
}
