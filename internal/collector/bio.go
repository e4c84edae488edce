package collector

import (
	"context"
	"sync"

	"github.com/blockedby/tg-harvester/internal/models"
	"github.com/blockedby/tg-harvester/internal/telegram"
)

// BioSource looks up the biography of an author.
type BioSource interface {
	AuthorBio(ctx context.Context, author telegram.Author) (string, error)
}

type bioKey struct {
	kind models.AuthorKind
	id   int64
}

// BioCache memoizes author bios for the lifetime of one harvest.
// Failed and empty lookups are cached as nil as well.
type BioCache struct {
	mu      sync.Mutex
	entries map[bioKey]*string
}

// NewBioCache creates an empty cache.
func NewBioCache() *BioCache {
	return &BioCache{entries: make(map[bioKey]*string)}
}

// Lookup returns the cached bio of the author, fetching it on first use.
func (c *BioCache) Lookup(ctx context.Context, src BioSource, author telegram.Author) *string {
	key := bioKey{kind: author.Kind, id: author.ID}

	c.mu.Lock()
	bio, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return bio
	}

	about, err := src.AuthorBio(ctx, author)
	if err == nil && about != "" {
		bio = &about
	}

	c.mu.Lock()
	c.entries[key] = bio
	c.mu.Unlock()
	return bio
}

// Len returns the number of cached authors.
func (c *BioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
