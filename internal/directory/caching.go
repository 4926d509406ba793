package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultCacheSize = 4096

// CachingDirectory caches successful profile lookups in front of another Directory.
// Misses and credential checks always go to the wrapped directory; a rejected credential check
// evicts the nickname so a renamed or removed account is refetched on the next lookup.
type CachingDirectory struct {
	next       Directory
	byID       *expirable.LRU[string, Profile]
	byNickname *expirable.LRU[string, Profile]
}

// NewCachingDirectory wraps next with an LRU of size entries per index, each living for ttl.
func NewCachingDirectory(next Directory, size int, ttl time.Duration) *CachingDirectory {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &CachingDirectory{
		next:       next,
		byID:       expirable.NewLRU[string, Profile](size, nil, ttl),
		byNickname: expirable.NewLRU[string, Profile](size, nil, ttl),
	}
}

func (c *CachingDirectory) Create(ctx context.Context, nickname, password string) (*Profile, error) {
	p, err := c.next.Create(ctx, nickname, password)
	if err == nil && p != nil {
		c.store(*p)
	}
	return p, err
}

func (c *CachingDirectory) VerifyCredentials(ctx context.Context, nickname, password string) (bool, error) {
	ok, err := c.next.VerifyCredentials(ctx, nickname, password)
	if err == nil && !ok {
		c.forgetNickname(nickname)
	}
	return ok, err
}

func (c *CachingDirectory) FindByID(ctx context.Context, id string) (*Profile, error) {
	if p, ok := c.byID.Get(id); ok {
		return &p, nil
	}
	p, err := c.next.FindByID(ctx, id)
	if err == nil && p != nil {
		c.store(*p)
	}
	return p, err
}

func (c *CachingDirectory) FindByNickname(ctx context.Context, nickname string) (*Profile, error) {
	key := nicknameKey(nickname)
	if p, ok := c.byNickname.Get(key); ok {
		return &p, nil
	}
	p, err := c.next.FindByNickname(ctx, nickname)
	if err == nil && p != nil {
		c.store(*p)
	}
	return p, err
}

func (c *CachingDirectory) forgetNickname(nickname string) {
	key := nicknameKey(nickname)
	if p, ok := c.byNickname.Peek(key); ok {
		c.byID.Remove(p.ID)
	}
	c.byNickname.Remove(key)
}

func (c *CachingDirectory) store(p Profile) {
	c.byID.Add(p.ID, p)
	c.byNickname.Add(nicknameKey(p.Nickname), p)
}
