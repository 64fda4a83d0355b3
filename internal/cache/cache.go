package cache

import (
	"bytes"
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store is the key-value collaborator behind every cached view.
// Get reports a miss with found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// DefaultMemoryEntries bounds the in-process cache when no size is given.
const DefaultMemoryEntries = 10_000

// Memory is an in-process Store with per-key expiration. Past its capacity
// the least recently used key is evicted, expired or not.
type Memory struct {
	entries *lru.Cache[string, entry]
	now     func() time.Time
}

type entry struct {
	val []byte
	exp time.Time
}

func NewMemory() *Memory {
	return NewMemorySized(DefaultMemoryEntries, time.Now)
}

// NewMemoryWithClock is used by tests that need to move time past a TTL.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return NewMemorySized(DefaultMemoryEntries, now)
}

func NewMemorySized(size int, now func() time.Time) *Memory {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	if now == nil {
		now = time.Now
	}
	// only fails on a non-positive size
	entries, _ := lru.New[string, entry](size)

	return &Memory{entries: entries, now: now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.entries.Get(key)
	if !ok || !c.now().Before(e.exp) {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.entries.Add(key, entry{val: bytes.Clone(val), exp: c.now().Add(ttl)})
	return nil
}

func (c *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.entries.Remove(k)
	}
	return nil
}

func (c *Memory) Len() int {
	return c.entries.Len()
}

func (c *Memory) Ping(context.Context) error { return nil }

func (c *Memory) Close() error { return nil }

// Noop never stores anything; every read is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, ...string) error                  { return nil }
func (Noop) Ping(context.Context) error                               { return nil }
func (Noop) Close() error                                             { return nil }
