package directory

import (
	"context"
	"sync"
	"testing"
	"time"
)

type countingDirectory struct {
	Directory
	mu    sync.Mutex
	finds int
}

func (c *countingDirectory) FindByID(ctx context.Context, id string) (*Profile, error) {
	c.mu.Lock()
	c.finds++
	c.mu.Unlock()
	return c.Directory.FindByID(ctx, id)
}

func (c *countingDirectory) FindByNickname(ctx context.Context, n string) (*Profile, error) {
	c.mu.Lock()
	c.finds++
	c.mu.Unlock()
	return c.Directory.FindByNickname(ctx, n)
}

func TestCachingDirectory_CachesHits(t *testing.T) {
	ctx := context.Background()
	mem := newTestMemoryDirectory()
	p, _ := mem.Create(ctx, "alice", "pw")
	inner := &countingDirectory{Directory: mem}
	c := NewCachingDirectory(inner, 16, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := c.FindByID(ctx, p.ID)
		if err != nil || got == nil || got.Nickname != "alice" {
			t.Fatalf("FindByID = %+v, %v", got, err)
		}
	}
	if got, _ := c.FindByNickname(ctx, "Alice"); got == nil || got.ID != p.ID {
		t.Fatalf("FindByNickname = %+v", got)
	}
	if inner.finds != 1 {
		t.Errorf("inner finds = %d, want 1", inner.finds)
	}
}

func TestCachingDirectory_MissesNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingDirectory{Directory: newTestMemoryDirectory()}
	c := NewCachingDirectory(inner, 16, time.Minute)

	for i := 0; i < 2; i++ {
		if got, err := c.FindByID(ctx, "missing"); got != nil || err != nil {
			t.Fatalf("FindByID = %+v, %v", got, err)
		}
	}
	if inner.finds != 2 {
		t.Errorf("inner finds = %d, want 2", inner.finds)
	}
}

func TestCachingDirectory_CreatePopulatesAndRejectedLoginEvicts(t *testing.T) {
	ctx := context.Background()
	inner := &countingDirectory{Directory: newTestMemoryDirectory()}
	c := NewCachingDirectory(inner, 16, time.Minute)

	p, err := c.Create(ctx, "bob", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := c.FindByNickname(ctx, "bob"); got == nil {
		t.Fatal("expected cached profile")
	}
	if inner.finds != 0 {
		t.Errorf("inner finds = %d, want 0", inner.finds)
	}

	// A good password keeps the cached entry.
	if ok, err := c.VerifyCredentials(ctx, "bob", "pw"); !ok || err != nil {
		t.Fatalf("VerifyCredentials = %v, %v", ok, err)
	}
	_, _ = c.FindByID(ctx, p.ID)
	if inner.finds != 0 {
		t.Errorf("inner finds after good login = %d, want 0", inner.finds)
	}

	if ok, _ := c.VerifyCredentials(ctx, "BOB", "wrong"); ok {
		t.Fatal("wrong password accepted")
	}
	_, _ = c.FindByID(ctx, p.ID)
	_, _ = c.FindByNickname(ctx, "bob")
	if inner.finds != 2 {
		t.Errorf("inner finds after rejected login = %d, want 2", inner.finds)
	}
}
