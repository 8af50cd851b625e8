package kv

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "k", "v", 0)
	assert.NoError(t, err)

	value, found, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	_, found, err = store.Get(ctx, "missing")
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "k", "v", 20*time.Millisecond)
	assert.NoError(t, err)

	_, found, _ := store.Get(ctx, "k")
	assert.True(t, found)

	time.Sleep(30 * time.Millisecond)

	_, found, _ = store.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryStore_SetNX(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	won, err := store.SetNX(ctx, "lock", "a", 0)
	assert.NoError(t, err)
	assert.True(t, won)

	won, err = store.SetNX(ctx, "lock", "b", 0)
	assert.NoError(t, err)
	assert.False(t, won)

	value, _, _ := store.Get(ctx, "lock")
	assert.Equal(t, "a", value)
}

func TestMemoryStore_SetNXAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	won, _ := store.SetNX(ctx, "lock", "a", 20*time.Millisecond)
	assert.True(t, won)

	time.Sleep(30 * time.Millisecond)

	won, _ = store.SetNX(ctx, "lock", "b", 0)
	assert.True(t, won)
}

func TestMemoryStore_SetNXSingleWinnerUnderConcurrency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.SetNX(ctx, "lock", "x", 0)
			assert.NoError(t, err)
			if won {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestMemoryStore_IncrWithTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n, err := store.IncrWithTTL(ctx, "count", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.IncrWithTTL(ctx, "count", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.IncrWithTTL(ctx, "count", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryStore_IncrWithTTLResetsAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _ = store.IncrWithTTL(ctx, "count", 20*time.Millisecond)
	_, _ = store.IncrWithTTL(ctx, "count", 20*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	n, err := store.IncrWithTTL(ctx, "count", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryStore_Del(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "a", "1", 0)
	_ = store.Set(ctx, "b", "2", 0)
	_ = store.HSet(ctx, "h", "f", "v")
	_ = store.SAdd(ctx, "s", "m")

	err := store.Del(ctx, "a", "h", "s")
	assert.NoError(t, err)

	_, found, _ := store.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = store.Get(ctx, "b")
	assert.True(t, found)

	h, _ := store.HGetAll(ctx, "h")
	assert.Empty(t, h)
	members, _ := store.SMembers(ctx, "s")
	assert.Empty(t, members)
}

func TestMemoryStore_HashOperations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.HSet(ctx, "h", "f1", "v1")
	_ = store.HSet(ctx, "h", "f2", "v2")
	_ = store.HSet(ctx, "h", "f1", "v1b")

	all, err := store.HGetAll(ctx, "h")
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"f1": "v1b", "f2": "v2"}, all)

	err = store.HDel(ctx, "h", "f1")
	assert.NoError(t, err)

	all, _ = store.HGetAll(ctx, "h")
	assert.Equal(t, map[string]string{"f2": "v2"}, all)
}

func TestMemoryStore_SetOperations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.SAdd(ctx, "s", "a", "b", "c")
	_ = store.SAdd(ctx, "s", "b")

	members, err := store.SMembers(ctx, "s")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	err = store.SRem(ctx, "s", "a", "c")
	assert.NoError(t, err)

	members, _ = store.SMembers(ctx, "s")
	assert.ElementsMatch(t, []string{"b"}, members)
}
