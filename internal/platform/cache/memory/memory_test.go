package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMC/bot/internal/platform/cache"
	"github.com/CodeMC/bot/internal/platform/cache/memory"
)

func TestCache_SetGet(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	// Set a value
	err := c.Set(ctx, "key1", []byte("value1"), time.Minute)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Get the value
	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got %q", string(val))
	}
}

func TestCache_GetNotFound(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "nonexistent")
	if err != cache.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCache_Expiration(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	// Set with very short TTL
	err := c.Set(ctx, "key1", []byte("value1"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Should exist initially
	exists, _ := c.Exists(ctx, "key1")
	if !exists {
		t.Error("key should exist initially")
	}

	// Wait for expiration
	time.Sleep(20 * time.Millisecond)

	// Should be expired now
	_, err = c.Get(ctx, "key1")
	if err != cache.ErrExpired {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	exists, _ = c.Exists(ctx, "key1")
	if exists {
		t.Error("expired key should not exist")
	}
}

func TestCache_Delete(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "key1", []byte("value1"), time.Minute)
	c.Delete(ctx, "key1")

	_, err := c.Get(ctx, "key1")
	if err != cache.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCache_ValueIsolation(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	original := []byte("original")
	c.Set(ctx, "key1", original, time.Minute)

	// Modify original
	original[0] = 'X'

	// Cached value should be unchanged
	val, _ := c.Get(ctx, "key1")
	if string(val) != "original" {
		t.Errorf("cache value was mutated: %q", string(val))
	}

	// Modify returned value
	val[0] = 'Y'

	// Cached value should still be unchanged
	val2, _ := c.Get(ctx, "key1")
	if string(val2) != "original" {
		t.Errorf("cache value was mutated via returned slice: %q", string(val2))
	}
}

func TestCache_AddOnlyOnce(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	added, err := c.Add(ctx, "interaction:1", []byte("1"), time.Minute)
	if err != nil || !added {
		t.Fatalf("first Add = %v, %v; want true, nil", added, err)
	}
	added, err = c.Add(ctx, "interaction:1", []byte("2"), time.Minute)
	if err != nil || added {
		t.Fatalf("second Add = %v, %v; want false, nil", added, err)
	}

	val, _ := c.Get(ctx, "interaction:1")
	if string(val) != "1" {
		t.Errorf("Add overwrote a live entry: %q", string(val))
	}
}

func TestCache_AddAfterExpiry(t *testing.T) {
	c := memory.New(time.Minute, 0)
	defer c.Close()
	ctx := context.Background()

	c.Add(ctx, "k", []byte("old"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	added, _ := c.Add(ctx, "k", []byte("new"), time.Minute)
	if !added {
		t.Fatal("Add should succeed once the previous entry expired")
	}
}

func TestCache_CleanupLoop(t *testing.T) {
	c := memory.New(time.Minute, 5*time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); err != cache.ErrNotFound {
		t.Errorf("expected cleanup to remove expired key, got %v", err)
	}
}

func TestCache_CloseTwice(t *testing.T) {
	c := memory.New(time.Minute, time.Minute)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
