package cache

import (
	"bytes"
	"testing"
	"time"
)

func TestBlobCacheRoundTrip(t *testing.T) {
	cache := NewBlobCache(Config{TTL: time.Minute, MaxEntries: 10})

	cache.Set("hash-1", []byte("hello-nda"))
	content, ok := cache.Get("hash-1")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !bytes.Equal(content, []byte("hello-nda")) {
		t.Fatalf("unexpected content: %q", content)
	}

	// The cache hands out copies, not aliases into its own storage.
	content[0] = 'X'
	again, _ := cache.Get("hash-1")
	if !bytes.Equal(again, []byte("hello-nda")) {
		t.Fatalf("cache entry was mutated through a returned slice")
	}
}

func TestBlobCacheMiss(t *testing.T) {
	cache := NewBlobCache(Config{})
	if _, ok := cache.Get("absent"); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestBlobCacheDelete(t *testing.T) {
	cache := NewBlobCache(Config{})
	cache.Set("hash-1", []byte("x"))
	cache.Delete("hash-1")
	if _, ok := cache.Get("hash-1"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestBlobCacheEvictsOldestWhenFull(t *testing.T) {
	cache := NewBlobCache(Config{TTL: time.Minute, MaxEntries: 2})

	cache.Set("first", []byte("1"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("second", []byte("2"))
	time.Sleep(5 * time.Millisecond)
	cache.Set("third", []byte("3"))

	if cache.Len() > 2 {
		t.Fatalf("expected at most 2 entries, got %d", cache.Len())
	}
	if _, ok := cache.Get("first"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if _, ok := cache.Get("third"); !ok {
		t.Fatalf("expected newest entry to survive")
	}
}
