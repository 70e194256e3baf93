package blockfs_test

import (
	"testing"

	"github.com/KarpelesLab/blockfs"
)

func TestCacheGetReleaseIsACacheHit(t *testing.T) {
	dev := newMemDevice(8, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 4)

	b1, err := cache.Get(1, 2)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	if b1.RefCnt != 1 {
		t.Errorf("expected RefCnt 1 after Get, got %d", b1.RefCnt)
	}
	copy(b1.Data, []byte("hello"))
	cache.Release(b1)

	b2, err := cache.Get(1, 2)
	if err != nil {
		t.Fatalf("second Get: %s", err)
	}
	if string(b2.Data[:5]) != "hello" {
		t.Errorf("expected cached contents to survive Release, got %q", b2.Data[:5])
	}
	cache.Release(b2)
}

func TestCacheFailsWhenEveryBufferIsPinned(t *testing.T) {
	dev := newMemDevice(16, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 2)

	b1, err := cache.Get(1, 0)
	if err != nil {
		t.Fatalf("Get(0): %s", err)
	}
	b2, err := cache.Get(1, 1)
	if err != nil {
		t.Fatalf("Get(1): %s", err)
	}

	if _, err := cache.Get(1, 2); err == nil {
		t.Errorf("expected Get to fail when every buffer is pinned")
	}

	cache.Release(b1)
	cache.Release(b2)

	b3, err := cache.Get(1, 2)
	if err != nil {
		t.Fatalf("Get(2) after release: %s", err)
	}
	cache.Release(b3)
}

func TestCachePinSurvivesRelease(t *testing.T) {
	dev := newMemDevice(16, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 2)

	b1, err := cache.Get(1, 0)
	if err != nil {
		t.Fatalf("Get(0): %s", err)
	}
	cache.Pin(b1)
	cache.Release(b1) // drops the Get reference; Pin's own reference remains

	b2, err := cache.Get(1, 1)
	if err != nil {
		t.Fatalf("Get(1): %s", err)
	}
	cache.Release(b2)

	// block 1 was just released, so stealing it for block 2 must succeed...
	b3, err := cache.Get(1, 2)
	if err != nil {
		t.Fatalf("Get(2): %s", err)
	}
	// ...but block 0 is still pinned, and block 2 is now held by us, so a
	// fourth distinct block has nowhere to evict from.
	if _, err := cache.Get(1, 3); err == nil {
		t.Errorf("expected Get to fail: block 0 still pinned via Pin, no free buffer left")
	}
	cache.Release(b3)
	cache.Unpin(b1)
}

func TestCacheWritePersistsToDevice(t *testing.T) {
	dev := newMemDevice(4, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 4)

	b, err := cache.Get(1, 0)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	copy(b.Data, []byte("persisted"))
	if err := cache.Write(b); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if b.Dirty {
		t.Errorf("expected Write to clear Dirty")
	}
	cache.Release(b)

	raw := make([]byte, blockfs.DefaultBlockSize)
	if err := dev.ReadBlock(0, raw); err != nil {
		t.Fatalf("direct ReadBlock: %s", err)
	}
	if string(raw[:9]) != "persisted" {
		t.Errorf("expected device to hold %q, got %q", "persisted", raw[:9])
	}
}

func TestCacheGetPropagatesDeviceReadError(t *testing.T) {
	under := newMemDevice(4, blockfs.DefaultBlockSize)
	dev := newFailDevice(under, 0)
	cache := blockfs.NewCache(dev, 4)

	if _, err := cache.Get(1, 0); err == nil {
		t.Errorf("expected Get to surface the device's read error")
	}
}

func TestCacheDistinctBlocksDoNotAlias(t *testing.T) {
	dev := newMemDevice(32, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 8)

	var bufs []*blockfs.Buf
	for bno := uint32(0); bno < 8; bno++ {
		b, err := cache.Get(1, bno)
		if err != nil {
			t.Fatalf("Get(%d): %s", bno, err)
		}
		copy(b.Data, []byte{byte(bno)})
		bufs = append(bufs, b)
	}
	for bno, b := range bufs {
		if b.Data[0] != byte(bno) {
			t.Errorf("block %d: expected tag %d, got %d", bno, bno, b.Data[0])
		}
		cache.Release(b)
	}
}
