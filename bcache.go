package blockfs

import (
	"sync"
)

// bucket is one hash bucket of the buffer cache: a mutex guarding a doubly
// linked list of the Bufs currently hashed into it.
type bucket struct {
	mu   sync.Mutex
	head *Buf // sentinel; head.next/head.prev form the ring
}

// Cache is the buffer cache (spec.md §4.1 / kernel/bio.c): a fixed pool of NBuf
// buffers, partitioned across NBucket hash buckets keyed on block number so
// that unrelated blocks rarely contend on the same mutex. A buffer is only
// ever moved between buckets when a bucket runs out of free slots and must
// steal the least-recently-used buffer from another bucket; that cross-bucket
// move is serialized by evictLock so two goroutines can't steal the same
// victim.
type Cache struct {
	dev   Device
	bufs  []Buf
	tick  uint64
	tickM sync.Mutex

	buckets   [NBucket]bucket
	evictLock sync.Mutex
}

// NewCache builds a Cache of n buffers (NBuf if n<=0) over dev.
func NewCache(dev Device, n int) *Cache {
	if n <= 0 {
		n = NBuf
	}
	c := &Cache{
		dev:  dev,
		bufs: make([]Buf, n),
	}
	for i := range c.buckets {
		c.buckets[i].head = &Buf{}
		c.buckets[i].head.next = c.buckets[i].head
		c.buckets[i].head.prev = c.buckets[i].head
	}
	bs := dev.BlockSize()
	for i := range c.bufs {
		b := &c.bufs[i]
		b.Data = make([]byte, bs)
		b.lock = newSleepLock()
		bkt := i % NBucket
		b.bucket = bkt
		bucketPushFront(&c.buckets[bkt], b)
	}
	return c
}

func bucketPushFront(bk *bucket, b *Buf) {
	b.next = bk.head.next
	b.prev = bk.head
	bk.head.next.prev = b
	bk.head.next = b
}

func bucketRemove(b *Buf) {
	b.prev.next = b.next
	b.next.prev = b.prev
	b.prev, b.next = nil, nil
}

func (c *Cache) nextTick() uint64 {
	c.tickM.Lock()
	c.tick++
	t := c.tick
	c.tickM.Unlock()
	return t
}

// Get returns the buffer holding block (dev, blockno), reading it from the
// device if it wasn't already cached. The returned Buf's sleep-lock is held;
// the caller must call Release when done.
func (c *Cache) Get(dev, blockno uint32) (*Buf, error) {
	key := int(blockno) % NBucket
	bk := &c.buckets[key]

	bk.mu.Lock()
	if b := bucketFind(bk, dev, blockno); b != nil {
		b.RefCnt++
		bk.mu.Unlock()
		b.lock.Lock()
		return b, nil
	}
	bk.mu.Unlock()

	c.evictLock.Lock()
	defer c.evictLock.Unlock()

	bk.mu.Lock()
	if b := bucketFind(bk, dev, blockno); b != nil {
		b.RefCnt++
		bk.mu.Unlock()
		b.lock.Lock()
		return b, nil
	}

	if b := bucketFreeVictim(bk); b != nil {
		b.Dev = dev
		b.BlockNo = blockno
		b.Valid = false
		b.Dirty = false
		b.RefCnt = 1
		b.LastUse = c.nextTick()
		bk.mu.Unlock()
		return c.finishGet(b)
	}
	bk.mu.Unlock()

	victim := c.stealVictim(key)
	if victim == nil {
		return nil, ErrNoFiles
	}
	victim.Dev = dev
	victim.BlockNo = blockno
	victim.Valid = false
	victim.Dirty = false
	victim.RefCnt = 1
	victim.LastUse = c.nextTick()
	return c.finishGet(victim)
}

func (c *Cache) finishGet(b *Buf) (*Buf, error) {
	b.lock.Lock()
	if !b.Valid {
		if err := c.dev.ReadBlock(b.BlockNo, b.Data); err != nil {
			b.lock.Unlock()
			return nil, err
		}
		b.Valid = true
	}
	return b, nil
}

// bucketFind looks for (dev, blockno) already resident in bk. Caller holds
// bk.mu.
func bucketFind(bk *bucket, dev, blockno uint32) *Buf {
	for b := bk.head.next; b != bk.head; b = b.next {
		if b.Dev == dev && b.BlockNo == blockno {
			return b
		}
	}
	return nil
}

// bucketFreeVictim finds a RefCnt==0 buffer already in bk. Caller holds bk.mu.
func bucketFreeVictim(bk *bucket) *Buf {
	var best *Buf
	for b := bk.head.next; b != bk.head; b = b.next {
		if b.RefCnt == 0 && (best == nil || b.LastUse < best.LastUse) {
			best = b
		}
	}
	return best
}

// stealVictim scans every bucket, one bucket lock at a time, for the globally
// least-recently-used free buffer and relocates it into bucket skip. Caller
// holds c.evictLock but not any bucket's mutex.
func (c *Cache) stealVictim(skip int) *Buf {
	var best *Buf
	bestBucket := -1
	for i := range c.buckets {
		bk := &c.buckets[i]
		bk.mu.Lock()
		if v := bucketFreeVictim(bk); v != nil {
			if best == nil || v.LastUse < best.LastUse {
				best = v
				bestBucket = i
			}
		}
		bk.mu.Unlock()
	}
	if best == nil {
		return nil
	}

	src := &c.buckets[bestBucket]
	dst := &c.buckets[skip]
	src.mu.Lock()
	if best.RefCnt != 0 {
		// lost the race to another goroutine between scan and relock
		src.mu.Unlock()
		return c.stealVictim(skip)
	}
	bucketRemove(best)
	src.mu.Unlock()

	dst.mu.Lock()
	best.bucket = skip
	bucketPushFront(dst, best)
	dst.mu.Unlock()
	return best
}

// Release unlocks b and drops the caller's reference. When the reference
// count reaches zero the buffer becomes eligible for eviction, but it is left
// in place (and its data left intact) so a subsequent Get for the same block
// is a cache hit rather than a re-read.
func (c *Cache) Release(b *Buf) {
	b.lock.Unlock()
	bk := &c.buckets[b.bucket]
	bk.mu.Lock()
	b.RefCnt--
	if b.RefCnt == 0 {
		b.LastUse = c.nextTick()
	}
	bk.mu.Unlock()
}

// Pin increments b's reference count without acquiring its lock, for callers
// that already hold a reference and want to keep the buffer alive past their
// own Release (Log.Write does this when it enrolls a block not yet in the
// transaction).
func (c *Cache) Pin(b *Buf) {
	bk := &c.buckets[b.bucket]
	bk.mu.Lock()
	b.RefCnt++
	bk.mu.Unlock()
}

// Unpin reverses Pin.
func (c *Cache) Unpin(b *Buf) {
	bk := &c.buckets[b.bucket]
	bk.mu.Lock()
	b.RefCnt--
	if b.RefCnt == 0 {
		b.LastUse = c.nextTick()
	}
	bk.mu.Unlock()
}

// Write writes b through to the device immediately and clears Dirty. Callers
// inside a logged transaction should go through Log.Write instead; Write is
// for unlogged writes (mkfs, the log's own commit).
func (c *Cache) Write(b *Buf) error {
	if err := c.dev.WriteBlock(b.BlockNo, b.Data); err != nil {
		return err
	}
	b.Dirty = false
	return nil
}
