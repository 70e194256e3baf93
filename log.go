package blockfs

import "sync"

// logHeader is the on-disk layout of the log's header block: a count followed
// by the home block number each logged slot belongs to (spec.md §4.2 /
// kernel/log.c's logheader).
type logHeader struct {
	n      uint32
	blocks [LogSize]uint32
}

func (h *logHeader) marshal(buf []byte) {
	putLE32(buf[0:4], h.n)
	for i := uint32(0); i < h.n; i++ {
		putLE32(buf[4+i*4:8+i*4], h.blocks[i])
	}
}

func (h *logHeader) unmarshal(buf []byte) {
	h.n = getLE32(buf[0:4])
	for i := uint32(0); i < h.n && i < LogSize; i++ {
		h.blocks[i] = getLE32(buf[4+i*4 : 8+i*4])
	}
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Log is the physical redo log guarding multi-block filesystem operations
// against a mid-write crash (spec.md §4.2 / kernel/log.c). Every operation that
// touches more than one block brackets its writes between BeginOp and EndOp;
// EndOp only commits once every concurrently admitted operation has finished,
// so a batch of small operations that fit together in the log amortize a
// single commit.
type Log struct {
	dev   uint32
	cache *Cache

	start int // first block of the log region (the header block itself)
	size  int // number of data slots, not counting the header

	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
	committing  bool
	lh          logHeader

	maxOpBlocks int
}

// NewLog constructs a Log over the region [start, start+size+1) of dev
// (start is the header block; size is the number of data slots that follow).
// It does not itself perform crash recovery; call Recover first if the device
// might hold a committed-but-not-installed transaction.
func NewLog(cache *Cache, dev uint32, start, size int) *Log {
	l := &Log{dev: dev, cache: cache, start: start, size: size, maxOpBlocks: MaxOpBlocks}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// SetMaxOpBlocks overrides the per-operation block budget BeginOp's admission
// check reserves (default MaxOpBlocks). Must be called before any BeginOp;
// primarily useful for shrinking the log region in tests.
func (l *Log) SetMaxOpBlocks(n int) {
	l.maxOpBlocks = n
}

// Recover replays any transaction the header block says was committed, then
// clears the header. It must run before any BeginOp call on this Log.
// sb is used only to bound-check home block numbers during the post-replay
// verification pass; Recover works without one (passing nil skips that pass).
func (l *Log) Recover(sb *Superblock) error {
	hb, err := l.cache.Get(l.dev, uint32(l.start))
	if err != nil {
		return err
	}
	l.lh.unmarshal(hb.Data)
	l.cache.Release(hb)

	n := l.lh.n
	blocks := append([]uint32(nil), l.lh.blocks[:n]...)

	if err := l.installTrans(true); err != nil {
		return err
	}
	if n > 0 && sb != nil {
		if err := verifyReplay(l, sb, blocks); err != nil {
			return err
		}
	}
	l.lh.n = 0
	return l.writeHead()
}

// BeginOp admits the caller into the log, blocking while a commit is in
// progress or while the in-flight operations plus this one could overflow the
// log's reserved space (spec.md §4.2's admission-control rule).
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.committing {
			l.cond.Wait()
			continue
		}
		if int(l.lh.n)+(l.outstanding+1)*l.maxOpBlocks > l.size {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// EndOp releases the caller's admission. The last outstanding operation to
// leave performs the commit; everyone else just wakes the waiters in case
// space freed up.
func (l *Log) EndOp() error {
	l.mu.Lock()
	l.outstanding--
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		err := l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
		return err
	}
	return nil
}

// Write records b's block number as part of the current transaction
// (absorption: writing the same block twice in one transaction keeps only one
// slot) and pins it in the cache so it can't be evicted before commit. The
// buffer's in-memory contents are the new value; Write does not touch disk.
func (l *Log) Write(b *Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := uint32(0); i < l.lh.n; i++ {
		if l.lh.blocks[i] == b.BlockNo {
			b.Dirty = true
			return
		}
	}
	if int(l.lh.n) >= l.size {
		fatal("log: transaction too big for log (%d blocks, dev %d)", l.lh.n+1, l.dev)
	}
	l.lh.blocks[l.lh.n] = b.BlockNo
	l.lh.n++
	l.cache.Pin(b)
	b.Dirty = true
}

// commit performs the four-phase commit protocol: copy dirty blocks into the
// log region, write the header recording them (the crash-durable commit
// point), install them into their home locations, then clear the header.
func (l *Log) commit() error {
	l.mu.Lock()
	n := l.lh.n
	blocks := append([]uint32(nil), l.lh.blocks[:n]...)
	l.mu.Unlock()

	if n == 0 {
		return nil
	}

	if err := l.writeLog(blocks); err != nil {
		return err
	}
	if err := l.writeHead(); err != nil {
		return err
	}
	if err := l.installTrans(false); err != nil {
		return err
	}

	l.mu.Lock()
	l.lh.n = 0
	l.mu.Unlock()
	return l.writeHead()
}

// writeLog copies each logged block's current cache contents into its log
// slot.
func (l *Log) writeLog(blocks []uint32) error {
	for i, bno := range blocks {
		from, err := l.cache.Get(l.dev, bno)
		if err != nil {
			return err
		}
		to, err := l.cache.Get(l.dev, uint32(l.start+1+i))
		if err != nil {
			l.cache.Release(from)
			return err
		}
		copy(to.Data, from.Data)
		err = l.cache.Write(to)
		l.cache.Release(to)
		l.cache.Release(from)
		if err != nil {
			return err
		}
	}
	return nil
}

// writeHead flushes the in-memory header (the commit point: a header with
// n>0 on disk means "replay these blocks on next mount").
func (l *Log) writeHead() error {
	hb, err := l.cache.Get(l.dev, uint32(l.start))
	if err != nil {
		return err
	}
	l.lh.marshal(hb.Data)
	err = l.cache.Write(hb)
	l.cache.Release(hb)
	return err
}

// installTrans copies each logged block from its log slot to its home
// location. During recovery (fromRecovery true) the home buffers were never
// pinned by Log.Write, so they are not unpinned afterwards.
func (l *Log) installTrans(fromRecovery bool) error {
	for i := uint32(0); i < l.lh.n; i++ {
		from, err := l.cache.Get(l.dev, uint32(l.start+1+int(i)))
		if err != nil {
			return err
		}
		to, err := l.cache.Get(l.dev, l.lh.blocks[i])
		if err != nil {
			l.cache.Release(from)
			return err
		}
		copy(to.Data, from.Data)
		err = l.cache.Write(to)
		if !fromRecovery {
			l.cache.Unpin(to)
		}
		l.cache.Release(to)
		l.cache.Release(from)
		if err != nil {
			return err
		}
	}
	return nil
}
