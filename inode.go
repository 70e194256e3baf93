package blockfs

import (
	"sync"
)

// dinode is the on-disk inode record (spec.md §4.4 / kernel/fs.h's struct
// dinode). Blocks holds NDirect direct pointers followed by the single- and
// double-indirect pointers.
type dinode struct {
	Type  Type
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Atime uint32
	Mtime uint32
	Blocks [NDirect + 2]uint32
}

func (d *dinode) marshal(buf []byte) {
	putLE16(buf[0:2], uint16(d.Type))
	putLE16(buf[2:4], d.Major)
	putLE16(buf[4:6], d.Minor)
	putLE16(buf[6:8], d.Nlink)
	putLE32(buf[8:12], d.Size)
	putLE32(buf[12:16], d.Atime)
	putLE32(buf[16:20], d.Mtime)
	off := 20
	for _, b := range d.Blocks {
		putLE32(buf[off:off+4], b)
		off += 4
	}
}

func (d *dinode) unmarshal(buf []byte) {
	d.Type = Type(getLE16(buf[0:2]))
	d.Major = getLE16(buf[2:4])
	d.Minor = getLE16(buf[4:6])
	d.Nlink = getLE16(buf[6:8])
	d.Size = getLE32(buf[8:12])
	d.Atime = getLE32(buf[12:16])
	d.Mtime = getLE32(buf[16:20])
	off := 20
	for i := range d.Blocks {
		d.Blocks[i] = getLE32(buf[off : off+4])
		off += 4
	}
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func getLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Inode is the in-memory cached copy of a dinode plus the concurrency control
// needed to serialize access to it (spec.md §4.4 / kernel/file.h's struct
// inode). Holding a *Inode (obtained from InodeTable.Get) keeps its slot
// pinned, but does not by itself grant the right to read its fields — callers
// must Lock it first.
type Inode struct {
	Dev   uint32
	Ino   uint32
	refs  int
	valid bool

	lock sleepLock
	dinode

	table *InodeTable
}

// InodeTable is the in-memory inode cache (spec.md §4.4 / kernel/fs.c's icache):
// a small fixed pool of Inode slots, deduplicated by (dev, ino) so that two
// concurrent lookups of the same file observe (and lock) the very same
// in-memory Inode.
type InodeTable struct {
	mu     sync.Mutex
	inodes []*Inode

	cache *Cache
	log   *Log
	sb    *Superblock
	dev   uint32
	clock Clock
}

// NewInodeTable builds a table of n slots (NInode if n<=0).
func NewInodeTable(cache *Cache, log *Log, sb *Superblock, dev uint32, clock Clock, n int) *InodeTable {
	if n <= 0 {
		n = NInode
	}
	t := &InodeTable{cache: cache, log: log, sb: sb, dev: dev, clock: clock}
	t.inodes = make([]*Inode, n)
	for i := range t.inodes {
		t.inodes[i] = &Inode{lock: newSleepLock(), table: t}
	}
	return t
}

// Get returns the in-memory Inode for (dev, ino), allocating a table slot for
// it if necessary. The dinode contents are not read from disk until the
// caller calls Lock; Get merely returns (and pins) the cache entry, mirroring
// kernel/fs.c's iget.
func (t *InodeTable) Get(dev, ino uint32) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()

	var empty *Inode
	for _, ip := range t.inodes {
		if ip.refs > 0 && ip.Dev == dev && ip.Ino == ino {
			ip.refs++
			return ip
		}
		if empty == nil && ip.refs == 0 {
			empty = ip
		}
	}
	if empty == nil {
		fatal("inode: no free inode table slots")
	}
	empty.Dev = dev
	empty.Ino = ino
	empty.refs = 1
	empty.valid = false
	return empty
}

// Alloc finds a free dinode slot on disk of the given type, marks it in use,
// and returns its in-memory Inode (spec.md §4.4 / kernel/fs.c's ialloc).
func (t *InodeTable) Alloc(typ Type) (*Inode, error) {
	for inum := uint32(1); inum < t.sb.InodeCount; inum++ {
		bp, err := t.cache.Get(t.dev, t.sb.IBlock(inum))
		if err != nil {
			return nil, err
		}
		var d dinode
		off := (inum % t.sb.IPB()) * dinodeSize
		d.unmarshal(bp.Data[off : off+dinodeSize])
		if d.Type == TypeFree {
			d = dinode{Type: typ}
			d.marshal(bp.Data[off : off+dinodeSize])
			t.log.Write(bp)
			t.cache.Release(bp)
			return t.Get(t.dev, inum), nil
		}
		t.cache.Release(bp)
	}
	return nil, ErrNoInodes
}

// Lock acquires ip's sleep-lock and, on first lock since Get, loads its dinode
// from disk.
func (ip *Inode) Lock() error {
	ip.lock.Lock()
	if !ip.valid {
		bp, err := ip.table.cache.Get(ip.Dev, ip.table.sb.IBlock(ip.Ino))
		if err != nil {
			ip.lock.Unlock()
			return err
		}
		off := (ip.Ino % ip.table.sb.IPB()) * dinodeSize
		ip.dinode.unmarshal(bp.Data[off : off+dinodeSize])
		ip.table.cache.Release(bp)
		if ip.dinode.Type == TypeFree {
			ip.lock.Unlock()
			return ErrNotExist
		}
		ip.valid = true
	}
	return nil
}

// Unlock releases ip's sleep-lock without affecting its reference count.
func (ip *Inode) Unlock() {
	ip.lock.Unlock()
}

// Update writes ip's in-memory dinode fields back to its disk block, enrolled
// in the current transaction. Caller must hold ip's lock.
func (ip *Inode) Update() error {
	bp, err := ip.table.cache.Get(ip.Dev, ip.table.sb.IBlock(ip.Ino))
	if err != nil {
		return err
	}
	off := (ip.Ino % ip.table.sb.IPB()) * dinodeSize
	ip.dinode.marshal(bp.Data[off : off+dinodeSize])
	ip.table.log.Write(bp)
	ip.table.cache.Release(bp)
	return nil
}

// Put drops the caller's reference to ip. If it was the last reference and
// Nlink has dropped to zero, the inode's blocks and on-disk slot are freed
// (spec.md §4.4 / kernel/fs.c's iput).
func (ip *Inode) Put() error {
	ip.table.mu.Lock()

	if ip.refs == 1 && ip.valid && ip.dinode.Nlink == 0 {
		ip.table.mu.Unlock()
		ip.lock.Lock()

		if err := ip.truncate(); err != nil {
			ip.lock.Unlock()
			return err
		}
		ip.dinode = dinode{}
		if err := ip.updateLocked(); err != nil {
			ip.lock.Unlock()
			return err
		}
		ip.valid = false
		ip.lock.Unlock()

		ip.table.mu.Lock()
	}
	ip.refs--
	ip.table.mu.Unlock()
	return nil
}

// updateLocked is Update without re-acquiring ip's lock, used internally by
// Put which already holds it.
func (ip *Inode) updateLocked() error {
	bp, err := ip.table.cache.Get(ip.Dev, ip.table.sb.IBlock(ip.Ino))
	if err != nil {
		return err
	}
	off := (ip.Ino % ip.table.sb.IPB()) * dinodeSize
	ip.dinode.marshal(bp.Data[off : off+dinodeSize])
	ip.table.log.Write(bp)
	ip.table.cache.Release(bp)
	return nil
}

// Dup increments ip's reference count and returns ip, mirroring kernel/fs.c's
// idup; used when handing out a second owned reference to the same inode
// (e.g. file descriptor dup, or "." lookups).
func (ip *Inode) Dup() *Inode {
	ip.table.mu.Lock()
	ip.refs++
	ip.table.mu.Unlock()
	return ip
}

// bmap returns the device block number holding logical block bn of ip's file,
// allocating it (and any indirect blocks needed to address it) if it doesn't
// exist yet. Caller must hold ip's lock (spec.md §4.4 / kernel/fs.c's bmap,
// extended with a second indirection level).
func (ip *Inode) bmap(bn uint32) (uint32, error) {
	t := ip.table

	if bn < NDirect {
		if ip.dinode.Blocks[bn] == 0 {
			a, err := allocBlock(t.cache, t.log, t.sb, ip.Dev)
			if err != nil {
				return 0, err
			}
			ip.dinode.Blocks[bn] = a
		}
		return ip.dinode.Blocks[bn], nil
	}
	bn -= NDirect

	if bn < NIndirect {
		return ip.bmapIndirect(NDirect, bn)
	}
	bn -= NIndirect

	if bn < NIndirect*NIndirect {
		dBlock, err := ip.indirectBlock(NDirect+1, bn/NIndirect)
		if err != nil {
			return 0, err
		}
		return bmapThroughIndirect(t, ip.Dev, dBlock, bn%NIndirect)
	}

	return 0, ErrFileTooBig
}

// bmapIndirect resolves logical block bn through the single-indirect pointer
// stored at ip.dinode.Blocks[slot].
func (ip *Inode) bmapIndirect(slot int, bn uint32) (uint32, error) {
	t := ip.table
	ib, err := ip.indirectBlock(slot, 0)
	if err != nil {
		return 0, err
	}
	return bmapThroughIndirect(t, ip.Dev, ib, bn)
}

// indirectBlock returns the device block number of the indirect block stored
// at ip.dinode.Blocks[slot], allocating it if absent. idx is unused for the
// single-indirect case and selects the double-indirect's child slot when
// called from bmap's second level (see bmapDoubleChild).
func (ip *Inode) indirectBlock(slot int, idx uint32) (uint32, error) {
	t := ip.table
	if ip.dinode.Blocks[slot] == 0 {
		a, err := allocBlock(t.cache, t.log, t.sb, ip.Dev)
		if err != nil {
			return 0, err
		}
		ip.dinode.Blocks[slot] = a
	}
	if slot == NDirect+1 {
		return ip.bmapDoubleChild(ip.dinode.Blocks[slot], idx)
	}
	return ip.dinode.Blocks[slot], nil
}

// bmapDoubleChild resolves the idx'th pointer stored in the double-indirect
// block at device block dbn, allocating that child indirect block if absent.
func (ip *Inode) bmapDoubleChild(dbn uint32, idx uint32) (uint32, error) {
	t := ip.table
	bp, err := t.cache.Get(ip.Dev, dbn)
	if err != nil {
		return 0, err
	}
	v := getLE32(bp.Data[idx*4 : idx*4+4])
	if v == 0 {
		a, err := allocBlock(t.cache, t.log, t.sb, ip.Dev)
		if err != nil {
			t.cache.Release(bp)
			return 0, err
		}
		putLE32(bp.Data[idx*4:idx*4+4], a)
		t.log.Write(bp)
		v = a
	}
	t.cache.Release(bp)
	return v, nil
}

// bmapThroughIndirect reads the bn'th pointer out of the indirect block at
// device block ibn, allocating it if absent.
func bmapThroughIndirect(t *InodeTable, dev uint32, ibn uint32, bn uint32) (uint32, error) {
	bp, err := t.cache.Get(dev, ibn)
	if err != nil {
		return 0, err
	}
	v := getLE32(bp.Data[bn*4 : bn*4+4])
	if v == 0 {
		a, err := allocBlock(t.cache, t.log, t.sb, dev)
		if err != nil {
			t.cache.Release(bp)
			return 0, err
		}
		putLE32(bp.Data[bn*4:bn*4+4], a)
		t.log.Write(bp)
		v = a
	}
	t.cache.Release(bp)
	return v, nil
}

// truncate frees every data block (direct, single- and double-indirect)
// belonging to ip and resets Size to zero. Caller must hold ip's lock
// (kernel/fs.c's itrunc).
func (ip *Inode) truncate() error {
	t := ip.table

	for i := 0; i < NDirect; i++ {
		if ip.dinode.Blocks[i] != 0 {
			if err := freeBlock(t.cache, t.log, t.sb, ip.Dev, ip.dinode.Blocks[i]); err != nil {
				return err
			}
			ip.dinode.Blocks[i] = 0
		}
	}

	if ip.dinode.Blocks[NDirect] != 0 {
		if err := freeIndirect(t, ip.Dev, ip.dinode.Blocks[NDirect], false); err != nil {
			return err
		}
		ip.dinode.Blocks[NDirect] = 0
	}

	if ip.dinode.Blocks[NDirect+1] != 0 {
		if err := freeIndirect(t, ip.Dev, ip.dinode.Blocks[NDirect+1], true); err != nil {
			return err
		}
		ip.dinode.Blocks[NDirect+1] = 0
	}

	ip.dinode.Size = 0
	return ip.updateLocked()
}

// freeIndirect frees every non-zero pointer stored in the indirect block at
// device block ibn, then the block itself. When double is set, each pointer
// names a second-level indirect block rather than a data block.
func freeIndirect(t *InodeTable, dev uint32, ibn uint32, double bool) error {
	bp, err := t.cache.Get(dev, ibn)
	if err != nil {
		return err
	}
	ptrs := make([]uint32, NIndirect)
	for i := range ptrs {
		ptrs[i] = getLE32(bp.Data[i*4 : i*4+4])
	}
	t.cache.Release(bp)

	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		if double {
			if err := freeIndirect(t, dev, p, false); err != nil {
				return err
			}
		} else {
			if err := freeBlock(t.cache, t.log, t.sb, dev, p); err != nil {
				return err
			}
		}
	}
	return freeBlock(t.cache, t.log, t.sb, dev, ibn)
}

// reachableBlocks returns every data and intermediate-indirect block number
// referenced by ip's block-pointer tree, without allocating anything
// (fsck.go's bitmap-vs-reachable cross-check). Caller must hold ip's lock.
func (ip *Inode) reachableBlocks() ([]uint32, error) {
	t := ip.table
	var out []uint32

	for i := 0; i < NDirect; i++ {
		if ip.dinode.Blocks[i] != 0 {
			out = append(out, ip.dinode.Blocks[i])
		}
	}

	if ib := ip.dinode.Blocks[NDirect]; ib != 0 {
		out = append(out, ib)
		children, err := readIndirectPointers(t, ip.Dev, ib)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if c != 0 {
				out = append(out, c)
			}
		}
	}

	if db := ip.dinode.Blocks[NDirect+1]; db != 0 {
		out = append(out, db)
		firstLevel, err := readIndirectPointers(t, ip.Dev, db)
		if err != nil {
			return nil, err
		}
		for _, ib := range firstLevel {
			if ib == 0 {
				continue
			}
			out = append(out, ib)
			children, err := readIndirectPointers(t, ip.Dev, ib)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if c != 0 {
					out = append(out, c)
				}
			}
		}
	}

	return out, nil
}

// readIndirectPointers returns the NIndirect raw pointers stored in the
// indirect block at device block ibn, without allocating.
func readIndirectPointers(t *InodeTable, dev uint32, ibn uint32) ([]uint32, error) {
	bp, err := t.cache.Get(dev, ibn)
	if err != nil {
		return nil, err
	}
	ptrs := make([]uint32, NIndirect)
	for i := range ptrs {
		ptrs[i] = getLE32(bp.Data[i*4 : i*4+4])
	}
	t.cache.Release(bp)
	return ptrs, nil
}

// ReadAt reads len(p) bytes starting at off into p, returning the number of
// bytes actually read (short when off+len(p) exceeds the file's Size). Caller
// must hold ip's lock.
func (ip *Inode) ReadAt(p []byte, off uint32) (int, error) {
	if ip.dinode.Type == TypeDevice {
		return 0, ErrNotReadable
	}
	if off > ip.dinode.Size {
		return 0, nil
	}
	if off+uint32(len(p)) > ip.dinode.Size {
		p = p[:ip.dinode.Size-off]
	}

	t := ip.table
	n := 0
	for n < len(p) {
		bn := (off + uint32(n)) / DefaultBlockSize
		boff := (off + uint32(n)) % DefaultBlockSize
		dbn, err := ip.bmap(bn)
		if err != nil {
			return n, err
		}
		bp, err := t.cache.Get(ip.Dev, dbn)
		if err != nil {
			return n, err
		}
		m := copy(p[n:], bp.Data[boff:])
		t.cache.Release(bp)
		n += m
	}
	return n, nil
}

// WriteAt writes len(p) bytes from p to ip's file starting at off, growing
// the file (and, if needed, its block-pointer tree) as necessary, bounded by
// MaxFile blocks. Caller must hold ip's lock and must be inside a Log
// transaction.
func (ip *Inode) WriteAt(p []byte, off uint32) (int, error) {
	if ip.dinode.Type == TypeDevice {
		return 0, ErrNotWritable
	}
	if off+uint32(len(p)) < off {
		return 0, ErrFileTooBig
	}
	if off+uint32(len(p)) > uint32(MaxFile)*DefaultBlockSize {
		return 0, ErrFileTooBig
	}

	t := ip.table
	n := 0
	for n < len(p) {
		bn := (off + uint32(n)) / DefaultBlockSize
		boff := (off + uint32(n)) % DefaultBlockSize
		dbn, err := ip.bmap(bn)
		if err != nil {
			return n, err
		}
		bp, err := t.cache.Get(ip.Dev, dbn)
		if err != nil {
			return n, err
		}
		m := copy(bp.Data[boff:], p[n:])
		t.log.Write(bp)
		t.cache.Release(bp)
		n += m
	}
	if off+uint32(n) > ip.dinode.Size {
		ip.dinode.Size = off + uint32(n)
	}
	ip.dinode.Mtime = t.clock.Tick()
	return n, ip.updateLocked()
}
