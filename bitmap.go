package blockfs

// allocBlock finds a free data block, marks it used in the on-disk bitmap, and
// returns its absolute device block number (sb.DataStart() + the index the
// bitmap tracks). The bitmap write goes through log so it commits atomically
// with whatever the caller is about to store in the block (spec.md §4.3 /
// kernel/fs.c's balloc). Bit i of the bitmap tracks data block i, i.e. the
// block at absolute address sb.DataStart()+i — see bitToAbs/absToBit.
func allocBlock(cache *Cache, log *Log, sb *Superblock, dev uint32) (uint32, error) {
	for b := uint32(0); b < sb.DataBlocks; b += sb.BPB() {
		bp, err := cache.Get(dev, sb.BBlock(b))
		if err != nil {
			return 0, err
		}
		for bi := uint32(0); bi < sb.BPB() && b+bi < sb.DataBlocks; bi++ {
			m := byte(1) << (bi % 8)
			idx := bi / 8
			if bp.Data[idx]&m == 0 {
				bp.Data[idx] |= m
				log.Write(bp)
				cache.Release(bp)
				abs := bitToAbs(sb, b+bi)
				if err := zeroBlock(cache, log, dev, abs); err != nil {
					return 0, err
				}
				return abs, nil
			}
		}
		cache.Release(bp)
	}
	return 0, ErrNoSpace
}

// freeBlock clears the bitmap bit for data block bno, an absolute device
// block number as returned by allocBlock.
func freeBlock(cache *Cache, log *Log, sb *Superblock, dev uint32, bno uint32) error {
	i := absToBit(sb, bno)
	bp, err := cache.Get(dev, sb.BBlock(i))
	if err != nil {
		return err
	}
	defer cache.Release(bp)

	bi := i % sb.BPB()
	m := byte(1) << (bi % 8)
	idx := bi / 8
	if bp.Data[idx]&m == 0 {
		fatal("bitmap: freeing already-free block %d", bno)
	}
	bp.Data[idx] &^= m
	log.Write(bp)
	return nil
}

// bitIsSet reports whether data block bno (an absolute device block number)
// is marked in-use in the free bitmap, for read-only consistency checks
// (fsck.go).
func bitIsSet(cache *Cache, sb *Superblock, dev uint32, bno uint32) (bool, error) {
	i := absToBit(sb, bno)
	bp, err := cache.Get(dev, sb.BBlock(i))
	if err != nil {
		return false, err
	}
	defer cache.Release(bp)
	bi := i % sb.BPB()
	m := byte(1) << (bi % 8)
	idx := bi / 8
	return bp.Data[idx]&m != 0, nil
}

// bitToAbs converts a bitmap bit index (0..sb.DataBlocks) to the absolute
// device block number it tracks.
func bitToAbs(sb *Superblock, i uint32) uint32 {
	return sb.DataStart() + i
}

// absToBit is bitToAbs's inverse.
func absToBit(sb *Superblock, abs uint32) uint32 {
	return abs - sb.DataStart()
}

// zeroBlock clears a freshly allocated data block so stale data from a
// previous occupant never leaks to a new file.
func zeroBlock(cache *Cache, log *Log, dev uint32, bno uint32) error {
	bp, err := cache.Get(dev, bno)
	if err != nil {
		return err
	}
	for i := range bp.Data {
		bp.Data[i] = 0
	}
	log.Write(bp)
	cache.Release(bp)
	return nil
}
