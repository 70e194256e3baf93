package blockfs

import "math"

// Format builds a fresh filesystem image on dev: a superblock, a zeroed log
// region, an inode table with the root directory allocated, and a free
// bitmap in which only the root directory's data block is marked used; the
// bitmap covers data blocks only, not the metadata regions before them
// (spec.md §4.8 / kernel/mkfs.c).
// dev's BlockSize must equal DefaultBlockSize.
func Format(dev Device, opts ...FormatOption) error {
	cfg := defaultFormatConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return err
		}
	}
	if dev.BlockSize() != DefaultBlockSize {
		return ErrInvalidFlags
	}

	ipb := uint32(DefaultBlockSize / dinodeSize)
	nInodeBlocks := (cfg.inodes + ipb - 1) / ipb
	bpb := uint32(DefaultBlockSize * 8)
	nBitmapBlocks := (cfg.dataBlocks + bpb - 1) / bpb

	logStart := uint32(2) // block 0 unused, block 1 superblock
	inodeStart := logStart + cfg.logBlocks + 1
	bitmapStart := inodeStart + nInodeBlocks
	dataStart := bitmapStart + nBitmapBlocks
	total := dataStart + cfg.dataBlocks

	if total > math.MaxUint32/2 {
		return ErrFileTooBig
	}

	zero := make([]byte, DefaultBlockSize)
	for b := uint32(0); b < total; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return err
		}
	}

	sb := &Superblock{
		Magic:       FSMagic,
		Size:        total,
		DataBlocks:  cfg.dataBlocks,
		InodeCount:  cfg.inodes,
		LogLen:      cfg.logBlocks + 1,
		LogStart:    logStart,
		InodeStart:  inodeStart,
		BitmapStart: bitmapStart,
	}
	if err := sb.WriteTo(dev); err != nil {
		return err
	}

	root := dinode{Type: TypeDir, Nlink: 1}
	rootBlock, err := rawAllocDataBlock(dev, sb)
	if err != nil {
		return err
	}
	root.Blocks[0] = rootBlock

	dirBuf := make([]byte, DefaultBlockSize)
	self := dirent{Ino: RootIno, Name: direntName(".")}
	self.marshal(dirBuf[0:direntSize])
	parent := dirent{Ino: RootIno, Name: direntName("..")}
	parent.marshal(dirBuf[direntSize : 2*direntSize])
	if err := dev.WriteBlock(rootBlock, dirBuf); err != nil {
		return err
	}
	root.Size = 2 * direntSize

	return writeRawDinode(dev, sb, RootIno, &root)
}

// rawAllocDataBlock finds and marks the first free data block, without a Log
// or Cache, for use during Format before either exists. Returns the block's
// absolute device block number (sb.DataStart()+bit index), matching what
// allocBlock returns once the filesystem is mounted.
func rawAllocDataBlock(dev Device, sb *Superblock) (uint32, error) {
	for b := uint32(0); b < sb.DataBlocks; b++ {
		blk := sb.BBlock(b)
		buf := make([]byte, DefaultBlockSize)
		if err := dev.ReadBlock(blk, buf); err != nil {
			return 0, err
		}
		bi := b % sb.BPB()
		if buf[bi/8]&(1<<(bi%8)) == 0 {
			buf[bi/8] |= 1 << (bi % 8)
			if err := dev.WriteBlock(blk, buf); err != nil {
				return 0, err
			}
			return bitToAbs(sb, b), nil
		}
	}
	return 0, ErrNoSpace
}

// writeRawDinode writes d to inode slot inum's on-disk record, without a Log.
func writeRawDinode(dev Device, sb *Superblock, inum uint32, d *dinode) error {
	blk := sb.IBlock(inum)
	buf := make([]byte, DefaultBlockSize)
	if err := dev.ReadBlock(blk, buf); err != nil {
		return err
	}
	off := (inum % sb.IPB()) * dinodeSize
	d.marshal(buf[off : off+dinodeSize])
	return dev.WriteBlock(blk, buf)
}
