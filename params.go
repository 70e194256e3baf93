package blockfs

// Fixed parameters of the on-disk format and the runtime pools, grounded on
// kernel/fs.h and kernel/param.h in _examples/original_source.
const (
	// DefaultBlockSize is B, the size in bytes of a block (spec.md §3).
	DefaultBlockSize = 1024

	// RootDev and RootIno identify the root directory (spec.md §6).
	RootDev = 1
	RootIno = 1

	// NDirect is the number of direct block pointers in a dinode's address array.
	NDirect = 11
	// NIndirect is the number of pointers that fit in one block (B/4).
	NIndirect = DefaultBlockSize / 4
	// MaxFile is the largest logical block count a file may reach: direct +
	// single-indirect + double-indirect.
	MaxFile = NDirect + NIndirect + NIndirect*NIndirect

	// DirSiz is the fixed width, in bytes, of a directory entry's name field.
	DirSiz = 14

	// LogSize is the number of data slots reserved in the log region, not counting
	// the header block.
	LogSize = 30
	// MaxOpBlocks is the upper bound on distinct blocks a single operation may
	// enrol in the log.
	MaxOpBlocks = 10

	// NBuf is the default size of the buffer cache pool.
	NBuf = 64
	// NBucket is the number of hash buckets partitioning the buffer cache; must
	// stay prime (spec.md §4.1).
	NBucket = 13

	// NInode is the default size of the in-memory inode table.
	NInode = 64
	// NFile is the default size of the open-file table.
	NFile = 128

	// MaxSymlinkDepth bounds symlink chase recursion (spec.md §4.6).
	MaxSymlinkDepth = 10

	// MaxWriteBytes bounds how many bytes File.Write enrolls in a single log
	// transaction, accounting for the inode block, one indirect block, block
	// allocation writes, and a small alignment slack (spec.md §4.7).
	MaxWriteBytes = ((MaxOpBlocks - 4) / 2) * DefaultBlockSize

	// FSMagic is the superblock's magic number (spec.md §6).
	FSMagic = 0x10203040

	// dinodeSize is the on-disk size, in bytes, of one dinode record: Type, Major,
	// Minor, Nlink (uint16), Size, Atime, Mtime (uint32), plus (NDirect+2) uint32
	// block pointers.
	dinodeSize = 2 + 2 + 2 + 2 + 4 + 4 + 4 + (NDirect+2)*4
)
