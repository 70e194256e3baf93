package blockfs

// Option configures an FS at Mount time.
type Option func(*mountConfig) error

type mountConfig struct {
	nbuf        int
	ninode      int
	nfile       int
	maxOpBlocks int
}

func defaultMountConfig() *mountConfig {
	return &mountConfig{
		nbuf:        NBuf,
		ninode:      NInode,
		nfile:       NFile,
		maxOpBlocks: MaxOpBlocks,
	}
}

// WithNBuf overrides the size of the buffer cache pool (default NBuf).
func WithNBuf(n int) Option {
	return func(c *mountConfig) error {
		if n <= 0 {
			return ErrInvalidFlags
		}
		c.nbuf = n
		return nil
	}
}

// WithNInode overrides the size of the in-memory inode table (default NInode).
func WithNInode(n int) Option {
	return func(c *mountConfig) error {
		if n <= 0 {
			return ErrInvalidFlags
		}
		c.ninode = n
		return nil
	}
}

// WithNFile overrides the size of the open-file table (default NFile).
func WithNFile(n int) Option {
	return func(c *mountConfig) error {
		if n <= 0 {
			return ErrInvalidFlags
		}
		c.nfile = n
		return nil
	}
}

// WithMaxOpBlocks overrides the per-operation block budget BeginOp's admission
// check reserves against the log's capacity (default MaxOpBlocks). A log
// region shrunk with WithLogBlocks below MaxOpBlocks needs a matching smaller
// budget here, or no operation will ever be admitted.
func WithMaxOpBlocks(n int) Option {
	return func(c *mountConfig) error {
		if n <= 0 {
			return ErrInvalidFlags
		}
		c.maxOpBlocks = n
		return nil
	}
}

// FormatOption configures Format at mkfs time.
type FormatOption func(*formatConfig) error

type formatConfig struct {
	blockSize  uint32
	dataBlocks uint32
	inodes     uint32
	logBlocks  uint32
}

func defaultFormatConfig() *formatConfig {
	return &formatConfig{
		blockSize:  DefaultBlockSize,
		dataBlocks: 1024,
		inodes:     200,
		logBlocks:  LogSize,
	}
}

// WithDataBlocks sets the number of data blocks to reserve (default 1024).
func WithDataBlocks(n uint32) FormatOption {
	return func(c *formatConfig) error {
		if n == 0 {
			return ErrInvalidFlags
		}
		c.dataBlocks = n
		return nil
	}
}

// WithInodeCount sets the number of on-disk inode slots to reserve (default 200).
func WithInodeCount(n uint32) FormatOption {
	return func(c *formatConfig) error {
		if n == 0 {
			return ErrInvalidFlags
		}
		c.inodes = n
		return nil
	}
}

// WithLogBlocks sets the number of data slots in the log region, not counting the
// header block (default LogSize).
func WithLogBlocks(n uint32) FormatOption {
	return func(c *formatConfig) error {
		if n == 0 || n > LogSize {
			return ErrInvalidFlags
		}
		c.logBlocks = n
		return nil
	}
}
