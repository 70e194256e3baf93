package blockfs

import (
	"io"
	"sync"
)

// fileKind distinguishes what a File's underlying resource is: an inode or a
// pipe (spec.md §4.7 / kernel/file.h's FD_* enum). There is no separate device
// kind; a device inode is opened as an inode-backed File, whose reads and
// writes Inode.ReadAt/WriteAt reject.
type fileKind int

const (
	fileKindNone fileKind = iota
	fileKindInode
	fileKindPipe
)

// File is an open file object: the shared state behind every file descriptor
// that refers to it, mirroring kernel/file.h's struct file. Two descriptors
// created by Dup share one *File and therefore one offset.
type File struct {
	mu      sync.Mutex
	kind    fileKind
	readOK  bool
	writeOK bool
	refs    int

	ip     *Inode
	off    uint32
	pp     *pipe
	pipeWr bool

	table *FileTable
}

// FileTable is the open-file table (spec.md §4.7 / kernel/file.c's global
// ftable): a fixed pool of File slots shared by every descriptor across the
// mounted filesystem.
type FileTable struct {
	mu    sync.Mutex
	files []*File
	root  *Inode
	log   *Log
}

// NewFileTable builds a table of n slots (NFile if n<=0).
func NewFileTable(root *Inode, log *Log, n int) *FileTable {
	if n <= 0 {
		n = NFile
	}
	t := &FileTable{root: root, log: log}
	t.files = make([]*File, n)
	for i := range t.files {
		t.files[i] = &File{table: t}
	}
	return t
}

// Alloc reserves a free File slot and returns it with refs=1, or ErrNoFiles if
// the table is full (kernel/file.c's filealloc).
func (t *FileTable) Alloc() (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		if f.refs == 0 {
			f.refs = 1
			f.kind = fileKindNone
			f.ip = nil
			f.pp = nil
			f.off = 0
			return f, nil
		}
	}
	return nil, ErrNoFiles
}

// AllocInode allocates a File slot backing the given Inode, with the given
// read/write permissions. The caller transfers ownership of one reference to
// ip into the returned File.
func (t *FileTable) AllocInode(ip *Inode, readOK, writeOK bool) (*File, error) {
	f, err := t.Alloc()
	if err != nil {
		return nil, err
	}
	f.kind = fileKindInode
	f.ip = ip
	f.readOK = readOK
	f.writeOK = writeOK
	return f, nil
}

// AllocPipe allocates a pair of File slots sharing a new pipe, one for
// reading and one for writing (kernel/pipe.c's pipealloc).
func (t *FileTable) AllocPipe() (read, write *File, err error) {
	read, err = t.Alloc()
	if err != nil {
		return nil, nil, err
	}
	write, err = t.Alloc()
	if err != nil {
		read.Close()
		return nil, nil, err
	}
	pp := newPipe()
	read.kind = fileKindPipe
	read.pp = pp
	read.pipeWr = false
	read.readOK = true
	write.kind = fileKindPipe
	write.pp = pp
	write.pipeWr = true
	write.writeOK = true
	return read, write, nil
}

// Dup increments f's reference count and returns f (kernel/file.c's
// filedup).
func (f *File) Dup() *File {
	f.table.mu.Lock()
	f.refs++
	f.table.mu.Unlock()
	return f
}

// Close drops the caller's reference to f. When the last reference goes away,
// the underlying inode is Put inside its own log transaction, or the pipe end
// is closed (kernel/file.c's fileclose). Close must not be called from inside
// a BeginOp/EndOp pair.
func (f *File) Close() error {
	f.table.mu.Lock()
	f.refs--
	if f.refs > 0 {
		f.table.mu.Unlock()
		return nil
	}
	kind, ip, pp, pipeWr := f.kind, f.ip, f.pp, f.pipeWr
	f.kind = fileKindNone
	f.ip = nil
	f.pp = nil
	f.table.mu.Unlock()

	switch kind {
	case fileKindInode:
		// the last Put of an unlinked inode truncates it, so it runs inside
		// a log transaction.
		f.table.log.BeginOp()
		err := ip.Put()
		if endErr := f.table.log.EndOp(); err == nil {
			err = endErr
		}
		return err
	case fileKindPipe:
		if pipeWr {
			pp.CloseWrite()
		} else {
			pp.CloseRead()
		}
	}
	return nil
}

// Read reads into p starting at f's current offset (for inode files) or from
// the pipe (kernel/file.c's fileread).
func (f *File) Read(p []byte) (int, error) {
	if !f.readOK {
		return 0, ErrNotReadable
	}
	switch f.kind {
	case fileKindPipe:
		return f.pp.Read(p)
	case fileKindInode:
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.ip.Lock(); err != nil {
			return 0, err
		}
		defer f.ip.Unlock()
		n, err := f.ip.ReadAt(p, f.off)
		f.off += uint32(n)
		if err == nil && n == 0 && len(p) > 0 {
			err = io.EOF
		}
		return n, err
	}
	return 0, ErrBadFD
}

// Write writes p at f's current offset, chunking inode writes to
// MaxWriteBytes per transaction so a single large write never overflows the
// log (spec.md §4.7 / kernel/file.c's filewrite).
func (f *File) Write(p []byte) (int, error) {
	if !f.writeOK {
		return 0, ErrNotWritable
	}
	switch f.kind {
	case fileKindPipe:
		return f.pp.Write(p)
	case fileKindInode:
		return f.writeInode(p)
	}
	return 0, ErrBadFD
}

func (f *File) writeInode(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for total < len(p) {
		chunk := p[total:]
		if len(chunk) > MaxWriteBytes {
			chunk = chunk[:MaxWriteBytes]
		}

		f.table.log.BeginOp()
		if err := f.ip.Lock(); err != nil {
			f.table.log.EndOp()
			return total, err
		}
		n, err := f.ip.WriteAt(chunk, f.off)
		f.ip.Unlock()
		endErr := f.table.log.EndOp()
		if err != nil {
			return total, err
		}
		if endErr != nil {
			return total, endErr
		}

		f.off += uint32(n)
		total += n
		if n != len(chunk) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Seek repositions f's offset for inode-backed files; pipes don't support it.
func (f *File) Seek(off int64, whence int) (int64, error) {
	if f.kind != fileKindInode {
		return 0, ErrBadFD
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(f.off)
	case io.SeekEnd:
		if err := f.ip.Lock(); err != nil {
			return 0, err
		}
		base = int64(f.ip.dinode.Size)
		f.ip.Unlock()
	}
	n := base + off
	if n < 0 {
		return 0, ErrInvalidFlags
	}
	f.off = uint32(n)
	return n, nil
}

// Stat reports f's inode metadata. Only valid for inode-backed files.
func (f *File) Stat() (*Stat, error) {
	if f.kind != fileKindInode {
		return nil, ErrBadFD
	}
	if err := f.ip.Lock(); err != nil {
		return nil, err
	}
	defer f.ip.Unlock()
	return statFromInode(f.ip), nil
}
