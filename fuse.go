//go:build fuse

package blockfs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// node is a FUSE InodeEmbedder backed by one blockfs.Inode, letting a mounted
// FS be exposed to the kernel's VFS through hanwen/go-fuse's high-level node
// API (spec.md §5's optional FUSE frontend).
type node struct {
	fs.Inode

	root *Root
	ip   *Inode
}

// Root holds the mounted FS that every node of one FUSE mount operates on;
// one Root backs exactly one FUSE mount.
type Root struct {
	FS *FS
}

var _ = (fs.NodeLookuper)((*node)(nil))
var _ = (fs.NodeGetattrer)((*node)(nil))
var _ = (fs.NodeReaddirer)((*node)(nil))
var _ = (fs.NodeOpener)((*node)(nil))
var _ = (fs.NodeReadlinker)((*node)(nil))
var _ = (fs.NodeMkdirer)((*node)(nil))
var _ = (fs.NodeMknoder)((*node)(nil))
var _ = (fs.NodeSymlinker)((*node)(nil))
var _ = (fs.NodeUnlinker)((*node)(nil))
var _ = (fs.NodeCreater)((*node)(nil))

// NewRoot wraps an already-mounted FS for use as a go-fuse root.
func NewRoot(fsys *FS) *Root {
	return &Root{FS: fsys}
}

func (r *Root) newNode(ip *Inode) *node {
	return &node{root: r, ip: ip}
}

func (n *node) fsys() *FS {
	return n.root.FS
}

func errnoFor(err error) syscall.Errno {
	switch err {
	case nil:
		return fs.OK
	case ErrNotExist:
		return syscall.ENOENT
	case ErrExist:
		return syscall.EEXIST
	case ErrNotDir:
		return syscall.ENOTDIR
	case ErrIsDir:
		return syscall.EISDIR
	case ErrNotEmpty:
		return syscall.ENOTEMPTY
	case ErrNameTooLong:
		return syscall.ENAMETOOLONG
	case ErrNoSpace:
		return syscall.ENOSPC
	case ErrNoInodes, ErrNoFiles:
		return syscall.ENFILE
	case ErrFileTooBig:
		return syscall.EFBIG
	case ErrCrossDevice:
		return syscall.EXDEV
	default:
		return syscall.EIO
	}
}

func attrFromStat(out *fuse.Attr, st *Stat) {
	out.Ino = uint64(st.Ino)
	out.Size = uint64(st.Size)
	out.Mode = ModeToUnix(st.Mode())
	out.Nlink = uint32(st.Nlink)
	out.Atime = uint64(st.Atime)
	out.Mtime = uint64(st.Mtime)
	out.Ctime = uint64(st.Mtime)
	out.Rdev = uint32(st.Major)<<8 | uint32(st.Minor)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := n.ip.Lock(); err != nil {
		return nil, errnoFor(err)
	}
	child, _, err := dirLookup(n.ip, name)
	n.ip.Unlock()
	if err != nil {
		return nil, errnoFor(err)
	}
	if err := child.Lock(); err != nil {
		child.Put()
		return nil, errnoFor(err)
	}
	attrFromStat(&out.Attr, statFromInode(child))
	child.Unlock()

	cn := n.root.newNode(child)
	return n.NewInode(ctx, cn, fs.StableAttr{Mode: uint32(child.dinode.Type.Mode()), Ino: uint64(child.Ino)}), fs.OK
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if err := n.ip.Lock(); err != nil {
		return errnoFor(err)
	}
	attrFromStat(&out.Attr, statFromInode(n.ip))
	n.ip.Unlock()
	return fs.OK
}

type dirStream struct {
	entries []DirEntry
	i       int
}

func (s *dirStream) HasNext() bool { return s.i < len(s.entries) }
func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := s.entries[s.i]
	s.i++
	return fuse.DirEntry{Ino: uint64(e.Ino), Mode: uint32(e.Type.Mode()), Name: e.Name}, fs.OK
}
func (s *dirStream) Close() {}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if err := n.ip.Lock(); err != nil {
		return nil, errnoFor(err)
	}
	entries, err := ReadDir(n.ip)
	n.ip.Unlock()
	if err != nil {
		return nil, errnoFor(err)
	}
	return &dirStream{entries: entries}, fs.OK
}

type fileHandle struct {
	f *File
}

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if _, err := fh.f.Seek(off, 0); err != nil {
		return nil, errnoFor(err)
	}
	n, err := fh.f.Read(dest)
	if err != nil && n == 0 {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:n]), fs.OK
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if _, err := fh.f.Seek(off, 0); err != nil {
		return 0, errnoFor(err)
	}
	n, err := fh.f.Write(data)
	if err != nil {
		return uint32(n), errnoFor(err)
	}
	return uint32(n), fs.OK
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f, err := n.fsys().Files.AllocInode(n.ip.Dup(), true, true)
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	return &fileHandle{f: f}, 0, fs.OK
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if err := n.ip.Lock(); err != nil {
		return nil, errnoFor(err)
	}
	defer n.ip.Unlock()
	buf := make([]byte, n.ip.dinode.Size)
	if _, err := n.ip.ReadAt(buf, 0); err != nil {
		return nil, errnoFor(err)
	}
	return buf, fs.OK
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := n.fsys().Mkdir(n.ip, name); err != nil {
		return nil, errnoFor(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *node) Mknod(ctx context.Context, name string, mode, rdev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := n.fsys().Mknod(n.ip, name, uint16(rdev>>8), uint16(rdev)); err != nil {
		return nil, errnoFor(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := n.fsys().Symlink(n.ip, name, target); err != nil {
		return nil, errnoFor(err)
	}
	return n.Lookup(ctx, name, out)
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.fsys().Unlink(n.ip, name))
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	f, err := n.fsys().Open(n.ip, name, OCreate|ORDWR)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	child := n.fsys().Inode.Get(n.ip.Dev, st.Ino)
	attrFromStat(&out.Attr, st)
	cn := n.root.newNode(child)
	inode := n.NewInode(ctx, cn, fs.StableAttr{Mode: uint32(st.Type.Mode()), Ino: uint64(st.Ino)})
	return inode, &fileHandle{f: f}, 0, fs.OK
}
