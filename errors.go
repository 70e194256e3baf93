package blockfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrBadMagic is returned when a superblock's magic number doesn't match FSMagic.
	ErrBadMagic = errors.New("blockfs: bad superblock magic")

	// ErrNotDir is returned when a directory operation is attempted on a non-directory inode.
	ErrNotDir = errors.New("blockfs: not a directory")

	// ErrIsDir is returned when an operation that forbids directories is attempted on one.
	ErrIsDir = errors.New("blockfs: is a directory")

	// ErrNotExist is returned when a path component cannot be found.
	ErrNotExist = errors.New("blockfs: no such file or directory")

	// ErrExist is returned when create() finds an existing, incompatible entry.
	ErrExist = errors.New("blockfs: file exists")

	// ErrNotEmpty is returned when unlinking a non-empty directory.
	ErrNotEmpty = errors.New("blockfs: directory not empty")

	// ErrNameTooLong is returned when a path component doesn't fit DirSiz bytes.
	// The original kernel silently truncates; this is rejected instead so a caller
	// never gets back an entry whose name doesn't match what it asked for.
	ErrNameTooLong = errors.New("blockfs: name too long")

	// ErrCrossDevice is returned by Link when old and new resolve to different devices.
	ErrCrossDevice = errors.New("blockfs: cross-device link")

	// ErrFileTooBig is returned when a write would grow a file past MaxFile*BlockSize.
	ErrFileTooBig = errors.New("blockfs: file too big")

	// ErrBadFD is returned for operations on an invalid or closed file descriptor.
	ErrBadFD = errors.New("blockfs: bad file descriptor")

	// ErrNotReadable / ErrNotWritable are returned when a file's open mode forbids the
	// requested operation.
	ErrNotReadable = errors.New("blockfs: file not open for reading")
	ErrNotWritable = errors.New("blockfs: file not open for writing")

	// ErrNoInodes / ErrNoSpace / ErrNoFiles / ErrDirFull are resource-exhaustion errors
	// (spec.md §7.2): surfaced to the caller, not fatal.
	ErrNoInodes = errors.New("blockfs: no free inodes")
	ErrNoSpace  = errors.New("blockfs: no free blocks")
	ErrNoFiles  = errors.New("blockfs: file table full")
	ErrDirFull  = errors.New("blockfs: directory cannot be extended")

	// ErrTooManySymlinks caps symlink chase depth (spec.md §4.6).
	ErrTooManySymlinks = errors.New("blockfs: too many levels of symbolic links")

	// ErrNotSymlink is returned when NoFollow-style operations target a non-symlink.
	ErrNotSymlink = errors.New("blockfs: not a symbolic link")

	// ErrPipeClosed is returned by Write on a pipe whose read side has closed.
	ErrPipeClosed = errors.New("blockfs: pipe closed")

	// ErrInvalidFlags is returned when open flags are mutually exclusive or malformed.
	ErrInvalidFlags = errors.New("blockfs: invalid open flags")

	// ErrShortIO is returned when a Device implementation transfers fewer than
	// BlockSize bytes without an error — spec.md §6 forbids partial block I/O.
	ErrShortIO = errors.New("blockfs: short block I/O")
)
