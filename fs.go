package blockfs

import "io/fs"

// Stat is the metadata FS.Fstat and File.Stat return for an inode
// (spec.md §6).
type Stat struct {
	Dev   uint32
	Ino   uint32
	Type  Type
	Nlink uint16
	Size  uint32
	Major uint16
	Minor uint16
	Atime uint32
	Mtime uint32
}

func statFromInode(ip *Inode) *Stat {
	return &Stat{
		Dev:   ip.Dev,
		Ino:   ip.Ino,
		Type:  ip.dinode.Type,
		Nlink: ip.dinode.Nlink,
		Size:  ip.dinode.Size,
		Major: ip.dinode.Major,
		Minor: ip.dinode.Minor,
		Atime: ip.dinode.Atime,
		Mtime: ip.dinode.Mtime,
	}
}

// Mode returns an fs.FileMode reflecting s's type bits, for callers that want
// to present a Stat as an fs.FileInfo-shaped value.
func (s *Stat) Mode() fs.FileMode {
	return s.Type.Mode()
}

// FS is the mounted filesystem: the facade wiring a Device to the buffer
// cache, log, inode table and file table above it, and the entry point for
// every path-based operation (spec.md §2/§6). One FS corresponds to one
// mounted device; it is not a process abstraction, so there is no per-FS
// notion of "current user" the way the kernel this is modeled on has one.
type FS struct {
	dev   Device
	devNo uint32

	Cache *Cache
	Log   *Log
	Inode *InodeTable
	Files *FileTable
	sb    *Superblock
	clock Clock

	root *Inode
}

// Mount opens an already-formatted device, replays any pending log
// transaction, and returns a ready-to-use FS.
func Mount(dev Device, opts ...Option) (*FS, error) {
	cfg := defaultMountConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}

	const devNo = RootDev
	sb, err := ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}

	cache := NewCache(dev, cfg.nbuf)
	log := NewLog(cache, devNo, int(sb.LogStart), int(sb.LogLen)-1)
	log.SetMaxOpBlocks(cfg.maxOpBlocks)
	if err := log.Recover(sb); err != nil {
		return nil, err
	}

	clock := newSystemClock()
	inodes := NewInodeTable(cache, log, sb, devNo, clock, cfg.ninode)
	root := inodes.Get(devNo, RootIno)

	fsys := &FS{
		dev:   dev,
		devNo: devNo,
		Cache: cache,
		Log:   log,
		Inode: inodes,
		sb:    sb,
		clock: clock,
		root:  root,
	}
	fsys.Files = NewFileTable(root, log, cfg.nfile)
	return fsys, nil
}

// cwdOrRoot resolves a caller-supplied cwd, defaulting to the mount's root
// when nil so every path-based FS method accepts cwd==nil for an absolute or
// root-relative path.
func (f *FS) cwdOrRoot(cwd *Inode) *Inode {
	if cwd == nil {
		return f.root
	}
	return cwd
}

// Open resolves path under cwd (FS.Root() if cwd is nil) and returns a *File
// for it, creating it first if OCreate is set and it doesn't already exist
// (spec.md §6 / kernel/sysfile.c's sys_open).
func (f *FS) Open(cwd *Inode, path string, flags OpenFlags) (*File, error) {
	cwd = f.cwdOrRoot(cwd)

	f.Log.BeginOp()
	defer f.Log.EndOp()

	var ip *Inode
	var err error

	if flags.Has(OCreate) {
		ip, err = f.create(cwd, path, TypeFile, 0, 0)
		if err == ErrExist {
			if ip != nil {
				// create already found and returned a ref on the existing
				// regular file; reuse it instead of leaking it behind a
				// fresh lookup.
				err = nil
			} else if flags.Has(ONoFollow) {
				ip, err = LookupNoFollow(f.root, cwd, path)
			} else {
				ip, err = Lookup(f.root, cwd, path)
			}
		}
		if err != nil {
			return nil, err
		}
	} else {
		if flags.Has(ONoFollow) {
			ip, err = LookupNoFollow(f.root, cwd, path)
		} else {
			ip, err = Lookup(f.root, cwd, path)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := ip.Lock(); err != nil {
		ip.Put()
		return nil, err
	}

	if ip.dinode.Type.IsDir() && flags.writable() {
		ip.Unlock()
		ip.Put()
		return nil, ErrIsDir
	}
	if flags.Has(OTrunc) && ip.dinode.Type == TypeFile {
		if err := ip.truncate(); err != nil {
			ip.Unlock()
			ip.Put()
			return nil, err
		}
	}
	ip.Unlock()

	fh, err := f.Files.AllocInode(ip, flags.readable(), flags.writable())
	if err != nil {
		ip.Put()
		return nil, err
	}
	return fh, nil
}

// create implements the shared body of Open(OCreate), Mkdir, and Mknod:
// look up path's parent, fail if an entry of a different kind already exists
// there, otherwise allocate a fresh inode, link it in, and (for directories)
// populate "." and ".." (kernel/sysfile.c's create).
func (f *FS) create(cwd *Inode, path string, typ Type, major, minor uint16) (*Inode, error) {
	dp, name, err := LookupParent(f.root, f.cwdOrRoot(cwd), path)
	if err != nil {
		return nil, err
	}
	if err := dp.Lock(); err != nil {
		dp.Put()
		return nil, err
	}

	if existing, _, err := dirLookup(dp, name); err == nil {
		dp.Unlock()
		dp.Put()
		if err := existing.Lock(); err != nil {
			existing.Put()
			return nil, err
		}
		existingType := existing.dinode.Type
		existing.Unlock()
		if typ == TypeFile && existingType == TypeFile {
			return existing, ErrExist
		}
		existing.Put()
		return nil, ErrExist
	}

	ip, err := f.Inode.Alloc(typ)
	if err != nil {
		dp.Unlock()
		dp.Put()
		return nil, err
	}
	if err := ip.Lock(); err != nil {
		dp.Unlock()
		dp.Put()
		ip.Put()
		return nil, err
	}
	ip.dinode.Major = major
	ip.dinode.Minor = minor
	ip.dinode.Nlink = 1
	ip.dinode.Atime = f.clock.Tick()
	ip.dinode.Mtime = ip.dinode.Atime
	if err := ip.Update(); err != nil {
		ip.Unlock()
		ip.Put()
		dp.Unlock()
		dp.Put()
		return nil, err
	}

	if typ == TypeDir {
		dp.dinode.Nlink++
		if err := dp.Update(); err != nil {
			ip.Unlock()
			ip.Put()
			dp.Unlock()
			dp.Put()
			return nil, err
		}
		if err := dirLink(ip, ".", ip.Ino); err != nil {
			ip.Unlock()
			ip.Put()
			dp.Unlock()
			dp.Put()
			return nil, err
		}
		if err := dirLink(ip, "..", dp.Ino); err != nil {
			ip.Unlock()
			ip.Put()
			dp.Unlock()
			dp.Put()
			return nil, err
		}
	}

	if err := dirLink(dp, name, ip.Ino); err != nil {
		ip.Unlock()
		ip.Put()
		dp.Unlock()
		dp.Put()
		return nil, err
	}

	ip.Unlock()
	dp.Unlock()
	dp.Put()
	return ip, nil
}

// Mkdir creates a new, empty directory at path.
func (f *FS) Mkdir(cwd *Inode, path string) error {
	f.Log.BeginOp()
	defer f.Log.EndOp()
	ip, err := f.create(cwd, path, TypeDir, 0, 0)
	if err != nil {
		return err
	}
	return ip.Put()
}

// Mknod creates a device special file at path with the given major/minor.
func (f *FS) Mknod(cwd *Inode, path string, major, minor uint16) error {
	f.Log.BeginOp()
	defer f.Log.EndOp()
	ip, err := f.create(cwd, path, TypeDevice, major, minor)
	if err != nil {
		return err
	}
	return ip.Put()
}

// Symlink creates a symlink at path whose stored target is target
// (spec.md §4.6).
func (f *FS) Symlink(cwd *Inode, path, target string) error {
	f.Log.BeginOp()
	defer f.Log.EndOp()
	ip, err := f.create(cwd, path, TypeSymlink, 0, 0)
	if err != nil {
		return err
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return err
	}
	if _, err := ip.WriteAt([]byte(target), 0); err != nil {
		ip.Unlock()
		ip.Put()
		return err
	}
	ip.Unlock()
	return ip.Put()
}

// Readlink returns the target stored in the symlink at path (not followed).
func (f *FS) Readlink(cwd *Inode, path string) (string, error) {
	ip, err := LookupNoFollow(f.root, f.cwdOrRoot(cwd), path)
	if err != nil {
		return "", err
	}
	defer ip.Put()
	if err := ip.Lock(); err != nil {
		return "", err
	}
	defer ip.Unlock()
	if !ip.dinode.Type.IsSymlink() {
		return "", ErrNotSymlink
	}
	buf := make([]byte, ip.dinode.Size)
	if _, err := ip.ReadAt(buf, 0); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Link creates a new directory entry newPath for the existing file oldPath
// (spec.md §6 / kernel/sysfile.c's sys_link). Cross-device and directory
// hard links are rejected.
func (f *FS) Link(cwd *Inode, oldPath, newPath string) error {
	f.Log.BeginOp()
	defer f.Log.EndOp()

	ip, err := Lookup(f.root, f.cwdOrRoot(cwd), oldPath)
	if err != nil {
		return err
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return err
	}
	if ip.dinode.Type.IsDir() {
		ip.Unlock()
		ip.Put()
		return ErrIsDir
	}
	ip.dinode.Nlink++
	updErr := ip.Update()
	ip.Unlock()
	if updErr != nil {
		ip.Put()
		return updErr
	}

	if linkErr := f.linkInto(ip, cwd, newPath); linkErr != nil {
		ip.Lock()
		ip.dinode.Nlink--
		ip.Update()
		ip.Unlock()
		ip.Put()
		return linkErr
	}

	ip.Put()
	return nil
}

// linkInto adds a directory entry for ip at newPath, used by Link after it
// has already bumped ip's Nlink.
func (f *FS) linkInto(ip *Inode, cwd *Inode, newPath string) error {
	dp, name, err := LookupParent(f.root, f.cwdOrRoot(cwd), newPath)
	if err != nil {
		return err
	}
	if dp.Dev != ip.Dev {
		dp.Put()
		return ErrCrossDevice
	}
	if err := dp.Lock(); err != nil {
		dp.Put()
		return err
	}
	err = dirLink(dp, name, ip.Ino)
	dp.Unlock()
	dp.Put()
	return err
}

// Unlink removes the directory entry at path. If it was the last link (and no
// open File references remain), the inode's storage is reclaimed
// (spec.md §6 / kernel/sysfile.c's sys_unlink).
func (f *FS) Unlink(cwd *Inode, path string) error {
	f.Log.BeginOp()
	defer f.Log.EndOp()

	dp, name, err := LookupParent(f.root, f.cwdOrRoot(cwd), path)
	if err != nil {
		return err
	}
	if err := dp.Lock(); err != nil {
		dp.Put()
		return err
	}

	if name == "." || name == ".." {
		dp.Unlock()
		dp.Put()
		return ErrInvalidFlags
	}

	ip, off, err := dirLookup(dp, name)
	if err != nil {
		dp.Unlock()
		dp.Put()
		return err
	}

	if err := ip.Lock(); err != nil {
		dp.Unlock()
		dp.Put()
		ip.Put()
		return err
	}
	if ip.dinode.Type.IsDir() {
		empty, err := isDirEmpty(ip)
		if err != nil {
			ip.Unlock()
			dp.Unlock()
			dp.Put()
			ip.Put()
			return err
		}
		if !empty {
			ip.Unlock()
			dp.Unlock()
			dp.Put()
			ip.Put()
			return ErrNotEmpty
		}
	}

	if err := dirUnlink(dp, off); err != nil {
		ip.Unlock()
		dp.Unlock()
		dp.Put()
		ip.Put()
		return err
	}
	if ip.dinode.Type.IsDir() {
		dp.dinode.Nlink--
		dp.Update()
	}
	dp.Unlock()
	dp.Put()

	ip.dinode.Nlink--
	if err := ip.Update(); err != nil {
		ip.Unlock()
		ip.Put()
		return err
	}
	ip.Unlock()
	return ip.Put()
}

// Fstat returns metadata for an already-open file.
func (f *FS) Fstat(file *File) (*Stat, error) {
	return file.Stat()
}

// Pipe creates an anonymous pipe, returning its read and write ends.
func (f *FS) Pipe() (read, write *File, err error) {
	return f.Files.AllocPipe()
}

// Root returns the root directory inode, with an owned reference the caller
// must Put.
func (f *FS) Root() *Inode {
	return f.root.Dup()
}

// Sync runs an empty operation through the log. When no other operation is in
// flight, its EndOp commits whatever the log holds, so every logged buffer is
// on stable storage when Sync returns; when other operations are still
// admitted, the commit happens later, at the last of their EndOps. Under
// normal operation EndOp already commits per batch of operations.
func (f *FS) Sync() error {
	f.Log.BeginOp()
	return f.Log.EndOp()
}
