package blockfs

// dirent is the on-disk layout of one directory entry (spec.md §4.5 /
// kernel/fs.h's struct dirent): an inode number, stored on disk as a 16-bit
// little-endian value, followed by a fixed DirSiz-byte name field; Ino==0
// marks an unused slot.
type dirent struct {
	Ino  uint32
	Name [DirSiz]byte
}

const direntSize = 2 + DirSiz

func (d *dirent) marshal(buf []byte) {
	putLE16(buf[0:2], uint16(d.Ino))
	copy(buf[2:2+DirSiz], d.Name[:])
}

func (d *dirent) unmarshal(buf []byte) {
	d.Ino = uint32(getLE16(buf[0:2]))
	copy(d.Name[:], buf[2:2+DirSiz])
}

func direntName(name string) [DirSiz]byte {
	var n [DirSiz]byte
	copy(n[:], name)
	return n
}

func direntNameString(n [DirSiz]byte) string {
	i := 0
	for i < DirSiz && n[i] != 0 {
		i++
	}
	return string(n[:i])
}

// dirLookup scans dp (which must be a directory, locked by the caller) for
// name, returning the matching Inode and the byte offset of its dirent within
// the directory, or ErrNotExist (spec.md §4.5 / kernel/fs.c's dirlookup).
func dirLookup(dp *Inode, name string) (*Inode, uint32, error) {
	if !dp.dinode.Type.IsDir() {
		fatal("dir: dirLookup called on non-directory inode %d", dp.Ino)
	}
	if len(name) > DirSiz {
		return nil, 0, ErrNameTooLong
	}

	var de dirent
	buf := make([]byte, direntSize)
	for off := uint32(0); off < dp.dinode.Size; off += direntSize {
		n, err := dp.ReadAt(buf, off)
		if err != nil {
			return nil, 0, err
		}
		if n != direntSize {
			fatal("dir: short dirent read at offset %d", off)
		}
		de.unmarshal(buf)
		if de.Ino == 0 {
			continue
		}
		if direntNameString(de.Name) == name {
			return dp.table.Get(dp.Dev, de.Ino), off, nil
		}
	}
	return nil, 0, ErrNotExist
}

// dirLink adds a (name, ino) entry to directory dp, reusing the first free
// slot if one exists or appending otherwise (spec.md §4.5 / kernel/fs.c's
// dirlink). Caller must hold dp's lock and be inside a log transaction.
func dirLink(dp *Inode, name string, ino uint32) error {
	if len(name) > DirSiz {
		return ErrNameTooLong
	}
	if ino > 0xFFFF {
		return ErrNoInodes
	}

	if existing, _, err := dirLookup(dp, name); err == nil {
		existing.Put()
		return ErrExist
	}

	var de dirent
	buf := make([]byte, direntSize)
	off := uint32(0)
	for ; off < dp.dinode.Size; off += direntSize {
		n, err := dp.ReadAt(buf, off)
		if err != nil {
			return err
		}
		if n != direntSize {
			fatal("dir: short dirent read at offset %d", off)
		}
		de.unmarshal(buf)
		if de.Ino == 0 {
			break
		}
	}

	de = dirent{Ino: ino, Name: direntName(name)}
	de.marshal(buf)
	n, err := dp.WriteAt(buf, off)
	if err != nil {
		return err
	}
	if n != direntSize {
		return ErrShortIO
	}
	return nil
}

// dirUnlink clears the dirent at byte offset off within directory dp. Caller
// must hold dp's lock and be inside a log transaction.
func dirUnlink(dp *Inode, off uint32) error {
	zero := make([]byte, direntSize)
	n, err := dp.WriteAt(zero, off)
	if err != nil {
		return err
	}
	if n != direntSize {
		return ErrShortIO
	}
	return nil
}

// isDirEmpty reports whether dp (locked, a directory) contains only "." and
// "..", i.e. is safe to unlink (spec.md §4.5 / kernel/fs.c's isdirempty).
func isDirEmpty(dp *Inode) (bool, error) {
	buf := make([]byte, direntSize)
	var de dirent
	for off := uint32(2 * direntSize); off < dp.dinode.Size; off += direntSize {
		n, err := dp.ReadAt(buf, off)
		if err != nil {
			return false, err
		}
		if n != direntSize {
			fatal("dir: short dirent read at offset %d", off)
		}
		de.unmarshal(buf)
		if de.Ino != 0 {
			return false, nil
		}
	}
	return true, nil
}

// DirEntry is the result of a directory listing (ReadDir), exposed without
// requiring the caller to hold the directory's lock.
type DirEntry struct {
	Name string
	Ino  uint32
	Type Type
}

// ReadDir returns every occupied entry of directory dp, in on-disk order.
// Caller must hold dp's lock.
func ReadDir(dp *Inode) ([]DirEntry, error) {
	if !dp.dinode.Type.IsDir() {
		return nil, ErrNotDir
	}
	var out []DirEntry
	var de dirent
	buf := make([]byte, direntSize)
	for off := uint32(0); off < dp.dinode.Size; off += direntSize {
		n, err := dp.ReadAt(buf, off)
		if err != nil {
			return nil, err
		}
		if n != direntSize {
			break
		}
		de.unmarshal(buf)
		if de.Ino == 0 {
			continue
		}
		// "." (and the root's "..") name dp itself, whose lock the caller
		// already holds.
		typ := dp.dinode.Type
		if de.Ino != dp.Ino {
			child := dp.table.Get(dp.Dev, de.Ino)
			if err := child.Lock(); err != nil {
				child.Put()
				return nil, err
			}
			typ = child.dinode.Type
			child.Unlock()
			child.Put()
		}
		out = append(out, DirEntry{Name: direntNameString(de.Name), Ino: de.Ino, Type: typ})
	}
	return out, nil
}
