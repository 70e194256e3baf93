package blockfs

import "strings"

// skipelem splits the next path element off the front of path, returning it
// and the remainder (with leading slashes consumed), mirroring kernel/fs.c's
// skipelem. Returns ("", "") once path is exhausted.
func skipelem(path string) (elem, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	elem = path[:i]
	rest = path[i+1:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest
}

// namex resolves path to an Inode, starting from root if path is absolute or
// from cwd otherwise. If nameiparent is set, it instead resolves path's parent
// directory and returns the final element's name in name. followFinal
// controls whether a symlink at the final path component is itself followed
// (spec.md §4.6); intermediate components are always followed regardless of
// followFinal.
func namex(root, cwd *Inode, path string, nameiparent bool, followFinal bool) (ip *Inode, name string, err error) {
	return namexDepth(root, cwd, path, nameiparent, followFinal, 0)
}

func namexDepth(root, cwd *Inode, path string, nameiparent, followFinal bool, depth int) (*Inode, string, error) {
	var cur *Inode
	if len(path) > 0 && path[0] == '/' {
		cur = root.Dup()
	} else {
		cur = cwd.Dup()
	}

	elem, rest := skipelem(path)
	if elem == "" {
		if nameiparent {
			cur.Put()
			return nil, "", ErrNotExist
		}
		return cur, "", nil
	}

	for {
		if err := cur.Lock(); err != nil {
			cur.Put()
			return nil, "", err
		}
		if !cur.dinode.Type.IsDir() {
			cur.Unlock()
			cur.Put()
			return nil, "", ErrNotDir
		}

		isFinal := rest == ""
		if nameiparent && isFinal {
			cur.Unlock()
			return cur, elem, nil
		}

		next, _, err := dirLookup(cur, elem)
		cur.Unlock()
		if err != nil {
			cur.Put()
			return nil, "", err
		}

		if isFinal && !followFinal {
			cur.Put()
			return next, "", nil
		}

		if err := next.Lock(); err != nil {
			cur.Put()
			next.Put()
			return nil, "", err
		}
		if next.dinode.Type.IsSymlink() {
			if depth+1 > MaxSymlinkDepth {
				next.Unlock()
				next.Put()
				cur.Put()
				return nil, "", ErrTooManySymlinks
			}
			target := make([]byte, next.dinode.Size)
			if _, err := next.ReadAt(target, 0); err != nil {
				next.Unlock()
				next.Put()
				cur.Put()
				return nil, "", err
			}
			next.Unlock()
			next.Put()

			resolved, rname, err := namexDepth(root, cur, string(target)+"/"+rest, nameiparent, followFinal, depth+1)
			cur.Put()
			return resolved, rname, err
		}
		next.Unlock()

		cur.Put()
		cur = next
		if isFinal {
			return cur, "", nil
		}
		elem, rest = skipelem(rest)
	}
}

// Lookup resolves path to an Inode, following a symlink at the final
// component.
func Lookup(root, cwd *Inode, path string) (*Inode, error) {
	ip, _, err := namex(root, cwd, path, false, true)
	return ip, err
}

// LookupNoFollow resolves path to an Inode without following a symlink at the
// final component (for ONoFollow opens and for Readlink, which act on the
// link itself).
func LookupNoFollow(root, cwd *Inode, path string) (*Inode, error) {
	ip, _, err := namex(root, cwd, path, false, false)
	return ip, err
}

// LookupParent resolves path's parent directory, returning it unlocked along
// with the final path element's name. Caller must Lock it.
func LookupParent(root, cwd *Inode, path string) (dir *Inode, name string, err error) {
	return namex(root, cwd, path, true, true)
}
