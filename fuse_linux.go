//go:build fuse && linux

package blockfs

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/moby/sys/mountinfo"
)

// MountFuse attaches fsys at mountpoint using go-fuse's high-level node server.
// It refuses to mount over a path that is already a mount point, the same
// guard moby's mount manager applies before layering a new mount.
func MountFuse(fsys *FS, mountpoint string, opts *fuse.MountOptions) (*fuse.Server, error) {
	mounted, err := mountinfo.Mounted(mountpoint)
	if err != nil {
		return nil, err
	}
	if mounted {
		return nil, fmt.Errorf("blockfs: %s is already a mount point", mountpoint)
	}

	root := NewRoot(fsys)
	rootNode := root.newNode(fsys.Root())

	if opts == nil {
		opts = &fuse.MountOptions{}
	}
	srv, err := fs.Mount(mountpoint, rootNode, &fs.Options{MountOptions: *opts})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
