//go:build fuse && darwin

package blockfs

import (
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountFuse attaches fsys at mountpoint. Darwin has no moby/sys/mountinfo
// support, so unlike fuse_linux.go this doesn't pre-check for an existing
// mount; go-fuse's own Mount surfaces that failure instead.
func MountFuse(fsys *FS, mountpoint string, opts *fuse.MountOptions) (*fuse.Server, error) {
	root := NewRoot(fsys)
	rootNode := root.newNode(fsys.Root())

	if opts == nil {
		opts = &fuse.MountOptions{}
	}
	return fs.Mount(mountpoint, rootNode, &fs.Options{MountOptions: *opts})
}
