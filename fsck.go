package blockfs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FsckReport summarizes a consistency check of a mounted FS against spec.md
// §8's invariant: a data block is in-use in the bitmap iff it is referenced
// by exactly one live inode's block-map tree (the log region is excluded,
// since the bitmap only tracks data blocks).
type FsckReport struct {
	Inodes             int
	ReachableBlocks    int
	BitmapBlocksInUse  int
	OrphanedBitmapBits []uint32 // marked used in the bitmap, reachable from no inode
	DoubleReferenced   []uint32 // reachable from more than one inode
}

// OK reports whether the filesystem is free of the defects Fsck checks for.
func (r *FsckReport) OK() bool {
	return len(r.OrphanedBitmapBits) == 0 && len(r.DoubleReferenced) == 0
}

// Fsck walks every allocated inode's block-pointer tree, one goroutine per
// inode fanned out with golang.org/x/sync/errgroup, and cross-checks the
// union of reachable blocks against the free bitmap. It takes no locks beyond
// what Inode.Lock/Put already provide, so it is safe to run against a live FS,
// though the result is only a snapshot (spec.md itself requires no fsck tool;
// this is the domain-stack home for errgroup's second use, alongside
// replay.go's post-replay check).
func Fsck(fsys *FS) (*FsckReport, error) {
	sb := fsys.sb

	var mu sync.Mutex
	reachable := make(map[uint32]uint32, sb.DataBlocks)
	var dup []uint32
	inodeCount := 0

	g, _ := errgroup.WithContext(context.Background())
	for inum := uint32(1); inum < sb.InodeCount; inum++ {
		inum := inum
		g.Go(func() error {
			ip := fsys.Inode.Get(fsys.devNo, inum)
			defer ip.Put()
			if err := ip.Lock(); err != nil {
				if err == ErrNotExist {
					return nil
				}
				return err
			}
			if ip.dinode.Type == TypeFree {
				ip.Unlock()
				return nil
			}
			blocks, err := ip.reachableBlocks()
			ip.Unlock()
			if err != nil {
				return err
			}

			mu.Lock()
			inodeCount++
			for _, b := range blocks {
				if _, seen := reachable[b]; seen {
					dup = append(dup, b)
				} else {
					reachable[b] = inum
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &FsckReport{
		Inodes:           inodeCount,
		ReachableBlocks:  len(reachable),
		DoubleReferenced: dup,
	}
	for b := uint32(0); b < sb.DataBlocks; b++ {
		abs := bitToAbs(sb, b)
		used, err := bitIsSet(fsys.Cache, sb, fsys.devNo, abs)
		if err != nil {
			return nil, err
		}
		if !used {
			continue
		}
		report.BitmapBlocksInUse++
		if _, ok := reachable[abs]; !ok {
			report.OrphanedBitmapBits = append(report.OrphanedBitmapBits, abs)
		}
	}
	return report, nil
}
