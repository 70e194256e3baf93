package blockfs_test

import (
	"io"
	"testing"

	"github.com/KarpelesLab/blockfs"
)

// TestFsckCleanFreshFilesystem covers spec.md §8's bitmap-vs-reachable
// invariant on a freshly formatted, unmodified filesystem: the root
// directory's single data block is reachable and nothing is orphaned.
func TestFsckCleanFreshFilesystem(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 64, 16, 4)

	report, err := blockfs.Fsck(fsys)
	if err != nil {
		t.Fatalf("Fsck: %s", err)
	}
	if !report.OK() {
		t.Fatalf("fresh filesystem reported inconsistent: %+v", report)
	}
	if report.ReachableBlocks != report.BitmapBlocksInUse {
		t.Errorf("expected reachable block count to equal bitmap-in-use count on a clean fs, got %d vs %d",
			report.ReachableBlocks, report.BitmapBlocksInUse)
	}
}

// TestFsckDetectsAllThreeIndirectionLevels writes one byte into the direct,
// single-indirect, and double-indirect address ranges of the same file and
// checks that Fsck's reachable-block walk covers every level without
// flagging false orphans or double-references (spec.md §4.4's bmap tree).
func TestFsckDetectsAllThreeIndirectionLevels(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 4096, 16, 4)

	f, err := fsys.Open(nil, "/spread", blockfs.OWRONLY|blockfs.OCreate)
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	offsets := []int64{
		0,                                                                    // direct block 0
		int64(blockfs.NDirect) * blockfs.DefaultBlockSize,                    // single-indirect, first child
		int64(blockfs.NDirect+blockfs.NIndirect+5) * blockfs.DefaultBlockSize, // double-indirect
	}
	for _, off := range offsets {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			t.Fatalf("seek %d: %s", off, err)
		}
		if _, err := f.Write([]byte{0xAA}); err != nil {
			t.Fatalf("write at %d: %s", off, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	report, err := blockfs.Fsck(fsys)
	if err != nil {
		t.Fatalf("Fsck: %s", err)
	}
	if !report.OK() {
		t.Fatalf("expected a consistent filesystem, got %+v", report)
	}
	// direct data block + (single-indirect block, its data block) +
	// (double-indirect root, its child indirect block, its data block) = 6
	// new reachable blocks beyond the root directory's own one block.
	const wantNewBlocks = 6
	if report.ReachableBlocks < wantNewBlocks {
		t.Errorf("expected at least %d reachable blocks for a 3-level file, got %d", wantNewBlocks, report.ReachableBlocks)
	}
}

// TestFsckAfterUnlinkFreesEveryLevel covers scenario 5: once the last link to
// a file spanning all three indirection levels goes away, every block it
// referenced — including the double-indirect intermediates — returns to
// free, and Fsck reports no orphans.
func TestFsckAfterUnlinkFreesEveryLevel(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 4096, 16, 4)

	before, err := blockfs.Fsck(fsys)
	if err != nil {
		t.Fatalf("Fsck (before): %s", err)
	}

	f, err := fsys.Open(nil, "/spread", blockfs.OWRONLY|blockfs.OCreate)
	if err != nil {
		t.Fatalf("create: %s", err)
	}
	doubleIndirectOff := int64(blockfs.NDirect+blockfs.NIndirect+5) * blockfs.DefaultBlockSize
	if _, err := f.Seek(doubleIndirectOff, io.SeekStart); err != nil {
		t.Fatalf("seek: %s", err)
	}
	if _, err := f.Write([]byte{0xAA}); err != nil {
		t.Fatalf("write: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}

	mid, err := blockfs.Fsck(fsys)
	if err != nil {
		t.Fatalf("Fsck (mid): %s", err)
	}
	if mid.ReachableBlocks <= before.ReachableBlocks {
		t.Fatalf("expected reachable blocks to grow after writing the file, before=%d mid=%d",
			before.ReachableBlocks, mid.ReachableBlocks)
	}

	if err := fsys.Unlink(nil, "/spread"); err != nil {
		t.Fatalf("Unlink: %s", err)
	}

	after, err := blockfs.Fsck(fsys)
	if err != nil {
		t.Fatalf("Fsck (after): %s", err)
	}
	if !after.OK() {
		t.Fatalf("expected a consistent filesystem after unlink, got %+v", after)
	}
	if after.ReachableBlocks != before.ReachableBlocks {
		t.Errorf("expected reachable blocks to return to the pre-write baseline, before=%d after=%d",
			before.ReachableBlocks, after.ReachableBlocks)
	}
	if after.BitmapBlocksInUse != before.BitmapBlocksInUse {
		t.Errorf("expected bitmap usage to return to the pre-write baseline, before=%d after=%d",
			before.BitmapBlocksInUse, after.BitmapBlocksInUse)
	}
}
