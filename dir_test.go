package blockfs_test

import (
	"sort"
	"testing"

	"github.com/KarpelesLab/blockfs"
	"github.com/kylelemons/godebug/pretty"
)

func mustFormatAndMount(t *testing.T, dataBlocks, inodes, logBlocks uint32) (*blockfs.FS, blockfs.Device) {
	t.Helper()
	// BeginOp's admission rule reserves MaxOpBlocks slots per outstanding
	// operation regardless of how many blocks it actually enrolls, so a log
	// region smaller than MaxOpBlocks can never admit a single operation.
	if logBlocks < blockfs.MaxOpBlocks {
		logBlocks = blockfs.MaxOpBlocks
	}
	dev := newMemDevice(int(dataBlocks+inodes+logBlocks+64), blockfs.DefaultBlockSize)
	err := blockfs.Format(dev,
		blockfs.WithDataBlocks(dataBlocks),
		blockfs.WithInodeCount(inodes),
		blockfs.WithLogBlocks(logBlocks),
	)
	if err != nil {
		t.Fatalf("Format: %s", err)
	}
	fsys, err := blockfs.Mount(dev)
	if err != nil {
		t.Fatalf("Mount: %s", err)
	}
	return fsys, dev
}

func byName(entries []blockfs.DirEntry) []blockfs.DirEntry {
	out := append([]blockfs.DirEntry(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func TestRootStartsWithDotAndDotDot(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 64, 16, 4)
	root := fsys.Root()
	defer root.Put()

	if err := root.Lock(); err != nil {
		t.Fatalf("Lock: %s", err)
	}
	entries, err := blockfs.ReadDir(root)
	root.Unlock()
	if err != nil {
		t.Fatalf("ReadDir: %s", err)
	}

	want := []blockfs.DirEntry{
		{Name: ".", Ino: blockfs.RootIno, Type: blockfs.TypeDir},
		{Name: "..", Ino: blockfs.RootIno, Type: blockfs.TypeDir},
	}
	if diff := pretty.Compare(want, byName(entries)); diff != "" {
		t.Errorf("root directory listing mismatch (-want +got):\n%s", diff)
	}
}

func TestMkdirAndNestedFileAppearInReadDir(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 64, 16, 4)

	if err := fsys.Mkdir(nil, "/sub"); err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	root := fsys.Root()
	defer root.Put()

	f, err := fsys.Open(root, "/sub/leaf.txt", blockfs.OWRONLY|blockfs.OCreate)
	if err != nil {
		t.Fatalf("Open create: %s", err)
	}
	if _, err := f.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	sub, err := blockfs.Lookup(root, root, "/sub")
	if err != nil {
		t.Fatalf("Lookup /sub: %s", err)
	}
	defer sub.Put()
	if err := sub.Lock(); err != nil {
		t.Fatalf("Lock: %s", err)
	}
	entries, err := blockfs.ReadDir(sub)
	sub.Unlock()
	if err != nil {
		t.Fatalf("ReadDir: %s", err)
	}

	var got []blockfs.DirEntry
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		got = append(got, e)
	}
	want := []blockfs.DirEntry{{Name: "leaf.txt", Ino: got[0].Ino, Type: blockfs.TypeFile}}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("/sub listing mismatch (-want +got):\n%s", diff)
	}
}

func TestUnlinkRemovesEntryAndRejectsNonEmptyDir(t *testing.T) {
	fsys, _ := mustFormatAndMount(t, 64, 16, 4)

	if err := fsys.Mkdir(nil, "/d"); err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	f, err := fsys.Open(nil, "/d/a.txt", blockfs.OWRONLY|blockfs.OCreate)
	if err != nil {
		t.Fatalf("Open create: %s", err)
	}
	f.Close()

	if err := fsys.Unlink(nil, "/d"); err != blockfs.ErrNotEmpty {
		t.Fatalf("expected ErrNotEmpty removing non-empty dir, got %v", err)
	}

	if err := fsys.Unlink(nil, "/d/a.txt"); err != nil {
		t.Fatalf("Unlink file: %s", err)
	}
	if err := fsys.Unlink(nil, "/d"); err != nil {
		t.Fatalf("Unlink now-empty dir: %s", err)
	}

	if _, err := fsys.Open(nil, "/d", blockfs.ORDONLY); err != blockfs.ErrNotExist {
		t.Errorf("expected ErrNotExist for removed dir, got %v", err)
	}
}
