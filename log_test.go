package blockfs_test

import (
	"testing"

	"github.com/KarpelesLab/blockfs"
)

const (
	testLogStart = 0
	// testLogSize must be at least MaxOpBlocks: BeginOp's admission rule
	// reserves MaxOpBlocks slots per outstanding operation regardless of how
	// many blocks it ends up enrolling, so a smaller log can never admit a
	// single operation.
	testLogSize  = blockfs.MaxOpBlocks + 2
	testHomeBlk  = testLogStart + testLogSize + 4
	testTotalBlk = testHomeBlk + 8
)

func TestLogCommitInstallsToHomeBlock(t *testing.T) {
	dev := newMemDevice(testTotalBlk, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 4)
	logw := blockfs.NewLog(cache, 1, testLogStart, testLogSize)

	logw.BeginOp()
	b, err := cache.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	copy(b.Data, []byte("committed"))
	logw.Write(b)
	cache.Release(b)
	if err := logw.EndOp(); err != nil {
		t.Fatalf("EndOp: %s", err)
	}

	raw := make([]byte, blockfs.DefaultBlockSize)
	if err := dev.ReadBlock(testHomeBlk, raw); err != nil {
		t.Fatalf("ReadBlock: %s", err)
	}
	if string(raw[:9]) != "committed" {
		t.Errorf("expected home block to read %q, got %q", "committed", raw[:9])
	}

	// the header must be clear again once EndOp's commit returns.
	hdr := make([]byte, blockfs.DefaultBlockSize)
	if err := dev.ReadBlock(testLogStart, hdr); err != nil {
		t.Fatalf("ReadBlock header: %s", err)
	}
	if n := blockfsLE32(hdr); n != 0 {
		t.Errorf("expected header count 0 after commit, got %d", n)
	}
}

func blockfsLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestLogAbsorbsRepeatedWritesInOneOp(t *testing.T) {
	dev := newMemDevice(testTotalBlk, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 4)
	logw := blockfs.NewLog(cache, 1, testLogStart, testLogSize)

	logw.BeginOp()
	b, err := cache.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	copy(b.Data, []byte("first-----"))
	logw.Write(b)
	copy(b.Data, []byte("second----"))
	logw.Write(b)
	cache.Release(b)
	if err := logw.EndOp(); err != nil {
		t.Fatalf("EndOp: %s", err)
	}

	raw := make([]byte, blockfs.DefaultBlockSize)
	if err := dev.ReadBlock(testHomeBlk, raw); err != nil {
		t.Fatalf("ReadBlock: %s", err)
	}
	if string(raw[:10]) != "second----" {
		t.Errorf("expected last write to win after absorption, got %q", raw[:10])
	}
}

// TestLogReplaysAfterCrashPastHeaderCommit simulates a crash that lands the
// header write (the transaction's durability point) but loses the home-block
// install: on the next mount, Recover must still produce the new value by
// replaying the log slot.
func TestLogReplaysAfterCrashPastHeaderCommit(t *testing.T) {
	base := newMemDevice(testTotalBlk, blockfs.DefaultBlockSize)
	old := make([]byte, blockfs.DefaultBlockSize)
	copy(old, []byte("before"))
	if err := base.WriteBlock(testHomeBlk, old); err != nil {
		t.Fatalf("seed: %s", err)
	}

	// commit() issues, in order: 1 write to the log slot, 1 header-commit
	// write, 1 install write, 1 header-clear write. Surviving the first two
	// means the transaction is durable even though install never happened.
	crash := newCrashDevice(base, 2)
	cache := blockfs.NewCache(crash, 4)
	logw := blockfs.NewLog(cache, 1, testLogStart, testLogSize)

	logw.BeginOp()
	b, err := cache.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	copy(b.Data, []byte("after!"))
	logw.Write(b)
	cache.Release(b)
	logw.EndOp() // the "crash": install and header-clear are silently dropped

	// reboot: fresh cache/log over whatever made it to base's bytes.
	sb := &blockfs.Superblock{Size: testTotalBlk}
	cache2 := blockfs.NewCache(base, 4)
	log2 := blockfs.NewLog(cache2, 1, testLogStart, testLogSize)
	if err := log2.Recover(sb); err != nil {
		t.Fatalf("Recover after crash: %s", err)
	}

	got, err := cache2.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get after recover: %s", err)
	}
	if string(got.Data[:6]) != "after!" {
		t.Errorf("expected committed transaction to survive replay, got %q", got.Data[:6])
	}
	cache2.Release(got)
}

// TestLogNoReplayBeforeHeaderCommit simulates a crash before the header write
// itself lands: the transaction never became durable, so Recover must leave
// the home block exactly as it was.
func TestLogNoReplayBeforeHeaderCommit(t *testing.T) {
	base := newMemDevice(testTotalBlk, blockfs.DefaultBlockSize)
	old := make([]byte, blockfs.DefaultBlockSize)
	copy(old, []byte("before"))
	if err := base.WriteBlock(testHomeBlk, old); err != nil {
		t.Fatalf("seed: %s", err)
	}

	// only the log-slot write survives; the header-commit write is dropped.
	crash := newCrashDevice(base, 1)
	cache := blockfs.NewCache(crash, 4)
	logw := blockfs.NewLog(cache, 1, testLogStart, testLogSize)

	logw.BeginOp()
	b, err := cache.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	copy(b.Data, []byte("after!"))
	logw.Write(b)
	cache.Release(b)
	logw.EndOp()

	sb := &blockfs.Superblock{Size: testTotalBlk}
	cache2 := blockfs.NewCache(base, 4)
	log2 := blockfs.NewLog(cache2, 1, testLogStart, testLogSize)
	if err := log2.Recover(sb); err != nil {
		t.Fatalf("Recover after crash: %s", err)
	}

	got, err := cache2.Get(1, testHomeBlk)
	if err != nil {
		t.Fatalf("Get after recover: %s", err)
	}
	if string(got.Data[:6]) != "before" {
		t.Errorf("expected uncommitted transaction to leave home block untouched, got %q", got.Data[:6])
	}
	cache2.Release(got)
}

func TestLogSequentialTransactionsComplete(t *testing.T) {
	dev := newMemDevice(testTotalBlk, blockfs.DefaultBlockSize)
	cache := blockfs.NewCache(dev, 4)
	logw := blockfs.NewLog(cache, 1, testLogStart, testLogSize)

	// a straightforward sequence of non-overlapping transactions must all
	// complete without deadlocking.
	for i := uint32(0); i < 5; i++ {
		logw.BeginOp()
		b, err := cache.Get(1, testHomeBlk+i)
		if err != nil {
			t.Fatalf("Get: %s", err)
		}
		copy(b.Data, []byte{byte(i)})
		logw.Write(b)
		cache.Release(b)
		if err := logw.EndOp(); err != nil {
			t.Fatalf("EndOp %d: %s", i, err)
		}
	}
}
