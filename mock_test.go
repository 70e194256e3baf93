package blockfs_test

import (
	"errors"
	"sync"
)

// memDevice is an in-memory blockfs.Device, this package's stand-in for a
// real disk image (mirrors _examples/KarpelesLab-squashfs's mock_test.go
// mockReader: a lightweight fake for the thing a real implementation reads
// from).
type memDevice struct {
	mu        sync.Mutex
	blockSize int
	data      []byte
}

func newMemDevice(nblocks, blockSize int) *memDevice {
	return &memDevice{blockSize: blockSize, data: make([]byte, nblocks*blockSize)}
}

func (d *memDevice) ReadBlock(bno uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int(bno) * d.blockSize
	if off < 0 || off+d.blockSize > len(d.data) {
		return errors.New("memDevice: block out of range")
	}
	copy(buf, d.data[off:off+d.blockSize])
	return nil
}

func (d *memDevice) WriteBlock(bno uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := int(bno) * d.blockSize
	if off < 0 || off+d.blockSize > len(d.data) {
		return errors.New("memDevice: block out of range")
	}
	copy(d.data[off:off+d.blockSize], buf)
	return nil
}

func (d *memDevice) BlockSize() int { return d.blockSize }

// crashDevice wraps a memDevice and silently drops writes once its budget is
// exhausted, the way a power loss leaves every byte not yet on stable storage
// unchanged rather than returning an I/O error. Reads always see whatever
// made it through before the cutoff.
type crashDevice struct {
	*memDevice
	mu         sync.Mutex
	writesLeft int
}

func newCrashDevice(under *memDevice, survivingWrites int) *crashDevice {
	return &crashDevice{memDevice: under, writesLeft: survivingWrites}
}

func (d *crashDevice) WriteBlock(bno uint32, buf []byte) error {
	d.mu.Lock()
	if d.writesLeft <= 0 {
		d.mu.Unlock()
		return nil
	}
	d.writesLeft--
	d.mu.Unlock()
	return d.memDevice.WriteBlock(bno, buf)
}

// failDevice errors every access past a fixed number of successful reads,
// for exercising a Device that genuinely fails mid-operation (distinct from
// crashDevice's silent-drop semantics).
type failDevice struct {
	*memDevice
	mu       sync.Mutex
	readsLeft int
}

func newFailDevice(under *memDevice, survivingReads int) *failDevice {
	return &failDevice{memDevice: under, readsLeft: survivingReads}
}

func (d *failDevice) ReadBlock(bno uint32, buf []byte) error {
	d.mu.Lock()
	if d.readsLeft <= 0 {
		d.mu.Unlock()
		return errors.New("failDevice: simulated read failure")
	}
	d.readsLeft--
	d.mu.Unlock()
	return d.memDevice.ReadBlock(bno, buf)
}
