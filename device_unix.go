//go:build unix

package blockfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileDevice is a Device backed by an *os.File, read and written with
// positioned pread/pwrite so concurrent callers at distinct offsets never need
// a shared file-position lock.
type fileDevice struct {
	f         *os.File
	blockSize int
}

// OpenFileDevice opens path as a Device. The file must already exist and be
// large enough for the blocks that will be accessed; OpenFileDevice neither
// creates nor resizes it (cmd/mkfs creates and sizes the file, then calls
// Format on the returned Device).
func OpenFileDevice(path string, blockSize int) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fileDevice{f: f, blockSize: blockSize}, nil
}

func (d *fileDevice) ReadBlock(bno uint32, buf []byte) error {
	off := int64(bno) * int64(d.blockSize)
	n, err := unix.Pread(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortIO
	}
	return nil
}

func (d *fileDevice) WriteBlock(bno uint32, buf []byte) error {
	off := int64(bno) * int64(d.blockSize)
	n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortIO
	}
	return nil
}

func (d *fileDevice) BlockSize() int {
	return d.blockSize
}

// Close releases the underlying file descriptor. Callers must have unmounted
// (no FS referencing this Device) before calling Close.
func (d *fileDevice) Close() error {
	return d.f.Close()
}
