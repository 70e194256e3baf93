package blockfs

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// SeedFormat identifies the compression applied to a seed image, the
// read-only starting image a fresh mutable image is initialized from
// (spec.md §4.8's format-from-seed extension).
type SeedFormat int

const (
	SeedRaw SeedFormat = iota
	SeedGzip
	SeedXZ
)

// DetectSeedFormat guesses a seed image's compression from its filename,
// falling back to SeedRaw.
func DetectSeedFormat(name string) SeedFormat {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return SeedGzip
	case strings.HasSuffix(name, ".xz"):
		return SeedXZ
	default:
		return SeedRaw
	}
}

// decodeSeed returns a reader that decompresses r according to format.
func decodeSeed(r io.Reader, format SeedFormat) (io.Reader, error) {
	switch format {
	case SeedGzip:
		return gzip.NewReader(r)
	case SeedXZ:
		return xz.NewReader(r)
	default:
		return r, nil
	}
}

// LoadSeedImage decompresses a seed image (per format) into an in-memory
// Device with the given block size, padding a trailing partial block with
// zeros, so a pre-populated filesystem can be mounted without touching disk.
func LoadSeedImage(r io.Reader, format SeedFormat, blockSize int) (Device, error) {
	dr, err := decodeSeed(r, format)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dr); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if len(data)%blockSize != 0 {
		pad := make([]byte, blockSize-len(data)%blockSize)
		data = append(data, pad...)
	}
	dev := newMemDevice(len(data)/blockSize, blockSize)
	copy(dev.data, data)
	return dev, nil
}
