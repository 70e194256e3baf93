package blockfs

import "strings"

// OpenFlags are the flag bits accepted by FS.Open (spec.md §6). The low two bits
// select an access mode (not an independent bitmask, mirroring the traditional
// O_RDONLY/O_WRONLY/O_RDWR encoding); the remaining bits are independent flags.
type OpenFlags uint32

const (
	ORDONLY     OpenFlags = 0
	OWRONLY     OpenFlags = 1
	ORDWR       OpenFlags = 2
	oAccessMask OpenFlags = 0x3

	OCreate   OpenFlags = 0x200
	OTrunc    OpenFlags = 0x400
	ONoFollow OpenFlags = 0x800
)

func (f OpenFlags) String() string {
	var opt []string

	switch f & oAccessMask {
	case OWRONLY:
		opt = append(opt, "O_WRONLY")
	case ORDWR:
		opt = append(opt, "O_RDWR")
	default:
		opt = append(opt, "O_RDONLY")
	}
	if f&OCreate != 0 {
		opt = append(opt, "O_CREATE")
	}
	if f&OTrunc != 0 {
		opt = append(opt, "O_TRUNC")
	}
	if f&ONoFollow != 0 {
		opt = append(opt, "O_NOFOLLOW")
	}

	return strings.Join(opt, "|")
}

func (f OpenFlags) Has(what OpenFlags) bool {
	return f&what == what
}

// readable reports whether f permits reads: every access mode except write-only.
func (f OpenFlags) readable() bool {
	return f&oAccessMask != OWRONLY
}

// writable reports whether f permits writes: write-only or read-write.
func (f OpenFlags) writable() bool {
	return f&oAccessMask == OWRONLY || f&oAccessMask == ORDWR
}
