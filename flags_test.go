package blockfs_test

import (
	"testing"

	"github.com/KarpelesLab/blockfs"
)

// TestFlagsOperations tests the OpenFlags type operations
func TestFlagsOperations(t *testing.T) {
	testCases := []struct {
		flag     blockfs.OpenFlags
		expected string
	}{
		{blockfs.ORDONLY, "O_RDONLY"},
		{blockfs.OWRONLY, "O_WRONLY"},
		{blockfs.ORDWR, "O_RDWR"},
		{blockfs.OWRONLY | blockfs.OCreate, "O_WRONLY|O_CREATE"},
		{blockfs.ORDONLY | blockfs.ONoFollow, "O_RDONLY|O_NOFOLLOW"},
		{blockfs.OWRONLY | blockfs.OCreate | blockfs.OTrunc, "O_WRONLY|O_CREATE|O_TRUNC"},
	}

	for _, tc := range testCases {
		if tc.flag.String() != tc.expected {
			t.Errorf("expected flag %d string to be %s, got %s", tc.flag, tc.expected, tc.flag.String())
		}
	}

	// Test Has method
	flags := blockfs.OWRONLY | blockfs.OCreate

	if !flags.Has(blockfs.OCreate) {
		t.Errorf("flags should have OCreate")
	}

	if flags.Has(blockfs.ONoFollow) {
		t.Errorf("flags should not have ONoFollow")
	}
}
