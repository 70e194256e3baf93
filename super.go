package blockfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// Superblock is the on-disk superblock, stored at block 1 of every device
// (spec.md §3/§6). Field order is wire order; every field is a little-endian
// uint32.
type Superblock struct {
	Magic       uint32 // must equal FSMagic
	Size        uint32 // total image size, in blocks
	DataBlocks  uint32 // number of data blocks
	InodeCount  uint32 // number of on-disk inode slots
	LogLen      uint32 // blocks in the log region, including the header block
	LogStart    uint32 // first block of the log region
	InodeStart  uint32 // first block of the inode table
	BitmapStart uint32 // first block of the free bitmap
}

// ReadSuperblock reads and validates the superblock from block 1 of dev.
func ReadSuperblock(dev Device) (*Superblock, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(1, buf); err != nil {
		return nil, err
	}
	sb := &Superblock{}
	if err := sb.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if sb.Magic != FSMagic {
		return nil, ErrBadMagic
	}
	return sb, nil
}

// WriteTo writes sb to block 1 of dev, unlogged; only mkfs calls this directly.
func (sb *Superblock) WriteTo(dev Device) error {
	data, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	buf := make([]byte, dev.BlockSize())
	copy(buf, data)
	return dev.WriteBlock(1, buf)
}

// MarshalBinary walks the exported fields in declaration order, skipping any
// whose name doesn't start uppercase (none currently, but kept for the
// convention shared with the rest of this package's wire types).
func (sb *Superblock) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	v := reflect.ValueOf(sb).Elem()
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		if err := binary.Write(&b, binary.LittleEndian, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

func (sb *Superblock) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	v := reflect.ValueOf(sb).Elem()
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name[0]
		if name < 'A' || name > 'Z' {
			continue
		}
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// IPB is the number of dinode records per block.
func (sb *Superblock) IPB() uint32 {
	return DefaultBlockSize / dinodeSize
}

// IBlock returns the block number holding inode i's dinode record.
func (sb *Superblock) IBlock(i uint32) uint32 {
	return i/sb.IPB() + sb.InodeStart
}

// DataStart returns the absolute device block number of the first data
// block, i.e. the block bit 0 of the free bitmap tracks.
func (sb *Superblock) DataStart() uint32 {
	return sb.BitmapStart + (sb.DataBlocks+sb.BPB()-1)/sb.BPB()
}

// BPB is the number of bitmap bits represented by one bitmap block.
func (sb *Superblock) BPB() uint32 {
	return DefaultBlockSize * 8
}

// BBlock returns the bitmap block number containing the bit for data block b.
func (sb *Superblock) BBlock(b uint32) uint32 {
	return b/sb.BPB() + sb.BitmapStart
}
