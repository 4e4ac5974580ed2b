package ext4

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/ext4slack/util"
)

const (
	inodeObsoFaddrOffset int64 = 0x70
	inodeObsoFaddrLength int   = 4
	inodeOsd2Offset      int64 = 0x74
	inodeOsd2Length      int   = 12
	// l_i_reserved, the trailing unused half-word of the linux osd2 union
	osd2ReservedOffset int64 = 0xA
	osd2ReservedLength int   = 2

	maxInodePrealloc int64 = 8192
)

// InodeSchema lays out the inode fields that point at, or are expected to be free of, hidden data
var InodeSchema = Schema{
	{Name: "size", Offset: 0x4, Size: 4},
	{Name: "blocks", Offset: 0x1C, Size: 4},
	{Name: "extent_tree", Offset: 0x28, Size: extentTreeRootLength, Format: FormatRaw},
	{Name: "obso_faddr", Offset: int(inodeObsoFaddrOffset), Size: inodeObsoFaddrLength},
	{Name: "osd2", Offset: int(inodeOsd2Offset), Size: inodeOsd2Length, Format: FormatRaw},
}

// Inode is one decoded record of the group 0 inode table
type Inode struct {
	// Address is the absolute byte offset of the record in the image
	Address int64
	// Number is the 1-based inode number
	Number uint32
	// Size is the low 32 bits of the file size
	Size   uint32
	Blocks uint32
	// ExtentTree is the raw 60 byte inline extent tree root
	ExtentTree []byte
	ObsoFaddr  uint32
	Osd2       []byte

	ExtentHeader ExtentHeader
	// Extent is the first leaf entry of the inline extent tree
	Extent Extent
}

// ObsoFaddrAddress is the absolute offset of the obsolete fragment address field
func (i *Inode) ObsoFaddrAddress() int64 {
	return i.Address + inodeObsoFaddrOffset
}

// Osd2ReservedAddress is the absolute offset of the reserved tail of the osd2 union
func (i *Inode) Osd2ReservedAddress() int64 {
	return i.Address + inodeOsd2Offset + osd2ReservedOffset
}

// ScanInodes decodes every inode record of the group 0 inode table, in ascending address order.
// No record is skipped: reserved and unused inodes are returned too.
func ScanInodes(f util.File, table InodeTable) ([]*Inode, error) {
	if table.InodeSize == 0 {
		return nil, &GeometryError{Field: "inode_size", Value: 0, Reason: "inode size is zero"}
	}
	// the count comes from the image, so it only bounds the first allocation
	inodes := make([]*Inode, 0, min(table.Count(), maxInodePrealloc))
	var number uint32
	for address := table.Start; address < table.End(); address += int64(table.InodeSize) {
		number++
		in, err := readInode(f, address, table.InodeSize)
		if err != nil {
			return nil, fmt.Errorf("could not read inode %d at offset %d: %w", number, address, err)
		}
		in.Number = number
		inodes = append(inodes, in)
	}
	log.WithFields(log.Fields{
		"inodes":     len(inodes),
		"tableStart": table.Start,
		"tableEnd":   table.End(),
	}).Debug("scanned group 0 inode table")
	return inodes, nil
}

func readInode(f util.File, address int64, inodeSize uint32) (*Inode, error) {
	r, err := Decode(f, address, int(inodeSize), InodeSchema)
	if err != nil {
		return nil, err
	}
	return inodeFromRecord(r, address)
}

func inodeFromRecord(r Record, address int64) (*Inode, error) {
	in := Inode{Address: address}
	for name, to := range map[string]*uint32{
		"size":       &in.Size,
		"blocks":     &in.Blocks,
		"obso_faddr": &in.ObsoFaddr,
	} {
		v, err := r.Uint(name)
		if err != nil {
			return nil, err
		}
		*to = uint32(v)
	}
	var err error
	if in.ExtentTree, err = r.Bytes("extent_tree"); err != nil {
		return nil, err
	}
	if in.Osd2, err = r.Bytes("osd2"); err != nil {
		return nil, err
	}
	if in.ExtentHeader, in.Extent, err = parseFirstExtent(in.ExtentTree); err != nil {
		return nil, fmt.Errorf("could not interpret extent tree: %w", err)
	}
	if in.Extent.StartLo != 0 && !in.ExtentHeader.Valid() {
		log.WithFields(log.Fields{
			"address": address,
			"magic":   fmt.Sprintf("0x%04x", in.ExtentHeader.Magic),
		}).Debug("inode has a start block but no extent tree signature")
	}
	return &in, nil
}
