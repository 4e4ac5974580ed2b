package ext4

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/ext4slack/util"
)

const (
	// offset of bg_inode_table_lo inside the first group descriptor, relative to the start of block 1
	groupDescriptorInodeTableOffset int64 = 0x8
	superblockBlocksPerGroupOffset  int64 = 0x20
	superblockInodesPerGroupOffset  int64 = 0x28
	superblockInodeSizeOffset       int64 = 0x58

	// minInodeSize is the original 128-byte inode, large enough for every field the inode schema decodes
	minInodeSize uint32 = 128
)

// InodeTable is the location and extent of the group 0 inode table
type InodeTable struct {
	// Start is the absolute byte offset of the first inode record
	Start int64
	// InodeSize is the size of every inode record in bytes
	InodeSize uint32
	// Length is inodes_per_group * inode_size, the number of bytes of the group 0 table
	Length int64
}

// Count is the number of inode records covered by the table
func (t InodeTable) Count() int64 {
	if t.InodeSize == 0 {
		return 0
	}
	return t.Length / int64(t.InodeSize)
}

// End is the absolute byte offset one past the last inode record
func (t InodeTable) End() int64 {
	return t.Start + t.Length
}

// LocateInodeTable reads the inode-table start block, inode size and inodes-per-group
// at their fixed offsets and converts them into byte positions.
//
// The group descriptor is always read at blockSize+8, i.e. it assumes the group
// descriptor table begins at block 1.
func LocateInodeTable(f util.File, blockSize uint32) (InodeTable, error) {
	if err := ValidateBlockSize(blockSize); err != nil {
		return InodeTable{}, err
	}
	startBlock, err := readUint32At(f, int64(blockSize)+groupDescriptorInodeTableOffset)
	if err != nil {
		return InodeTable{}, fmt.Errorf("could not read inode table location from group descriptor: %w", err)
	}
	inodeSize, err := readUint32At(f, SuperblockOffset+superblockInodeSizeOffset)
	if err != nil {
		return InodeTable{}, fmt.Errorf("could not read inode size from superblock: %w", err)
	}
	inodesPerGroup, err := readUint32At(f, SuperblockOffset+superblockInodesPerGroupOffset)
	if err != nil {
		return InodeTable{}, fmt.Errorf("could not read inodes per group from superblock: %w", err)
	}
	blocksPerGroup, err := readUint32At(f, SuperblockOffset+superblockBlocksPerGroupOffset)
	if err != nil {
		return InodeTable{}, fmt.Errorf("could not read blocks per group from superblock: %w", err)
	}

	switch {
	case inodeSize == 0:
		return InodeTable{}, &GeometryError{Field: "inode_size", Value: 0, Reason: "inode size is zero"}
	case inodeSize < minInodeSize:
		return InodeTable{}, &GeometryError{Field: "inode_size", Value: uint64(inodeSize), Reason: fmt.Sprintf("inode size is smaller than %d bytes", minInodeSize)}
	case inodeSize > blockSize:
		return InodeTable{}, &GeometryError{Field: "inode_size", Value: uint64(inodeSize), Reason: fmt.Sprintf("inode size is larger than the block size %d", blockSize)}
	case uint64(inodesPerGroup)*uint64(inodeSize) > uint64(blocksPerGroup)*uint64(blockSize):
		// the inode table of a group cannot be larger than the group
		return InodeTable{}, &GeometryError{Field: "inodes_per_group", Value: uint64(inodesPerGroup), Reason: fmt.Sprintf("%d inodes of %d bytes do not fit in a group of %d blocks", inodesPerGroup, inodeSize, blocksPerGroup)}
	}

	t := InodeTable{
		Start:     int64(startBlock) * int64(blockSize),
		InodeSize: inodeSize,
		Length:    int64(inodesPerGroup) * int64(inodeSize),
	}
	log.WithFields(log.Fields{
		"inodeTableBlock": startBlock,
		"inodeTableStart": t.Start,
		"inodeSize":       inodeSize,
		"inodesPerGroup":  inodesPerGroup,
	}).Debug("located group 0 inode table")
	return t, nil
}
