// Package ext4 decodes the minimum of an ext4 image needed to locate regions the
// filesystem driver ignores: superblock padding, file slack, reserved group descriptor
// blocks, and the unused osd2 and obso_faddr inode fields.
//
// Nothing here mounts the filesystem or follows directories. Every structure is decoded
// from a fixed offset through a declarative Schema.
package ext4

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/ext4slack/util"
)

// FileSystem is a read-only view of an ext4 image
type FileSystem struct {
	file       util.File
	superblock *Superblock
	blockSize  uint32
}

// Read decodes the superblock of the image in file.
//
// blockSize is the logical block size of the filesystem in bytes. If it is 0, it is
// calculated from the superblock as 2 ^ (10 + s_log_block_size).
func Read(file util.File, blockSize uint32) (*FileSystem, error) {
	sb, err := ReadSuperblock(file)
	if err != nil {
		return nil, err
	}
	if blockSize == 0 {
		if blockSize, err = sb.BlockSize(); err != nil {
			return nil, err
		}
	}
	if err := ValidateBlockSize(blockSize); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"blockSize":       blockSize,
		"totalBlockCount": sb.TotalBlockCount,
		"blocksPerGroup":  sb.BlocksPerGroup,
		"uuid":            sb.UUID.String(),
	}).Debug("read superblock")
	return &FileSystem{
		file:       file,
		superblock: sb,
		blockSize:  blockSize,
	}, nil
}

// Superblock returns the decoded superblock
func (fs *FileSystem) Superblock() *Superblock {
	return fs.superblock
}

// BlockSize returns the block size in bytes used for all offset arithmetic
func (fs *FileSystem) BlockSize() uint32 {
	return fs.blockSize
}

// InodeTable locates the group 0 inode table
func (fs *FileSystem) InodeTable() (InodeTable, error) {
	return LocateInodeTable(fs.file, fs.blockSize)
}

// Inodes decodes every inode of block group 0, returning them with the table they came from
func (fs *FileSystem) Inodes() ([]*Inode, InodeTable, error) {
	table, err := fs.InodeTable()
	if err != nil {
		return nil, table, err
	}
	inodes, err := ScanInodes(fs.file, table)
	if err != nil {
		return nil, table, err
	}
	return inodes, table, nil
}

// readBlock read a single block from disk
func (fs *FileSystem) readBlock(blockNumber uint64) ([]byte, error) {
	b, err := readAt(fs.file, int64(blockNumber)*int64(fs.blockSize), int(fs.blockSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", blockNumber, err)
	}
	return b, nil
}
