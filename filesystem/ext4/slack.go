package ext4

import (
	"bytes"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

const (
	// the region before this offset holds the boot sector and the superblock
	superblockRegionEnd int64 = 2048
	// fileSlackBlockSize is the allocation unit assumed when measuring file slack
	fileSlackBlockSize int64 = 4096
	// start blocks at or below this belong to the reserved metadata area at the front of the filesystem
	reservedStartBlocks uint32 = 20
	// group descriptor table length, in blocks, assumed when skipping to the reserved GDT blocks
	gdtBlocks uint64 = 1
)

// GDTBase selects the block count that the reserved GDT region is computed from
type GDTBase int

const (
	// GDTBaseTotalBlocks uses s_blocks_count_lo
	GDTBaseTotalBlocks GDTBase = iota
	// GDTBaseBlocksPerGroup uses s_blocks_per_group
	GDTBaseBlocksPerGroup
)

func (b GDTBase) String() string {
	switch b {
	case GDTBaseTotalBlocks:
		return "total-blocks"
	case GDTBaseBlocksPerGroup:
		return "blocks-per-group"
	}
	return fmt.Sprintf("GDTBase(%d)", int(b))
}

// ParseGDTBase is the inverse of GDTBase.String
func ParseGDTBase(s string) (GDTBase, error) {
	switch s {
	case "", "total-blocks":
		return GDTBaseTotalBlocks, nil
	case "blocks-per-group":
		return GDTBaseBlocksPerGroup, nil
	}
	return 0, fmt.Errorf("unknown reserved GDT base %q, expected total-blocks or blocks-per-group", s)
}

func emit(w io.Writer, b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := w.Write(b)
	if err != nil {
		return int64(n), fmt.Errorf("could not write %d bytes of output: %w", len(b), err)
	}
	return int64(n), nil
}

// SuperblockSlack writes the bytes found at offset blockSize-2048, reading at most
// blockSize-2048 bytes and stopping at the first zero byte.
//
// The offset is measured from the start of the image, not from the superblock.
// Block sizes of 2048 bytes or less have no slack.
func (fs *FileSystem) SuperblockSlack(w io.Writer) (int64, error) {
	slack := int64(fs.blockSize) - superblockRegionEnd
	if slack <= 0 {
		log.WithField("blockSize", fs.blockSize).Info("block size leaves no superblock slack")
		return 0, nil
	}
	b, err := readAt(fs.file, slack, int(slack))
	if err != nil {
		return 0, fmt.Errorf("could not read superblock slack: %w", err)
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return emit(w, b)
}

// FileSlackRange is the region between logical end of file and the end of its 4096 byte block,
// for an inode whose first extent starts past the reserved area. ok is false when there is nothing to read.
func FileSlackRange(in *Inode) (offset int64, length int64, ok bool) {
	if in.Extent.StartLo <= reservedStartBlocks {
		return 0, 0, false
	}
	length = fileSlackBlockSize - int64(in.Size)
	if length <= 0 {
		return 0, 0, false
	}
	return int64(in.Extent.StartLo)*fileSlackBlockSize + int64(in.Size), length, true
}

// FileSlack writes, in inode order, the slack tail of every inode that has one
func (fs *FileSystem) FileSlack(w io.Writer, inodes []*Inode) (int64, error) {
	var written int64
	for _, in := range inodes {
		offset, length, ok := FileSlackRange(in)
		if !ok {
			continue
		}
		b, err := readAt(fs.file, offset, int(length))
		if err != nil {
			return written, fmt.Errorf("could not read file slack of inode %d: %w", in.Number, err)
		}
		log.WithFields(log.Fields{
			"inode":  in.Number,
			"offset": offset,
			"length": length,
		}).Debug("file slack")
		n, err := emit(w, b)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReservedGDTBlock is the block that holds the reserved group descriptor table region:
// base + gdt size + 2
func (fs *FileSystem) ReservedGDTBlock(base GDTBase) uint64 {
	count := fs.superblock.TotalBlockCount
	if base == GDTBaseBlocksPerGroup {
		count = fs.superblock.BlocksPerGroup
	}
	return uint64(count) + gdtBlocks + 2
}

// ReservedGDT writes one full block of the reserved group descriptor table region, unconditionally
func (fs *FileSystem) ReservedGDT(w io.Writer, base GDTBase) (int64, error) {
	block := fs.ReservedGDTBlock(base)
	log.WithFields(log.Fields{
		"block": block,
		"base":  base.String(),
	}).Debug("reading reserved GDT block")
	b, err := fs.readBlock(block)
	if err != nil {
		return 0, fmt.Errorf("could not read reserved GDT region: %w", err)
	}
	return emit(w, b)
}

// Osd2 writes the two reserved bytes at the tail of the osd2 union for every inode where they are not zero
func (fs *FileSystem) Osd2(w io.Writer, inodes []*Inode) (int64, error) {
	return fs.nonZero(w, inodes, "osd2", (*Inode).Osd2ReservedAddress, osd2ReservedLength)
}

// ObsoFaddr writes the obsolete fragment address of every inode where it is not zero
func (fs *FileSystem) ObsoFaddr(w io.Writer, inodes []*Inode) (int64, error) {
	return fs.nonZero(w, inodes, "obso_faddr", (*Inode).ObsoFaddrAddress, inodeObsoFaddrLength)
}

// nonZero probes a fixed field in every inode and, when it holds anything but zeros,
// reads it again and writes it out
func (fs *FileSystem) nonZero(w io.Writer, inodes []*Inode, field string, address func(*Inode) int64, length int) (int64, error) {
	var written int64
	for _, in := range inodes {
		offset := address(in)
		b, err := readAt(fs.file, offset, length)
		if err != nil {
			return written, fmt.Errorf("could not read %s of inode %d: %w", field, in.Number, err)
		}
		if allZero(b) {
			continue
		}
		if b, err = readAt(fs.file, offset, length); err != nil {
			return written, fmt.Errorf("could not read %s of inode %d: %w", field, in.Number, err)
		}
		log.WithFields(log.Fields{
			"inode":  in.Number,
			"field":  field,
			"offset": offset,
			"value":  fmt.Sprintf("%x", b),
		}).Debug("non-zero unused field")
		n, err := emit(w, b)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
