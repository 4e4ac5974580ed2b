package ext4

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/ext4slack/util"
)

const (
	// SuperblockOffset is the absolute position of the primary superblock, independent of block size
	SuperblockOffset int64 = 1024
	// SuperblockSize is the number of bytes decoded for the superblock
	SuperblockSize int = 1024

	superblockSignature uint16 = 0xef53

	minBlockLogSize int = 10 /* 1024 */
	maxBlockLogSize int = 16 /* 65536 */
	minBlockSize    int = 1 << minBlockLogSize
	maxBlockSize    int = 1 << maxBlockLogSize
)

// SuperblockSchema lays out the superblock fields this tool cares about
var SuperblockSchema = Schema{
	{Name: "inodes_count", Offset: 0x0, Size: 4},
	{Name: "total_block_count", Offset: 0x4, Size: 4},
	{Name: "log_block_size", Offset: 0x18, Size: 4},
	{Name: "blocks_per_group", Offset: 0x20, Size: 4},
	{Name: "inodes_per_group", Offset: 0x28, Size: 4},
	{Name: "mtime", Offset: 0x2C, Size: 4, Format: FormatTime},
	{Name: "wtime", Offset: 0x30, Size: 4, Format: FormatTime},
	{Name: "magic", Offset: 0x38, Size: 2},
	{Name: "inode_size", Offset: 0x58, Size: 2},
	{Name: "uuid", Offset: 0x68, Size: 16, Format: FormatUUID},
	{Name: "volume_name", Offset: 0x78, Size: 16, Format: FormatRaw},
	{Name: "reserved_gdt_blocks", Offset: 0xCE, Size: 2},
	{Name: "feature_ro_compat", Offset: 0x64, Size: 4},
	{Name: "mkfs_time", Offset: 0x108, Size: 4, Format: FormatTime},
	{Name: "checksum_type", Offset: 0x175, Size: 1},
	{Name: "checksum", Offset: 0x3FC, Size: 4, Format: "hex"},
}

// Superblock is the subset of the ext4 superblock needed to find dead regions
type Superblock struct {
	InodesCount       uint32
	TotalBlockCount   uint32
	LogBlockSize      uint32
	BlocksPerGroup    uint32
	InodesPerGroup    uint32
	MountTime         time.Time
	WriteTime         time.Time
	Magic             uint16
	InodeSize         uint16
	UUID              uuid.UUID
	VolumeName        string
	ReservedGDTBlocks uint16
	MkfsTime          time.Time
	FeatureRoCompat   uint32
	ChecksumType      uint8
	Checksum          string

	raw []byte
}

// ReadSuperblock decodes the primary superblock of an image
func ReadSuperblock(f util.File) (*Superblock, error) {
	if err := SuperblockSchema.Validate(SuperblockSize); err != nil {
		return nil, err
	}
	b, err := readAt(f, SuperblockOffset, SuperblockSize)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock: %w", err)
	}
	r, err := DecodeBytes(b, SuperblockSchema)
	if err != nil {
		return nil, fmt.Errorf("could not decode superblock: %w", err)
	}
	sb, err := superblockFromRecord(r)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	sb.raw = b
	if !sb.HasSignature() {
		log.WithFields(log.Fields{
			"magic":    fmt.Sprintf("0x%04x", sb.Magic),
			"expected": fmt.Sprintf("0x%04x", superblockSignature),
		}).Warn("superblock signature mismatch, image may not be ext4 or may be damaged")
	}
	if stored, computed, ok := sb.VerifyChecksum(); ok && stored != computed {
		log.WithFields(log.Fields{
			"stored":   fmt.Sprintf("0x%08x", stored),
			"computed": fmt.Sprintf("0x%08x", computed),
		}).Warn("superblock checksum mismatch, superblock has been modified outside the filesystem driver")
	}
	return sb, nil
}

func superblockFromRecord(r Record) (*Superblock, error) {
	sb := Superblock{}
	for name, to := range map[string]*uint32{
		"inodes_count":      &sb.InodesCount,
		"total_block_count": &sb.TotalBlockCount,
		"log_block_size":    &sb.LogBlockSize,
		"blocks_per_group":  &sb.BlocksPerGroup,
		"inodes_per_group":  &sb.InodesPerGroup,
		"feature_ro_compat": &sb.FeatureRoCompat,
	} {
		v, err := r.Uint(name)
		if err != nil {
			return nil, err
		}
		*to = uint32(v)
	}
	for name, to := range map[string]*uint16{
		"magic":               &sb.Magic,
		"inode_size":          &sb.InodeSize,
		"reserved_gdt_blocks": &sb.ReservedGDTBlocks,
	} {
		v, err := r.Uint(name)
		if err != nil {
			return nil, err
		}
		*to = uint16(v)
	}
	for name, to := range map[string]*time.Time{
		"mtime":     &sb.MountTime,
		"wtime":     &sb.WriteTime,
		"mkfs_time": &sb.MkfsTime,
	} {
		t, ok := r[name].(time.Time)
		if !ok {
			return nil, fmt.Errorf("field %q is %T, not a time", name, r[name])
		}
		*to = t
	}
	var ok bool
	if sb.UUID, ok = r["uuid"].(uuid.UUID); !ok {
		return nil, fmt.Errorf("field %q is %T, not a uuid", "uuid", r["uuid"])
	}
	label, err := r.Bytes("volume_name")
	if err != nil {
		return nil, err
	}
	// labels are free-form bytes; e2label accepts UTF-8
	sb.VolumeName = string(label)
	if sb.Checksum, ok = r["checksum"].(string); !ok {
		return nil, fmt.Errorf("field %q is %T, not a string", "checksum", r["checksum"])
	}
	ct, err := r.Uint("checksum_type")
	if err != nil {
		return nil, err
	}
	sb.ChecksumType = uint8(ct)
	return &sb, nil
}

// HasSignature reports whether the superblock carries the ext2/3/4 magic number
func (sb *Superblock) HasSignature() bool {
	return sb.Magic == superblockSignature
}

// BlockSize is the filesystem block size in bytes, 2 ^ (10 + s_log_block_size)
func (sb *Superblock) BlockSize() (uint32, error) {
	if sb.LogBlockSize > uint32(maxBlockLogSize-minBlockLogSize) {
		return 0, &GeometryError{Field: "log_block_size", Value: uint64(sb.LogBlockSize), Reason: fmt.Sprintf("block size would exceed %d bytes", maxBlockSize)}
	}
	return uint32(minBlockSize) << sb.LogBlockSize, nil
}

// ValidateBlockSize rejects block sizes that are zero, not a power of two, or outside the ext4 range
func ValidateBlockSize(blockSize uint32) error {
	switch {
	case blockSize == 0:
		return &GeometryError{Field: "block_size", Value: 0, Reason: "block size is zero"}
	case blockSize&(blockSize-1) != 0:
		return &GeometryError{Field: "block_size", Value: uint64(blockSize), Reason: "block size is not a power of two"}
	case int(blockSize) < minBlockSize || int(blockSize) > maxBlockSize:
		return &GeometryError{Field: "block_size", Value: uint64(blockSize), Reason: fmt.Sprintf("block size must be between %d and %d", minBlockSize, maxBlockSize)}
	}
	return nil
}
