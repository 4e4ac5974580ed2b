package ext4

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	superblockChecksumOffset              = 0x3FC
	featureRoCompatMetadataChecksum uint32 = 0x400
	checksumTypeCRC32c              uint8  = 1
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32c continues an ext4 style crc32c from seed. Unlike hash/crc32, ext4 does not invert
// the register before or after, so the inversions of crc32.Update are undone here.
func crc32c(seed uint32, b []byte) uint32 {
	return ^crc32.Update(^seed, crc32cTable, b)
}

// superblockChecksum is crc32c(~0, superblock) over everything before s_checksum
// see https://git.kernel.org/pub/scm/fs/ext2/e2fsprogs.git/tree/lib/ext2fs/csum.c
func superblockChecksum(b []byte) uint32 {
	return crc32c(^uint32(0), b[:superblockChecksumOffset])
}

// HasMetadataChecksum reports whether the metadata_csum read-only compatible feature is set
func (sb *Superblock) HasMetadataChecksum() bool {
	return sb.FeatureRoCompat&featureRoCompatMetadataChecksum != 0
}

// VerifyChecksum compares the stored superblock checksum with one computed over the raw superblock.
// ok is false when the filesystem does not carry metadata checksums, in which case there is nothing to compare.
func (sb *Superblock) VerifyChecksum() (stored, computed uint32, ok bool) {
	if !sb.HasMetadataChecksum() || sb.ChecksumType != checksumTypeCRC32c || len(sb.raw) < SuperblockSize {
		return 0, 0, false
	}
	stored = binary.LittleEndian.Uint32(sb.raw[superblockChecksumOffset:])
	return stored, superblockChecksum(sb.raw), true
}
