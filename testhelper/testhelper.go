// Package testhelper builds small synthetic ext4 images for tests.
package testhelper

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/bits"
)

const (
	superblockOffset = 1024
	inodeSize        = 128
)

// Ext4Image is an in-memory image with just enough ext4 metadata for the decoders:
// a primary superblock, the group 0 descriptor and an inode table.
type Ext4Image struct {
	BlockSize       uint32
	InodeTableBlock uint32
	InodeSize       uint32
	Data            []byte
}

// SuperblockParams are the superblock values tests usually care about
type SuperblockParams struct {
	TotalBlockCount uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	InodeSize       uint32
	VolumeName      string
	UUID            [16]byte
	MkfsTime        uint32
}

// InodeParams describe one inode record
type InodeParams struct {
	Size         uint32
	Blocks       uint32
	Block        uint32
	Len          uint16
	StartHi      uint16
	StartLo      uint32
	ObsoFaddr    uint32
	Osd2Reserved uint16
}

// NewExt4Image allocates an image of the given number of zeroed blocks
func NewExt4Image(blockSize uint32, blocks int) *Ext4Image {
	return &Ext4Image{
		BlockSize: blockSize,
		InodeSize: inodeSize,
		Data:      make([]byte, int(blockSize)*blocks),
	}
}

func (e *Ext4Image) PutUint16(offset int64, v uint16) {
	binary.LittleEndian.PutUint16(e.Data[offset:], v)
}

func (e *Ext4Image) PutUint32(offset int64, v uint32) {
	binary.LittleEndian.PutUint32(e.Data[offset:], v)
}

// WriteSuperblock writes the primary superblock. InodeSize defaults to 128.
func (e *Ext4Image) WriteSuperblock(p SuperblockParams) {
	if p.InodeSize == 0 {
		p.InodeSize = inodeSize
	}
	e.InodeSize = p.InodeSize
	sb := int64(superblockOffset)
	e.PutUint32(sb+0x0, p.InodesPerGroup)
	e.PutUint32(sb+0x4, p.TotalBlockCount)
	e.PutUint32(sb+0x18, uint32(bits.TrailingZeros32(e.BlockSize)-10))
	e.PutUint32(sb+0x20, p.BlocksPerGroup)
	e.PutUint32(sb+0x28, p.InodesPerGroup)
	e.PutUint16(sb+0x38, 0xef53)
	e.PutUint32(sb+0x58, p.InodeSize)
	copy(e.Data[sb+0x68:sb+0x78], p.UUID[:])
	copy(e.Data[sb+0x78:sb+0x88], p.VolumeName)
	e.PutUint32(sb+0x108, p.MkfsTime)
}

// SetInodeTable points the group 0 descriptor at the given block
func (e *Ext4Image) SetInodeTable(block uint32) {
	e.InodeTableBlock = block
	e.PutUint32(int64(e.BlockSize)+0x8, block)
}

// InodeAddress is the absolute offset of the inode record at a 0-based index
func (e *Ext4Image) InodeAddress(index int) int64 {
	return int64(e.InodeTableBlock)*int64(e.BlockSize) + int64(index)*int64(e.InodeSize)
}

// WriteInode writes an extent-mapped inode record at a 0-based index
func (e *Ext4Image) WriteInode(index int, p InodeParams) {
	a := e.InodeAddress(index)
	e.PutUint32(a+0x4, p.Size)
	e.PutUint32(a+0x1C, p.Blocks)
	// extent header: magic, entries, max, depth
	e.PutUint16(a+0x28, 0xf30a)
	e.PutUint16(a+0x2A, 1)
	e.PutUint16(a+0x2C, 4)
	e.PutUint16(a+0x2E, 0)
	// first leaf
	e.PutUint32(a+0x28+12, p.Block)
	e.PutUint16(a+0x28+16, p.Len)
	e.PutUint16(a+0x28+18, p.StartHi)
	e.PutUint32(a+0x28+20, p.StartLo)
	e.PutUint32(a+0x70, p.ObsoFaddr)
	e.PutUint16(a+0x74+0xA, p.Osd2Reserved)
}

// Fill writes a recognisable non-zero pattern over a byte range
func (e *Ext4Image) Fill(offset int64, length int) {
	for i := 0; i < length; i++ {
		e.Data[offset+int64(i)] = byte(i%251) + 1
	}
}

// Reader returns a fresh reader over the image
func (e *Ext4Image) Reader() *bytes.Reader {
	return bytes.NewReader(e.Data)
}

// Read is one Read call observed by a RecordingFile
type Read struct {
	Offset int64
	Length int
}

// RecordingFile wraps a reader and records the position and size of every read
type RecordingFile struct {
	R     io.ReadSeeker
	Reads []Read
	pos   int64
}

func (r *RecordingFile) Read(p []byte) (int, error) {
	n, err := r.R.Read(p)
	r.Reads = append(r.Reads, Read{Offset: r.pos, Length: n})
	r.pos += int64(n)
	return n, err
}

func (r *RecordingFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.R.Seek(offset, whence)
	if err == nil {
		r.pos = pos
	}
	return pos, err
}
