package ext4

import (
	"fmt"
)

const (
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentHeaderSignature  uint16 = 0xf30a
	// extentTreeRootLength is the size of the inline root stored in i_block
	extentTreeRootLength int = 60
)

// ExtentLeafSchema lays out a single leaf entry of an extent tree node
var ExtentLeafSchema = Schema{
	{Name: "block", Offset: 0x0, Size: 4},
	{Name: "len", Offset: 0x4, Size: 2},
	{Name: "start_hi", Offset: 0x6, Size: 2},
	{Name: "start_lo", Offset: 0x8, Size: 4},
}

// ExtentHeader is the 12 byte header at the start of every extent tree node
type ExtentHeader struct {
	Magic   uint16
	Entries uint16
	Max     uint16
	// Depth of the tree below this node; 0 for leaves
	Depth uint16
	// Generation is only used by Lustre
	Generation uint32
}

// Valid reports whether the header carries the extent tree signature
func (h ExtentHeader) Valid() bool {
	return h.Magic == extentHeaderSignature
}

// Extent is a leaf entry: a run of Len physical blocks starting at StartHi:StartLo,
// covering file blocks from Block onwards
type Extent struct {
	Block   uint32
	Len     uint16
	StartHi uint16
	StartLo uint32
}

// StartingBlock is the 48-bit physical block number of the run
func (e Extent) StartingBlock() uint64 {
	return uint64(e.StartHi)<<32 | uint64(e.StartLo)
}

func parseExtentHeader(b []byte) (h ExtentHeader, err error) {
	var offset int
	if offset, err = toUint16(b, 0x0, &h.Magic); err != nil {
		return h, fmt.Errorf("failed to deserialize extent header magic: %w", err)
	}
	if offset, err = toUint16(b, offset, &h.Entries); err != nil {
		return h, fmt.Errorf("failed to deserialize extent header entries: %w", err)
	}
	if offset, err = toUint16(b, offset, &h.Max); err != nil {
		return h, fmt.Errorf("failed to deserialize extent header max: %w", err)
	}
	if offset, err = toUint16(b, offset, &h.Depth); err != nil {
		return h, fmt.Errorf("failed to deserialize extent header depth: %w", err)
	}
	if _, err = toUint32(b, offset, &h.Generation); err != nil {
		return h, fmt.Errorf("failed to deserialize extent header generation: %w", err)
	}
	return h, nil
}

// parseFirstExtent decodes the header and the first entry of an inline extent tree root.
// The entry is decoded as a leaf whatever the header says; interior nodes are not followed.
func parseFirstExtent(tree []byte) (ExtentHeader, Extent, error) {
	// must have at least header and one entry
	if minLength := extentTreeHeaderLength + extentTreeEntryLength; len(tree) < minLength {
		return ExtentHeader{}, Extent{}, fmt.Errorf("cannot parse extent tree from %d bytes, minimum required %d", len(tree), minLength)
	}
	h, err := parseExtentHeader(tree[:extentTreeHeaderLength])
	if err != nil {
		return h, Extent{}, err
	}
	r, err := DecodeBytes(tree[extentTreeHeaderLength:extentTreeHeaderLength+extentTreeEntryLength], ExtentLeafSchema)
	if err != nil {
		return h, Extent{}, fmt.Errorf("could not decode first extent leaf: %w", err)
	}
	var e Extent
	for name, set := range map[string]func(uint64){
		"block":    func(v uint64) { e.Block = uint32(v) },
		"len":      func(v uint64) { e.Len = uint16(v) },
		"start_hi": func(v uint64) { e.StartHi = uint16(v) },
		"start_lo": func(v uint64) { e.StartLo = uint32(v) },
	} {
		v, err := r.Uint(name)
		if err != nil {
			return h, Extent{}, err
		}
		set(v)
	}
	return h, e, nil
}
