package ext4

import (
	"errors"
	"testing"

	"github.com/go-test/deep"

	"github.com/diskfs/ext4slack/testhelper"
)

const (
	testBlockSize       uint32 = 4096
	testInodeTableBlock uint32 = 5
	testTotalBlocks     uint32 = 32
	testImageBlocks     int    = 40
)

// testGetValidImage returns a 4096 byte block image with 4 inodes of 128 bytes in group 0
func testGetValidImage() *testhelper.Ext4Image {
	img := testhelper.NewExt4Image(testBlockSize, testImageBlocks)
	img.WriteSuperblock(testhelper.SuperblockParams{
		TotalBlockCount: testTotalBlocks,
		BlocksPerGroup:  32768,
		InodesPerGroup:  4,
		InodeSize:       128,
		VolumeName:      "evidence",
		MkfsTime:        1600000000,
	})
	img.SetInodeTable(testInodeTableBlock)
	return img
}

func TestLocateInodeTable(t *testing.T) {
	img := testGetValidImage()
	table, err := LocateInodeTable(img.Reader(), testBlockSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := InodeTable{
		Start:     int64(testInodeTableBlock) * int64(testBlockSize),
		InodeSize: 128,
		Length:    4 * 128,
	}
	if diff := deep.Equal(table, expected); diff != nil {
		t.Errorf("LocateInodeTable() = %v", diff)
	}
	if table.Count() != 4 {
		t.Errorf("table count %d, expected 4", table.Count())
	}
}

func TestLocateInodeTableGeometryErrors(t *testing.T) {
	tests := []struct {
		name      string
		inodeSize uint32
		blockSize uint32
		field     string
	}{
		{"zero inode size", 0, testBlockSize, "inode_size"},
		{"tiny inode size", 64, testBlockSize, "inode_size"},
		{"inode larger than block", 8192, testBlockSize, "inode_size"},
		{"zero block size", 128, 0, "block_size"},
		{"odd block size", 128, 3000, "block_size"},
		{"huge block size", 128, 1 << 17, "block_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testGetValidImage()
			img.PutUint32(1024+0x58, tt.inodeSize)
			_, err := LocateInodeTable(img.Reader(), tt.blockSize)
			var gerr *GeometryError
			if !errors.As(err, &gerr) {
				t.Fatalf("expected GeometryError, got %v", err)
			}
			if gerr.Field != tt.field {
				t.Errorf("GeometryError on %q, expected %q", gerr.Field, tt.field)
			}
		})
	}
}

func TestScanInodes(t *testing.T) {
	img := testGetValidImage()
	img.WriteInode(1, testhelper.InodeParams{Size: 100, Blocks: 8, Block: 0, Len: 1, StartHi: 0, StartLo: 25})
	img.WriteInode(3, testhelper.InodeParams{Size: 5000, Blocks: 16, Block: 0, Len: 2, StartHi: 1, StartLo: 30})

	table, err := LocateInodeTable(img.Reader(), testBlockSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inodes, err := ScanInodes(img.Reader(), table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inodes) != 4 {
		t.Fatalf("scanned %d inodes, expected 4", len(inodes))
	}
	for i, in := range inodes {
		if want := table.Start + int64(i)*128; in.Address != want {
			t.Errorf("inode %d at address %d, expected %d", i, in.Address, want)
		}
		if in.Number != uint32(i+1) {
			t.Errorf("inode %d numbered %d", i, in.Number)
		}
		if i > 0 && in.Address-inodes[i-1].Address != 128 {
			t.Errorf("inode %d is %d bytes after the previous one", i, in.Address-inodes[i-1].Address)
		}
	}

	second := inodes[1]
	if second.Size != 100 || second.Blocks != 8 {
		t.Errorf("inode 2 size %d blocks %d, expected 100 and 8", second.Size, second.Blocks)
	}
	if diff := deep.Equal(second.Extent, Extent{Block: 0, Len: 1, StartHi: 0, StartLo: 25}); diff != nil {
		t.Errorf("inode 2 extent = %v", diff)
	}
	if !second.ExtentHeader.Valid() || second.ExtentHeader.Entries != 1 || second.ExtentHeader.Depth != 0 {
		t.Errorf("inode 2 extent header %+v", second.ExtentHeader)
	}
	if got := inodes[3].Extent.StartingBlock(); got != 1<<32|30 {
		t.Errorf("inode 4 starting block %d, expected %d", got, uint64(1<<32|30))
	}
	if len(second.ExtentTree) != extentTreeRootLength || len(second.Osd2) != inodeOsd2Length {
		t.Errorf("raw fields have lengths %d and %d", len(second.ExtentTree), len(second.Osd2))
	}
	// unused inodes are returned, not filtered
	if inodes[0].ExtentHeader.Valid() || inodes[0].Extent.StartLo != 0 {
		t.Errorf("inode 1 should be empty, got %+v", inodes[0].Extent)
	}
}

func TestScanInodesTruncated(t *testing.T) {
	img := testGetValidImage()
	// table runs past the end of the image
	img.SetInodeTable(uint32(testImageBlocks) - 1)
	img.PutUint32(1024+0x28, 64)
	table, err := LocateInodeTable(img.Reader(), testBlockSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = ScanInodes(img.Reader(), table)
	var terr *TruncatedReadError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TruncatedReadError, got %v", err)
	}
}

func TestScanInodesEmptyGroup(t *testing.T) {
	img := testGetValidImage()
	img.PutUint32(1024+0x28, 0)
	table, err := LocateInodeTable(img.Reader(), testBlockSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inodes, err := ScanInodes(img.Reader(), table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inodes) != 0 {
		t.Errorf("scanned %d inodes from an empty group", len(inodes))
	}
}

func TestParseFirstExtentShort(t *testing.T) {
	if _, _, err := parseFirstExtent(make([]byte, 20)); err == nil {
		t.Errorf("expected error for a 20 byte extent tree")
	}
}

func TestLocateInodeTableOversizedGroup(t *testing.T) {
	img := testGetValidImage()
	img.PutUint32(1024+0x28, 0xffffffff)
	_, err := LocateInodeTable(img.Reader(), testBlockSize)
	var gerr *GeometryError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GeometryError, got %v", err)
	}
	if gerr.Field != "inodes_per_group" || gerr.Value != 0xffffffff {
		t.Errorf("GeometryError %+v", gerr)
	}

	// a table that exactly fills the group is accepted: 32768 blocks of 4096 bytes hold 1<<20 inodes of 128 bytes
	img.PutUint32(1024+0x28, 1<<20)
	if _, err := LocateInodeTable(img.Reader(), testBlockSize); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestScanInodesHugeTable(t *testing.T) {
	img := testGetValidImage()
	table := InodeTable{
		Start:     int64(testInodeTableBlock) * int64(testBlockSize),
		InodeSize: 128,
		Length:    0xffffffff * 128,
	}
	// runs off the end of the image instead of allocating for the declared count
	_, err := ScanInodes(img.Reader(), table)
	var terr *TruncatedReadError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TruncatedReadError, got %v", err)
	}
}
