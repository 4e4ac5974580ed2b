package ext4slack

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/diskfs/ext4slack/filesystem/ext4"
	"github.com/diskfs/ext4slack/util"
)

// SuperblockReport is the printable form of the decoded superblock
type SuperblockReport struct {
	Signature         bool   `yaml:"signature"`
	Magic             string `yaml:"magic"`
	UUID              string `yaml:"uuid"`
	VolumeName        string `yaml:"volumeName"`
	BlockSize         uint32 `yaml:"blockSize"`
	TotalBlockCount   uint32 `yaml:"totalBlockCount"`
	BlocksPerGroup    uint32 `yaml:"blocksPerGroup"`
	InodesCount       uint32 `yaml:"inodesCount"`
	InodesPerGroup    uint32 `yaml:"inodesPerGroup"`
	InodeSize         uint16 `yaml:"inodeSize"`
	ReservedGDTBlocks uint16 `yaml:"reservedGdtBlocks"`
	MountTime         string `yaml:"mountTime"`
	WriteTime         string `yaml:"writeTime"`
	MkfsTime          string `yaml:"mkfsTime"`
	MetadataChecksum  bool   `yaml:"metadataChecksum"`
	Checksum          string `yaml:"checksum,omitempty"`
	ChecksumValid     *bool  `yaml:"checksumValid,omitempty"`
}

// RegionReport is a byte range of the image
type RegionReport struct {
	Offset int64 `yaml:"offset"`
	Length int64 `yaml:"length"`
}

// InspectReport describes the geometry every scanner works from
type InspectReport struct {
	Superblock      SuperblockReport `yaml:"superblock"`
	InodeTable      RegionReport     `yaml:"inodeTable"`
	InodeCount      int64            `yaml:"inodeCount"`
	SuperblockSlack RegionReport     `yaml:"superblockSlack"`
	ReservedGDT     RegionReport     `yaml:"reservedGdt"`
}

// InodeReport is the printable form of a decoded inode
type InodeReport struct {
	Number     uint32        `yaml:"number"`
	Address    int64         `yaml:"address"`
	Size       uint32        `yaml:"size"`
	Blocks     uint32        `yaml:"blocks"`
	ExtentTree bool          `yaml:"extentTree"`
	Block      uint32        `yaml:"block"`
	Len        uint16        `yaml:"len"`
	StartHi    uint16        `yaml:"startHi"`
	StartLo    uint32        `yaml:"startLo"`
	ObsoFaddr  string        `yaml:"obsoFaddr"`
	Osd2       string        `yaml:"osd2"`
	FileSlack  *RegionReport `yaml:"fileSlack,omitempty"`
}

func formatTime(t time.Time) string {
	if t.Unix() == 0 {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Inspect decodes the superblock and inode table geometry without dumping anything
func Inspect(c *Config, img util.File) (*InspectReport, error) {
	gdtBase, err := ext4.ParseGDTBase(c.GDTBase)
	if err != nil {
		return nil, err
	}
	fs, err := ext4.Read(img, c.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("could not read filesystem: %w", err)
	}
	table, err := fs.InodeTable()
	if err != nil {
		return nil, fmt.Errorf("could not locate inode table: %w", err)
	}
	sb := fs.Superblock()
	blockSize := int64(fs.BlockSize())
	r := &InspectReport{
		Superblock: SuperblockReport{
			Signature:         sb.HasSignature(),
			Magic:             fmt.Sprintf("0x%04x", sb.Magic),
			UUID:              sb.UUID.String(),
			VolumeName:        strings.TrimRight(sb.VolumeName, "\x00"),
			BlockSize:         fs.BlockSize(),
			TotalBlockCount:   sb.TotalBlockCount,
			BlocksPerGroup:    sb.BlocksPerGroup,
			InodesCount:       sb.InodesCount,
			InodesPerGroup:    sb.InodesPerGroup,
			InodeSize:         sb.InodeSize,
			ReservedGDTBlocks: sb.ReservedGDTBlocks,
			MountTime:         formatTime(sb.MountTime),
			WriteTime:         formatTime(sb.WriteTime),
			MkfsTime:          formatTime(sb.MkfsTime),
		},
		InodeTable: RegionReport{Offset: table.Start, Length: table.Length},
		InodeCount: table.Count(),
		ReservedGDT: RegionReport{
			Offset: int64(fs.ReservedGDTBlock(gdtBase)) * blockSize,
			Length: blockSize,
		},
	}
	r.Superblock.MetadataChecksum = sb.HasMetadataChecksum()
	if stored, computed, ok := sb.VerifyChecksum(); ok {
		valid := stored == computed
		r.Superblock.Checksum = sb.Checksum
		r.Superblock.ChecksumValid = &valid
	}
	if slack := blockSize - 2048; slack > 0 {
		r.SuperblockSlack = RegionReport{Offset: slack, Length: slack}
	}
	return r, nil
}

// InspectInodes decodes the group 0 inode table into printable records
func InspectInodes(c *Config, img util.File) ([]InodeReport, error) {
	fs, err := ext4.Read(img, c.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("could not read filesystem: %w", err)
	}
	inodes, _, err := fs.Inodes()
	if err != nil {
		return nil, fmt.Errorf("could not scan inode table: %w", err)
	}
	reports := make([]InodeReport, 0, len(inodes))
	for _, in := range inodes {
		ir := InodeReport{
			Number:     in.Number,
			Address:    in.Address,
			Size:       in.Size,
			Blocks:     in.Blocks,
			ExtentTree: in.ExtentHeader.Valid(),
			Block:      in.Extent.Block,
			Len:        in.Extent.Len,
			StartHi:    in.Extent.StartHi,
			StartLo:    in.Extent.StartLo,
			ObsoFaddr:  fmt.Sprintf("0x%08x", in.ObsoFaddr),
			Osd2:       fmt.Sprintf("%x", in.Osd2),
		}
		if offset, length, ok := ext4.FileSlackRange(in); ok {
			ir.FileSlack = &RegionReport{Offset: offset, Length: length}
		}
		reports = append(reports, ir)
	}
	return reports, nil
}

// Schemas returns the declarative layouts used to decode the image, keyed by structure
func Schemas() map[string]ext4.Schema {
	return map[string]ext4.Schema{
		"superblock":  ext4.SuperblockSchema,
		"inode":       ext4.InodeSchema,
		"extent_leaf": ext4.ExtentLeafSchema,
	}
}

// WriteYAML marshals v as YAML to w
func WriteYAML(w io.Writer, v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return nil
}
