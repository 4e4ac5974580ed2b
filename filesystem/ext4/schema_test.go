package ext4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/diskfs/ext4slack/testhelper"
)

func TestDecodeIntegerRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7f, 0x80, 0xff, 0x100, 0x1234, 0xfffe, math.MaxUint16, 0x10000, 0xdeadbeef, math.MaxUint32}
	for _, width := range []int{2, 4} {
		for _, v := range values {
			if width == 2 && v > math.MaxUint16 {
				continue
			}
			b := make([]byte, 8)
			if width == 2 {
				binary.LittleEndian.PutUint16(b[3:], uint16(v))
			} else {
				binary.LittleEndian.PutUint32(b[3:], uint32(v))
			}
			r, err := Decode(bytes.NewReader(b), 0, len(b), Schema{{Name: "v", Offset: 3, Size: width}})
			if err != nil {
				t.Fatalf("width %d value %d: unexpected error: %v", width, v, err)
			}
			got, err := r.Uint("v")
			if err != nil {
				t.Fatalf("width %d value %d: %v", width, v, err)
			}
			if got != v {
				t.Errorf("width %d: decoded %d, expected %d", width, got, v)
			}
		}
	}
}

func TestDecodeRaw(t *testing.T) {
	src := []byte("0123456789abcdef")
	r, err := Decode(bytes.NewReader(src), 2, 12, Schema{{Name: "blob", Offset: 3, Size: 6, Format: FormatRaw}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := r.Bytes("blob")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(src[5:11], b); diff != "" {
		t.Errorf("raw field mismatch (-want +got):\n%s", diff)
	}
	// the decoded span must not alias the read buffer of another record
	b[0] = 'X'
	if src[5] == 'X' {
		t.Errorf("raw field aliases the source")
	}
}

func TestDecodeASCII(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"label", "my-volume"},
		{"nul padded", "data\x00\x00\x00\x00"},
		{"printable range", " !~AZaz09"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte{0xff, 0xff}, tt.in...)
			r, err := DecodeBytes(b, Schema{{Name: "s", Offset: 2, Size: len(tt.in), Format: FormatASCII}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r["s"] != tt.in {
				t.Errorf("decoded %q, expected %q", r["s"], tt.in)
			}
		})
	}
	t.Run("non ascii", func(t *testing.T) {
		_, err := DecodeBytes([]byte("ab\xc3\xa9"), Schema{{Name: "s", Offset: 0, Size: 4, Format: FormatASCII}})
		if !errors.Is(err, ErrNotASCII) {
			t.Errorf("expected ErrNotASCII, got %v", err)
		}
	})
}

func TestDecodeTimeAndUUID(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0:], 86400+3600)
	copy(b[4:], id[:])
	r, err := DecodeBytes(b, Schema{
		{Name: "when", Offset: 0, Size: 4, Format: FormatTime},
		{Name: "id", Offset: 4, Size: 16, Format: FormatUUID},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := Record{
		"when": time.Date(1970, 1, 2, 1, 0, 0, 0, time.UTC),
		"id":   id,
	}
	if diff := deep.Equal(r, expected); diff != nil {
		t.Errorf("DecodeBytes() = %v", diff)
	}
}

func TestDecodeScalarFormats(t *testing.T) {
	b := []byte{0x2a, 0x00}
	tests := []struct {
		format   Format
		expected interface{}
	}{
		{"int", uint64(42)},
		{"str", "42"},
		{"hex", "0x2a"},
		{"oct", "0o52"},
		{"bin", "0b101010"},
		{"bool", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			r, err := DecodeBytes(b, Schema{{Name: "v", Offset: 0, Size: 2, Format: tt.format}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r["v"] != tt.expected {
				t.Errorf("format %s decoded %#v, expected %#v", tt.format, r["v"], tt.expected)
			}
		})
	}
}

func TestDecodeSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"unknown format", Schema{{Name: "v", Offset: 0, Size: 4, Format: "float"}}},
		{"beyond record", Schema{{Name: "v", Offset: 6, Size: 4}}},
		{"zero size", Schema{{Name: "v", Offset: 0, Size: 0}}},
		{"negative offset", Schema{{Name: "v", Offset: -1, Size: 2}}},
		{"wide integer", Schema{{Name: "v", Offset: 0, Size: 9}}},
		{"short uuid", Schema{{Name: "v", Offset: 0, Size: 8, Format: FormatUUID}}},
		{"duplicate", Schema{{Name: "v", Offset: 0, Size: 2}, {Name: "v", Offset: 2, Size: 2}}},
		{"unnamed", Schema{{Offset: 0, Size: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &testhelper.RecordingFile{R: bytes.NewReader(make([]byte, 16))}
			_, err := Decode(f, 0, 8, tt.schema)
			var serr *SchemaError
			if !errors.As(err, &serr) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if len(f.Reads) != 0 {
				t.Errorf("schema error should be raised before reading, saw %d reads", len(f.Reads))
			}
		})
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode(bytes.NewReader(make([]byte, 10)), 4, 8, Schema{{Name: "v", Offset: 0, Size: 4}})
	var terr *TruncatedReadError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TruncatedReadError, got %v", err)
	}
	expected := &TruncatedReadError{Offset: 4, Want: 8, Got: 6}
	if diff := deep.Equal(terr, expected); diff != nil {
		t.Errorf("TruncatedReadError = %v", diff)
	}

	_, err = Decode(bytes.NewReader(make([]byte, 10)), 20, 4, Schema{{Name: "v", Offset: 0, Size: 4}})
	if !errors.As(err, &terr) || terr.Got != 0 {
		t.Errorf("expected empty TruncatedReadError past the end, got %v", err)
	}
}

func TestDecodeRepositionsCursor(t *testing.T) {
	r := bytes.NewReader(make([]byte, 64))
	if _, err := Decode(r, 10, 20, Schema{{Name: "v", Offset: 0, Size: 4}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 30 {
		t.Errorf("cursor at %d after decode, expected 30", pos)
	}
}

func TestSchemaLen(t *testing.T) {
	if l := InodeSchema.Len(); l != 0x80 {
		t.Errorf("inode schema spans %d bytes, expected 128", l)
	}
	if l := ExtentLeafSchema.Len(); l != extentTreeEntryLength {
		t.Errorf("extent leaf schema spans %d bytes, expected %d", l, extentTreeEntryLength)
	}
	if err := SuperblockSchema.Validate(SuperblockSize); err != nil {
		t.Errorf("superblock schema invalid: %v", err)
	}
}
