package ext4

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elliotwutingfeng/asciiset"
	"github.com/google/uuid"

	"github.com/diskfs/ext4slack/util"
)

// Format names how the bytes of a field are turned into a value. The empty format is
// the plain unsigned little-endian integer rule.
type Format string

const (
	FormatInteger Format = ""
	FormatASCII   Format = "ascii"
	FormatRaw     Format = "raw"
	FormatTime    Format = "time"
	FormatUUID    Format = "uuid"
)

const maxIntegerFieldSize = 8

// scalarFormats are conversions applied to an already decoded integer
var scalarFormats = map[Format]func(uint64) interface{}{
	"int":  func(v uint64) interface{} { return v },
	"str":  func(v uint64) interface{} { return strconv.FormatUint(v, 10) },
	"hex":  func(v uint64) interface{} { return "0x" + strconv.FormatUint(v, 16) },
	"oct":  func(v uint64) interface{} { return "0o" + strconv.FormatUint(v, 8) },
	"bin":  func(v uint64) interface{} { return "0b" + strconv.FormatUint(v, 2) },
	"bool": func(v uint64) interface{} { return v != 0 },
}

var asciiChars = func() asciiset.ASCIISet {
	var sb strings.Builder
	for c := 0; c < 0x80; c++ {
		sb.WriteByte(byte(c))
	}
	as, _ := asciiset.MakeASCIISet(sb.String())
	return as
}()

// Field describes one named value inside a fixed-size on-disk record
type Field struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
	Size   int    `yaml:"size"`
	Format Format `yaml:"format,omitempty"`
}

// Schema is an ordered, declarative description of a record
type Schema []Field

// Len is the smallest record length that holds every field of the schema
func (s Schema) Len() int {
	var end int
	for _, f := range s {
		if e := f.Offset + f.Size; e > end {
			end = e
		}
	}
	return end
}

// Validate checks every field against a record of the given length
func (s Schema) Validate(length int) error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		switch {
		case f.Name == "":
			return &SchemaError{Format: f.Format, Reason: "empty field name"}
		case seen[f.Name]:
			return &SchemaError{Field: f.Name, Format: f.Format, Reason: "duplicate field name"}
		case f.Offset < 0 || f.Size <= 0:
			return &SchemaError{Field: f.Name, Format: f.Format, Reason: fmt.Sprintf("invalid offset %d or size %d", f.Offset, f.Size)}
		case f.Offset+f.Size > length:
			return &SchemaError{Field: f.Name, Format: f.Format, Reason: fmt.Sprintf("field ends at %d, beyond record length %d", f.Offset+f.Size, length)}
		}
		seen[f.Name] = true
		switch f.Format {
		case FormatASCII, FormatRaw:
		case FormatUUID:
			if f.Size != 16 {
				return &SchemaError{Field: f.Name, Format: f.Format, Reason: fmt.Sprintf("uuid must be 16 bytes, not %d", f.Size)}
			}
		default:
			if f.Format != FormatInteger && f.Format != FormatTime && scalarFormats[f.Format] == nil {
				return &SchemaError{Field: f.Name, Format: f.Format, Reason: "unknown format"}
			}
			if f.Size > maxIntegerFieldSize {
				return &SchemaError{Field: f.Name, Format: f.Format, Reason: fmt.Sprintf("integer fields are at most %d bytes, not %d", maxIntegerFieldSize, f.Size)}
			}
		}
	}
	return nil
}

// Record is a decoded record keyed by field name
type Record map[string]interface{}

// Uint returns an integer field
func (r Record) Uint(name string) (uint64, error) {
	v, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("record has no field %q", name)
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("field %q is %T, not an integer", name, v)
	}
	return u, nil
}

// Bytes returns a raw field
func (r Record) Bytes(name string) ([]byte, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("record has no field %q", name)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, not raw bytes", name, v)
	}
	return b, nil
}

// Decode reads length bytes at the absolute offset of f and decodes them according to the schema.
// The read cursor of f is left after the record.
func Decode(f util.File, offset int64, length int, schema Schema) (Record, error) {
	if err := schema.Validate(length); err != nil {
		return nil, err
	}
	b, err := readAt(f, offset, length)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(b, schema)
}

// DecodeBytes decodes an in-memory record according to the schema
func DecodeBytes(b []byte, schema Schema) (Record, error) {
	if err := schema.Validate(len(b)); err != nil {
		return nil, err
	}
	r := make(Record, len(schema))
	for _, f := range schema {
		v, err := decodeField(b[f.Offset:f.Offset+f.Size], f)
		if err != nil {
			return nil, err
		}
		r[f.Name] = v
	}
	return r, nil
}

func decodeField(b []byte, f Field) (interface{}, error) {
	switch f.Format {
	case FormatRaw:
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case FormatASCII:
		for i, c := range b {
			if !asciiChars.Contains(c) {
				return nil, fmt.Errorf("%w: %s has byte 0x%02x at position %d", ErrNotASCII, f.Name, c, i)
			}
		}
		return string(b), nil
	case FormatUUID:
		u, err := uuid.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("could not decode uuid %s: %w", f.Name, err)
		}
		return u, nil
	}

	v, err := toUintLE(b)
	if err != nil {
		return nil, &SchemaError{Field: f.Name, Format: f.Format, Reason: err.Error()}
	}
	switch f.Format {
	case FormatInteger:
		return v, nil
	case FormatTime:
		return time.Unix(int64(v), 0).UTC(), nil
	}
	conv, ok := scalarFormats[f.Format]
	if !ok {
		return nil, &SchemaError{Field: f.Name, Format: f.Format, Reason: "unknown format"}
	}
	return conv(v), nil
}
