package ext4

import (
	"errors"
	"fmt"
)

// ErrNotASCII is returned when a field declared as ascii holds bytes outside the 7-bit range
var ErrNotASCII = errors.New("field is not ascii")

// GeometryError reports superblock or group values that would make a scan meaningless or non-terminating
type GeometryError struct {
	Field  string
	Value  uint64
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid filesystem geometry: %s=%d: %s", e.Field, e.Value, e.Reason)
}

// TruncatedReadError reports that fewer bytes were available than a decode step needed
type TruncatedReadError struct {
	Offset int64
	Want   int
	Got    int
}

func (e *TruncatedReadError) Error() string {
	return fmt.Sprintf("truncated read at offset %d: wanted %d bytes, got %d", e.Offset, e.Want, e.Got)
}

// SchemaError is a programming error in a decoding schema, such as an unknown format name
type SchemaError struct {
	Field  string
	Format Format
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("invalid schema field %q (format %q): %s", e.Field, e.Format, e.Reason)
	}
	return fmt.Sprintf("invalid schema field %q: %s", e.Field, e.Reason)
}
