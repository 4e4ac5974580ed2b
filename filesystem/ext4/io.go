package ext4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/diskfs/ext4slack/util"
)

func toUint32(b []byte, start int, to *uint32) (int, error) {
	if len(b) < start+4 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.EOF, start+4, len(b))
	}
	*to = binary.LittleEndian.Uint32(b[start:])
	return start + 4, nil
}

func toUint16(b []byte, start int, to *uint16) (int, error) {
	if len(b) < start+2 {
		return 0, fmt.Errorf("%w: expected at least %d bytes, received: %d", io.EOF, start+2, len(b))
	}
	*to = binary.LittleEndian.Uint16(b[start:])
	return start + 2, nil
}

// toUintLE interprets up to 8 bytes as an unsigned little-endian integer of that width
func toUintLE(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("cannot interpret %d bytes as an integer, maximum is 8", len(b))
	}
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// readAt positions the cursor of f at offset and reads exactly length bytes.
// Anything short of length is a TruncatedReadError.
func readAt(f util.File, offset int64, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("cannot read negative length %d at offset %d", length, offset)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("could not seek to offset %d: %w", offset, err)
	}
	b := make([]byte, length)
	n, err := io.ReadFull(f, b)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, &TruncatedReadError{Offset: offset, Want: length, Got: n}
	case err != nil:
		return nil, fmt.Errorf("failed to read %d bytes at offset %d: %w", length, offset, err)
	}
	return b, nil
}

// readUint32At reads a single little-endian uint32 at an absolute offset
func readUint32At(f util.File, offset int64) (uint32, error) {
	b, err := readAt(f, offset, 4)
	if err != nil {
		return 0, err
	}
	var v uint32
	if _, err := toUint32(b, 0, &v); err != nil {
		return 0, err
	}
	return v, nil
}
