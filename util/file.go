// Package util holds the small interfaces shared between the image opener and the ext4 decoders.
package util

import "io"

// File is the random-access view of a disk image that every decoder reads from.
// Implementations need not be safe for concurrent use: a scan owns the read cursor
// for its whole duration.
type File interface {
	io.Reader
	io.Seeker
}
