// Package ext4slack finds data hidden in the parts of an ext4 image the filesystem driver ignores.
//
// It opens a raw image, block device or compressed evidence file, decodes the ext4 geometry
// through github.com/diskfs/ext4slack/filesystem/ext4, and streams the bytes of one selected
// dead region to an output.
//
//	img, err := ext4slack.Open("/evidence/sda1.img.zst")
//	if err != nil {
//		return err
//	}
//	defer img.Close()
//	_, err = ext4slack.Run(cfg, img, os.Stdout)
package ext4slack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/djherbis/times"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies how an evidence image is packed
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
	CompressionXz
	CompressionLz4
	CompressionLzma
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionXz:
		return "xz"
	case CompressionLz4:
		return "lz4"
	case CompressionLzma:
		return "lzma"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

var compressionMagic = []struct {
	magic []byte
	c     Compression
}{
	{[]byte{0x1f, 0x8b}, CompressionGzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, CompressionZstd},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, CompressionXz},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, CompressionLz4},
	// legacy .lzma: default lc/lp/pb properties and a dictionary of at least 64KiB
	{[]byte{0x5d, 0x00, 0x00}, CompressionLzma},
}

// DetectCompression identifies the compression of an image from its leading bytes
func DetectCompression(head []byte) Compression {
	for _, m := range compressionMagic {
		if bytes.HasPrefix(head, m.magic) {
			return m.c
		}
	}
	return CompressionNone
}

// ImageOpenError is returned when the image cannot be opened or prepared for reading
type ImageOpenError struct {
	Path string
	Err  error
}

func (e *ImageOpenError) Error() string {
	return fmt.Sprintf("could not open image %s: %v", e.Path, e.Err)
}

func (e *ImageOpenError) Unwrap() error {
	return e.Err
}

// Image is an opened, read-only disk image. It implements util.File.
type Image struct {
	path        string
	file        *os.File
	tmpPath     string
	size        int64
	compression Compression
}

// Path is the path the image was opened from
func (i *Image) Path() string { return i.path }

// Size is the size in bytes of the (decompressed) image
func (i *Image) Size() int64 { return i.size }

// Compression is the compression the image was stored with
func (i *Image) Compression() Compression { return i.compression }

func (i *Image) Read(p []byte) (int, error) {
	return i.file.Read(p)
}

func (i *Image) Seek(offset int64, whence int) (int64, error) {
	return i.file.Seek(offset, whence)
}

// Close releases the image, removing any decompressed copy
func (i *Image) Close() error {
	err := i.file.Close()
	if i.tmpPath != "" {
		if rmErr := os.Remove(i.tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("could not remove decompressed image %s: %w", i.tmpPath, rmErr))
		}
	}
	return err
}

type openOpts struct {
	decompress bool
	tempDir    string
}

// OpenOpt configures Open
type OpenOpt func(o *openOpts) error

// WithDecompress controls whether compressed images are transparently decompressed. Default true.
func WithDecompress(decompress bool) OpenOpt {
	return func(o *openOpts) error {
		o.decompress = decompress
		return nil
	}
}

// WithTempDir sets where decompressed images are staged. Default os.TempDir().
func WithTempDir(dir string) OpenOpt {
	return func(o *openOpts) error {
		if dir != "" {
			if fi, err := os.Stat(dir); err != nil {
				return fmt.Errorf("temporary directory %s: %w", dir, err)
			} else if !fi.IsDir() {
				return fmt.Errorf("temporary directory %s is not a directory", dir)
			}
		}
		o.tempDir = dir
		return nil
	}
}

// Open opens an image file or block device read-only. Images compressed with gzip, zstd,
// xz, lz4 or lzma are decompressed to a temporary file first, unless disabled with WithDecompress(false).
func Open(path string, opts ...OpenOpt) (*Image, error) {
	o := &openOpts{decompress: true}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, &ImageOpenError{Path: path, Err: err}
		}
	}
	if path == "" {
		return nil, &ImageOpenError{Path: path, Err: errors.New("must pass an image path")}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &ImageOpenError{Path: path, Err: err}
	}
	if fi.IsDir() {
		return nil, &ImageOpenError{Path: path, Err: errors.New("is a directory")}
	}
	logCustody(path, fi)

	f, err := os.Open(path)
	if err != nil {
		return nil, &ImageOpenError{Path: path, Err: err}
	}
	img := &Image{path: path, file: f, size: fi.Size()}

	if fi.Mode()&os.ModeDevice != 0 {
		g, err := probeBlockDevice(f)
		if err != nil {
			f.Close()
			return nil, &ImageOpenError{Path: path, Err: fmt.Errorf("could not get block device size: %w", err)}
		}
		img.size = g.size
		g.logOpened(path)
		return img, nil
	}

	head := make([]byte, 8)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, &ImageOpenError{Path: path, Err: fmt.Errorf("could not read image header: %w", err)}
	}
	img.compression = DetectCompression(head[:n])
	if img.compression == CompressionNone || !o.decompress {
		log.WithFields(log.Fields{
			"image":       path,
			"size":        img.size,
			"compression": img.compression.String(),
		}).Info("opened image")
		return img, nil
	}

	if err := img.decompress(o.tempDir); err != nil {
		f.Close()
		return nil, &ImageOpenError{Path: path, Err: err}
	}
	return img, nil
}

// decompress streams the compressed image into a temporary file and switches reads over to it
func (i *Image) decompress(tempDir string) error {
	if _, err := i.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("could not rewind image: %w", err)
	}
	tmp, err := os.CreateTemp(tempDir, "ext4slack-*.img")
	if err != nil {
		return fmt.Errorf("could not create temporary file for decompressed image: %w", err)
	}
	written, err := decompressTo(tmp, i.file, i.compression)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("could not decompress %s image: %w", i.compression, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("could not rewind decompressed image: %w", err)
	}
	log.WithFields(log.Fields{
		"image":        i.path,
		"compression":  i.compression.String(),
		"compressed":   i.size,
		"decompressed": written,
		"staging":      tmp.Name(),
	}).Info("decompressed image")
	i.file.Close()
	i.file = tmp
	i.tmpPath = tmp.Name()
	i.size = written
	return nil
}

func decompressTo(dst io.Writer, src io.Reader, c Compression) (int64, error) {
	var r io.Reader
	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return 0, fmt.Errorf("error creating gzip decompressor: %w", err)
		}
		defer gz.Close()
		r = gz
	case CompressionZstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return 0, fmt.Errorf("error creating zstd decompressor: %w", err)
		}
		defer zr.Close()
		r = zr
	case CompressionXz:
		xr, err := xz.NewReader(src)
		if err != nil {
			return 0, fmt.Errorf("error creating xz decompressor: %w", err)
		}
		r = xr
	case CompressionLz4:
		r = lz4.NewReader(src)
	case CompressionLzma:
		lr, err := lzma.NewReader(src)
		if err != nil {
			return 0, fmt.Errorf("error creating lzma decompressor: %w", err)
		}
		r = lr
	default:
		return 0, fmt.Errorf("unsupported compression %s", c)
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("error decompressing: %w", err)
	}
	return n, nil
}

// deviceGeometry is what the kernel reports about an evidence block device
type deviceGeometry struct {
	size               int64
	logicalSectorSize  int64
	physicalSectorSize int64
	// sectorErr is set when the sector sizes could not be read
	sectorErr error
}

func (g deviceGeometry) logOpened(path string) {
	fields := log.Fields{
		"device": path,
		"size":   g.size,
	}
	if g.sectorErr != nil {
		log.WithError(g.sectorErr).WithFields(fields).Warn("opened block device without sector sizes")
		return
	}
	fields["logicalSectorSize"] = g.logicalSectorSize
	fields["physicalSectorSize"] = g.physicalSectorSize
	if g.logicalSectorSize > 0 && g.size%g.logicalSectorSize != 0 {
		log.WithFields(fields).Warn("block device size is not a multiple of the logical sector size")
	}
	log.WithFields(fields).Info("opened block device")
}

// logCustody records the timestamps of the evidence file before anything reads it
func logCustody(path string, fi os.FileInfo) {
	fields := log.Fields{
		"image": path,
		"mode":  fi.Mode().String(),
		"size":  fi.Size(),
	}
	ts, err := times.Stat(path)
	if err != nil {
		log.WithError(err).WithField("image", path).Warn("could not read image timestamps")
		return
	}
	fields["mtime"] = ts.ModTime().UTC()
	fields["atime"] = ts.AccessTime().UTC()
	if ts.HasChangeTime() {
		fields["ctime"] = ts.ChangeTime().UTC()
	}
	if ts.HasBirthTime() {
		fields["btime"] = ts.BirthTime().UTC()
	}
	log.WithFields(fields).Info("image timestamps")
}
