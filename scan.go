package ext4slack

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/xattr"
	log "github.com/sirupsen/logrus"

	"github.com/diskfs/ext4slack/filesystem/ext4"
	"github.com/diskfs/ext4slack/util"
)

const (
	xattrSource = "user.ext4slack.source"
	xattrMode   = "user.ext4slack.mode"
)

// Run decodes the image and streams the region selected by c.Mode to w. It returns the number
// of bytes written. An unknown mode is reported as ErrUnknownMode before anything is read.
func Run(c *Config, img util.File, w io.Writer) (int64, error) {
	mode, err := ParseMode(c.Mode, c.ExactMode)
	if err != nil {
		return 0, err
	}
	gdtBase, err := ext4.ParseGDTBase(c.GDTBase)
	if err != nil {
		return 0, err
	}
	fs, err := ext4.Read(img, c.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("could not read filesystem: %w", err)
	}

	var inodes []*ext4.Inode
	if mode.NeedsInodes() {
		var table ext4.InodeTable
		if inodes, table, err = fs.Inodes(); err != nil {
			return 0, fmt.Errorf("could not scan inode table: %w", err)
		}
		log.WithFields(log.Fields{
			"inodes":     len(inodes),
			"tableStart": table.Start,
			"inodeSize":  table.InodeSize,
		}).Info("decoded group 0 inodes")
	}

	var written int64
	switch mode {
	case ModeOsd2:
		written, err = fs.Osd2(w, inodes)
	case ModeSuperblock:
		written, err = fs.SuperblockSlack(w)
	case ModeReservedGDT:
		written, err = fs.ReservedGDT(w, gdtBase)
	case ModeFileSlack:
		written, err = fs.FileSlack(w, inodes)
	case ModeObsoFaddr:
		written, err = fs.ObsoFaddr(w, inodes)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if err != nil {
		return written, fmt.Errorf("%s scan failed: %w", mode, err)
	}
	log.WithFields(log.Fields{
		"mode":    mode.String(),
		"written": written,
	}).Info("scan complete")
	return written, nil
}

// Execute opens the configured image, runs the scan and writes the result to c.Output,
// or to stdout when no output file is configured.
func Execute(c *Config, stdout io.Writer) (err error) {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := ParseMode(c.Mode, c.ExactMode); err != nil {
		return err
	}

	img, err := Open(c.ImagePath, WithDecompress(c.Decompress), WithTempDir(c.TempDir))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := img.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if c.Output == "" {
		bw := bufio.NewWriter(stdout)
		if _, err := Run(c, img, bw); err != nil {
			return err
		}
		return bw.Flush()
	}

	out, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	bw := bufio.NewWriter(out)
	if _, err := Run(c, img, bw); err != nil {
		return discardOutput(c.Output, out, err)
	}
	if err := bw.Flush(); err != nil {
		return discardOutput(c.Output, out, fmt.Errorf("could not write output file: %w", err))
	}
	if err := out.Close(); err != nil {
		return discardOutput(c.Output, nil, fmt.Errorf("could not close output file: %w", err))
	}
	tagOutput(c)
	return nil
}

// discardOutput removes a partially written output file so a failed scan cannot pass for an empty result
func discardOutput(path string, out *os.File, cause error) error {
	if out != nil {
		out.Close()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).WithField("output", path).Warn("could not remove incomplete output file")
	}
	return cause
}

// Exit codes of a scan
const (
	ExitOK          = 0
	ExitError       = 1
	ExitUnknownMode = 2
)

// ScanExitCode maps the result of Execute to a process exit code. An unknown mode prints
// UsageHint to stdout and succeeds, unless c.Strict is set.
func ScanExitCode(stdout io.Writer, c *Config, err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUnknownMode):
		fmt.Fprintln(stdout, UsageHint)
		if c.Strict {
			return ExitUnknownMode
		}
		return ExitOK
	}
	return ExitError
}

// tagOutput records where an output file came from in its extended attributes.
// Filesystems without user xattrs only get a warning.
func tagOutput(c *Config) {
	source := c.ImagePath
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	mode, _ := ParseMode(c.Mode, c.ExactMode)
	for name, value := range map[string]string{
		xattrSource: source,
		xattrMode:   mode.String(),
	} {
		if err := xattr.Set(c.Output, name, []byte(value)); err != nil {
			var xerr *xattr.Error
			if errors.As(err, &xerr) {
				err = xerr.Err
			}
			log.WithError(err).WithFields(log.Fields{
				"output": c.Output,
				"xattr":  name,
			}).Warn("could not tag output file")
		}
	}
}
