package ext4slack

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which dead region a run dumps
type Mode int

const (
	ModeUnknown Mode = iota
	ModeOsd2
	ModeSuperblock
	ModeReservedGDT
	ModeFileSlack
	ModeObsoFaddr
)

// ErrUnknownMode is returned by ParseMode when no mode matches
var ErrUnknownMode = errors.New("unknown mode")

// UsageHint is printed when the requested mode does not exist
const UsageHint = "That mode does not exist. Use either [osd2|superblock|reserved_gdt|fileslack|obso_faddr]"

// modes in match order; with substring matching the first hit wins
var modes = []struct {
	name string
	mode Mode
}{
	{"osd2", ModeOsd2},
	{"superblock", ModeSuperblock},
	{"reserved_gdt", ModeReservedGDT},
	{"fileslack", ModeFileSlack},
	{"obso_faddr", ModeObsoFaddr},
}

func (m Mode) String() string {
	for _, n := range modes {
		if n.mode == m {
			return n.name
		}
	}
	return "unknown"
}

// NeedsInodes reports whether the mode works from the decoded inode table
func (m Mode) NeedsInodes() bool {
	switch m {
	case ModeOsd2, ModeFileSlack, ModeObsoFaddr:
		return true
	}
	return false
}

// ModeNames lists the mode names in match order
func ModeNames() []string {
	names := make([]string, 0, len(modes))
	for _, n := range modes {
		names = append(names, n.name)
	}
	return names
}

// ParseMode resolves a mode string. By default a mode is selected when its name appears
// anywhere in s, so "superblockish" selects superblock; exact requires s to equal the name.
func ParseMode(s string, exact bool) (Mode, error) {
	for _, n := range modes {
		if (exact && s == n.name) || (!exact && strings.Contains(s, n.name)) {
			return n.mode, nil
		}
	}
	return ModeUnknown, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}
