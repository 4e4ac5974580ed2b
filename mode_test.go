package ext4slack

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in       string
		exact    bool
		expected Mode
		err      error
	}{
		{"osd2", false, ModeOsd2, nil},
		{"superblock", false, ModeSuperblock, nil},
		{"reserved_gdt", false, ModeReservedGDT, nil},
		{"fileslack", false, ModeFileSlack, nil},
		{"obso_faddr", false, ModeObsoFaddr, nil},
		{"superblockish", false, ModeSuperblock, nil},
		{"find-fileslack-now", false, ModeFileSlack, nil},
		// first match wins
		{"osd2+superblock", false, ModeOsd2, nil},
		{"obsofaddr", false, ModeUnknown, ErrUnknownMode},
		{"", false, ModeUnknown, ErrUnknownMode},
		{"osd2", true, ModeOsd2, nil},
		{"obso_faddr", true, ModeObsoFaddr, nil},
		{"superblockish", true, ModeUnknown, ErrUnknownMode},
	}
	for _, tt := range tests {
		m, err := ParseMode(tt.in, tt.exact)
		if !errors.Is(err, tt.err) {
			t.Errorf("ParseMode(%q, %v) error %v, expected %v", tt.in, tt.exact, err, tt.err)
		}
		if m != tt.expected {
			t.Errorf("ParseMode(%q, %v) = %s, expected %s", tt.in, tt.exact, m, tt.expected)
		}
	}
}

func TestModeNamesRoundTrip(t *testing.T) {
	expected := []string{"osd2", "superblock", "reserved_gdt", "fileslack", "obso_faddr"}
	if diff := deep.Equal(ModeNames(), expected); diff != nil {
		t.Errorf("ModeNames() = %v", diff)
	}
	for _, name := range expected {
		m, err := ParseMode(name, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.String() != name {
			t.Errorf("mode %q prints as %q", name, m.String())
		}
	}
}

func TestModeNeedsInodes(t *testing.T) {
	for m, expected := range map[Mode]bool{
		ModeOsd2:        true,
		ModeSuperblock:  false,
		ModeReservedGDT: false,
		ModeFileSlack:   true,
		ModeObsoFaddr:   true,
		ModeUnknown:     false,
	} {
		if m.NeedsInodes() != expected {
			t.Errorf("%s.NeedsInodes() = %v", m, !expected)
		}
	}
}
