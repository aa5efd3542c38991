package djbf

import (
	"fmt"
	"strconv"
	"strings"
)

// Known format versions.
const (
	Version0100 uint16 = 0x0100
	Version0101 uint16 = 0x0101
	Version0102 uint16 = 0x0102
	Version0103 uint16 = 0x0103

	MinVersion = Version0100
	MaxVersion = Version0103
)

// flagGates lists features that did not exist before a given version.
var flagGates = []struct {
	since uint16
	flag  Flags
}{
	{Version0101, FastLZ},
	{Version0102, AESCBC},
}

// NormalizeFlags clears every flag the version predates.
func NormalizeFlags(version uint16, flags Flags) Flags {
	for _, g := range flagGates {
		if version < g.since {
			flags &^= g.flag
		}
	}
	return flags
}

// ParseVersion accepts the short form 0-3 or a full version such as "0x0102"
// or "258".
func ParseVersion(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid version %q", ErrInvalidOptions, s)
	}
	v := uint16(n)
	if v < MinVersion {
		v += MinVersion
	}
	if v < MinVersion || v > MaxVersion {
		return 0, fmt.Errorf("%w: version 0x%04X out of range 0x%04X-0x%04X", ErrInvalidOptions, v, MinVersion, MaxVersion)
	}
	return v, nil
}
