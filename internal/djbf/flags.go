package djbf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kenneth/djbf-gateway/internal/crypto"
)

// Flags is the header feature bitset.
type Flags uint8

const (
	AESECB Flags = 0x01
	AESCBC Flags = 0x02
	FastLZ Flags = 0x80

	knownFlags = AESECB | AESCBC | FastLZ
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{AESECB, "AES_ECB"},
	{AESCBC, "AES_CBC"},
	{FastLZ, "FastLZ"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Encrypted reports whether either AES mode is set.
func (f Flags) Encrypted() bool {
	return f&(AESECB|AESCBC) != 0
}

// Compressed reports whether the body is FastLZ compressed.
func (f Flags) Compressed() bool {
	return f&FastLZ != 0
}

// CipherMode returns the cipher mode used for the body. CBC wins when both
// AES flags are present.
func (f Flags) CipherMode() crypto.CipherMode {
	if f&AESCBC != 0 {
		return crypto.ModeCBC
	}
	return crypto.ModeECB
}

// String renders the set names joined by ", ", or "None".
func (f Flags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ knownFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02X", uint8(rest)))
	}
	return strings.Join(parts, ", ")
}

// ParseFlags parses a comma or pipe separated list of flag names such as
// "AES_ECB, FastLZ". Names are case-insensitive; "none" and numeric values
// ("0x81") are accepted as well.
func ParseFlags(s string) (Flags, error) {
	var f Flags
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		field = strings.TrimSpace(field)
		if field == "" || strings.EqualFold(field, "none") {
			continue
		}
		if flag, ok := lookupFlag(field); ok {
			f |= flag
			continue
		}
		n, err := strconv.ParseUint(field, 0, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: unknown flag %q", ErrInvalidOptions, field)
		}
		f |= Flags(n)
	}
	return f, nil
}

func lookupFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if strings.EqualFold(fn.name, name) {
			return fn.flag, true
		}
	}
	// tolerate "AES-ECB" and "aesecb"
	compact := strings.NewReplacer("_", "", "-", "").Replace(name)
	for _, fn := range flagNames {
		if strings.EqualFold(strings.ReplaceAll(fn.name, "_", ""), compact) {
			return fn.flag, true
		}
	}
	return 0, false
}
