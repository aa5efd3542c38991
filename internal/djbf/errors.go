package djbf

import (
	"errors"
	"fmt"

	"github.com/kenneth/djbf-gateway/internal/crypto"
	"github.com/kenneth/djbf-gateway/internal/fastlz"
)

var (
	// ErrChecksumMismatch is matched by every *ChecksumError.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidHeader reports a truncated header, a bad magic or a negative size.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrInvalidOptions reports encode options the format cannot express.
	ErrInvalidOptions = errors.New("invalid options")
)

// ChecksumError carries the stored and computed CRC-32 of a decoded payload.
type ChecksumError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: header 0x%08X, payload 0x%08X", ErrChecksumMismatch, e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// Error kind labels.
const (
	KindChecksumMismatch = "checksum_mismatch"
	KindLZError          = "lz_error"
	KindCipherError      = "cipher_error"
	KindUnknownProfile   = "unknown_profile"
	KindInvalidHeader    = "invalid_header"
	KindInvalidOptions   = "invalid_options"
	KindInternal         = "internal"
)

// Kind maps err to a stable label for metrics, audit records and API
// responses. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChecksumMismatch):
		return KindChecksumMismatch
	case errors.Is(err, fastlz.ErrCorrupt):
		return KindLZError
	case errors.Is(err, crypto.ErrCipher):
		return KindCipherError
	case errors.Is(err, crypto.ErrUnknownProfile):
		return KindUnknownProfile
	case errors.Is(err, ErrInvalidHeader):
		return KindInvalidHeader
	case errors.Is(err, ErrInvalidOptions):
		return KindInvalidOptions
	default:
		return KindInternal
	}
}
