// Package djbf reads and writes DJBF envelopes: a 37-byte header followed by
// a body that may be FastLZ compressed and AES encrypted. Alignment filler
// produced by the cipher lives in the header suffix rather than in the body.
package djbf

import (
	"crypto/aes"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/djbf-gateway/internal/crypto"
	"github.com/kenneth/djbf-gateway/internal/fastlz"
)

// EncodeOptions selects the output format of Encode.
type EncodeOptions struct {
	Version uint16
	Flags   Flags
	Profile string
}

// Validate checks that the options describe a writable envelope.
func (o EncodeOptions) Validate() error {
	if o.Version < MinVersion || o.Version > MaxVersion {
		return fmt.Errorf("%w: version 0x%04X out of range 0x%04X-0x%04X", ErrInvalidOptions, o.Version, MinVersion, MaxVersion)
	}
	if rest := o.Flags &^ knownFlags; rest != 0 {
		return fmt.Errorf("%w: unknown flag bits 0x%02X", ErrInvalidOptions, uint8(rest))
	}
	if o.Version >= Version0102 && o.Flags.Has(AESECB|AESCBC) {
		return fmt.Errorf("%w: only one AES mode can be set", ErrInvalidOptions)
	}
	return nil
}

// Codec encodes and decodes envelopes with keys from a KeySource. It is safe
// for concurrent use.
type Codec struct {
	keys   crypto.KeySource
	logger *logrus.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Codec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a codec. A nil keys falls back to the built-in profiles.
func New(keys crypto.KeySource, opts ...Option) *Codec {
	if keys == nil {
		keys = crypto.DefaultKeychain()
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Codec{keys: keys, logger: discard}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Inspect parses and normalizes the header without touching the body.
func (c *Codec) Inspect(file []byte) (*Header, error) {
	return ParseHeader(file)
}

// Decode returns the payload stored in file. The profile is only resolved
// when the body is encrypted. The header is returned whenever it parsed, even
// if a later stage failed.
func (c *Codec) Decode(file []byte, profile string) ([]byte, *Header, error) {
	h, err := ParseHeader(file)
	if err != nil {
		return nil, nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"version":  fmt.Sprintf("%04X", h.Version),
		"flags":    h.Flags.String(),
		"size":     h.DataSizeLo,
		"suffix":   len(h.Suffix),
		"checksum": fmt.Sprintf("%08X", h.Checksum),
	}).Debug("Detected DJBF envelope")

	body := make([]byte, 0, len(file)-HeaderSize+len(h.Suffix))
	body = append(body, file[HeaderSize:]...)
	body = append(body, h.Suffix...)

	if h.Flags.Encrypted() {
		p, err := c.keys.Lookup(profile)
		if err != nil {
			return nil, h, err
		}
		body, err = crypto.DecryptBlocks(h.Flags.CipherMode(), p.Key[:], p.SaltedIV(h.Checksum), body)
		if err != nil {
			return nil, h, fmt.Errorf("failed to decrypt body: %w", err)
		}
	}

	size := int(h.DataSizeLo)
	if h.Flags.Compressed() {
		body, err = fastlz.Decompress(body, size)
		if err != nil {
			return nil, h, fmt.Errorf("failed to decompress body: %w", err)
		}
	} else if len(body) > size {
		body = body[:size]
	}

	if sum := crypto.Checksum(body); sum != h.Checksum {
		return nil, h, &ChecksumError{Expected: h.Checksum, Actual: sum}
	}
	return body, h, nil
}

// Encode wraps payload in an envelope. Flags the version predates are
// dropped. Unless no flag survives, the body is zero padded to the block size
// and its trailing pad-length bytes move into the header.
func (c *Codec) Encode(payload []byte, opts EncodeOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(payload) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds the format limit", ErrInvalidOptions, len(payload))
	}

	flags := NormalizeFlags(opts.Version, opts.Flags)

	var profile *crypto.KeyProfile
	if flags.Encrypted() {
		p, err := c.keys.Lookup(opts.Profile)
		if err != nil {
			return nil, err
		}
		profile = p
	}

	h := &Header{
		Version:    opts.Version,
		Checksum:   crypto.Checksum(payload),
		DataSizeLo: int32(len(payload)),
		Flags:      flags,
	}

	buf := payload
	if flags.Compressed() {
		buf = fastlz.Compress(payload)
	}

	// any transformed body is block aligned; a FastLZ-only file keeps the
	// zero filler in its suffix
	suffixSize := 0
	if flags.Compressed() || flags.Encrypted() {
		if rem := len(buf) % aes.BlockSize; rem != 0 {
			suffixSize = aes.BlockSize - rem
			padded := make([]byte, len(buf)+suffixSize)
			copy(padded, buf)
			buf = padded
		}
	}
	if flags.Encrypted() {
		var err error
		buf, err = crypto.EncryptBlocks(flags.CipherMode(), profile.Key[:], profile.SaltedIV(h.Checksum), buf)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt body: %w", err)
		}
	}

	cut := len(buf) - suffixSize
	h.Suffix = append([]byte(nil), buf[cut:]...)

	hdr, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"version":   fmt.Sprintf("%04X", h.Version),
		"flags":     flags.String(),
		"size":      len(payload),
		"body_size": cut,
		"suffix":    suffixSize,
	}).Debug("Encoded DJBF envelope")

	out := make([]byte, 0, HeaderSize+cut)
	out = append(out, hdr...)
	return append(out, buf[:cut]...), nil
}
