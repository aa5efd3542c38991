package djbf

import (
	"encoding/binary"
	"fmt"
)

const (
	// Magic is "DJBF" read as a little-endian uint32.
	Magic uint32 = 0x46424A44
	// HeaderSize is the fixed on-disk header length.
	HeaderSize = 37
	// MaxSuffix is the capacity of the in-band suffix.
	MaxSuffix = 15
)

// Header is a parsed envelope header. Version is in host order and Flags are
// already normalized for Version.
type Header struct {
	Version    uint16
	Reserved   uint16
	Checksum   uint32
	DataSizeLo int32
	DataSizeHi int32
	Flags      Flags
	// Suffix holds the trailing body bytes stored in the header.
	Suffix []byte

	// RawFlags and RawSuffixSize are the values found on disk, before
	// normalization.
	RawFlags      Flags
	RawSuffixSize uint8
}

// ParseHeader reads the first HeaderSize bytes of b. A suffix size above
// MaxSuffix is a known artifact of version 0x0100 files and is read as 0.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidHeader, len(b), HeaderSize)
	}
	if magic := binary.LittleEndian.Uint32(b[0:]); magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrInvalidHeader, magic)
	}

	h := &Header{
		Version:       binary.BigEndian.Uint16(b[4:]),
		Reserved:      binary.LittleEndian.Uint16(b[6:]),
		Checksum:      binary.LittleEndian.Uint32(b[8:]),
		DataSizeLo:    int32(binary.LittleEndian.Uint32(b[12:])),
		DataSizeHi:    int32(binary.LittleEndian.Uint32(b[16:])),
		RawFlags:      Flags(b[20]),
		RawSuffixSize: b[36],
	}
	if h.DataSizeLo < 0 {
		return nil, fmt.Errorf("%w: negative data size %d", ErrInvalidHeader, h.DataSizeLo)
	}

	h.Flags = NormalizeFlags(h.Version, h.RawFlags)

	n := int(h.RawSuffixSize)
	if n > MaxSuffix {
		n = 0
	}
	h.Suffix = append([]byte(nil), b[21:21+n]...)
	return h, nil
}

// MarshalBinary encodes the header in its on-disk layout.
func (h *Header) MarshalBinary() ([]byte, error) {
	if len(h.Suffix) > MaxSuffix {
		return nil, fmt.Errorf("%w: suffix of %d bytes exceeds %d", ErrInvalidHeader, len(h.Suffix), MaxSuffix)
	}

	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:], Magic)
	binary.BigEndian.PutUint16(b[4:], h.Version)
	binary.LittleEndian.PutUint16(b[6:], h.Reserved)
	binary.LittleEndian.PutUint32(b[8:], h.Checksum)
	binary.LittleEndian.PutUint32(b[12:], uint32(h.DataSizeLo))
	binary.LittleEndian.PutUint32(b[16:], uint32(h.DataSizeHi))
	b[20] = byte(h.Flags)
	copy(b[21:], h.Suffix)
	b[36] = byte(len(h.Suffix))
	return b, nil
}
