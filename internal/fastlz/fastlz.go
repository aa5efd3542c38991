// Package fastlz implements the two-level FastLZ bitstream stored inside DJBF
// envelopes. Level 1 covers back references up to 8 KiB; level 2 adds a far
// distance escape (up to ~72 KiB) and chained match lengths. Both levels share
// one token grammar and the decoder detects the level from the first byte.
package fastlz

import (
	"encoding/binary"
	"errors"
)

// Level identifies the bitstream variant.
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
)

// Level2Threshold is the input size from which Compress emits level 2.
const Level2Threshold = 65536

const (
	maxCopy        = 32
	maxLen         = 264 // 256 + 8
	maxL1Distance  = 8192
	maxL2Distance  = 8191
	maxFarDistance = 65535 + maxL2Distance - 1

	hashLog  = 14
	hashSize = 1 << hashLog
	hashMask = hashSize - 1

	// level 2 streams carry this bit in the first control byte
	level2Marker = 1 << 5
)

// ErrCorrupt is returned when a stream cannot be decoded to the expected length.
var ErrCorrupt = errors.New("corrupt fastlz stream")

// LevelFor returns the level Compress picks for an input of n bytes.
func LevelFor(n int) Level {
	if n >= Level2Threshold {
		return Level2
	}
	return Level1
}

// StreamLevel reports the level encoded in the first byte of a compressed stream.
func StreamLevel(data []byte) (Level, error) {
	if len(data) == 0 {
		return 0, errors.New("empty stream")
	}
	switch data[0] >> 5 {
	case 0:
		return Level1, nil
	case 1:
		return Level2, nil
	default:
		return 0, errors.New("unknown stream level")
	}
}

func hash(seq uint32) uint32 {
	return (seq * 2654435769) >> (32 - hashLog) & hashMask
}

func readU32(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i:])
}
