package crypto

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the CRC-32 (IEEE, reflected) of data. DJBF headers store this
// value for the decoded payload and it seeds the per-file IV.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}
