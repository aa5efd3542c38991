package fastlz

import "fmt"

// Decompress decodes a level 1 or level 2 stream into exactly expected bytes.
// Decoding stops once expected bytes have been produced; anything left in data
// is treated as alignment filler. A stream that references data before the
// output start, overruns expected, runs out of input, or ends short of
// expected yields ErrCorrupt. So does an expected length larger than data
// could ever decode to, which is checked before the output is allocated.
func Decompress(data []byte, expected int) ([]byte, error) {
	if expected < 0 {
		return nil, fmt.Errorf("%w: negative expected length %d", ErrCorrupt, expected)
	}

	if expected == 0 {
		return []byte{}, nil
	}
	// no token expands past maxLen bytes per input byte
	if (expected-1)/maxLen >= len(data) {
		return nil, fmt.Errorf("%w: expected length %d exceeds what %d input bytes can encode", ErrCorrupt, expected, len(data))
	}

	out := make([]byte, expected)

	level, err := StreamLevel(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	n := len(data)
	ip, op := 0, 0

	for op < expected && ip < n {
		ctrl := int(data[ip])
		if ip == 0 {
			ctrl &= 31
		}
		ip++

		if ctrl < 32 {
			run := ctrl + 1
			if op+run > expected {
				return nil, fmt.Errorf("%w: literal run at input offset %d overruns output", ErrCorrupt, ip-1)
			}
			if ip+run > n {
				return nil, fmt.Errorf("%w: literal run at input offset %d is truncated", ErrCorrupt, ip-1)
			}
			copy(out[op:], data[ip:ip+run])
			ip += run
			op += run
			continue
		}

		length := (ctrl >> 5) - 1
		ofs := (ctrl & 31) << 8
		ref := op - ofs - 1

		if length == 7-1 {
			for {
				if ip >= n {
					return nil, fmt.Errorf("%w: match length truncated", ErrCorrupt)
				}
				code := int(data[ip])
				ip++
				length += code
				if level == Level1 || code != 255 {
					break
				}
			}
		}

		if ip >= n {
			return nil, fmt.Errorf("%w: match distance truncated", ErrCorrupt)
		}
		code := int(data[ip])
		ip++
		ref -= code
		length += 3

		if level == Level2 && code == 255 && ofs == 31<<8 {
			if ip+2 > n {
				return nil, fmt.Errorf("%w: far distance truncated", ErrCorrupt)
			}
			ofs = int(data[ip])<<8 | int(data[ip+1])
			ip += 2
			ref = op - ofs - maxL2Distance - 1
		}

		if op+length > expected {
			return nil, fmt.Errorf("%w: match at output offset %d overruns output", ErrCorrupt, op)
		}
		if ref < 0 {
			return nil, fmt.Errorf("%w: match at output offset %d references before start", ErrCorrupt, op)
		}

		// source and destination may overlap
		for i := 0; i < length; i++ {
			out[op+i] = out[ref+i]
		}
		op += length
	}

	if op != expected {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrCorrupt, op, expected)
	}
	return out, nil
}
