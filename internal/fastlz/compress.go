package fastlz

// Compress encodes data, choosing level 1 below Level2Threshold bytes and
// level 2 otherwise. The output is deterministic. Incompressible input grows
// by at most one byte per 32 input bytes.
func Compress(data []byte) []byte {
	return compress(data, LevelFor(len(data)))
}

func compress(in []byte, level Level) []byte {
	n := len(in)
	out := make([]byte, 0, n+n/maxCopy+16)
	if n == 0 {
		return out
	}

	maxDistance := maxL1Distance
	if level == Level2 {
		maxDistance = maxFarDistance
	}

	ipBound := n - 4
	ipLimit := n - 12 - 1
	htab := make([]uint32, hashSize)

	// the stream always opens with a literal run
	anchor := 0
	ip := 2

	for ip < ipLimit {
		var ref, distance int
		var seq, cmp uint32

		for {
			seq = readU32(in, ip) & 0xFFFFFF
			h := hash(seq)
			ref = int(htab[h])
			htab[h] = uint32(ip)
			distance = ip - ref
			cmp = 0x1000000
			if distance < maxDistance {
				cmp = readU32(in, ref) & 0xFFFFFF
			}
			if ip >= ipLimit {
				break
			}
			ip++
			if seq == cmp {
				break
			}
		}
		if ip >= ipLimit {
			break
		}
		ip--

		// far matches must share at least 5 bytes to pay for the escape
		if level == Level2 && distance >= maxL2Distance {
			if in[ref+3] != in[ip+3] || in[ref+4] != in[ip+4] {
				ip++
				continue
			}
		}

		if ip > anchor {
			out = appendLiterals(out, in[anchor:ip])
		}

		// length is the match size minus two
		length := matchLength(in, ref+3, ip+3, ipBound)
		if level == Level1 {
			out = appendMatch1(out, length, distance)
		} else {
			out = appendMatch2(out, length, distance)
		}

		ip += length
		seq = readU32(in, ip)
		htab[hash(seq&0xFFFFFF)] = uint32(ip)
		ip++
		seq >>= 8
		htab[hash(seq)] = uint32(ip)
		ip++
		anchor = ip
	}

	out = appendLiterals(out, in[anchor:])

	if level == Level2 {
		out[0] |= level2Marker
	}
	return out
}

func matchLength(in []byte, p, q, bound int) int {
	start := p
	for q < bound {
		if in[p] != in[q] {
			p++
			break
		}
		p++
		q++
	}
	return p - start
}

func appendLiterals(out, lit []byte) []byte {
	for len(lit) >= maxCopy {
		out = append(out, maxCopy-1)
		out = append(out, lit[:maxCopy]...)
		lit = lit[maxCopy:]
	}
	if len(lit) > 0 {
		out = append(out, byte(len(lit)-1))
		out = append(out, lit...)
	}
	return out
}

func appendMatch1(out []byte, length, distance int) []byte {
	distance--

	for length > maxLen-2 {
		out = append(out, byte((7<<5)+(distance>>8)), maxLen-2-7-2, byte(distance&255))
		length -= maxLen - 2
	}

	if length < 7 {
		return append(out, byte((length<<5)+(distance>>8)), byte(distance&255))
	}
	return append(out, byte((7<<5)+(distance>>8)), byte(length-7), byte(distance&255))
}

func appendMatch2(out []byte, length, distance int) []byte {
	distance--

	if distance < maxL2Distance {
		if length < 7 {
			return append(out, byte((length<<5)+(distance>>8)), byte(distance&255))
		}
		out = append(out, byte((7<<5)+(distance>>8)))
		out = appendLength(out, length-7)
		return append(out, byte(distance&255))
	}

	distance -= maxL2Distance
	if length < 7 {
		return append(out, byte((length<<5)+31), 255, byte(distance>>8), byte(distance&255))
	}
	out = append(out, (7<<5)+31)
	out = appendLength(out, length-7)
	return append(out, 255, byte(distance>>8), byte(distance&255))
}

func appendLength(out []byte, rest int) []byte {
	for ; rest >= 255; rest -= 255 {
		out = append(out, 255)
	}
	return append(out, byte(rest))
}
