package util

// Varints are 1..9 bytes, big-endian groups of 7 bits with the high bit set
// on every byte but the last. The ninth byte, if present, carries 8 bits.

const MaxVarintLen = 9

// VarintLen returns the encoded size of v.
func VarintLen(v uint64) int {
	if v > 0x00ffffffffffffff {
		return 9
	}
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// PutVarint encodes v into buf, which must hold VarintLen(v) bytes.
func PutVarint(buf []byte, v uint64) int {
	if v <= 0x7f {
		buf[0] = byte(v)
		return 1
	}
	if v > 0x00ffffffffffffff {
		buf[8] = byte(v)
		v >>= 8
		for i := 7; i >= 0; i-- {
			buf[i] = byte(v&0x7f) | 0x80
			v >>= 7
		}
		return 9
	}

	var tmp [MaxVarintLen]byte
	n := 0
	for {
		tmp[n] = byte(v&0x7f) | 0x80
		n++
		v >>= 7
		if v == 0 {
			break
		}
	}
	tmp[0] &= 0x7f
	for i := 0; i < n; i++ {
		buf[i] = tmp[n-1-i]
	}
	return n
}

func AppendVarint(buf []byte, v uint64) []byte {
	var tmp [MaxVarintLen]byte
	n := PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// GetVarint decodes a varint from buf. It returns n == 0 when buf is
// truncated.
func GetVarint(buf []byte) (v uint64, n int) {
	for i := 0; i < 8; i++ {
		if i >= len(buf) {
			return 0, 0
		}
		v = v<<7 | uint64(buf[i]&0x7f)
		if buf[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	if len(buf) < 9 {
		return 0, 0
	}
	return v<<8 | uint64(buf[8]), 9
}
