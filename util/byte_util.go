package util

import "encoding/binary"

// All on-disk integers are big-endian.

func ReadUB2(buf []byte, off int) uint16 {
	return binary.BigEndian.Uint16(buf[off:])
}

func ReadUB4(buf []byte, off int) uint32 {
	return binary.BigEndian.Uint32(buf[off:])
}

func ReadUB8(buf []byte, off int) uint64 {
	return binary.BigEndian.Uint64(buf[off:])
}

func WriteUB2(buf []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(buf[off:], v)
}

func WriteUB4(buf []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(buf[off:], v)
}

func WriteUB8(buf []byte, off int, v uint64) {
	binary.BigEndian.PutUint64(buf[off:], v)
}

func AppendUB4(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

// Zero clears b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
