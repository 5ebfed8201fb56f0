package util

import (
	"github.com/OneOfOne/xxhash"
)

// Checksum hashes the concatenation of parts without copying them.
func Checksum(parts ...[]byte) uint64 {
	h := xxhash.New64()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum64()
}
