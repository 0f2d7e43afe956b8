package utils

import (
	"fmt"
	"hash/fnv"
)

// Hash64 generates a 64-bit FNV-1a hash of a string
func Hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Checksum returns a hex-encoded 64-bit hash of data, used to fingerprint
// run manifests.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", Hash64(string(data)))
}
