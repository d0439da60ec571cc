// Package rowhash wraps the hash functions the engine uses to
// content-address successor-index records, key the visited set, mix the
// lookahead-cache key, and checksum checkpoint files. Grounded on
// fusion/kmer_index.go (farm.Hash64 over byte spans) and
// encoding/bamprovider/concurrentmap.go (seahash for sharding) in the
// teacher repo.
package rowhash

import (
	"encoding/binary"

	"blainsmith.com/go/seahash"
	farm "github.com/dgryski/go-farm"
	"github.com/minio/highwayhash"
)

// Content hashes a byte-addressable span (a successor-index record, or the
// last 2P rows of a frontier node) for deduplication/visited-set lookup.
func Content(b []byte) uint64 {
	return farm.Hash64(b)
}

// Rows hashes a slice of packed 16-bit rows by reinterpreting them as
// bytes, avoiding a per-row allocation on the hot visited-set path.
func Rows(rows []uint16) uint64 {
	buf := make([]byte, len(rows)*2)
	for i, r := range rows {
		binary.LittleEndian.PutUint16(buf[i*2:], r)
	}
	return farm.Hash64(buf)
}

// CacheKey mixes the three index pointers and auxiliary integer that key a
// lookahead-cache slot (spec.md section 4.4) via seahash, chosen because
// the teacher already uses seahash for exactly this kind of small
// fixed-width key mixing (encoding/bamprovider/concurrentmap.go).
func CacheKey(p1, p2, p3 uintptr, abn int32) uint64 {
	var buf [28]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p1))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p2))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p3))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(abn))
	return seahash.Sum64(buf[:])
}

// checksumKey is a fixed, arbitrary 32-byte key for the checkpoint file
// checksum. It need not be secret: HighwayHash is used here purely for its
// speed and strong avalanche behavior as an integrity check, not as a MAC.
var checksumKey = [32]byte{
	0x71, 0x66, 0x69, 0x6e, 0x64, 0x2d, 0x63, 0x68,
	0x65, 0x63, 0x6b, 0x70, 0x6f, 0x69, 0x6e, 0x74,
	0x2d, 0x69, 0x6e, 0x74, 0x65, 0x67, 0x72, 0x69,
	0x74, 0x79, 0x2d, 0x6b, 0x65, 0x79, 0x21, 0x00,
}

// Checksum returns the HighwayHash-64 of a checkpoint section, used to
// detect a truncated or corrupted dump file at load time (spec.md section
// 6; the teacher's analog is checksum.go's block checksums for BAM/PAM
// files).
func Checksum(b []byte) uint64 {
	h, err := highwayhash.New64(checksumKey[:])
	if err != nil {
		// checksumKey is a fixed, valid 32-byte key; this cannot fail.
		panic(err)
	}
	_, _ = h.Write(b)
	return h.Sum64()
}
