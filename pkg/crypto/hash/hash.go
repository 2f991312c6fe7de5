package hash

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/timgates42/mako/pkg/util"
)

// Sha256 hashes the incoming byte slice using the sha256 algorithm.
func Sha256(data []byte) util.Uint256 {
	return util.Uint256(sha256.Sum256(data))
}

// DoubleSha256 performs sha256 twice on the given data. This is the hash
// used for block, transaction and frame checksums.
func DoubleSha256(data []byte) util.Uint256 {
	h := sha256.Sum256(data)
	return util.Uint256(sha256.Sum256(h[:]))
}

// Checksum returns the frame checksum of the given payload: the first
// four bytes of its double sha256, read as a little-endian uint32.
func Checksum(data []byte) uint32 {
	h := DoubleSha256(data)
	return binary.LittleEndian.Uint32(h[:4])
}
