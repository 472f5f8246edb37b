// Package crypto adapts the external cryptographic collaborators spec.md
// §1 treats as out of scope (VRF, BLS aggregate signatures, hashing) into
// small interfaces the chain package verifies against, plus concrete
// default implementations backed by real libraries. None of these
// constructions are specified here; only their verification contract is.
package crypto

import "golang.org/x/crypto/blake2b"

// HashSize is the output size, in bytes, of the hash function used for
// body hashes, header hashes, and state/history roots (spec.md §3, §6).
const HashSize = 32

// Hash256 computes the Blake2b-256 digest of data.
func Hash256(data []byte) [HashSize]byte {
	return blake2b.Sum256(data)
}

// Hash256Many hashes the concatenation of all parts, avoiding an
// intermediate allocation for the common multi-field header-hashing
// case.
func Hash256Many(parts ...[]byte) [HashSize]byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors when a key longer than 64 bytes is
		// supplied; we never pass one.
		panic(err)
	}
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
