package crypto

import (
	"crypto/ecdsa"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	"github.com/vechain/go-ecvrf"
)

// SeedVerifier verifies a block's VRF seed against the parent seed and
// the producer's VRF public key, per spec.md §4.1's "Seed" check. It
// never mutates state and never performs I/O, same purity requirement as
// the verifier it's plugged into.
type SeedVerifier interface {
	// VerifySeed checks that seed is a valid VRF output of parentSeed
	// under producerKey, returning the seed's entropy on success (used
	// downstream to bind view-change proofs, spec.md §4.1).
	VerifySeed(producerKey []byte, parentSeed []byte, seed []byte, proof []byte) (entropy [32]byte, err error)
}

// ECVRFSeedVerifier backs SeedVerifier with the secp256k1/SHA256/TAI VRF
// construction (draft-irtf-cfrg-vrf), the same curve/hash combination
// go-ecvrf implements.
type ECVRFSeedVerifier struct{}

// VerifySeed implements SeedVerifier.
func (ECVRFSeedVerifier) VerifySeed(producerKey, parentSeed, seed, proof []byte) ([32]byte, error) {
	var entropy [32]byte
	pub, err := decompressPubKey(producerKey)
	if err != nil {
		return entropy, errors.Wrap(err, "invalid producer VRF key")
	}
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(pub, parentSeed, proof)
	if err != nil {
		return entropy, errors.Wrap(err, "vrf verification failed")
	}
	if !constantTimeEqual(beta, seed) {
		return entropy, errors.New("vrf output does not match claimed seed")
	}
	entropy = Hash256(beta)
	return entropy, nil
}

func decompressPubKey(b []byte) (*ecdsa.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "could not unmarshal VRF public key")
	}
	return pub.ToECDSA(), nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
