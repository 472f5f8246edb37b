// Package chaintest is a producer-rotation test harness, grounded on
// original_source/test-utils/src/blockchain.rs: deterministic keys, a
// tiny validator set, and helpers that build and push whole batches of
// blocks so scenario tests can assert on outcomes rather than hand-roll
// block construction every time.
package chaintest

import (
	"crypto/ecdsa"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	blst "github.com/supranational/blst/bindings/go"
	"github.com/vechain/go-ecvrf"

	"github.com/albatross-labs/albatross-core/chain"
	"github.com/albatross-labs/albatross-core/crypto"
)

// Keypair is one validator's BLS voting key, generated deterministically
// from a seed byte so tests are reproducible without embedding fixed
// key material (the teacher's tests embed a hardcoded VOTING_KEY
// constant; seeding a KDF from a small int achieves the same
// reproducibility without the magic string).
type Keypair struct {
	Secret *blst.SecretKey
	Public chain.BLSPublicKey
}

// GenKeypair derives a BLS keypair from seed, stable across test runs.
func GenKeypair(seed byte) Keypair {
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = seed
	}
	sk := blst.KeyGen(ikm)
	pk := new(blst.P1Affine).From(sk)
	var out chain.BLSPublicKey
	copy(out[:], pk.Compress())
	return Keypair{Secret: sk, Public: out}
}

// VRFKeypair is one validator's VRF key, distinct from its BLS voting
// key since the Seed check (chain/verifier.go's verifySeed) verifies
// against the secp256k1/SHA256/TAI construction, not BLS12-381.
type VRFKeypair struct {
	Secret *ecdsa.PrivateKey
	Public chain.VRFPublicKey
}

// GenVRFKeypair derives a secp256k1 VRF keypair from seed, stable
// across test runs, the same seed-to-IKM convention GenKeypair uses for
// BLS keys.
func GenVRFKeypair(seed byte) VRFKeypair {
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = seed
	}
	priv := secp256k1.PrivKeyFromBytes(ikm)
	var out chain.VRFPublicKey
	copy(out[:], priv.PubKey().SerializeCompressed())
	return VRFKeypair{Secret: priv.ToECDSA(), Public: out}
}

// ProveVRF computes the VRF output and proof over alpha under k, in the
// same (beta, pi) shape crypto.ECVRFSeedVerifier.VerifySeed expects to
// check against.
func ProveVRF(k VRFKeypair, alpha []byte) (beta [32]byte, proof []byte, err error) {
	out, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(k.Secret, alpha)
	if err != nil {
		return beta, nil, err
	}
	copy(beta[:], out)
	return beta, pi, nil
}

// ValidatorSet builds n deterministic keypairs and the corresponding
// chain.ValidatorSet, in the order slot ownership indexes into.
func ValidatorSet(n int) ([]Keypair, *chain.ValidatorSet) {
	keys := make([]Keypair, n)
	slots := make([]chain.ValidatorSlot, n)
	for i := 0; i < n; i++ {
		keys[i] = GenKeypair(byte(i + 1))
		slots[i] = chain.ValidatorSlot{VotingKey: keys[i].Public}
	}
	return keys, &chain.ValidatorSet{Slots: slots}
}

// ValidatorSetWithVRF builds n deterministic BLS+VRF keypairs and the
// corresponding chain.ValidatorSet, for tests that exercise the real
// VRF seed check instead of chaintest's fakeSeedVerifier.
func ValidatorSetWithVRF(n int) ([]Keypair, []VRFKeypair, *chain.ValidatorSet) {
	keys, vs := ValidatorSet(n)
	vrfKeys := make([]VRFKeypair, n)
	for i := 0; i < n; i++ {
		vrfKeys[i] = GenVRFKeypair(byte(i + 101))
		vs.Slots[i].VRFKey = vrfKeys[i].Public
	}
	return keys, vrfKeys, vs
}

// SignHeader signs b's header with k's secret key, using the exact
// message encoding the verifier checks a producer signature against.
// Exported so tests can re-sign a block after mutating header fields
// (e.g. ExtraData) post-construction.
func SignHeader(k Keypair, b *chain.Block) chain.BLSSignature {
	return signSingle(k.Secret, chain.HeaderSigningMessage(b))
}

// signSingle signs msg with sk, returning a compressed signature.
func signSingle(sk *blst.SecretKey, msg []byte) chain.BLSSignature {
	sig := new(blst.P2Affine).Sign(sk, msg, crypto.DST)
	var out chain.BLSSignature
	copy(out[:], sig.Compress())
	return out
}

// signAggregate signs msg independently with every key in signers and
// aggregates the result, the same shape as the Rust harness's
// AggregateSignature::from_signatures(vec![signed; TWO_F_PLUS_ONE]),
// generalized to distinct keys instead of one key repeated.
func signAggregate(signers []*blst.SecretKey, msg []byte) chain.BLSSignature {
	sigs := make([]*blst.P2Affine, len(signers))
	for i, sk := range signers {
		sigs[i] = new(blst.P2Affine).Sign(sk, msg, crypto.DST)
	}
	agg := new(blst.P2Aggregate)
	agg.Aggregate(sigs, true)
	aggSig := agg.ToAffine()
	var out chain.BLSSignature
	copy(out[:], aggSig.Compress())
	return out
}
