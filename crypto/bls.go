package crypto

import (
	"github.com/pkg/errors"
	blst "github.com/supranational/blst/bindings/go"
)

// DST is the domain separation tag for BLS signature verification,
// binding this protocol's signatures away from any other BLS usage on
// the same curve. Exported so test harnesses sign with the exact tag
// production verification checks against.
var DST = []byte("ALBATROSS_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

var dst = DST

// AggregateVerifier verifies a BLS aggregate signature made by a subset
// of a known validator set over a single message, per spec.md §4.1's
// Tendermint-justification and view-change-proof checks. The
// aggregation *protocol* (how the signature was collected) is out of
// scope; only this verification contract is.
type AggregateVerifier interface {
	// VerifyAggregate checks that sig is a valid aggregate of signatures
	// by exactly the signers selected out of validatorKeys, all over msg.
	VerifyAggregate(msg []byte, sig []byte, validatorKeys [][]byte, signers []bool) (bool, error)
}

// BLSTAggregateVerifier backs AggregateVerifier with the BLS12-381
// implementation from supranational/blst.
type BLSTAggregateVerifier struct{}

// VerifyAggregate implements AggregateVerifier.
func (BLSTAggregateVerifier) VerifyAggregate(msg []byte, sig []byte, validatorKeys [][]byte, signers []bool) (bool, error) {
	if len(validatorKeys) != len(signers) {
		return false, errors.New("signer bitset length does not match validator set size")
	}

	var pubKeys []*blst.P1Affine
	for i, key := range validatorKeys {
		if !signers[i] {
			continue
		}
		pk := new(blst.P1Affine).Uncompress(key)
		if pk == nil {
			return false, errors.Errorf("invalid validator public key at index %d", i)
		}
		if !pk.KeyValidate() {
			return false, errors.Errorf("public key at index %d fails group check", i)
		}
		pubKeys = append(pubKeys, pk)
	}
	if len(pubKeys) == 0 {
		return false, errors.New("no signers set in aggregate signature")
	}

	aggSig := new(blst.P2Affine).Uncompress(sig)
	if aggSig == nil {
		return false, errors.New("invalid aggregate signature encoding")
	}

	ok := aggSig.FastAggregateVerify(true, pubKeys, msg, dst)
	return ok, nil
}

// BLSTSingleVerifier verifies individual (non-aggregate) BLS signatures,
// used for a block producer's header signature.
type BLSTSingleVerifier struct{}

// VerifySingle verifies that sig is pubkey's signature over msg.
func (BLSTSingleVerifier) VerifySingle(msg []byte, sig []byte, pubkey []byte) (bool, error) {
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false, errors.New("invalid producer public key encoding")
	}
	if !pk.KeyValidate() {
		return false, errors.New("producer public key fails group check")
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false, errors.New("invalid producer signature encoding")
	}
	return s.Verify(true, pk, true, msg, dst), nil
}

// CountSigners returns the number of set bits in signers, used to check
// the 2f+1 quorum threshold against a validator set size.
func CountSigners(signers []bool) int {
	n := 0
	for _, s := range signers {
		if s {
			n++
		}
	}
	return n
}

// HasQuorum reports whether signerCount meets or exceeds the 2f+1
// threshold for a validator set of size n (n == 3f+1 in the standard
// BFT sizing).
func HasQuorum(signerCount, n int) bool {
	if n == 0 {
		return false
	}
	f := (n - 1) / 3
	return signerCount >= 2*f+1
}
