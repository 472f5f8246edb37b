package chain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/albatross-labs/albatross-core/chain"
	"github.com/albatross-labs/albatross-core/chain/chaintest"
	"github.com/albatross-labs/albatross-core/crypto"
)

// TestVerifySeedWithRealVRF drives the seed check through the real
// secp256k1/SHA256/TAI construction (crypto.ECVRFSeedVerifier) instead
// of chaintest's fakeSeedVerifier, which every other test in this suite
// uses and which never touches proof bytes at all.
func TestVerifySeedWithRealVRF(t *testing.T) {
	_, vrfKeys, vs := chaintest.ValidatorSetWithVRF(4)
	policy := chain.DefaultPolicy()

	parent := &chain.Block{Header: chain.Header{BlockNumber: 10, Timestamp: 1}}
	parent.Header.Seed.Output = crypto.Hash256([]byte("parent-seed"))

	const ownerIdx = 0
	beta, proof, err := chaintest.ProveVRF(vrfKeys[ownerIdx], parent.Header.Seed.Output[:])
	require.NoError(t, err)

	b := &chain.Block{
		Kind: chain.KindMicro,
		Header: chain.Header{
			ParentHash:  chain.Hash{1},
			BlockNumber: 11,
			Timestamp:   2,
		},
	}
	b.Header.Seed.Output = beta
	b.Header.Seed.Proof = proof

	ctx := &chain.VerifyContext{
		Parent:              parent,
		ParentHash:          b.Header.ParentHash,
		Validators:          vs,
		ExpectedStateRoot:   b.Header.StateRoot,
		ExpectedHistoryRoot: false,
		Policy:              policy,
		SlotOwner:           func(uint64, uint32, int) int { return ownerIdx },
		Seed:                crypto.ECVRFSeedVerifier{},
	}

	v := chain.NewVerifier(policy, nil)
	require.NoError(t, v.VerifyContextual(b, ctx))
}

// TestVerifySeedWithRealVRFRejectsImpostorProof proves over the parent
// seed with a different validator's VRF key than the slot owner
// VerifyContext claims produced the block, asserting the real verifier
// rejects it as InvalidSeed rather than accepting any valid-looking
// proof regardless of producer.
func TestVerifySeedWithRealVRFRejectsImpostorProof(t *testing.T) {
	_, vrfKeys, vs := chaintest.ValidatorSetWithVRF(4)
	policy := chain.DefaultPolicy()

	parent := &chain.Block{Header: chain.Header{BlockNumber: 10, Timestamp: 1}}
	parent.Header.Seed.Output = crypto.Hash256([]byte("parent-seed"))

	beta, proof, err := chaintest.ProveVRF(vrfKeys[1], parent.Header.Seed.Output[:])
	require.NoError(t, err)

	b := &chain.Block{
		Kind: chain.KindMicro,
		Header: chain.Header{
			ParentHash:  chain.Hash{1},
			BlockNumber: 11,
			Timestamp:   2,
		},
	}
	b.Header.Seed.Output = beta
	b.Header.Seed.Proof = proof

	ctx := &chain.VerifyContext{
		Parent:              parent,
		ParentHash:          b.Header.ParentHash,
		Validators:          vs,
		ExpectedStateRoot:   b.Header.StateRoot,
		ExpectedHistoryRoot: false,
		Policy:              policy,
		SlotOwner:           func(uint64, uint32, int) int { return 0 },
		Seed:                crypto.ECVRFSeedVerifier{},
	}

	v := chain.NewVerifier(policy, nil)
	err = v.VerifyContextual(b, ctx)
	require.Error(t, err)
	kind, ok := chain.AsInvalidBlockKind(err)
	require.True(t, ok)
	require.Equal(t, chain.InvalidSeed, kind)
}
