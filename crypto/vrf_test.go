package crypto_test

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
	"github.com/vechain/go-ecvrf"

	"github.com/albatross-labs/albatross-core/crypto"
)

// secp256k1Key derives a deterministic secp256k1 private key from seed,
// enough entropy variety for these tests without embedding fixed key
// material.
func secp256k1Key(seed byte) *secp256k1.PrivateKey {
	ikm := make([]byte, 32)
	for i := range ikm {
		ikm[i] = seed
	}
	return secp256k1.PrivKeyFromBytes(ikm)
}

func TestECVRFSeedVerifierAcceptsGenuineProof(t *testing.T) {
	priv := secp256k1Key(7)
	pub := priv.PubKey().SerializeCompressed()

	parentSeed := crypto.Hash256([]byte("parent-seed"))
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(priv.ToECDSA(), parentSeed[:])
	require.NoError(t, err)

	v := crypto.ECVRFSeedVerifier{}
	entropy, err := v.VerifySeed(pub, parentSeed[:], beta, pi)
	require.NoError(t, err)
	require.Equal(t, crypto.Hash256(beta), entropy)
}

func TestECVRFSeedVerifierRejectsProofFromWrongKey(t *testing.T) {
	priv := secp256k1Key(7)
	impostor := secp256k1Key(9)

	parentSeed := crypto.Hash256([]byte("parent-seed"))
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(priv.ToECDSA(), parentSeed[:])
	require.NoError(t, err)

	v := crypto.ECVRFSeedVerifier{}
	_, err = v.VerifySeed(impostor.PubKey().SerializeCompressed(), parentSeed[:], beta, pi)
	require.Error(t, err)
}

func TestECVRFSeedVerifierRejectsTamperedOutput(t *testing.T) {
	priv := secp256k1Key(7)
	pub := priv.PubKey().SerializeCompressed()

	parentSeed := crypto.Hash256([]byte("parent-seed"))
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(priv.ToECDSA(), parentSeed[:])
	require.NoError(t, err)

	tampered := append([]byte(nil), beta...)
	tampered[0] ^= 0xff

	v := crypto.ECVRFSeedVerifier{}
	_, err = v.VerifySeed(pub, parentSeed[:], tampered, pi)
	require.Error(t, err)
}

func TestECVRFSeedVerifierRejectsWrongParentSeed(t *testing.T) {
	priv := secp256k1Key(7)
	pub := priv.PubKey().SerializeCompressed()

	parentSeed := crypto.Hash256([]byte("parent-seed"))
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(priv.ToECDSA(), parentSeed[:])
	require.NoError(t, err)

	wrongParent := crypto.Hash256([]byte("a different parent"))

	v := crypto.ECVRFSeedVerifier{}
	_, err = v.VerifySeed(pub, wrongParent[:], beta, pi)
	require.Error(t, err)
}
