package chain

// Policy holds the fixed chain-geometry constants used to classify block
// heights into micro/macro/election-macro and to size epoch bookkeeping.
// It is threaded explicitly into the verifier and store rather than read
// from a global, mirroring how shared/params.BeaconConfig() is injected
// throughout the teacher's beacon-chain packages, minus the singleton.
type Policy struct {
	// BlocksPerBatch is the number of blocks (including the macro block
	// itself) in one batch.
	BlocksPerBatch uint32
	// BatchesPerEpoch is the number of batches in one epoch.
	BatchesPerEpoch uint32
	// Version is the wire/consensus version this policy corresponds to;
	// blocks whose Version field doesn't match fail stateless verification.
	Version uint16
}

// BlocksPerEpoch returns BatchesPerEpoch * BlocksPerBatch.
func (p Policy) BlocksPerEpoch() uint64 {
	return uint64(p.BatchesPerEpoch) * uint64(p.BlocksPerBatch)
}

// IsMacro reports whether the block at height h is a macro block.
func (p Policy) IsMacro(h uint64) bool {
	return h%uint64(p.BlocksPerBatch) == 0
}

// IsElectionMacro reports whether the block at height h is an election
// macro block (rotates the validator set).
func (p Policy) IsElectionMacro(h uint64) bool {
	bpe := p.BlocksPerEpoch()
	return bpe > 0 && h%bpe == 0
}

// DefaultPolicy mirrors commonly used Albatross testnet geometry: 32
// blocks per batch, 16 batches per epoch (512 blocks per epoch).
func DefaultPolicy() Policy {
	return Policy{
		BlocksPerBatch:  32,
		BatchesPerEpoch: 16,
		Version:         1,
	}
}
