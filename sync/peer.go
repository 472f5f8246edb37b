// Package sync implements the History Sync Scheduler and its Sync
// Clusters (spec.md §4.5/§4.6): fanning RequestEpochIds/RequestBatchSet
// calls out across peers, reassembling the result into strict epoch
// order, and applying it to the chain core through chain.Service.PushBlock,
// the only entrypoint this package ever uses to touch the store.
// Grounded on beacon-chain/sync/initial-sync's round-robin fetcher.
package sync

import (
	"context"

	"github.com/albatross-labs/albatross-core/chain"
)

// PeerID identifies a peer in the scheduler's bookkeeping. Transport and
// discovery are out of scope (spec.md §1 Non-goals); this package only
// ever addresses peers by this opaque identifier.
type PeerID string

// Checkpoint is a mid-epoch head a peer has advertised, short of a full
// epoch's worth of history.
type Checkpoint struct {
	BlockNumber uint64
	Hash        chain.Hash
}

// EpochIdsResponse is RequestEpochIds's result (spec.md §6).
type EpochIdsResponse struct {
	LocatorFound     bool
	Ids              []chain.Hash
	Checkpoint       *Checkpoint
	FirstEpochNumber uint32
}

// BatchSetResponse is RequestBatchSet's result (spec.md §6): an election
// macro block plus the history proof binding it to the epoch's full
// transaction history.
type BatchSetResponse struct {
	MacroBlock   *chain.Block
	HistoryProof []byte
}

// PeerClient is the RPC surface the scheduler consumes (spec.md §6). The
// concrete transport (libp2p, gRPC, anything else) lives entirely on the
// other side of this interface, per spec.md §1's P2P exclusion.
type PeerClient interface {
	RequestEpochIds(ctx context.Context, locator chain.Hash, max uint32) (*EpochIdsResponse, error)
	RequestBatchSet(ctx context.Context, epochHash chain.Hash) (*BatchSetResponse, error)
}

// HistoryProofVerifier checks that a batch's history proof actually
// binds to its macro block's HistoryRoot. Proof construction and the
// underlying history-tree scheme are out of scope (spec.md §1); only
// this verification contract is consumed here, the same
// pluggable-adapter boundary the Block Verifier draws around BLS/VRF.
type HistoryProofVerifier interface {
	VerifyHistoryProof(macroBlock *chain.Block, proof []byte) error
}
