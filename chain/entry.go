package chain

import "github.com/albatross-labs/albatross-core/crypto"

// Entry is a block together with the fork-choice bookkeeping the Chain
// Store maintains alongside it (spec.md §3's ChainInfo record).
type Entry struct {
	Block *Block

	// CumulativeViewDelta is the running sum, from genesis, of this
	// block's (ViewNumber - baseline) increment. Two entries descending
	// from a common ancestor compare directly: a lower delta means
	// fewer view-changes were needed to produce the chain, which
	// spec.md §4.3 ranks as more canonical at equal height.
	CumulativeViewDelta uint64

	// OnMainChain reports whether this block is (still) part of the
	// canonical chain the store currently considers head.
	OnMainChain bool

	// LastElectionMacroHash is the hash of the nearest election-macro
	// ancestor as of this block (inclusive), threaded forward so the
	// verifier never has to walk the chain to find it.
	LastElectionMacroHash Hash
}

// Work is this entry's fork-choice comparator value.
func (e *Entry) Work() Work {
	return Work{
		BlockNumber: e.Block.Header.BlockNumber,
		ViewDelta:   e.CumulativeViewDelta,
		Hash:        hashEntry(e),
	}
}

func hashEntry(e *Entry) Hash {
	return Hash(crypto.Hash256(EncodeBlock(e.Block)))
}

// Store is the persistence contract the Block Pipeline and Fork-Choice
// need from the Chain Store. chain/store.Store satisfies it; defining
// it here (rather than in chain/store) lets this package depend on the
// interface without importing the concrete bbolt-backed implementation,
// avoiding an import cycle (chain/store already imports chain).
type Store interface {
	PutEntry(hash Hash, e *Entry) error
	GetEntry(hash Hash) (*Entry, bool, error)
	Has(hash Hash) (bool, error)
	Children(hash Hash) ([]Hash, error)
	AtHeight(height uint64) ([]Hash, error)
	SetOnMainChain(hash Hash, onMainChain bool) error

	// ApplyRebranch flips OnMainChain along oldPath (off) and newPath
	// (on) and commits newHead as the new chain tip, all as a single
	// atomic unit (spec.md §4.2's explicit MUST). Either every flip and
	// the head move land together, or none of them do.
	ApplyRebranch(oldPath, newPath []Hash, newHead Hash) error

	Head() (Hash, bool, error)
	SetHead(hash Hash) error
	FinalizedMacro() (Hash, bool, error)
	SetFinalizedMacro(hash Hash) error
	LastElectionMacro() (Hash, bool, error)
	SetLastElectionMacro(hash Hash) error
}
