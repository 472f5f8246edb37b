package chain

import "github.com/albatross-labs/albatross-core/crypto"

// Outcome classifies how a pushed block affected the chain, per
// spec.md §5's state machine. Orphan is recoverable rather than a
// protocol fault: Push reports it together with ErrOrphan, and the
// caller may fetch the missing parent and retry.
type Outcome uint8

const (
	// Extended means the block became the new head, extending the
	// previously canonical chain by one.
	Extended Outcome = iota
	// Rebranched means the block's chain overtook the previous head
	// under the fork-choice rule, and the canonical chain switched to
	// it (possibly undoing several blocks).
	Rebranched
	// Forked means the block was accepted and stored but its chain did
	// not overtake the current head; it is retained in case a later
	// push tips the balance.
	Forked
	// Ignored means the block was already known (push is idempotent),
	// or that its branch forks off below the most recently finalized
	// macro block and so can never become head.
	Ignored
	// Orphan means the block's parent is not (yet) known to the store.
	Orphan
)

func (o Outcome) String() string {
	switch o {
	case Extended:
		return "extended"
	case Rebranched:
		return "rebranched"
	case Forked:
		return "forked"
	case Ignored:
		return "ignored"
	case Orphan:
		return "orphan"
	default:
		return "unknown"
	}
}

// StateExecutor computes the post-state of applying b on top of parent,
// and the corresponding history root. This is the external transaction/
// state-execution layer spec.md §1 explicitly puts out of scope; the
// pipeline only ever compares its output against a block's claimed
// roots, never recomputes them itself.
type StateExecutor interface {
	Execute(parent *Block, b *Block) (stateRoot Hash, historyRoot Hash, err error)
}

// ForkEvent is sent on the Service's fork feed whenever push detects a
// second block at a height/parent it has already accepted, the
// supplemental fork-proof evidence original_source/'s push.rs collects
// for slashing but which spec.md's own state machine omits.
type ForkEvent struct {
	Height     uint64
	ParentHash Hash
	First      Hash
	Second     Hash
}

// Push runs the full state machine of spec.md §5 against b: dedupe,
// parent lookup, verification, classification, and (on success)
// persistence plus fork-choice re-evaluation.
func (s *Service) Push(b *Block) (Outcome, error) {
	hash := s.hashBlock(b)

	known, err := s.store.Has(hash)
	if err != nil {
		return 0, WrapStoreError(err)
	}
	if known {
		return Ignored, nil
	}

	parentEntry, ok, err := s.store.GetEntry(b.Header.ParentHash)
	if err != nil {
		return 0, WrapStoreError(err)
	}
	if !ok {
		return Orphan, ErrOrphan
	}

	ctx, err := s.buildVerifyContext(parentEntry, b)
	if err != nil {
		return 0, err
	}
	if err := s.verifier.Verify(b, ctx); err != nil {
		return 0, err
	}

	entry := &Entry{
		Block:                 b,
		CumulativeViewDelta:   parentEntry.CumulativeViewDelta + viewDelta(b, parentEntry, s.policy),
		LastElectionMacroHash: ctx.LastElectionMacroHash,
	}
	if b.IsElectionMacro(s.policy) {
		entry.LastElectionMacroHash = hash
	}

	if err := s.store.PutEntry(hash, entry); err != nil {
		return 0, WrapStoreError(err)
	}

	s.detectFork(b, hash, parentEntry)

	return s.reconsiderHead(hash, entry)
}

func viewDelta(b *Block, parentEntry *Entry, p Policy) uint64 {
	parent := parentEntry.Block
	base := parent.Header.ViewNumber
	if p.IsMacro(parent.Header.BlockNumber) {
		base = 0
	}
	if b.Header.ViewNumber <= base {
		return 0
	}
	return uint64(b.Header.ViewNumber - base)
}

// detectFork emits a ForkEvent when a second child of parentEntry's hash
// appears; this is informational evidence for the host (e.g. slashing),
// not part of the accept/reject decision itself.
func (s *Service) detectFork(b *Block, hash Hash, parentEntry *Entry) {
	if s.forkFeed == nil {
		return
	}
	siblings, err := s.store.Children(b.Header.ParentHash)
	if err != nil || len(siblings) < 2 {
		return
	}
	var first Hash
	for _, h := range siblings {
		if h != hash {
			first = h
			break
		}
	}
	s.forkFeed.Send(ForkEvent{
		Height:     b.Header.BlockNumber,
		ParentHash: b.Header.ParentHash,
		First:      first,
		Second:     hash,
	})
}

// reconsiderHead compares the newly pushed block against the current
// head under the fork-choice rule and decides whether it should become
// head, rebranch onto, be ignored as a fork below the finalized macro
// block, or merely sit alongside the current canonical chain.
func (s *Service) reconsiderHead(hash Hash, entry *Entry) (Outcome, error) {
	headHash, hasHead, err := s.store.Head()
	if err != nil {
		return 0, WrapStoreError(err)
	}
	if !hasHead {
		return s.extendTo(hash, entry)
	}

	if entry.Block.Header.ParentHash == headHash {
		return s.extendTo(hash, entry)
	}

	headEntry, ok, err := s.store.GetEntry(headHash)
	if err != nil {
		return 0, WrapStoreError(err)
	}
	if !ok {
		return 0, WrapStoreError(errMissingHeadEntry)
	}

	oldPath, newPath, err := s.pathsToCommonAncestor(headHash, hash)
	if err != nil {
		return 0, WrapStoreError(err)
	}

	// Epoch immutability (spec.md §4.4, testable property 3): a fork
	// whose common ancestor with head sits below the last finalized
	// macro block is Ignored outright. This runs before the
	// fork-choice comparison below so a weak rival cross-epoch fork
	// isn't misclassified Forked just because it would also lose that
	// comparison.
	blocked, err := s.rebranchCrossesFinalizedMacro(oldPath)
	if err != nil {
		return 0, err
	}
	if blocked {
		return Ignored, nil
	}

	candidate := entry.Work()
	current := headEntry.Work()
	if !current.Less(candidate) {
		return Forked, nil
	}

	if err := s.commitRebranch(oldPath, newPath, hash); err != nil {
		return 0, err
	}
	if entry.Block.Kind == KindMacro {
		if err := s.store.SetFinalizedMacro(hash); err != nil {
			return 0, WrapStoreError(err)
		}
	}
	return Rebranched, nil
}

// extendTo makes hash/entry the new head by direct extension (or as the
// very first block in an empty store), with no rebranch bookkeeping.
func (s *Service) extendTo(hash Hash, entry *Entry) (Outcome, error) {
	if err := s.store.ApplyRebranch(nil, []Hash{hash}, hash); err != nil {
		return 0, err
	}
	if entry.Block.Kind == KindMacro {
		if err := s.store.SetFinalizedMacro(hash); err != nil {
			return 0, WrapStoreError(err)
		}
	}
	return Extended, nil
}

// rebranchCrossesFinalizedMacro reports whether oldPath (the blocks the
// rebranch would strip off the main chain) contains the most recently
// finalized macro block.
func (s *Service) rebranchCrossesFinalizedMacro(oldPath []Hash) (bool, error) {
	finalized, has, err := s.store.FinalizedMacro()
	if err != nil {
		return false, WrapStoreError(err)
	}
	if !has {
		return false, nil
	}
	for _, h := range oldPath {
		if h == finalized {
			return true, nil
		}
	}
	return false, nil
}

// commitRebranch flips OnMainChain off along oldPath and on along
// newPath and commits newHead, as one atomic store operation (spec.md
// §4.2's atomicity MUST). The epoch-immutability check
// (rebranchCrossesFinalizedMacro) has already run by the time this is
// called; this function just performs the flip. A failure here returns
// ErrInvalidFork with the original head left untouched.
func (s *Service) commitRebranch(oldPath, newPath []Hash, newHead Hash) error {
	return s.store.ApplyRebranch(oldPath, newPath, newHead)
}

// pathsToCommonAncestor returns, for each side, the hashes strictly
// between (exclusive) the common ancestor and that side's tip
// (inclusive of the tip).
func (s *Service) pathsToCommonAncestor(a, b Hash) ([]Hash, []Hash, error) {
	aChain, err := s.ancestorsToGenesis(a)
	if err != nil {
		return nil, nil, err
	}
	bChain, err := s.ancestorsToGenesis(b)
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[Hash]int, len(aChain))
	for i, h := range aChain {
		seen[h] = i
	}
	var commonIdx, bCommonIdx int
	var found bool
	for j, h := range bChain {
		if i, ok := seen[h]; ok {
			commonIdx, bCommonIdx = i, j
			found = true
			break
		}
	}
	if !found {
		return aChain, bChain, nil
	}
	return aChain[:commonIdx], bChain[:bCommonIdx], nil
}

func (s *Service) ancestorsToGenesis(tip Hash) ([]Hash, error) {
	var path []Hash
	cur := tip
	for {
		entry, ok, err := s.store.GetEntry(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return path, nil
		}
		path = append(path, cur)
		if entry.Block.Header.ParentHash.IsZero() {
			return path, nil
		}
		cur = entry.Block.Header.ParentHash
	}
}

func (s *Service) hashBlock(b *Block) Hash {
	return Hash(crypto.Hash256(EncodeBlock(b)))
}
