package chaintest

import (
	blst "github.com/supranational/blst/bindings/go"

	"github.com/albatross-labs/albatross-core/chain"
	"github.com/albatross-labs/albatross-core/chain/store"
	"github.com/albatross-labs/albatross-core/crypto"
)

// fakeSeedVerifier treats the already-computed entropy embedded in the
// test block's seed as authoritative, skipping the real VRF check. Test
// blocks still carry a seed shaped like production's VRFSeed so wire
// round-tripping is exercised; only the proof-verification step is
// stubbed, the same trade-off the teacher's own chain service mocks
// make for attestation signatures in beacon-chain/blockchain/testing.
type fakeSeedVerifier struct{}

func (fakeSeedVerifier) VerifySeed(producerKey, parentSeed, seed, proof []byte) ([32]byte, error) {
	return crypto.Hash256(seed), nil
}

type fakeStateExecutor struct{}

func (fakeStateExecutor) Execute(parent, b *chain.Block) (chain.Hash, chain.Hash, error) {
	return b.Header.StateRoot, b.Header.HistoryRoot, nil
}

// staticValidators returns the same active set for every block, the
// single-epoch simplification that's enough to exercise the pipeline's
// quorum and slot-assignment logic without a real election module.
type staticValidators struct {
	set *chain.ValidatorSet
}

func (s staticValidators) ActiveSet(parent *chain.Block) (*chain.ValidatorSet, error) {
	return s.set, nil
}

// Harness wires a Service backed by an in-memory-directory bbolt store,
// a fixed validator set, and deterministic producer rotation, so
// scenario tests can build chains by calling a handful of methods
// instead of constructing every block field by hand. Mirrors the shape
// of produce_macro_blocks/fill_micro_blocks/push_micro_block from
// original_source/test-utils/src/blockchain.rs.
type Harness struct {
	Policy     chain.Policy
	Keys       []Keypair
	Validators *chain.ValidatorSet
	Store      *store.Store
	Service    *chain.Service

	genesis chain.Hash
}

// New builds a Harness with n validators and a genesis micro block
// already pushed, rooted at dir (a fresh temp directory per test).
func New(dir string, n int) (*Harness, error) {
	policy := chain.DefaultPolicy()
	keys, vs := ValidatorSet(n)

	st, err := store.Open(dir)
	if err != nil {
		return nil, err
	}

	svc := chain.NewService(chain.Config{
		Policy:     policy,
		Store:      st,
		Validators: staticValidators{set: vs},
		Executor:   fakeStateExecutor{},
		Seed:       fakeSeedVerifier{},
		Agg:        crypto.BLSTAggregateVerifier{},
		Sig:        crypto.BLSTSingleVerifier{},
	})

	h := &Harness{Policy: policy, Keys: keys, Validators: vs, Store: st, Service: svc}

	genesis := &chain.Block{
		Kind: chain.KindMicro,
		Header: chain.Header{
			Version:     policy.Version,
			BlockNumber: 0,
			Timestamp:   1,
		},
	}
	genesisHash := chain.Hash(crypto.Hash256(chain.EncodeBlock(genesis)))
	if err := st.PutEntry(genesisHash, &chain.Entry{Block: genesis, OnMainChain: true, LastElectionMacroHash: genesisHash}); err != nil {
		return nil, err
	}
	if err := st.SetHead(genesisHash); err != nil {
		return nil, err
	}
	h.genesis = genesisHash

	return h, nil
}

// Genesis returns the synthetic genesis block's hash.
func (h *Harness) Genesis() chain.Hash {
	return h.genesis
}

// slotOwner picks the producer for (blockNumber, viewNumber) round-robin
// over the validator set, so tests can always find the matching secret
// key for whichever slot produced a block.
func (h *Harness) slotOwner(blockNumber uint64, viewNumber uint32, n int) int {
	return int((blockNumber + uint64(viewNumber)) % uint64(n))
}

// NextMicroBlock builds the next micro block on top of parent, signed
// by its assigned slot owner.
func (h *Harness) NextMicroBlock(parent *chain.Block, parentHash chain.Hash, viewNumber uint32, vcProof *chain.ViewChangeProof) *chain.Block {
	idx := h.slotOwner(parent.Header.BlockNumber+1, viewNumber, len(h.Keys))
	producer := h.Keys[idx]

	b := &chain.Block{
		Kind: chain.KindMicro,
		Header: chain.Header{
			Version:         h.Policy.Version,
			ParentHash:      parentHash,
			BlockNumber:     parent.Header.BlockNumber + 1,
			ViewNumber:      viewNumber,
			Timestamp:       parent.Header.Timestamp + 1000,
			ProducerKey:     producer.Public,
			ViewChangeProof: vcProof,
		},
	}
	b.Header.Seed.Output = crypto.Hash256(append([]byte("seed"), parentHash[:]...))
	b.Header.StateRoot = chain.Hash(crypto.Hash256(append([]byte("state"), parentHash[:]...)))

	b.Header.ProducerSig = signSingle(producer.Secret, chain.HeaderSigningMessage(b))
	return b
}

// BuildViewChangeProof signs (blockNumber, newView, parent's seed
// entropy) with every validator in the set, the full-quorum case of the
// 2f+1 aggregate spec.md §4.1 requires for a view-number increment.
func (h *Harness) BuildViewChangeProof(parent *chain.Block, blockNumber uint64, newView uint32) *chain.ViewChangeProof {
	entropy := crypto.Hash256(parent.Header.Seed.Output[:])

	signers := make([]bool, len(h.Keys))
	var signingKeys []*blst.SecretKey
	for i, k := range h.Keys {
		signers[i] = true
		signingKeys = append(signingKeys, k.Secret)
	}
	msg := chain.ViewChangeMessage(blockNumber, newView, entropy)
	return &chain.ViewChangeProof{
		BlockNumber:   blockNumber,
		NewViewNumber: newView,
		VRFEntropy:    entropy,
		Signature:     signAggregate(signingKeys, msg),
		Signers:       chain.NewSignerBitSet(len(h.Keys), signers),
	}
}

// PushMicroBlock builds and pushes the next micro block on top of the
// current head, asserting nothing itself — tests inspect the returned
// Outcome the way the Rust harness asserts PushResult::Extended.
func (h *Harness) PushMicroBlock() (*chain.Block, chain.Outcome, error) {
	head, _, err := h.Service.Head()
	if err != nil {
		return nil, 0, err
	}
	headHash := chain.Hash(crypto.Hash256(chain.EncodeBlock(head)))
	b := h.NextMicroBlock(head, headHash, 0, nil)
	outcome, err := h.Service.Push(b)
	return b, outcome, err
}

// FillMicroBlocks pushes BlocksPerBatch-1 micro blocks on top of the
// current head, mirroring fill_micro_blocks: starting from a batch
// boundary, this leaves the chain one block short of the next macro
// block height.
func (h *Harness) FillMicroBlocks() error {
	head, _, err := h.Service.Head()
	if err != nil {
		return err
	}
	target := head.Header.BlockNumber + uint64(h.Policy.BlocksPerBatch) - 1
	for {
		head, _, err = h.Service.Head()
		if err != nil {
			return err
		}
		if head.Header.BlockNumber >= target {
			return nil
		}
		if _, _, err := h.PushMicroBlock(); err != nil {
			return err
		}
	}
}

// NextMacroBlock builds the macro block finalizing the current batch,
// justified by a full 2f+1 aggregate signature over every validator,
// mirroring sign_macro_block.
func (h *Harness) NextMacroBlock(parent *chain.Block, parentHash chain.Hash, lastElectionHash chain.Hash) *chain.Block {
	b := &chain.Block{
		Kind: chain.KindMacro,
		Header: chain.Header{
			Version:     h.Policy.Version,
			ParentHash:  parentHash,
			BlockNumber: parent.Header.BlockNumber + 1,
			ViewNumber:  0,
			Timestamp:   parent.Header.Timestamp + 1000,
		},
		Macro: chain.MacroExtension{
			ParentElectionHash: lastElectionHash,
		},
	}
	b.Header.Seed.Output = crypto.Hash256(append([]byte("macro-seed"), parentHash[:]...))
	b.Header.StateRoot = chain.Hash(crypto.Hash256(append([]byte("state"), parentHash[:]...)))

	signers := make([]bool, len(h.Keys))
	var signingKeys []*blst.SecretKey
	for i, k := range h.Keys {
		signers[i] = true
		signingKeys = append(signingKeys, k.Secret)
	}
	b.Macro.Justification = chain.TendermintJustification{
		Round:   0,
		Signers: chain.NewSignerBitSet(len(h.Keys), signers),
	}
	msg := chain.MacroJustificationMessage(b)
	b.Macro.Justification.Signature = signAggregate(signingKeys, msg)

	idx := h.slotOwner(b.Header.BlockNumber, 0, len(h.Keys))
	producer := h.Keys[idx]
	b.Header.ProducerKey = producer.Public
	b.Header.ProducerSig = signSingle(producer.Secret, chain.HeaderSigningMessage(b))

	return b
}

// ProduceMacroBlocks fills a batch of micro blocks and then pushes the
// finalizing macro block, num times, mirroring produce_macro_blocks.
func (h *Harness) ProduceMacroBlocks(num int) error {
	lastElection := h.genesis
	for i := 0; i < num; i++ {
		if err := h.FillMicroBlocks(); err != nil {
			return err
		}
		head, _, err := h.Service.Head()
		if err != nil {
			return err
		}
		headHash := chain.Hash(crypto.Hash256(chain.EncodeBlock(head)))
		macro := h.NextMacroBlock(head, headHash, lastElection)
		if _, err := h.Service.Push(macro); err != nil {
			return err
		}
		if macro.IsElectionMacro(h.Policy) {
			lastElection = chain.Hash(crypto.Hash256(chain.EncodeBlock(macro)))
		}
	}
	return nil
}
