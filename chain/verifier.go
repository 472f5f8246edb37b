package chain

import (
	"encoding/binary"

	"github.com/albatross-labs/albatross-core/crypto"
)

// VerifyContext carries everything the verifier needs about the chain
// tip a block is being validated against (spec.md §4.1). It is built by
// the pipeline from the Chain Store and the external state executor
// before Verify is called; the verifier itself never touches either.
type VerifyContext struct {
	Parent     *Block
	ParentHash Hash

	// LastElectionMacroHash is the hash of the nearest election-macro
	// ancestor of Parent, used to check a macro block's
	// ParentElectionHash.
	LastElectionMacroHash Hash

	// Validators is the active validator set this block is proposed
	// under (rotated only at election-macro boundaries).
	Validators *ValidatorSet

	// ExpectedStateRoot and ExpectedHistoryRoot are produced by the
	// external state executor (out of scope per spec.md §1) for this
	// block's height; the verifier only compares against them.
	ExpectedStateRoot        Hash
	ExpectedHistoryRoot      bool // whether history root checking applies (macro blocks may omit)
	ExpectedHistoryRootValue Hash

	// TendermintRound is the round number the macro block's
	// justification must carry. The Service fills it from the block's
	// own ViewNumber (see buildVerifyContext).
	TendermintRound uint32

	Policy    Policy
	SlotOwner SlotOwnerFunc

	Seed SeedVerifier
	Agg  AggregateVerifier
}

// SeedVerifier re-exports crypto.SeedVerifier so callers only import
// the chain package for the verifier's collaborator interfaces.
type SeedVerifier = crypto.SeedVerifier

// AggregateVerifier re-exports crypto.AggregateVerifier.
type AggregateVerifier = crypto.AggregateVerifier

// SingleVerifier verifies a single (non-aggregate) BLS signature, used
// for the producer's header signature.
type SingleVerifier interface {
	VerifySingle(msg []byte, sig []byte, pubkey []byte) (bool, error)
}

// Verifier runs the stateless and contextual checks of spec.md §4.1. It
// is pure: it never mutates chain state and never performs I/O. Errors
// form the closed taxonomy of spec.md §7.
type Verifier struct {
	Policy Policy
	Sig    SingleVerifier
}

// NewVerifier constructs a Verifier bound to a fixed Policy and a
// producer-signature verifier.
func NewVerifier(p Policy, sig SingleVerifier) *Verifier {
	return &Verifier{Policy: p, Sig: sig}
}

// Verify runs both the stateless and contextual checks against b. The
// parent-independent checks always run first, matching the order
// implied by spec.md's state machine (verify happens once dedupe/parent
// lookup has already succeeded).
func (v *Verifier) Verify(b *Block, ctx *VerifyContext) error {
	if err := v.VerifyStateless(b); err != nil {
		return err
	}
	return v.VerifyContextual(b, ctx)
}

// VerifyStateless runs the parent-independent checks: version, extra
// data size, body-hash/body-presence, producer signature, and (for
// macro blocks) well-formedness of the Tendermint justification.
func (v *Verifier) VerifyStateless(b *Block) error {
	h := &b.Header

	if h.Version != v.Policy.Version {
		return NewInvalidBlockError(UnsupportedVersion)
	}
	if len(h.ExtraData) > ExtraDataLimit {
		return NewInvalidBlockError(ExtraDataTooLarge)
	}

	if !h.BodyHash.IsZero() {
		if !b.Body.Present {
			return NewInvalidBlockError(MissingBody)
		}
		if crypto.Hash256(b.Body.Raw) != h.BodyHash {
			return NewInvalidBlockError(BodyHashMismatch)
		}
	}

	if b.Kind == KindMacro {
		j := b.Macro.Justification
		if len(j.Signature) == 0 || j.Signers.NumValidators == 0 {
			return NewInvalidBlockError(InvalidJustification)
		}
	}

	if v.Sig != nil {
		ok, err := v.Sig.VerifySingle(HeaderSigningMessage(b), h.ProducerSig[:], h.ProducerKey[:])
		if err != nil || !ok {
			return NewInvalidBlockError(InvalidSeed)
		}
	}

	return nil
}

// HeaderSigningMessage is the byte message the producer's signature
// binds: the header fields excluding the signature itself.
func HeaderSigningMessage(b *Block) []byte {
	h := &b.Header
	buf := make([]byte, 0, 128)
	buf = append(buf, h.ParentHash[:]...)
	buf = appendUint64(buf, h.BlockNumber)
	buf = appendUint32(buf, h.ViewNumber)
	buf = appendUint64(buf, h.Timestamp)
	buf = append(buf, h.Seed.Output[:]...)
	buf = append(buf, h.Seed.Proof...)
	buf = append(buf, h.BodyHash[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.HistoryRoot[:]...)
	buf = append(buf, h.ExtraData...)
	return buf
}

// VerifyContextual runs the checks that require the parent and the
// active validator set: successor relation, VRF seed, view-number
// monotonicity/view-change-proof well-formedness, macro-only parent
// election hash and Tendermint round, and state/history root equality
// against the external executor's output.
func (v *Verifier) VerifyContextual(b *Block, ctx *VerifyContext) error {
	if ctx.Parent == nil {
		return ErrOrphan
	}
	h := &b.Header

	if err := v.verifySuccessor(b, ctx); err != nil {
		return err
	}
	if err := v.verifySeed(b, ctx); err != nil {
		return err
	}
	if err := v.verifyViewNumber(b, ctx); err != nil {
		return err
	}
	if b.Kind == KindMacro {
		if err := v.verifyMacroOnly(b, ctx); err != nil {
			return err
		}
	}

	if h.StateRoot != ctx.ExpectedStateRoot {
		return NewInvalidBlockError(AccountsHashMismatch)
	}
	if ctx.ExpectedHistoryRoot && h.HistoryRoot != ctx.ExpectedHistoryRootValue {
		return NewInvalidBlockError(InvalidHistoryRoot)
	}

	return nil
}

func (v *Verifier) verifySuccessor(b *Block, ctx *VerifyContext) error {
	h := &b.Header
	parent := ctx.Parent

	if h.BlockNumber != parent.Header.BlockNumber+1 {
		return ErrInvalidSuccessor
	}
	if h.Timestamp <= parent.Header.Timestamp {
		return ErrInvalidSuccessor
	}
	if h.ParentHash != ctx.ParentHash {
		return ErrInvalidSuccessor
	}
	return nil
}

func (v *Verifier) verifySeed(b *Block, ctx *VerifyContext) error {
	if ctx.Seed == nil || ctx.Validators == nil {
		return NewInvalidBlockError(InvalidSeed)
	}
	owner, ok := ctx.Validators.SlotOwner(b.Header.BlockNumber, b.Header.ViewNumber, ctx.SlotOwner)
	if !ok {
		return NewInvalidBlockError(InvalidSeed)
	}
	if _, err := ctx.Seed.VerifySeed(
		owner.VRFKey[:],
		ctx.Parent.Header.Seed.Output[:],
		b.Header.Seed.Output[:],
		b.Header.Seed.Proof,
	); err != nil {
		return NewInvalidBlockError(InvalidSeed)
	}
	return nil
}

// verifyViewNumber implements spec.md §4.1's view-number state machine:
// same-batch view numbers are monotone non-decreasing; a macro block
// resets the baseline to zero; any strict increase needs a view-change
// proof bound exactly to (BlockNumber, NewViewNumber, parent seed
// entropy) and signed by a 2f+1 quorum of the active set.
func (v *Verifier) verifyViewNumber(b *Block, ctx *VerifyContext) error {
	h := &b.Header
	parent := ctx.Parent

	baseline := parent.Header.ViewNumber
	if v.Policy.IsMacro(parent.Header.BlockNumber) {
		baseline = 0
	}

	switch {
	case h.ViewNumber < baseline:
		return NewInvalidBlockError(InvalidViewNumber)
	case h.ViewNumber == baseline:
		if h.ViewChangeProof != nil {
			return NewInvalidBlockError(InvalidJustification)
		}
		return nil
	default: // h.ViewNumber > baseline
		if h.ViewChangeProof == nil {
			return NewInvalidBlockError(NoViewChangeProof)
		}
		return v.verifyViewChangeProof(b, ctx)
	}
}

func (v *Verifier) verifyViewChangeProof(b *Block, ctx *VerifyContext) error {
	h := &b.Header
	proof := h.ViewChangeProof

	if proof.BlockNumber != h.BlockNumber || proof.NewViewNumber != h.ViewNumber {
		return NewInvalidBlockError(InvalidViewChangeProof)
	}
	parentEntropy := crypto.Hash256(ctx.Parent.Header.Seed.Output[:])
	if proof.VRFEntropy != parentEntropy {
		return NewInvalidBlockError(InvalidViewChangeProof)
	}
	if ctx.Agg == nil || ctx.Validators == nil {
		return NewInvalidBlockError(InvalidViewChangeProof)
	}

	signers := proof.Signers.ToBoolSlice()
	if !crypto.HasQuorum(crypto.CountSigners(signers), len(ctx.Validators.Slots)) {
		return NewInvalidBlockError(InvalidViewChangeProof)
	}
	msg := ViewChangeMessage(proof.BlockNumber, proof.NewViewNumber, proof.VRFEntropy)
	keys := ValidatorKeyBytes(ctx.Validators)
	ok, err := ctx.Agg.VerifyAggregate(msg, proof.Signature[:], keys, signers)
	if err != nil || !ok {
		return NewInvalidBlockError(InvalidViewChangeProof)
	}
	return nil
}

func (v *Verifier) verifyMacroOnly(b *Block, ctx *VerifyContext) error {
	if b.Macro.ParentElectionHash != ctx.LastElectionMacroHash {
		return ErrInvalidSuccessor
	}
	if b.Macro.Justification.Round != ctx.TendermintRound {
		return NewInvalidBlockError(InvalidJustification)
	}
	if ctx.Agg == nil || ctx.Validators == nil {
		return NewInvalidBlockError(InvalidJustification)
	}
	signers := b.Macro.Justification.Signers.ToBoolSlice()
	if !crypto.HasQuorum(crypto.CountSigners(signers), len(ctx.Validators.Slots)) {
		return NewInvalidBlockError(InvalidJustification)
	}
	msg := MacroJustificationMessage(b)
	keys := ValidatorKeyBytes(ctx.Validators)
	ok, err := ctx.Agg.VerifyAggregate(msg, b.Macro.Justification.Signature[:], keys, signers)
	if err != nil || !ok {
		return NewInvalidBlockError(InvalidJustification)
	}
	return nil
}

func ViewChangeMessage(blockNumber uint64, newView uint32, entropy [32]byte) []byte {
	buf := make([]byte, 0, 8+4+32)
	buf = appendUint64(buf, blockNumber)
	buf = appendUint32(buf, newView)
	buf = append(buf, entropy[:]...)
	return buf
}

func MacroJustificationMessage(b *Block) []byte {
	buf := make([]byte, 0, 8+4+32)
	buf = appendUint64(buf, b.Header.BlockNumber)
	buf = appendUint32(buf, b.Macro.Justification.Round)
	buf = append(buf, b.Macro.ParentElectionHash[:]...)
	return buf
}

func ValidatorKeyBytes(vs *ValidatorSet) [][]byte {
	keys := make([][]byte, len(vs.Slots))
	for i, s := range vs.Slots {
		k := s.VotingKey
		keys[i] = k[:]
	}
	return keys
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
