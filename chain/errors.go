package chain

import "github.com/pkg/errors"

// InvalidBlockKind enumerates the closed set of stateless/contextual
// verification failure reasons from spec.md §7.
type InvalidBlockKind string

const (
	UnsupportedVersion     InvalidBlockKind = "UnsupportedVersion"
	ExtraDataTooLarge      InvalidBlockKind = "ExtraDataTooLarge"
	BodyHashMismatch       InvalidBlockKind = "BodyHashMismatch"
	MissingBody            InvalidBlockKind = "MissingBody"
	InvalidSeed            InvalidBlockKind = "InvalidSeed"
	AccountsHashMismatch   InvalidBlockKind = "AccountsHashMismatch"
	InvalidHistoryRoot     InvalidBlockKind = "InvalidHistoryRoot"
	NoViewChangeProof      InvalidBlockKind = "NoViewChangeProof"
	InvalidViewNumber      InvalidBlockKind = "InvalidViewNumber"
	InvalidViewChangeProof InvalidBlockKind = "InvalidViewChangeProof"
	InvalidJustification   InvalidBlockKind = "InvalidJustification"
)

// InvalidBlockError wraps one of the InvalidBlockKind reasons above. It
// is always terminal for the offending block bytes: the pipeline never
// retries a push that returned this error for the same block.
type InvalidBlockError struct {
	Kind InvalidBlockKind
}

func (e *InvalidBlockError) Error() string {
	return "invalid block: " + string(e.Kind)
}

// NewInvalidBlockError constructs an *InvalidBlockError for kind k.
func NewInvalidBlockError(k InvalidBlockKind) error {
	return &InvalidBlockError{Kind: k}
}

// AsInvalidBlockKind extracts the InvalidBlockKind from err, if any.
func AsInvalidBlockKind(err error) (InvalidBlockKind, bool) {
	var ibe *InvalidBlockError
	if errors.As(err, &ibe) {
		return ibe.Kind, true
	}
	return "", false
}

var (
	// ErrOrphan is returned when the block's parent is unknown. The
	// caller may request the parent and retry; it is the only
	// recoverable push outcome.
	ErrOrphan = errors.New("orphan: parent unknown")

	// ErrInvalidSuccessor covers violations of the parent/child
	// successor relation: block number, timestamp, parent hash, or
	// (for macro blocks) parent-election-hash mismatch.
	ErrInvalidSuccessor = errors.New("invalid successor relation")

	// ErrInvalidFork is returned when a rebranch cannot be committed
	// atomically: the store transaction applying it failed partway
	// through. bbolt rolls the whole transaction back, so the original
	// head is preserved exactly as it was.
	ErrInvalidFork = errors.New("invalid fork: rebranch could not be applied atomically")
)

// BlockchainError wraps an underlying store/IO failure. It is never
// silently swallowed; callers surface it so the host can decide whether
// to abort.
type BlockchainError struct {
	Err error
}

func (e *BlockchainError) Error() string {
	return "blockchain store error: " + e.Err.Error()
}

func (e *BlockchainError) Unwrap() error {
	return e.Err
}

// WrapStoreError wraps err (if non-nil) as a *BlockchainError.
func WrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &BlockchainError{Err: err}
}
