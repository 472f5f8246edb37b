package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.opencensus.io/trace"
)

// ValidatorSetProvider supplies the active validator set a block is
// proposed under. Validator election and stake weighting are out of
// scope (spec.md §1 Non-goals); the pipeline only ever reads the
// already-computed set back out through this interface.
type ValidatorSetProvider interface {
	ActiveSet(parent *Block) (*ValidatorSet, error)
}

// Config wires a Service's collaborators. Every field mirrors a
// spec.md §1 Non-goal boundary: the fields are interfaces into
// functionality this package deliberately does not implement.
type Config struct {
	Policy     Policy
	Store      Store
	Validators ValidatorSetProvider
	Executor   StateExecutor
	Seed       SeedVerifier
	Agg        AggregateVerifier
	Sig        SingleVerifier

	// SlotOwner overrides the default round-robin slot assignment; nil
	// keeps the default.
	SlotOwner SlotOwnerFunc
}

// Service is the Block Pipeline (spec.md §5): it owns the Chain Store
// handle and the Verifier, and exposes Push as its sole write
// entrypoint. Grounded on the teacher's beacon-chain/blockchain.Service,
// which plays the analogous role of gluing together its own fork-choice
// store, db, and state transition under a head lock.
type Service struct {
	policy     Policy
	store      Store
	validators ValidatorSetProvider
	executor   StateExecutor
	verifier   *Verifier
	slotOwner  SlotOwnerFunc

	seed SeedVerifier
	agg  AggregateVerifier

	forkFeed *event.Feed

	headLock sync.RWMutex
}

// NewService constructs a Service from cfg.
func NewService(cfg Config) *Service {
	return &Service{
		policy:     cfg.Policy,
		store:      cfg.Store,
		validators: cfg.Validators,
		executor:   cfg.Executor,
		verifier:   NewVerifier(cfg.Policy, cfg.Sig),
		slotOwner:  cfg.SlotOwner,
		seed:       cfg.Seed,
		agg:        cfg.Agg,
		forkFeed:   new(event.Feed),
	}
}

// ForkFeed returns the feed ForkEvents are published on. Send blocks
// until every subscriber has received the event, so subscribers (e.g. a
// slashing module) must keep their channel drained.
func (s *Service) ForkFeed() *event.Feed {
	return s.forkFeed
}

// PushBlock runs Push under the head lock, with tracing, logging, and
// metrics wrapped around the pure state machine in pipeline.go — the
// same split the teacher draws between ReceiveBlock and
// ReceiveBlockNoPubsub.
func (s *Service) PushBlock(ctx context.Context, b *Block) (Outcome, error) {
	_, span := trace.StartSpan(ctx, "chain.Service.PushBlock")
	defer span.End()

	s.headLock.Lock()
	defer s.headLock.Unlock()

	outcome, err := s.Push(b)
	recordOutcome(outcome, err)

	if err != nil && outcome != Orphan {
		log.WithError(err).WithField("blockNumber", b.Header.BlockNumber).Debug("rejected block")
		return outcome, err
	}
	log.WithFields(map[string]interface{}{
		"blockNumber": b.Header.BlockNumber,
		"outcome":     outcome.String(),
	}).Debug("processed block")
	return outcome, err
}

// Head returns the current canonical chain tip.
func (s *Service) Head() (*Block, bool, error) {
	s.headLock.RLock()
	defer s.headLock.RUnlock()

	hash, ok, err := s.store.Head()
	if err != nil || !ok {
		return nil, ok, WrapStoreError(err)
	}
	entry, ok, err := s.store.GetEntry(hash)
	if err != nil || !ok {
		return nil, ok, WrapStoreError(err)
	}
	return entry.Block, true, nil
}

// FinalizedMacro returns the most recently finalized macro block hash.
func (s *Service) FinalizedMacro() (Hash, bool, error) {
	return s.store.FinalizedMacro()
}

func (s *Service) buildVerifyContext(parentEntry *Entry, b *Block) (*VerifyContext, error) {
	validators, err := s.validators.ActiveSet(parentEntry.Block)
	if err != nil {
		return nil, WrapStoreError(err)
	}

	stateRoot, historyRoot, err := s.executor.Execute(parentEntry.Block, b)
	if err != nil {
		return nil, WrapStoreError(err)
	}

	return &VerifyContext{
		Parent:                   parentEntry.Block,
		ParentHash:               b.Header.ParentHash,
		LastElectionMacroHash:    parentEntry.LastElectionMacroHash,
		Validators:               validators,
		ExpectedStateRoot:        stateRoot,
		ExpectedHistoryRoot:      true,
		ExpectedHistoryRootValue: historyRoot,
		TendermintRound:          b.Header.ViewNumber,
		Policy:                   s.policy,
		SlotOwner:                s.slotOwner,
		Seed:                     s.seed,
		Agg:                      s.agg,
	}, nil
}

var errMissingHeadEntry = newStoreConsistencyError("chain store: head hash has no entry")

type storeConsistencyError string

func (e storeConsistencyError) Error() string { return string(e) }

func newStoreConsistencyError(msg string) error { return storeConsistencyError(msg) }
