package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/albatross-labs/albatross-core/chain"
)

// SetHead records hash as the current canonical chain tip.
func (s *Store) SetHead(hash chain.Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(headKey, hash[:])
	})
	return chain.WrapStoreError(err)
}

// Head returns the current canonical chain tip. ok is false on an empty
// store (no block has ever been pushed).
func (s *Store) Head() (chain.Hash, bool, error) {
	return s.readHashPointer(headKey)
}

// SetFinalizedMacro records hash as the most recently finalized macro
// block, the point past which spec.md §4.4's epoch-immutability
// invariant applies: no push may alter the chain at or below it.
func (s *Store) SetFinalizedMacro(hash chain.Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(finalizedMacroKey, hash[:])
	})
	return chain.WrapStoreError(err)
}

// FinalizedMacro returns the most recently finalized macro block hash.
func (s *Store) FinalizedMacro() (chain.Hash, bool, error) {
	return s.readHashPointer(finalizedMacroKey)
}

// SetLastElectionMacro records hash as the most recent election macro
// block on the canonical chain. The pipeline does not read this
// pointer: VerifyContext takes the election hash from the parent's
// Entry.LastElectionMacroHash.
func (s *Store) SetLastElectionMacro(hash chain.Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put(lastElectionKey, hash[:])
	})
	return chain.WrapStoreError(err)
}

// LastElectionMacro returns the most recent election macro block hash.
func (s *Store) LastElectionMacro() (chain.Hash, bool, error) {
	return s.readHashPointer(lastElectionKey)
}

func (s *Store) readHashPointer(key []byte) (chain.Hash, bool, error) {
	var hash chain.Hash
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metadataBucket).Get(key)
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		found = true
		return nil
	})
	return hash, found, chain.WrapStoreError(err)
}
