package store

import (
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/albatross-labs/albatross-core/chain"
)

// ApplyRebranch flips OnMainChain off along oldPath and on along
// newPath, then commits newHead, all inside one bbolt transaction, so
// a rebranch touching N blocks either fully applies or, on any failure
// partway through, leaves the store exactly as it was (spec.md §4.2's
// atomicity MUST). oldPath/newPath may be nil, the direct-extension
// case of flipping on a single new head with nothing to strip off.
func (s *Store) ApplyRebranch(oldPath, newPath []chain.Hash, newHead chain.Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		for _, h := range oldPath {
			if err := setOnMainChainTx(entries, h, false); err != nil {
				return err
			}
		}
		for _, h := range newPath {
			if err := setOnMainChainTx(entries, h, true); err != nil {
				return err
			}
		}
		return tx.Bucket(metadataBucket).Put(headKey, newHead[:])
	})
	if err != nil {
		return errors.Wrap(chain.ErrInvalidFork, err.Error())
	}

	for _, h := range oldPath {
		s.updateCachedOnMainChain(h, false)
	}
	for _, h := range newPath {
		s.updateCachedOnMainChain(h, true)
	}
	return nil
}

func setOnMainChainTx(entries *bolt.Bucket, hash chain.Hash, onMainChain bool) error {
	raw := entries.Get(hash[:])
	if raw == nil {
		return errEntryNotFound
	}
	m, err := decodeEntryMeta(raw)
	if err != nil {
		return err
	}
	m.OnMainChain = onMainChain
	return entries.Put(hash[:], encodeEntryMeta(m))
}

func (s *Store) updateCachedOnMainChain(hash chain.Hash, onMainChain bool) {
	if v, ok := s.blockCache.Get(string(hash[:])); ok {
		cached := v.(*chain.Entry)
		cached.OnMainChain = onMainChain
	}
}
