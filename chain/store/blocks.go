package store

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/albatross-labs/albatross-core/chain"
)

// PutEntry persists a block together with its fork-choice metadata,
// indexing it by height and by parent hash. Overwriting an existing
// entry for the same hash is a no-op on the indices (push is expected
// to have already deduplicated, per spec.md §5's Ignored outcome, but
// PutEntry itself stays idempotent rather than assume that).
func (s *Store) PutEntry(hash chain.Hash, e *chain.Entry) error {
	encoded := chain.EncodeBlock(e.Block)
	meta := encodeEntryMeta(e)

	err := s.db.Update(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(blocksBucket)
		if err := blocks.Put(hash[:], encoded); err != nil {
			return err
		}
		entries := tx.Bucket(entriesBucket)
		if err := entries.Put(hash[:], meta); err != nil {
			return err
		}
		heights := tx.Bucket(heightIndexBucket)
		hk := append(heightKey(e.Block.Header.BlockNumber), hash[:]...)
		if err := heights.Put(hk, nil); err != nil {
			return err
		}
		parents := tx.Bucket(parentIndexBucket)
		pk := append(append([]byte{}, e.Block.Header.ParentHash[:]...), hash[:]...)
		return parents.Put(pk, nil)
	})
	if err != nil {
		return chain.WrapStoreError(err)
	}

	s.blockCache.SetWithTTL(string(hash[:]), e, int64(len(encoded)), time.Hour)
	return nil
}

// GetEntry retrieves a block and its metadata by hash. The second
// return value is false if the hash is unknown to the store.
func (s *Store) GetEntry(hash chain.Hash) (*chain.Entry, bool, error) {
	if v, ok := s.blockCache.Get(string(hash[:])); ok {
		return v.(*chain.Entry), true, nil
	}

	var e *chain.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		blocks := tx.Bucket(blocksBucket)
		enc := blocks.Get(hash[:])
		if enc == nil {
			return nil
		}
		blk, err := chain.DecodeBlock(enc)
		if err != nil {
			return err
		}
		meta := tx.Bucket(entriesBucket).Get(hash[:])
		m, err := decodeEntryMeta(meta)
		if err != nil {
			return err
		}
		m.Block = blk
		e = m
		return nil
	})
	if err != nil {
		return nil, false, chain.WrapStoreError(err)
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// Has reports whether hash is already known to the store, the basis for
// the pipeline's push-dedupe step.
func (s *Store) Has(hash chain.Hash) (bool, error) {
	if _, ok := s.blockCache.Get(string(hash[:])); ok {
		return true, nil
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(blocksBucket).Get(hash[:]) != nil
		return nil
	})
	return found, chain.WrapStoreError(err)
}

// Children returns the hashes of every known block whose parent is
// hash, used by the pipeline's sibling (fork-proof) detection.
func (s *Store) Children(hash chain.Hash) ([]chain.Hash, error) {
	var out []chain.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(parentIndexBucket).Cursor()
		prefix := hash[:]
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var h chain.Hash
			copy(h[:], k[len(prefix):])
			out = append(out, h)
		}
		return nil
	})
	return out, chain.WrapStoreError(err)
}

// AtHeight returns every known block hash at the given height (normally
// one, but forks may produce more than one competing block).
func (s *Store) AtHeight(height uint64) ([]chain.Hash, error) {
	var out []chain.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(heightIndexBucket).Cursor()
		prefix := heightKey(height)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var h chain.Hash
			copy(h[:], k[len(prefix):])
			out = append(out, h)
		}
		return nil
	})
	return out, chain.WrapStoreError(err)
}

// SetOnMainChain flips the OnMainChain flag for hash in its own
// transaction. Rebranches flip the flag through ApplyRebranch instead.
func (s *Store) SetOnMainChain(hash chain.Hash, onMainChain bool) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return setOnMainChainTx(tx.Bucket(entriesBucket), hash, onMainChain)
	})
	if err == nil {
		s.updateCachedOnMainChain(hash, onMainChain)
	}
	return chain.WrapStoreError(err)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
