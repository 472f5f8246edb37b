// Package store implements the Chain Store: durable, height- and
// parent-indexed persistence for blocks and their fork-choice metadata,
// backed by bbolt with a ristretto hot-block cache in front of it.
// Grounded on the teacher's beacon-chain/db/kv package (kv.go,
// archived_point.go, blocks.go): bucket-per-concern schema, a
// *ristretto.Cache sized in bytes rather than entry count, and a
// prometheus collector wired directly to the bolt handle.
package store

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prysmaticlabs/prombbolt"
	bolt "go.etcd.io/bbolt"

	"github.com/albatross-labs/albatross-core/chain"
)

const databaseFileName = "chain.db"

// BlockCacheCost bounds the ristretto cache's cost budget, roughly 2000
// blocks worth of encoded bytes at ~2KB apiece.
const BlockCacheCost = int64(1 << 22)

// Store persists the block DAG and its fork-choice metadata. It
// implements chain.Store.
type Store struct {
	db           *bolt.DB
	databasePath string
	blockCache   *ristretto.Cache
}

// Open opens (creating if absent) a Store rooted at dirPath.
func Open(dirPath string) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, errors.Wrap(err, "creating chain store directory")
	}
	datafile := filepath.Join(dirPath, databaseFileName)
	db, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("cannot obtain chain store lock, database may be in use by another process")
		}
		return nil, errors.Wrap(err, "opening chain store")
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 20000,
		MaxCost:     BlockCacheCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating block cache")
	}

	s := &Store{db: db, databasePath: dirPath, blockCache: cache}

	if err := s.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(tx,
			blocksBucket,
			entriesBucket,
			heightIndexBucket,
			parentIndexBucket,
			metadataBucket,
		)
	}); err != nil {
		return nil, errors.Wrap(err, "creating chain store schema")
	}

	if err := prometheus.Register(prombbolt.New("chain_store", s.db)); err != nil {
		if !errors.As(err, new(prometheus.AlreadyRegisteredError)) {
			return nil, errors.Wrap(err, "registering chain store metrics")
		}
	}

	return s, nil
}

// Close releases the underlying bolt handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DatabasePath is the directory this store was opened against.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, b := range buckets {
		if _, err := tx.CreateBucketIfNotExists(b); err != nil {
			return err
		}
	}
	return nil
}

func heightKey(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
