package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/albatross-labs/albatross-core/chain"
)

// ClusterOutcome classifies how a cluster's sync run ended (spec.md
// §4.5).
type ClusterOutcome uint8

const (
	// ClusterOk means every epoch in the cluster was fetched and
	// applied.
	ClusterOk ClusterOutcome = iota
	// ClusterError means the cluster's peer set was exhausted before
	// every epoch could be fetched, or an applied batch failed.
	ClusterError
	// ClusterOutdated means the peer-declared checkpoint was not newer
	// than the local head, so there was nothing worth syncing.
	ClusterOutdated
)

// batchRatePerSecond and batchBurst size each peer's leaky bucket, the
// same shape as blocksFetcherConfig's blocksPerSecond/allowedBlocksBurst
// in the teacher's initial-sync fetcher.
const (
	batchRatePerSecond = 4.0
	batchBurst         = int64(8)
)

var errNoPeersLeft = errors.New("sync cluster: peer set exhausted")

// Cluster represents one contiguous range of epoch history that a set
// of peers have all agreed on (spec.md §4.5): a peer set, a bounded-
// parallelism fetch dispatcher, and a reorder buffer that guarantees
// epochs are handed to the caller's apply function in strictly
// increasing order even though they may finish fetching out of order.
type Cluster struct {
	ID               uuid.UUID
	FirstEpochNumber uint32
	EpochIDs         []chain.Hash
	Checkpoint       *Checkpoint

	mu    sync.Mutex
	peers map[PeerID]PeerClient

	limiterMu sync.Mutex
	limiters  map[PeerID]*leakybucket.Collector

	sem *semaphore.Weighted
}

// NewCluster constructs a Cluster over epochIDs, seeded with peers who
// all agreed on that id list, bounding fetch parallelism to
// maxParallel concurrent get_batch_set calls.
func NewCluster(firstEpochNumber uint32, epochIDs []chain.Hash, checkpoint *Checkpoint, peers map[PeerID]PeerClient, maxParallel int64) *Cluster {
	if maxParallel < 1 {
		maxParallel = 1
	}
	peerSet := make(map[PeerID]PeerClient, len(peers))
	for id, client := range peers {
		peerSet[id] = client
	}
	return &Cluster{
		ID:               uuid.New(),
		FirstEpochNumber: firstEpochNumber,
		EpochIDs:         epochIDs,
		Checkpoint:       checkpoint,
		peers:            peerSet,
		limiters:         make(map[PeerID]*leakybucket.Collector, len(peers)),
		sem:              semaphore.NewWeighted(maxParallel),
	}
}

// AddPeer registers an additional peer known to serve this cluster's
// epoch range (spec.md §4.6's "merge the returned epoch id list into
// existing clusters" growing a cluster's peer set).
func (c *Cluster) AddPeer(id PeerID, client PeerClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = client
}

// RemovePeer drops id from the cluster's peer set. Fetches that pick a
// peer after this call choose among the remaining peers, and a fetch
// that finds the set empty terminates the cluster with Error. A request
// already in flight to id is not cancelled: if it succeeds, its batch
// is still delivered.
func (c *Cluster) RemovePeer(id PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, id)
}

// PeerIDs returns a snapshot of the cluster's current peer set.
func (c *Cluster) PeerIDs() []PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]PeerID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

func (c *Cluster) peerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// pickAnyPeer returns an arbitrary live peer, or false if the set is
// empty. Map iteration order is randomized by the runtime, which is
// enough load-spreading for this cluster's small peer sets; the
// teacher's round_robin.go shuffles an explicit slice for the same
// reason at larger peer counts.
func (c *Cluster) pickAnyPeer() (PeerID, PeerClient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.peers {
		return id, client, true
	}
	return "", nil, false
}

func (c *Cluster) limiterFor(id PeerID) *leakybucket.Collector {
	c.limiterMu.Lock()
	defer c.limiterMu.Unlock()
	l, ok := c.limiters[id]
	if !ok {
		l = leakybucket.NewCollector(batchRatePerSecond, batchBurst, false)
		c.limiters[id] = l
	}
	return l
}

// waitRateLimit blocks until id's bucket has room for one more
// get_batch_set request, the same Remaining/TillEmpty/Add dance
// blocksFetcher.go runs before every RPC.
func (c *Cluster) waitRateLimit(ctx context.Context, id PeerID) error {
	limiter := c.limiterFor(id)
	for limiter.Remaining(string(id)) < 1 {
		wait := limiter.TillEmpty(string(id))
		if wait <= 0 {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	limiter.Add(string(id), 1)
	return nil
}

// ApplyFunc consumes one epoch's batch, in order; it's expected to wrap
// chain.Service.PushBlock (by way of verifying the history proof first).
type ApplyFunc func(ctx context.Context, epochIndex int, epochHash chain.Hash, batch *BatchSetResponse) error

// Run fetches every epoch in the cluster (out of order, bounded by the
// cluster's semaphore) and delivers them to apply in strict epoch
// order, per spec.md §4.5's ordered-output guarantee. It returns once
// every epoch has been applied, the peer set is exhausted, or apply
// itself fails.
func (c *Cluster) Run(ctx context.Context, apply ApplyFunc) (ClusterOutcome, error) {
	total := len(c.EpochIDs)
	if total == 0 {
		return ClusterOk, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type fetched = struct {
		index int
		batch *BatchSetResponse
	}

	pending := make([]*BatchSetResponse, total)
	var pendingMu sync.Mutex
	readyCh := make(chan fetched, total)
	var failErr error
	var failOnce sync.Once
	fail := func(err error) {
		failOnce.Do(func() {
			failErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		i := i
		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)
			c.fetchEpoch(ctx, i, readyCh, fail)
		}()
	}

	go func() {
		wg.Wait()
		close(readyCh)
	}()

	delivered := 0
	for delivered < total {
		select {
		case f, ok := <-readyCh:
			if !ok {
				if delivered < total {
					if failErr == nil {
						failErr = errNoPeersLeft
					}
					return ClusterError, failErr
				}
				continue
			}
			pendingMu.Lock()
			pending[f.index] = f.batch
			pendingMu.Unlock()
		case <-ctx.Done():
			if failErr != nil {
				return ClusterError, failErr
			}
			return ClusterError, ctx.Err()
		}

		pendingMu.Lock()
		for delivered < total && pending[delivered] != nil {
			batch := pending[delivered]
			epochIndex := delivered
			epochHash := c.EpochIDs[epochIndex]
			pendingMu.Unlock()

			if err := apply(ctx, epochIndex, epochHash, batch); err != nil {
				return ClusterError, errors.Wrap(err, "applying synced batch")
			}
			delivered++

			pendingMu.Lock()
		}
		pendingMu.Unlock()
	}

	return ClusterOk, nil
}

// fetchEpoch fetches epoch index i, retrying against whatever peers
// remain until it succeeds or the peer set is exhausted.
func (c *Cluster) fetchEpoch(ctx context.Context, i int, readyCh chan<- struct {
	index int
	batch *BatchSetResponse
}, fail func(error)) {
	for {
		if ctx.Err() != nil {
			return
		}
		peerID, client, ok := c.pickAnyPeer()
		if !ok {
			fail(errNoPeersLeft)
			return
		}
		if err := c.waitRateLimit(ctx, peerID); err != nil {
			return
		}
		batch, err := client.RequestBatchSet(ctx, c.EpochIDs[i])
		if err != nil {
			c.RemovePeer(peerID)
			continue
		}
		select {
		case readyCh <- struct {
			index int
			batch *BatchSetResponse
		}{index: i, batch: batch}:
		case <-ctx.Done():
		}
		return
	}
}
