package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/albatross-labs/albatross-core/chain"
	"github.com/albatross-labs/albatross-core/crypto"
)

// History Sync Scheduler bounds (spec.md §4.6).
const (
	maxQueuedJobs = 4
	maxClusters   = 100

	// clusterBatchBudget bounds how many get_batch_set requests a single
	// cluster runs concurrently, the per-cluster counterpart to
	// maxQueuedJobs's cross-cluster apply-side bound.
	clusterBatchBudget = 8
)

// counterSeconds windows the scheduler's epochs/sec throughput gauge,
// the same window round_robin.go uses for its own RateCounter.
const counterSeconds = 20

// Pusher is the chain core's write entrypoint, the only way the
// scheduler is allowed to touch the store (spec.md §4.5).
type Pusher interface {
	PushBlock(ctx context.Context, b *chain.Block) (chain.Outcome, error)
	Head() (*chain.Block, bool, error)
}

// Scheduler is the History Sync Scheduler (spec.md §4.6): it tracks
// which peers are known to agree on which epoch history, groups them
// into Clusters by longest common id-list prefix, and drives one
// cluster at a time through to completion, applying every fetched batch
// to the chain core in order.
//
// Cluster merging uses a greedy prefix-extension rule rather than a
// fully general longest-common-prefix trie: a peer whose epoch id list
// exactly matches an existing cluster's join that cluster; a peer whose
// list is a strict extension of an existing cluster's spawns a
// continuation cluster seeded from the same peer (so the existing
// cluster still completes against its original, shorter commitment);
// anything else becomes its own cluster. With the honest-majority
// assumption spec.md §4 carries throughout, this converges to the same
// partition a general LCP structure would, at a fraction of the code.
type Scheduler struct {
	pusher   Pusher
	verifier HistoryProofVerifier

	mu       sync.Mutex
	clusters map[uuid.UUID]*Cluster

	// epochClusters is the preferred queue: clusters formed from peers
	// offering at least one new epoch. checkpointClusters is the
	// fallback queue (spec.md §4.6 "State"): peers that are caught up to
	// only a recent checkpoint, with no new epoch to contribute, still
	// get tracked here rather than dropped.
	epochClusters      []uuid.UUID
	checkpointClusters []uuid.UUID

	peerCluster   map[PeerID]uuid.UUID
	activeCluster *uuid.UUID

	jobSem *semaphore.Weighted
	rate   *ratecounter.RateCounter
}

// NewScheduler constructs a Scheduler driving pusher, verifying every
// fetched batch's history proof with verifier before applying it.
func NewScheduler(pusher Pusher, verifier HistoryProofVerifier) *Scheduler {
	return &Scheduler{
		pusher:      pusher,
		verifier:    verifier,
		clusters:    make(map[uuid.UUID]*Cluster),
		peerCluster: make(map[PeerID]uuid.UUID),
		jobSem:      semaphore.NewWeighted(maxQueuedJobs),
		rate:        ratecounter.NewRateCounter(counterSeconds * time.Second),
	}
}

// AddPeer queries id's epoch id list from the chain's current locator
// and merges it into the scheduler's clusters (spec.md §4.6). A peer
// whose locator isn't found on its side is dropped outright: it can't
// currently serve this node's sync.
func (s *Scheduler) AddPeer(ctx context.Context, id PeerID, client PeerClient) error {
	head, hasHead, err := s.pusher.Head()
	if err != nil {
		return errors.Wrap(err, "reading local head")
	}
	var locator chain.Hash
	if hasHead {
		locator = chain.Hash(crypto.Hash256(chain.EncodeBlock(head)))
	}

	resp, err := client.RequestEpochIds(ctx, locator, maxClusters)
	if err != nil {
		return errors.Wrap(err, "requesting epoch ids")
	}
	if !resp.LocatorFound {
		log.WithField("peer", id).Debug("dropping peer: locator not found")
		return nil
	}
	if len(resp.Ids) == 0 {
		if resp.Checkpoint == nil {
			log.WithField("peer", id).Debug("peer has nothing newer to offer")
			return nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.mergeCheckpointLocked(id, client, resp)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked(id, client, resp)
	return nil
}

// mergeLocked implements the greedy prefix-extension merge described on
// Scheduler. Caller holds s.mu.
func (s *Scheduler) mergeLocked(id PeerID, client PeerClient, resp *EpochIdsResponse) {
	for _, clusterID := range s.epochClusters {
		c := s.clusters[clusterID]
		if c.FirstEpochNumber != resp.FirstEpochNumber {
			continue
		}
		switch {
		case sameIDs(c.EpochIDs, resp.Ids):
			c.AddPeer(id, client)
			s.peerCluster[id] = clusterID
			return
		case isStrictPrefix(c.EpochIDs, resp.Ids):
			// c's own commitment stays untouched; the extension becomes
			// a fresh cluster continuing where c leaves off, seeded with
			// this peer alone for now (other peers with the same longer
			// list will merge into it on their own AddPeer call).
			first := resp.FirstEpochNumber + uint32(len(c.EpochIDs))
			rest := resp.Ids[len(c.EpochIDs):]
			for _, otherID := range s.epochClusters {
				o := s.clusters[otherID]
				if o.FirstEpochNumber == first && sameIDs(o.EpochIDs, rest) {
					o.AddPeer(id, client)
					s.peerCluster[id] = otherID
					return
				}
			}
			cont := NewCluster(first, rest, resp.Checkpoint, map[PeerID]PeerClient{id: client}, clusterBatchBudget)
			s.registerEpochLocked(cont)
			s.peerCluster[id] = cont.ID
			return
		}
	}

	if len(s.clusters) >= maxClusters {
		log.Warn("sync scheduler: cluster limit reached, dropping peer offer")
		return
	}
	c := NewCluster(resp.FirstEpochNumber, resp.Ids, resp.Checkpoint, map[PeerID]PeerClient{id: client}, clusterBatchBudget)
	s.registerEpochLocked(c)
	s.peerCluster[id] = c.ID
}

func (s *Scheduler) registerEpochLocked(c *Cluster) {
	s.clusters[c.ID] = c
	s.epochClusters = append(s.epochClusters, c.ID)
}

// mergeCheckpointLocked attaches a peer offering only a checkpoint (no
// new epochs) to a checkpoint cluster (spec.md §4.6 point 4), grouping
// it with any existing cluster advertising the identical checkpoint
// rather than dropping it on the floor. Caller holds s.mu.
func (s *Scheduler) mergeCheckpointLocked(id PeerID, client PeerClient, resp *EpochIdsResponse) {
	for _, clusterID := range s.checkpointClusters {
		c := s.clusters[clusterID]
		if c.Checkpoint != nil && resp.Checkpoint != nil && *c.Checkpoint == *resp.Checkpoint {
			c.AddPeer(id, client)
			s.peerCluster[id] = clusterID
			return
		}
	}

	if len(s.clusters) >= maxClusters {
		log.Warn("sync scheduler: cluster limit reached, dropping checkpoint peer offer")
		return
	}
	c := NewCluster(resp.FirstEpochNumber, nil, resp.Checkpoint, map[PeerID]PeerClient{id: client}, clusterBatchBudget)
	s.clusters[c.ID] = c
	s.checkpointClusters = append(s.checkpointClusters, c.ID)
	s.peerCluster[id] = c.ID
}

func sameIDs(a, b []chain.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isStrictPrefix reports whether short is a strict, element-wise prefix
// of long.
func isStrictPrefix(short, long []chain.Hash) bool {
	if len(short) >= len(long) {
		return false
	}
	for i := range short {
		if short[i] != long[i] {
			return false
		}
	}
	return true
}

// RemovePeer drops id from whichever cluster it belongs to (spec.md
// §4.5's peer-disconnect handling).
func (s *Scheduler) RemovePeer(id PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clusterID, ok := s.peerCluster[id]
	if !ok {
		return
	}
	delete(s.peerCluster, id)
	if c, ok := s.clusters[clusterID]; ok {
		c.RemovePeer(id)
	}
}

// Tick drives the scheduler's currently active cluster (selecting one
// if none is active) to completion, applying every fetched batch to the
// chain core in order. It returns ErrNoWork if there is no cluster
// ready to run.
func (s *Scheduler) Tick(ctx context.Context) error {
	c, outdated, err := s.popNextCluster()
	if err != nil {
		return err
	}
	if outdated {
		clustersOutdated.Inc()
		return nil
	}

	start := time.Now()
	outcome, err := c.Run(ctx, s.applyBatch)
	clusterDuration.Observe(time.Since(start).Seconds())

	switch outcome {
	case ClusterOk:
		clustersCompleted.Inc()
	case ClusterError:
		clustersFailed.Inc()
		s.demotePeers(c)
	}

	s.finishCluster(c.ID)
	return err
}

// ErrNoWork is returned by Tick when no cluster is queued to run.
var ErrNoWork = errors.New("sync scheduler: no cluster queued")

func (s *Scheduler) popNextCluster() (*Cluster, bool, error) {
	head, hasHead, err := s.pusher.Head()
	if err != nil {
		return nil, false, errors.Wrap(err, "reading local head")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// epochClusters is drained first; checkpointClusters is only the
	// fallback once no peer has a new epoch to offer (spec.md §4.6
	// "State").
	if c, outdated, ok := s.popFromQueueLocked(&s.epochClusters, hasHead, head); ok {
		return c, outdated, nil
	}
	if c, outdated, ok := s.popFromQueueLocked(&s.checkpointClusters, hasHead, head); ok {
		return c, outdated, nil
	}
	return nil, false, ErrNoWork
}

// popFromQueueLocked pops clusters off the front of queue until it finds
// one worth running (returning it) or empties the queue (returning
// ok=false). An already-outdated cluster is discarded and reported via
// outdated so the caller can still count it without running it. Caller
// holds s.mu.
func (s *Scheduler) popFromQueueLocked(queue *[]uuid.UUID, hasHead bool, head *chain.Block) (c *Cluster, outdated bool, ok bool) {
	for len(*queue) > 0 {
		id := (*queue)[0]
		*queue = (*queue)[1:]
		cluster, found := s.clusters[id]
		if !found {
			continue
		}
		s.activeCluster = &id
		if hasHead && cluster.Checkpoint != nil && cluster.Checkpoint.BlockNumber <= head.Header.BlockNumber {
			delete(s.clusters, id)
			s.activeCluster = nil
			return nil, true, true
		}
		return cluster, false, true
	}
	return nil, false, false
}

func (s *Scheduler) finishCluster(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clusters, id)
	if s.activeCluster != nil && *s.activeCluster == id {
		s.activeCluster = nil
	}
}

func (s *Scheduler) demotePeers(c *Cluster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range c.PeerIDs() {
		delete(s.peerCluster, id)
	}
}

// applyBatch verifies a fetched batch's history proof and pushes its
// macro block through the chain core, bounded by the scheduler's
// in-flight job semaphore (spec.md §4.6's MAX_QUEUED_JOBS).
func (s *Scheduler) applyBatch(ctx context.Context, epochIndex int, epochHash chain.Hash, batch *BatchSetResponse) error {
	if err := s.jobSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.jobSem.Release(1)

	if err := s.verifier.VerifyHistoryProof(batch.MacroBlock, batch.HistoryProof); err != nil {
		return errors.Wrap(err, "history proof verification failed")
	}

	outcome, err := s.pusher.PushBlock(ctx, batch.MacroBlock)
	if err != nil {
		return errors.Wrap(err, "applying synced macro block")
	}
	if outcome != chain.Extended && outcome != chain.Rebranched {
		return errors.Errorf("synced macro block for epoch %d was not accepted: %s", epochIndex, outcome)
	}

	s.rate.Incr(1)
	epochsSynced.Inc()
	log.WithFields(map[string]interface{}{
		"epoch": epochIndex,
		"hash":  epochHash,
		"rate":  s.rate.Rate(),
	}).Debug("applied synced epoch")
	return nil
}
