package store

// Bucket layout, grounded on the teacher's beacon-chain/db/kv schema:
// one primary bucket keyed by content hash, plus secondary index
// buckets keyed by height and by parent hash so the fork-choice and
// pipeline packages never need a full scan.
var (
	blocksBucket      = []byte("blocks")
	entriesBucket     = []byte("chain-entries")
	heightIndexBucket = []byte("block-height-index")
	parentIndexBucket = []byte("block-parent-index")
	metadataBucket    = []byte("chain-metadata")
)

var (
	headKey            = []byte("head")
	finalizedMacroKey  = []byte("finalized-macro")
	lastElectionKey    = []byte("last-election-macro")
)
