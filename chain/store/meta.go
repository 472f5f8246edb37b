package store

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/albatross-labs/albatross-core/chain"
)

var errEntryNotFound = errors.New("chain store: entry not found")

// encodeEntryMeta packs an Entry's fork-choice metadata (everything
// besides the block itself, which lives in blocksBucket under the same
// key) into a fixed-width record: 8 bytes cumulative view delta, 1 byte
// on-main-chain flag, 32 bytes last-election-macro hash.
func encodeEntryMeta(e *chain.Entry) []byte {
	buf := make([]byte, 8+1+32)
	binary.BigEndian.PutUint64(buf[0:8], e.CumulativeViewDelta)
	if e.OnMainChain {
		buf[8] = 1
	}
	copy(buf[9:41], e.LastElectionMacroHash[:])
	return buf
}

func decodeEntryMeta(buf []byte) (*chain.Entry, error) {
	if len(buf) != 41 {
		return nil, errors.New("chain store: corrupt entry metadata record")
	}
	e := &chain.Entry{
		CumulativeViewDelta: binary.BigEndian.Uint64(buf[0:8]),
		OnMainChain:         buf[8] == 1,
	}
	copy(e.LastElectionMacroHash[:], buf[9:41])
	return e, nil
}
