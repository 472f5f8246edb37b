package chain

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/prysmaticlabs/go-bitfield"
)

// EncodeSignerBitSet serializes a SignerBitSet per spec.md §6: a u16
// length prefix (number of validators in the set this bitset indexes
// into) followed by the packed bits, big-endian throughout.
func EncodeSignerBitSet(s SignerBitSet) []byte {
	out := make([]byte, 2+len(s.Bits))
	binary.BigEndian.PutUint16(out[:2], s.NumValidators)
	copy(out[2:], s.Bits)
	return out
}

// DecodeSignerBitSet parses the wire format produced by
// EncodeSignerBitSet. Deserialization is strict: a length prefix that
// implies more bits than are present in the buffer is rejected.
func DecodeSignerBitSet(buf []byte) (SignerBitSet, error) {
	if len(buf) < 2 {
		return SignerBitSet{}, errors.New("signer bitset: buffer too short for length prefix")
	}
	n := binary.BigEndian.Uint16(buf[:2])
	want := (int(n) + 7) / 8
	rest := buf[2:]
	if len(rest) < want {
		return SignerBitSet{}, errors.New("signer bitset: truncated packed bits")
	}
	return SignerBitSet{NumValidators: n, Bits: append([]byte(nil), rest[:want]...)}, nil
}

// ToBoolSlice expands a SignerBitSet into one bool per validator slot.
// The packed bits are loaded into a github.com/prysmaticlabs/go-bitfield
// Bitlist (padded with its own length-delimiter bit) so that bit
// addressing goes through the same library the teacher's attestation
// aggregation bitfields use, rather than hand-rolled shifts.
func (s SignerBitSet) ToBoolSlice() []bool {
	list := bitfield.NewBitlist(uint64(s.NumValidators))
	for i := 0; i < int(s.NumValidators) && i/8 < len(s.Bits); i++ {
		if s.Bits[i/8]&(1<<uint(i%8)) != 0 {
			list.SetBitAt(uint64(i), true)
		}
	}
	out := make([]bool, s.NumValidators)
	for i := range out {
		out[i] = list.BitAt(uint64(i))
	}
	return out
}

// NewSignerBitSet packs set into a SignerBitSet over n validators, going
// through a bitfield.Bitlist so the same library used for reading
// round-trips through writing.
func NewSignerBitSet(n int, set []bool) SignerBitSet {
	list := bitfield.NewBitlist(uint64(n))
	for i, on := range set {
		if i >= n || !on {
			continue
		}
		list.SetBitAt(uint64(i), true)
	}
	numBytes := (n + 7) / 8
	bits := make([]byte, numBytes)
	for i := 0; i < n; i++ {
		if list.BitAt(uint64(i)) {
			bits[i/8] |= 1 << uint(i%8)
		}
	}
	return SignerBitSet{NumValidators: uint16(n), Bits: bits}
}
