package chain

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Wire format per spec.md §6: canonical, length-prefixed, big-endian;
// fields in declaration order per block kind. Deserialization is
// strict — an unknown kind tag fails the block with UnsupportedVersion
// rather than attempting a best-effort parse.
const (
	tagMicro byte = 0
	tagMacro byte = 1
)

// EncodeBlock serializes b into the canonical wire format. Used both for
// the external peer RPC surface (§6) and as the Chain Store's on-disk
// block encoding, so the bytes the network sent are exactly the bytes
// persisted.
func EncodeBlock(b *Block) []byte {
	buf := new(bytes.Buffer)
	switch b.Kind {
	case KindMicro:
		buf.WriteByte(tagMicro)
	case KindMacro:
		buf.WriteByte(tagMacro)
	}
	writeUint16(buf, b.Header.Version)
	buf.Write(b.Header.ParentHash[:])
	writeUint64(buf, b.Header.BlockNumber)
	writeUint32(buf, b.Header.ViewNumber)
	writeUint64(buf, b.Header.Timestamp)
	buf.Write(b.Header.Seed.Output[:])
	writeBytes(buf, b.Header.Seed.Proof)
	buf.Write(b.Header.BodyHash[:])
	buf.Write(b.Header.StateRoot[:])
	buf.Write(b.Header.HistoryRoot[:])
	writeBytes(buf, b.Header.ExtraData)
	buf.Write(b.Header.ProducerKey[:])
	buf.Write(b.Header.ProducerSig[:])
	writeViewChangeProof(buf, b.Header.ViewChangeProof)

	if b.Kind == KindMacro {
		buf.Write(b.Macro.ParentElectionHash[:])
		writeValidatorSet(buf, b.Macro.Validators)
		writeUint32(buf, b.Macro.Justification.Round)
		buf.Write(b.Macro.Justification.Signature[:])
		writeBitSet(buf, b.Macro.Justification.Signers)
	}

	writeBodyBytes(buf, b.Body)
	return buf.Bytes()
}

// DecodeBlock parses the wire format produced by EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading block kind tag")
	}

	b := &Block{}
	switch tag {
	case tagMicro:
		b.Kind = KindMicro
	case tagMacro:
		b.Kind = KindMacro
	default:
		return nil, NewInvalidBlockError(UnsupportedVersion)
	}

	h := &b.Header
	if h.Version, err = readUint16(r); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.ParentHash[:]); err != nil {
		return nil, err
	}
	if h.BlockNumber, err = readUint64(r); err != nil {
		return nil, err
	}
	if h.ViewNumber, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.Timestamp, err = readUint64(r); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.Seed.Output[:]); err != nil {
		return nil, err
	}
	if h.Seed.Proof, err = readBytes(r); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.BodyHash[:]); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.StateRoot[:]); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.HistoryRoot[:]); err != nil {
		return nil, err
	}
	if h.ExtraData, err = readBytes(r); err != nil {
		return nil, err
	}
	if len(h.ExtraData) > ExtraDataLimit {
		return nil, NewInvalidBlockError(ExtraDataTooLarge)
	}
	if err = readFixed(r, h.ProducerKey[:]); err != nil {
		return nil, err
	}
	if err = readFixed(r, h.ProducerSig[:]); err != nil {
		return nil, err
	}
	if h.ViewChangeProof, err = readViewChangeProof(r); err != nil {
		return nil, err
	}

	if b.Kind == KindMacro {
		if err = readFixed(r, b.Macro.ParentElectionHash[:]); err != nil {
			return nil, err
		}
		if b.Macro.Validators, err = readValidatorSet(r); err != nil {
			return nil, err
		}
		if b.Macro.Justification.Round, err = readUint32(r); err != nil {
			return nil, err
		}
		if err = readFixed(r, b.Macro.Justification.Signature[:]); err != nil {
			return nil, err
		}
		if b.Macro.Justification.Signers, err = readBitSet(r); err != nil {
			return nil, err
		}
	}

	if b.Body, err = readBodyBytes(r); err != nil {
		return nil, err
	}

	return b, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint16(buf, uint16(len(data)))
	buf.Write(data)
}

func writeBodyBytes(buf *bytes.Buffer, body Body) {
	if !body.Present {
		writeUint32(buf, 0)
		return
	}
	writeUint32(buf, uint32(len(body.Raw))+1)
	buf.Write(body.Raw)
}

func writeBitSet(buf *bytes.Buffer, s SignerBitSet) {
	buf.Write(EncodeSignerBitSet(s))
}

func writeViewChangeProof(buf *bytes.Buffer, p *ViewChangeProof) {
	if p == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeUint64(buf, p.BlockNumber)
	writeUint32(buf, p.NewViewNumber)
	buf.Write(p.VRFEntropy[:])
	buf.Write(p.Signature[:])
	writeBitSet(buf, p.Signers)
}

func writeValidatorSet(buf *bytes.Buffer, vs *ValidatorSet) {
	if vs == nil {
		writeUint16(buf, 0)
		return
	}
	writeUint16(buf, uint16(len(vs.Slots)))
	for _, s := range vs.Slots {
		buf.Write(s.VotingKey[:])
		buf.Write(s.VRFKey[:])
	}
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint16")
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint32")
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "reading uint64")
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readFixed(r *bytes.Reader, dst []byte) error {
	_, err := io.ReadFull(r, dst)
	return errors.Wrap(err, "reading fixed-size field")
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if err := readFixed(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readBodyBytes(r *bytes.Reader) (Body, error) {
	n, err := readUint32Body(r)
	if err != nil {
		return Body{}, err
	}
	if n == 0 {
		return Body{Present: false}, nil
	}
	raw := make([]byte, n-1)
	if err := readFixed(r, raw); err != nil {
		return Body{}, err
	}
	return Body{Present: true, Raw: raw}, nil
}

func readUint32Body(r *bytes.Reader) (uint32, error) {
	return readUint32(r)
}

func readBitSet(r *bytes.Reader) (SignerBitSet, error) {
	n, err := readUint16(r)
	if err != nil {
		return SignerBitSet{}, err
	}
	bits := make([]byte, (int(n)+7)/8)
	if err := readFixed(r, bits); err != nil {
		return SignerBitSet{}, err
	}
	return SignerBitSet{NumValidators: n, Bits: bits}, nil
}

func readViewChangeProof(r *bytes.Reader) (*ViewChangeProof, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading view-change-proof presence flag")
	}
	if present == 0 {
		return nil, nil
	}
	p := &ViewChangeProof{}
	if p.BlockNumber, err = readUint64(r); err != nil {
		return nil, err
	}
	if p.NewViewNumber, err = readUint32(r); err != nil {
		return nil, err
	}
	if err = readFixed(r, p.VRFEntropy[:]); err != nil {
		return nil, err
	}
	if err = readFixed(r, p.Signature[:]); err != nil {
		return nil, err
	}
	if p.Signers, err = readBitSet(r); err != nil {
		return nil, err
	}
	return p, nil
}

func readValidatorSet(r *bytes.Reader) (*ValidatorSet, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	vs := &ValidatorSet{Slots: make([]ValidatorSlot, n)}
	for i := range vs.Slots {
		if err := readFixed(r, vs.Slots[i].VotingKey[:]); err != nil {
			return nil, err
		}
		if err := readFixed(r, vs.Slots[i].VRFKey[:]); err != nil {
			return nil, err
		}
	}
	return vs, nil
}
