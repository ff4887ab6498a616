package store

import (
	"crypto/sha256"
	"encoding/binary"
)

// TxHeader carries every field the accumulated linked hash commits to.
type TxHeader struct {
	ID      uint64
	Ts      int64
	BlTxID  uint64
	BlRoot  Digest
	PrevAlh Digest

	Version  int
	Metadata *TxMetadata

	NEntries int
	Eh       Digest
}

// InnerHash hashes the header fields other than the id and the previous Alh.
func (hdr *TxHeader) InnerHash() (Digest, error) {
	var b []byte

	switch hdr.Version {
	case 0:
		b = make([]byte, 0, 8+4+sha256.Size+8+sha256.Size)
		b = binary.BigEndian.AppendUint64(b, uint64(hdr.Ts))
		b = binary.BigEndian.AppendUint32(b, uint32(hdr.NEntries))

	case 1:
		mdbs := hdr.Metadata.Bytes()
		if len(mdbs) > MaxMetadataLen {
			return Digest{}, ErrMaxMetadataLenExceeded
		}

		b = make([]byte, 0, 8+2+2+len(mdbs)+4+sha256.Size+8+sha256.Size)
		b = binary.BigEndian.AppendUint64(b, uint64(hdr.Ts))
		b = binary.BigEndian.AppendUint16(b, uint16(hdr.Version))
		b = binary.BigEndian.AppendUint16(b, uint16(len(mdbs)))
		b = append(b, mdbs...)
		b = binary.BigEndian.AppendUint32(b, uint32(hdr.NEntries))

	default:
		return Digest{}, ErrVerificationFailed
	}

	b = append(b, hdr.Eh[:]...)
	b = binary.BigEndian.AppendUint64(b, hdr.BlTxID)
	b = append(b, hdr.BlRoot[:]...)

	return sha256.Sum256(b), nil
}

// Alh is sha256(u64(id) ‖ prevAlh ‖ innerHash). It is derived on demand and
// never stored.
func (hdr *TxHeader) Alh() (Digest, error) {
	innerHash, err := hdr.InnerHash()
	if err != nil {
		return Digest{}, err
	}
	return chainAlh(hdr.ID, hdr.PrevAlh, innerHash), nil
}

func chainAlh(txID uint64, prevAlh, innerHash Digest) Digest {
	var b [8 + 2*sha256.Size]byte
	binary.BigEndian.PutUint64(b[:], txID)
	copy(b[8:], prevAlh[:])
	copy(b[8+sha256.Size:], innerHash[:])
	return sha256.Sum256(b[:])
}
