package store

import (
	"crypto/sha256"
	"encoding/binary"
)

// EntrySpec is a key/value pair as the client asks the ledger to store it.
// Key and Value are already prefix-encoded, see EncodeEntrySpec.
type EntrySpec struct {
	Key      []byte
	Metadata *KVMetadata
	Value    []byte
}

// TxEntry is an entry as committed inside a transaction: the value itself is
// replaced by its digest.
type TxEntry struct {
	key    []byte
	md     *KVMetadata
	vLen   int
	hValue Digest
}

func NewTxEntry(key []byte, md *KVMetadata, vLen int, hValue Digest) *TxEntry {
	k := make([]byte, len(key))
	copy(k, key)

	return &TxEntry{
		key:    k,
		md:     md,
		vLen:   vLen,
		hValue: hValue,
	}
}

func (e *TxEntry) Key() []byte {
	return e.key
}

func (e *TxEntry) Metadata() *KVMetadata {
	return e.md
}

func (e *TxEntry) VLen() int {
	return e.vLen
}

func (e *TxEntry) HVal() Digest {
	return e.hValue
}

// TxEntry returns the committed form of kv.
func (kv *EntrySpec) TxEntry() *TxEntry {
	return NewTxEntry(kv.Key, kv.Metadata, len(kv.Value), sha256.Sum256(kv.Value))
}

// TxEntryDigest computes the leaf digest of an entry in the transaction tree.
type TxEntryDigest func(e *TxEntry) (Digest, error)

// TxEntryDigestFor returns the entry digest of the given transaction version.
func TxEntryDigestFor(version int) (TxEntryDigest, error) {
	switch version {
	case 0:
		return txEntryDigestV0, nil
	case 1:
		return txEntryDigestV1, nil
	}
	return nil, ErrVerificationFailed
}

// EntrySpecDigestFor returns the digest an EntrySpec must have once committed
// under the given transaction version.
func EntrySpecDigestFor(version int) (func(kv *EntrySpec) (Digest, error), error) {
	digest, err := TxEntryDigestFor(version)
	if err != nil {
		return nil, err
	}

	return func(kv *EntrySpec) (Digest, error) {
		return digest(kv.TxEntry())
	}, nil
}

// sha256(key ‖ hValue)
func txEntryDigestV0(e *TxEntry) (Digest, error) {
	if !e.md.IsEmpty() {
		return Digest{}, ErrVerificationFailed
	}

	b := make([]byte, 0, len(e.key)+sha256.Size)
	b = append(b, e.key...)
	b = append(b, e.hValue[:]...)

	return sha256.Sum256(b), nil
}

// sha256(u16(mdLen) ‖ md ‖ u16(keyLen) ‖ key ‖ hValue)
func txEntryDigestV1(e *TxEntry) (Digest, error) {
	mdbs := e.md.Bytes()

	if len(mdbs) > MaxMetadataLen {
		return Digest{}, ErrMaxMetadataLenExceeded
	}
	if len(e.key) > MaxKeyLen {
		return Digest{}, ErrMaxKeyLenExceeded
	}

	b := make([]byte, 0, 2+len(mdbs)+2+len(e.key)+sha256.Size)
	b = binary.BigEndian.AppendUint16(b, uint16(len(mdbs)))
	b = append(b, mdbs...)
	b = binary.BigEndian.AppendUint16(b, uint16(len(e.key)))
	b = append(b, e.key...)
	b = append(b, e.hValue[:]...)

	return sha256.Sum256(b), nil
}

// EncodeKey prefixes a user key the way the ledger indexes it.
func EncodeKey(key []byte) []byte {
	return wrapWithPrefix(key, SetKeyPrefix)
}

// EncodeEntrySpec builds the spec of a plain value write.
func EncodeEntrySpec(key []byte, md *KVMetadata, value []byte) *EntrySpec {
	return &EntrySpec{
		Key:      EncodeKey(key),
		Metadata: md,
		Value:    wrapWithPrefix(value, PlainValuePrefix),
	}
}

// EncodeReference builds the entry of a reference from key to referencedKey
// as of transaction atTx (0 meaning the latest value).
func EncodeReference(key []byte, md *KVMetadata, referencedKey []byte, atTx uint64) *EntrySpec {
	v := make([]byte, 0, 1+8+1+len(referencedKey))
	v = append(v, ReferenceValuePrefix)
	v = binary.BigEndian.AppendUint64(v, atTx)
	v = append(v, SetKeyPrefix)
	v = append(v, referencedKey...)

	return &EntrySpec{
		Key:      EncodeKey(key),
		Metadata: md,
		Value:    v,
	}
}

func wrapWithPrefix(b []byte, prefix byte) []byte {
	wb := make([]byte, 1+len(b))
	wb[0] = prefix
	copy(wb[1:], b)
	return wb
}
