package store

import "encoding/binary"

const truncatedUpToTxAttrCode attributeCode = 0

// TxMetadata is the header-level attribute set of a version 1 transaction.
type TxMetadata struct {
	truncatedTxID *uint64
}

func NewTxMetadata() *TxMetadata {
	return &TxMetadata{}
}

// WithTruncatedTxID records the transaction up to which the ledger was
// truncated when this transaction was committed.
func (md *TxMetadata) WithTruncatedTxID(txID uint64) *TxMetadata {
	md.truncatedTxID = &txID
	return md
}

func (md *TxMetadata) HasTruncatedTxID() bool {
	return md != nil && md.truncatedTxID != nil
}

func (md *TxMetadata) TruncatedTxID() uint64 {
	if !md.HasTruncatedTxID() {
		return 0
	}
	return *md.truncatedTxID
}

func (md *TxMetadata) IsEmpty() bool {
	return md == nil || md.truncatedTxID == nil
}

// Bytes returns nil for empty metadata, so an empty and an absent attribute
// set hash identically.
func (md *TxMetadata) Bytes() []byte {
	if md.IsEmpty() {
		return nil
	}

	b := []byte{byte(truncatedUpToTxAttrCode)}
	return binary.BigEndian.AppendUint64(b, *md.truncatedTxID)
}
