package store

import (
	"bytes"
	"fmt"

	"github.com/jmerrifield20/ledgerclient/pkg/htree"
)

// Tx is a transaction rebuilt on the client from the header and entries the
// service returned. Its entry tree is always recomputed locally.
type Tx struct {
	header  *TxHeader
	entries []*TxEntry
	htree   *htree.HTree
}

// NewTxWithEntries rebuilds the entry tree of a transaction and checks that
// it matches the entry count and entries root claimed by the header.
func NewTxWithEntries(header *TxHeader, entries []*TxEntry) (*Tx, error) {
	if header == nil || len(entries) == 0 {
		return nil, ErrIllegalArguments
	}

	tree, err := htree.New(len(entries))
	if err != nil {
		return nil, err
	}

	tx := &Tx{
		header:  header,
		entries: entries,
		htree:   tree,
	}

	if err := tx.BuildHashTree(); err != nil {
		return nil, err
	}

	if header.NEntries != len(entries) || header.Eh != tx.htree.Root() {
		return nil, fmt.Errorf("%w: tx %d does not match its entries", ErrVerificationFailed, header.ID)
	}

	return tx, nil
}

// BuildHashTree hashes every entry with the digest of the header's version
// and rebuilds the tree in entry order.
func (tx *Tx) BuildHashTree() error {
	entryDigest, err := TxEntryDigestFor(tx.header.Version)
	if err != nil {
		return err
	}

	digests := make([][32]byte, len(tx.entries))

	for i, e := range tx.entries {
		digests[i], err = entryDigest(e)
		if err != nil {
			return err
		}
	}

	return tx.htree.BuildWith(digests)
}

func (tx *Tx) Header() *TxHeader {
	return tx.header
}

func (tx *Tx) Entries() []*TxEntry {
	return tx.entries
}

// EntriesRoot is the root of the locally rebuilt entry tree.
func (tx *Tx) EntriesRoot() Digest {
	return tx.htree.Root()
}

// Proof returns the inclusion proof of the first entry stored under key.
// The key must be given in its encoded form.
func (tx *Tx) Proof(key []byte) (*htree.InclusionProof, error) {
	for i, e := range tx.entries {
		if bytes.Equal(e.key, key) {
			return tx.htree.InclusionProof(i)
		}
	}
	return nil, ErrKeyNotFound
}
