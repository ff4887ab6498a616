// Package store holds the client-side data model of the ledger and the
// verification of every proof the ledger service hands out.
//
// Nothing here talks to the network. A transaction returned by the service is
// rebuilt locally from its entries (see Tx), its accumulated linked hash (Alh)
// recomputed from the header fields, and the proofs checked against
// checkpoints the caller already trusts.
//
// Entry digests and header inner hashes are versioned:
//   - version 0: legacy layout, no metadata support.
//   - version 1: length-prefixed layout carrying KV and transaction metadata.
//
// Any other version is rejected with ErrVerificationFailed.
package store

import (
	"crypto/sha256"
	"errors"
	"math"
)

const (
	SetKeyPrefix         = byte(0)
	PlainValuePrefix     = byte(0)
	ReferenceValuePrefix = byte(1)
)

const (
	MaxKeyLen      = math.MaxUint16
	MaxMetadataLen = math.MaxUint16
)

var (
	// ErrVerificationFailed is the only error surfaced when a proof does not
	// hold. It never says which check failed.
	ErrVerificationFailed = errors.New("verification failed")

	ErrKeyNotFound            = errors.New("key not found")
	ErrIllegalArguments       = errors.New("illegal arguments")
	ErrMaxKeyLenExceeded      = errors.New("max key length exceeded")
	ErrMaxMetadataLenExceeded = errors.New("max metadata length exceeded")
	ErrReadOnly               = errors.New("metadata is read-only")
	ErrNonExpirable           = errors.New("entry is non-expirable")
	ErrCorruptedMetadata      = errors.New("corrupted metadata")
)

// Digest of every hash in the ledger.
type Digest = [sha256.Size]byte
