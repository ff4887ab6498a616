// Package state keeps the trusted checkpoint of every database the client
// talks to: the last transaction id and Alh it verified itself.
//
// A checkpoint only ever moves forward, and only after the whole proof chain
// leading to it has been verified. Service serialises the read, verify and
// write cycle per database; the persistence backend is pluggable:
//   - MemoryStore: in-process, for tests and short-lived tools.
//   - FileStore: one protobuf-wire record per database in a directory.
//   - BadgerStore: embedded key-value store.
//   - PostgresStore: shared by several client processes.
package state

import (
	"context"
	"errors"

	"golang.org/x/crypto/cryptobyte"

	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

var (
	// ErrStateNotFound is returned by a Store holding no checkpoint for the
	// requested database.
	ErrStateNotFound = errors.New("state not found")

	ErrStateRegression  = errors.New("state regression")
	ErrInvalidSignature = errors.New("invalid state signature")
	ErrDatabaseMismatch = errors.New("state belongs to a different database")
	ErrCorruptedState   = errors.New("corrupted state")
)

// State is a verified checkpoint. TxID 0 means no checkpoint yet.
type State struct {
	Database  string
	TxID      uint64
	TxHash    store.Digest
	Signature *Signature
}

// Signature is the server's signature over State.Bytes.
type Signature struct {
	Signature []byte
	PublicKey []byte
}

// Bytes is the signed payload: u32(len(db)) ‖ db ‖ u64(txId) ‖ txHash.
func (s *State) Bytes() []byte {
	var b cryptobyte.Builder

	b.AddUint32LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(s.Database))
	})
	b.AddUint64(s.TxID)
	b.AddBytes(s.TxHash[:])

	return b.BytesOrPanic()
}

// IsEmpty reports whether the state carries no checkpoint.
func (s *State) IsEmpty() bool {
	return s == nil || s.TxID == 0
}

func (s *State) clone() *State {
	c := *s
	if s.Signature != nil {
		c.Signature = &Signature{
			Signature: append([]byte(nil), s.Signature.Signature...),
			PublicKey: append([]byte(nil), s.Signature.PublicKey...),
		}
	}
	return &c
}

// Store persists checkpoints.
type Store interface {
	// Load returns ErrStateNotFound when db has no checkpoint.
	Load(ctx context.Context, db string) (*State, error)
	Save(ctx context.Context, st *State) error
}

// Verifier checks the signature carried by a state before it is saved.
type Verifier interface {
	Verify(st *State) error
}
