package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "state/"

// BadgerStore keeps checkpoints in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens (or creates) a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStore(db), nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Load implements Store.
func (b *BadgerStore) Load(_ context.Context, db string) (*State, error) {
	var raw []byte

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + db))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	return unmarshalState(raw)
}

// Save implements Store.
func (b *BadgerStore) Save(_ context.Context, st *State) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+st.Database), marshalState(st))
	})
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
