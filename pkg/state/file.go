package state

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one checkpoint file per database under dir. Files are
// replaced atomically so a crash never leaves a torn checkpoint behind.
//
// Several processes may share dir: Save holds an exclusive lock file of the
// database while it compares against the stored record, and never lowers
// the stored txId.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(db string) string {
	return filepath.Join(f.dir, "state-"+hex.EncodeToString([]byte(db)))
}

func (f *FileStore) lockPath(db string) string {
	return filepath.Join(f.dir, ".lock-"+hex.EncodeToString([]byte(db)))
}

// Load implements Store.
func (f *FileStore) Load(_ context.Context, db string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.load(db)
}

func (f *FileStore) load(db string) (*State, error) {
	b, err := os.ReadFile(f.path(db))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	st, err := unmarshalState(b)
	if err != nil {
		return nil, err
	}
	if st.Database != db {
		return nil, fmt.Errorf("%w: file of %q holds %q", ErrCorruptedState, db, st.Database)
	}
	return st, nil
}

// Save implements Store.
func (f *FileStore) Save(_ context.Context, st *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := lockFile(f.lockPath(st.Database))
	if err != nil {
		return err
	}
	defer unlock()

	stored, err := f.load(st.Database)
	switch {
	case errors.Is(err, ErrStateNotFound):
	case err != nil:
		return err
	case stored.TxID > st.TxID:
		return fmt.Errorf("%w: tx %d of %q is older than stored tx %d",
			ErrStateRegression, st.TxID, st.Database, stored.TxID)
	}

	tmp, err := os.CreateTemp(f.dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(marshalState(st)); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path(st.Database)); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
