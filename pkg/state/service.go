package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Service hands out checkpoints and advances them under a per-database lock.
// A lock lives only while an Update holds or waits for it.
type Service struct {
	store    Store
	verifier Verifier
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*dbLock
}

type dbLock struct {
	ch   chan struct{}
	refs int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithVerifier makes every Update check the signature of the new state.
func WithVerifier(v Verifier) ServiceOption {
	return func(s *Service) {
		s.verifier = v
	}
}

func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		locks:  make(map[string]*dbLock),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the current checkpoint of db, or an empty state if none was
// ever saved.
func (s *Service) Get(ctx context.Context, db string) (*State, error) {
	st, err := s.store.Load(ctx, db)
	if errors.Is(err, ErrStateNotFound) {
		return &State{Database: db}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state of %q: %w", db, err)
	}
	return st, nil
}

// Update runs fn with the current checkpoint of db while holding the lock of
// db, and saves the state fn returns. Returning a nil state leaves the
// checkpoint untouched. Nothing is saved if fn fails, if the new state would
// move txId backwards, or if its signature does not verify.
func (s *Service) Update(ctx context.Context, db string, fn func(current *State) (*State, error)) error {
	unlock, err := s.lock(ctx, db)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.Get(ctx, db)
	if err != nil {
		return err
	}

	next, err := fn(current.clone())
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if next.Database != db {
		return fmt.Errorf("%w: %q", ErrDatabaseMismatch, next.Database)
	}

	if next.TxID < current.TxID {
		return fmt.Errorf("%w: tx %d is older than checkpoint %d", ErrStateRegression, next.TxID, current.TxID)
	}

	if s.verifier != nil {
		if err := s.verifier.Verify(next); err != nil {
			s.logger.Warn("state signature rejected",
				zap.String("db", db),
				zap.Uint64("tx_id", next.TxID),
			)
			return err
		}
	}

	if err := s.store.Save(ctx, next); err != nil {
		return fmt.Errorf("save state of %q: %w", db, err)
	}

	s.logger.Debug("state advanced",
		zap.String("db", db),
		zap.Uint64("from_tx_id", current.TxID),
		zap.Uint64("to_tx_id", next.TxID),
	)
	return nil
}

func (s *Service) lock(ctx context.Context, db string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[db]
	if !ok {
		l = &dbLock{ch: make(chan struct{}, 1)}
		s.locks[db] = l
	}
	l.refs++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, db)
		}
		s.mu.Unlock()
	}

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}
