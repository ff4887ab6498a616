package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists checkpoints to PostgreSQL so several client
// processes can share them. It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Load implements Store.
func (p *PostgresStore) Load(ctx context.Context, db string) (*State, error) {
	var (
		txID      int64
		txHash    []byte
		signature []byte
		publicKey []byte
	)

	err := p.pool.QueryRow(ctx,
		`SELECT tx_id, tx_hash, signature, public_key FROM ledger_state WHERE database = $1`, db,
	).Scan(&txID, &txHash, &signature, &publicKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get state of %q: %w", db, err)
	}

	return stateFromRow(db, txID, txHash, signature, publicKey)
}

// Save implements Store.
// Writers of the same database are serialised with a transaction-scoped
// advisory lock, and the upsert never lowers a stored tx_id.
func (p *PostgresStore) Save(ctx context.Context, st *State) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", st.Database); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var signature, publicKey []byte
	if st.Signature != nil {
		signature = st.Signature.Signature
		publicKey = st.Signature.PublicKey
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_state (database, tx_id, tx_hash, signature, public_key, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (database) DO UPDATE
		 SET tx_id = EXCLUDED.tx_id, tx_hash = EXCLUDED.tx_hash,
		     signature = EXCLUDED.signature, public_key = EXCLUDED.public_key,
		     updated_at = EXCLUDED.updated_at
		 WHERE ledger_state.tx_id <= EXCLUDED.tx_id`,
		st.Database, int64(st.TxID), st.TxHash[:], signature, publicKey,
	)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tx %d of %q", ErrStateRegression, st.TxID, st.Database)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_state_history (database, tx_id, tx_hash) VALUES ($1, $2, $3)`,
		st.Database, int64(st.TxID), st.TxHash[:],
	); err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state tx: %w", err)
	}

	p.logger.Debug("state saved",
		zap.String("db", st.Database),
		zap.Uint64("tx_id", st.TxID),
	)
	return nil
}

// History returns up to limit previously accepted checkpoints of db, newest
// first.
func (p *PostgresStore) History(ctx context.Context, db string, limit int) ([]*State, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT tx_id, tx_hash FROM ledger_state_history
		 WHERE database = $1 ORDER BY tx_id DESC, id DESC LIMIT $2`, db, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	var states []*State
	for rows.Next() {
		var (
			txID   int64
			txHash []byte
		)
		if err := rows.Scan(&txID, &txHash); err != nil {
			return nil, fmt.Errorf("scan state history row: %w", err)
		}

		st, err := stateFromRow(db, txID, txHash, nil, nil)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func stateFromRow(db string, txID int64, txHash, signature, publicKey []byte) (*State, error) {
	if txID < 0 || len(txHash) != 32 {
		return nil, fmt.Errorf("%w: row of %q", ErrCorruptedState, db)
	}

	st := &State{Database: db, TxID: uint64(txID)}
	copy(st.TxHash[:], txHash)

	if signature != nil {
		st.Signature = &Signature{Signature: signature, PublicKey: publicKey}
	}
	return st, nil
}
