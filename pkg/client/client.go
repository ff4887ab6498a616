package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/ledgerclient/internal/metrics"
	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/state"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// DefaultDatabase is the database used when none is configured.
const DefaultDatabase = "defaultdb"

// ErrCorruptedData is returned whenever the data sent by the server fails
// verification. It never tells which check failed.
var ErrCorruptedData = store.ErrVerificationFailed

const (
	opVerifiedSet = "verified_set"
	opVerifiedGet = "verified_get"
)

// ServiceClient is the transport to a ledger service. HTTPTransport is the
// network implementation.
type ServiceClient interface {
	Set(ctx context.Context, db string, req *api.SetRequest) (*api.TxHeader, error)
	SetReference(ctx context.Context, db string, req *api.ReferenceRequest) (*api.TxHeader, error)
	Get(ctx context.Context, db string, req *api.KeyRequest) (*api.Entry, error)
	VerifiableSet(ctx context.Context, db string, req *api.VerifiableSetRequest) (*api.VerifiableTx, error)
	VerifiableGet(ctx context.Context, db string, req *api.VerifiableGetRequest) (*api.VerifiableEntry, error)
	Health(ctx context.Context) (*api.HealthResponse, error)
}

// Client verifies everything the ledger service returns against the
// checkpoint it keeps for its database.
type Client struct {
	service  ServiceClient
	states   *state.Service
	verifier state.Verifier
	database string
	logger   *zap.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithStateService shares checkpoints with other clients, possibly backed by
// a persistent store. By default checkpoints live in memory.
func WithStateService(states *state.Service) Option {
	return func(c *Client) error {
		c.states = states
		return nil
	}
}

// WithVerifier requires every new checkpoint to carry a valid server
// signature. A shared state service must be given its verifier directly.
func WithVerifier(v state.Verifier) Option {
	return func(c *Client) error {
		c.verifier = v
		return nil
	}
}

func WithDatabase(db string) Option {
	return func(c *Client) error {
		if db == "" {
			return fmt.Errorf("%w: empty database name", store.ErrIllegalArguments)
		}
		c.database = db
		return nil
	}
}

// New creates a Client on top of service.
//
//	transport, err := client.NewHTTPTransport("https://ledger.example.com",
//	    client.WithCredentials("alice", "secret"),
//	)
//	c, err := client.New(transport, client.WithDatabase("payments"))
func New(service ServiceClient, opts ...Option) (*Client, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: nil service client", store.ErrIllegalArguments)
	}

	c := &Client{
		service:  service,
		database: DefaultDatabase,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	if c.states == nil {
		stateOpts := []state.ServiceOption{state.WithLogger(c.logger)}
		if c.verifier != nil {
			stateOpts = append(stateOpts, state.WithVerifier(c.verifier))
		}
		c.states = state.NewService(state.NewMemoryStore(), stateOpts...)
	} else if c.verifier != nil {
		return nil, errors.New("verifier must be configured on the shared state service")
	}

	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(service ServiceClient, opts ...Option) *Client {
	c, err := New(service, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Client) Database() string { return c.database }

// State returns the current checkpoint of the client's database.
func (c *Client) State(ctx context.Context) (*state.State, error) {
	return c.states.Get(ctx, c.database)
}

// VerifiedSet writes key=value in a transaction of its own, checks that the
// server committed exactly that entry and that the new transaction extends the
// current checkpoint, then advances the checkpoint to it.
func (c *Client) VerifiedSet(ctx context.Context, key, value []byte, md *store.KVMetadata) (*store.TxHeader, error) {
	start := time.Now()

	var hdr *store.TxHeader
	err := c.states.Update(ctx, c.database, func(current *state.State) (*state.State, error) {
		vtx, err := c.service.VerifiableSet(ctx, c.database, &api.VerifiableSetRequest{
			SetRequest: &api.SetRequest{KVs: []*api.KeyValue{{
				Key:      key,
				Value:    value,
				Metadata: api.KVMetadataTo(md),
			}}},
			ProveSinceTx: current.TxID,
		})
		if err != nil {
			return nil, fmt.Errorf("verifiable set: %w", err)
		}

		next, h, ok := verifySet(current, key, value, md, vtx)
		if !ok {
			return nil, ErrCorruptedData
		}

		hdr = h
		return next, nil
	})

	c.observe(ctx, opVerifiedSet, start, err)
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

// VerifiedGet reads the current value of key and verifies it against the
// checkpoint. References are followed by the server; the reference entry is
// what gets verified.
func (c *Client) VerifiedGet(ctx context.Context, key []byte) ([]byte, error) {
	return c.VerifiedGetAt(ctx, key, 0)
}

// VerifiedGetAt is VerifiedGet for the value key was given in transaction
// atTx. An entry from any other transaction is rejected.
func (c *Client) VerifiedGetAt(ctx context.Context, key []byte, atTx uint64) ([]byte, error) {
	start := time.Now()

	var value []byte
	err := c.states.Update(ctx, c.database, func(current *state.State) (*state.State, error) {
		ve, err := c.service.VerifiableGet(ctx, c.database, &api.VerifiableGetRequest{
			KeyRequest:   &api.KeyRequest{Key: key, AtTx: atTx},
			ProveSinceTx: current.TxID,
		})
		if err != nil {
			return nil, fmt.Errorf("verifiable get: %w", err)
		}

		next, ok := verifyGet(current, key, atTx, ve)
		if !ok {
			return nil, ErrCorruptedData
		}

		value = ve.Entry.Value
		return next, nil
	})

	c.observe(ctx, opVerifiedGet, start, err)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Client) observe(ctx context.Context, op string, start time.Time, err error) {
	switch {
	case err == nil:
		metrics.RecordVerification(op, metrics.ResultSuccess, start)
		if st, err := c.states.Get(ctx, c.database); err == nil {
			metrics.SetCheckpoint(c.database, st.TxID)
		}

	case errors.Is(err, ErrCorruptedData), errors.Is(err, state.ErrInvalidSignature):
		metrics.RecordVerification(op, metrics.ResultRejected, start)
		c.logger.Warn("verification failed",
			zap.String("op", op),
			zap.String("db", c.database),
		)

	default:
		metrics.RecordVerification(op, metrics.ResultError, start)
	}
}

// Set writes key=value without verification.
func (c *Client) Set(ctx context.Context, key, value []byte) (*store.TxHeader, error) {
	return c.SetAll(ctx, []*api.KeyValue{{Key: key, Value: value}})
}

// SetAll writes every pair in a single transaction without verification.
func (c *Client) SetAll(ctx context.Context, kvs []*api.KeyValue) (*store.TxHeader, error) {
	hdr, err := c.service.Set(ctx, c.database, &api.SetRequest{KVs: kvs})
	if err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}
	return api.TxHeaderFrom(hdr)
}

// SetReference makes key point to referencedKey as of transaction atTx, or to
// its latest value when atTx is 0.
func (c *Client) SetReference(ctx context.Context, key, referencedKey []byte, atTx uint64) (*store.TxHeader, error) {
	hdr, err := c.service.SetReference(ctx, c.database, &api.ReferenceRequest{
		Key:           key,
		ReferencedKey: referencedKey,
		AtTx:          atTx,
	})
	if err != nil {
		return nil, fmt.Errorf("set reference: %w", err)
	}
	return api.TxHeaderFrom(hdr)
}

// Get reads the current value of key without verification.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	entry, err := c.service.Get(ctx, c.database, &api.KeyRequest{Key: key})
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return entry.Value, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	return c.service.Health(ctx)
}
