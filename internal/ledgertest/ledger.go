// Package ledgertest is an in-memory ledger service used by tests. It commits
// transactions exactly like a real ledger would (entry trees, Alh chain,
// accumulated hash tree) and hands out the proofs the client verifies.
package ledgertest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/htree"
	"github.com/jmerrifield20/ledgerclient/pkg/state"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// BaseTs is the timestamp of transaction 0; transaction n is committed at
// BaseTs+n so headers are reproducible.
const BaseTs = int64(1650000000)

// Option configures every ledger a Service creates.
type Option func(*config)

type config struct {
	txVersion   int
	linkingLag  uint64
	signer      *ecdsa.PrivateKey
	now         func() time.Time
	serverLabel string
}

// WithTxVersion selects the transaction format (0 or 1). Defaults to 1.
func WithTxVersion(v int) Option {
	return func(c *config) { c.txVersion = v }
}

// WithLinkingLag makes the accumulated hash tree trail the linear chain:
// transaction n links to n-1-lag instead of n-1, lengthening linear proofs.
func WithLinkingLag(lag uint64) Option {
	return func(c *config) { c.linkingLag = lag }
}

// WithSigner signs every state the service reports.
func WithSigner(key *ecdsa.PrivateKey) Option {
	return func(c *config) { c.signer = key }
}

// WithClock overrides the clock used to decide entry expiration.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// Service hosts one Ledger per database. Databases are created on first use.
type Service struct {
	cfg config

	mu      sync.Mutex
	ledgers map[string]*Ledger
}

func NewService(opts ...Option) *Service {
	cfg := config{txVersion: 1, now: time.Now, serverLabel: "ledgertest"}
	for _, o := range opts {
		o(&cfg)
	}
	return &Service{cfg: cfg, ledgers: make(map[string]*Ledger)}
}

// Ledger returns the ledger of db, creating it if needed.
func (s *Service) Ledger(db string) *Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[db]
	if !ok {
		l = &Ledger{name: db, cfg: s.cfg}
		s.ledgers[db] = l
	}
	return l
}

type committedTx struct {
	tx    *store.Tx
	alh   store.Digest
	specs []*store.EntrySpec
}

// Ledger is a single database.
type Ledger struct {
	name string
	cfg  config

	mu  sync.RWMutex
	txs []*committedTx
	aht AHTree
}

// Commit appends a transaction made of the given (already encoded) entries.
func (l *Ledger) Commit(specs []*store.EntrySpec) (*store.TxHeader, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: empty transaction", store.ErrIllegalArguments)
	}

	digest, err := store.EntrySpecDigestFor(l.cfg.txVersion)
	if err != nil {
		return nil, err
	}

	entries := make([]*store.TxEntry, len(specs))
	digests := make([][32]byte, len(specs))

	for i, kv := range specs {
		for _, prev := range specs[:i] {
			if bytes.Equal(prev.Key, kv.Key) {
				return nil, fmt.Errorf("%w: duplicated key", store.ErrIllegalArguments)
			}
		}

		if digests[i], err = digest(kv); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrIllegalArguments, err)
		}
		entries[i] = kv.TxEntry()
	}

	tree, err := htree.New(len(digests))
	if err != nil {
		return nil, err
	}
	if err := tree.BuildWith(digests); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := uint64(len(l.txs)) + 1

	var prevAlh store.Digest
	if id > 1 {
		prevAlh = l.txs[id-2].alh
	}

	var blTxID uint64
	if id-1 > l.cfg.linkingLag {
		blTxID = id - 1 - l.cfg.linkingLag
	}

	blRoot, err := l.aht.Root(blTxID)
	if err != nil {
		return nil, err
	}

	hdr := &store.TxHeader{
		ID:       id,
		Ts:       BaseTs + int64(id),
		BlTxID:   blTxID,
		BlRoot:   blRoot,
		PrevAlh:  prevAlh,
		Version:  l.cfg.txVersion,
		NEntries: len(entries),
		Eh:       tree.Root(),
	}

	tx, err := store.NewTxWithEntries(hdr, entries)
	if err != nil {
		return nil, err
	}

	alh, err := hdr.Alh()
	if err != nil {
		return nil, err
	}

	l.txs = append(l.txs, &committedTx{tx: tx, alh: alh, specs: specs})
	l.aht.Append(alh)

	return hdr, nil
}

// LastTxID is the id of the most recent transaction, 0 if none.
func (l *Ledger) LastTxID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.txs))
}

// Tx returns transaction id.
func (l *Ledger) Tx(id uint64) (*store.Tx, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ct, err := l.tx(id)
	if err != nil {
		return nil, err
	}
	return ct.tx, nil
}

func (l *Ledger) tx(id uint64) (*committedTx, error) {
	if id == 0 || id > uint64(len(l.txs)) {
		return nil, fmt.Errorf("%w: tx %d", store.ErrIllegalArguments, id)
	}
	return l.txs[id-1], nil
}

// DualProof proves the transaction targetTxID extends sourceTxID.
func (l *Ledger) DualProof(sourceTxID, targetTxID uint64) (*store.DualProof, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dualProof(sourceTxID, targetTxID)
}

func (l *Ledger) dualProof(sourceTxID, targetTxID uint64) (*store.DualProof, error) {
	if sourceTxID > targetTxID {
		return nil, fmt.Errorf("%w: source tx %d is newer than target tx %d", store.ErrIllegalArguments, sourceTxID, targetTxID)
	}

	source, err := l.tx(sourceTxID)
	if err != nil {
		return nil, err
	}
	target, err := l.tx(targetTxID)
	if err != nil {
		return nil, err
	}

	// callers own the returned headers
	sourceHdr, targetHdr := new(store.TxHeader), new(store.TxHeader)
	*sourceHdr = *source.tx.Header()
	*targetHdr = *target.tx.Header()

	proof := &store.DualProof{
		SourceTxHeader: sourceHdr,
		TargetTxHeader: targetHdr,
	}

	if sourceHdr.ID < targetHdr.BlTxID {
		if proof.InclusionProof, err = l.aht.InclusionProof(sourceHdr.ID, targetHdr.BlTxID); err != nil {
			return nil, err
		}
	}

	if sourceHdr.BlTxID > 0 {
		if proof.ConsistencyProof, err = l.aht.ConsistencyProof(sourceHdr.BlTxID, targetHdr.BlTxID); err != nil {
			return nil, err
		}
	}

	if targetHdr.BlTxID > 0 {
		blTx, err := l.tx(targetHdr.BlTxID)
		if err != nil {
			return nil, err
		}
		proof.TargetBlTxAlh = blTx.alh

		if proof.LastInclusionProof, err = l.aht.LastInclusionProof(targetHdr.BlTxID); err != nil {
			return nil, err
		}
	}

	if proof.LinearProof, err = l.linearProof(max(sourceHdr.ID, targetHdr.BlTxID), targetHdr.ID); err != nil {
		return nil, err
	}

	return proof, nil
}

// linearProof carries Alh@sourceTxID then the inner hash of every following
// transaction up to targetTxID.
func (l *Ledger) linearProof(sourceTxID, targetTxID uint64) (*store.LinearProof, error) {
	source, err := l.tx(sourceTxID)
	if err != nil {
		return nil, err
	}

	terms := make([]store.Digest, 0, targetTxID-sourceTxID+1)
	terms = append(terms, source.alh)

	for id := sourceTxID + 1; id <= targetTxID; id++ {
		ct, err := l.tx(id)
		if err != nil {
			return nil, err
		}

		innerHash, err := ct.tx.Header().InnerHash()
		if err != nil {
			return nil, err
		}
		terms = append(terms, innerHash)
	}

	return &store.LinearProof{SourceTxID: sourceTxID, TargetTxID: targetTxID, Terms: terms}, nil
}

// lookup finds the entry stored under an encoded key: in transaction atTx if
// given, the most recent one otherwise.
func (l *Ledger) lookup(key []byte, atTx uint64) (uint64, *store.EntrySpec, error) {
	from, to := uint64(len(l.txs)), uint64(1)
	if atTx > 0 {
		if atTx > from {
			return 0, nil, store.ErrKeyNotFound
		}
		from, to = atTx, atTx
	}

	for id := from; id >= to && id > 0; id-- {
		for _, kv := range l.txs[id-1].specs {
			if bytes.Equal(kv.Key, key) {
				return id, kv, nil
			}
		}
	}
	return 0, nil, store.ErrKeyNotFound
}

func (l *Ledger) live(kv *store.EntrySpec) bool {
	md := kv.Metadata
	if md.IsEmpty() {
		return true
	}
	return !md.Deleted() && !md.ExpiredAt(l.cfg.now())
}

// resolve looks key up and follows a reference one level deep.
func (l *Ledger) resolve(key []byte, atTx uint64) (*api.Entry, error) {
	txID, kv, err := l.lookup(store.EncodeKey(key), atTx)
	if err != nil {
		return nil, err
	}
	if !l.live(kv) {
		return nil, store.ErrKeyNotFound
	}

	switch kv.Value[0] {
	case store.PlainValuePrefix:
		return &api.Entry{
			Tx:       txID,
			Key:      key,
			Value:    kv.Value[1:],
			Metadata: api.KVMetadataTo(kv.Metadata),
		}, nil

	case store.ReferenceValuePrefix:
		refAtTx := binary.BigEndian.Uint64(kv.Value[1:])
		referencedKey := kv.Value[1+8+1:]

		refTxID, refKV, err := l.lookup(store.EncodeKey(referencedKey), refAtTx)
		if err != nil {
			return nil, err
		}
		if !l.live(refKV) || refKV.Value[0] != store.PlainValuePrefix {
			return nil, store.ErrKeyNotFound
		}

		return &api.Entry{
			Tx:       refTxID,
			Key:      referencedKey,
			Value:    refKV.Value[1:],
			Metadata: api.KVMetadataTo(refKV.Metadata),
			ReferencedBy: &api.Reference{
				Tx:       txID,
				Key:      key,
				Metadata: api.KVMetadataTo(kv.Metadata),
				AtTx:     refAtTx,
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown value type", store.ErrIllegalArguments)
}

func (l *Ledger) signedState(txID uint64, alh store.Digest) (*api.Signature, error) {
	if l.cfg.signer == nil {
		return nil, nil
	}

	sig, err := state.Sign(l.cfg.signer, &state.State{Database: l.name, TxID: txID, TxHash: alh})
	if err != nil {
		return nil, err
	}
	return &api.Signature{Signature: sig.Signature, PublicKey: sig.PublicKey}, nil
}

func (l *Ledger) verifiableTx(txID, sourceTxID, targetTxID uint64) (*api.VerifiableTx, error) {
	ct, err := l.tx(txID)
	if err != nil {
		return nil, err
	}

	proof, err := l.dualProof(sourceTxID, targetTxID)
	if err != nil {
		return nil, err
	}

	target, err := l.tx(targetTxID)
	if err != nil {
		return nil, err
	}

	sig, err := l.signedState(targetTxID, target.alh)
	if err != nil {
		return nil, err
	}

	return &api.VerifiableTx{
		Tx:        api.TxTo(ct.tx),
		DualProof: api.DualProofTo(proof),
		Signature: sig,
	}, nil
}

func (s *Service) entrySpecs(kvs []*api.KeyValue) ([]*store.EntrySpec, error) {
	specs := make([]*store.EntrySpec, len(kvs))
	for i, kv := range kvs {
		if kv == nil || len(kv.Key) == 0 {
			return nil, fmt.Errorf("%w: empty key", store.ErrIllegalArguments)
		}
		specs[i] = store.EncodeEntrySpec(kv.Key, api.KVMetadataFrom(kv.Metadata), kv.Value)
	}
	return specs, nil
}

// Set commits the key/value pairs as one transaction.
func (s *Service) Set(_ context.Context, db string, req *api.SetRequest) (*api.TxHeader, error) {
	if req == nil {
		return nil, store.ErrIllegalArguments
	}

	specs, err := s.entrySpecs(req.KVs)
	if err != nil {
		return nil, err
	}

	hdr, err := s.Ledger(db).Commit(specs)
	if err != nil {
		return nil, err
	}
	return api.TxHeaderTo(hdr), nil
}

// SetReference commits a reference from req.Key to req.ReferencedKey.
func (s *Service) SetReference(_ context.Context, db string, req *api.ReferenceRequest) (*api.TxHeader, error) {
	if req == nil || len(req.Key) == 0 || len(req.ReferencedKey) == 0 {
		return nil, store.ErrIllegalArguments
	}

	l := s.Ledger(db)

	l.mu.RLock()
	_, _, err := l.lookup(store.EncodeKey(req.ReferencedKey), req.AtTx)
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	hdr, err := l.Commit([]*store.EntrySpec{store.EncodeReference(req.Key, nil, req.ReferencedKey, req.AtTx)})
	if err != nil {
		return nil, err
	}
	return api.TxHeaderTo(hdr), nil
}

// Get returns the current value of a key, following references.
func (s *Service) Get(_ context.Context, db string, req *api.KeyRequest) (*api.Entry, error) {
	if req == nil || len(req.Key) == 0 {
		return nil, store.ErrIllegalArguments
	}

	l := s.Ledger(db)

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.resolve(req.Key, req.AtTx)
}

// VerifiableSet commits the pairs and proves the new transaction against
// req.ProveSinceTx.
func (s *Service) VerifiableSet(_ context.Context, db string, req *api.VerifiableSetRequest) (*api.VerifiableTx, error) {
	if req == nil || req.SetRequest == nil {
		return nil, store.ErrIllegalArguments
	}

	specs, err := s.entrySpecs(req.SetRequest.KVs)
	if err != nil {
		return nil, err
	}

	l := s.Ledger(db)

	if req.ProveSinceTx > l.LastTxID() {
		return nil, fmt.Errorf("%w: prove since tx %d is ahead of the ledger", store.ErrIllegalArguments, req.ProveSinceTx)
	}

	hdr, err := l.Commit(specs)
	if err != nil {
		return nil, err
	}

	since := req.ProveSinceTx
	if since == 0 {
		since = hdr.ID
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.verifiableTx(hdr.ID, since, hdr.ID)
}

// VerifiableGet returns the current value of a key together with the proof
// of the transaction that set it, linked to req.ProveSinceTx.
func (s *Service) VerifiableGet(_ context.Context, db string, req *api.VerifiableGetRequest) (*api.VerifiableEntry, error) {
	if req == nil || req.KeyRequest == nil || len(req.KeyRequest.Key) == 0 {
		return nil, store.ErrIllegalArguments
	}

	l := s.Ledger(db)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if req.ProveSinceTx > uint64(len(l.txs)) {
		return nil, fmt.Errorf("%w: prove since tx %d is ahead of the ledger", store.ErrIllegalArguments, req.ProveSinceTx)
	}

	entry, err := l.resolve(req.KeyRequest.Key, req.KeyRequest.AtTx)
	if err != nil {
		return nil, err
	}

	vTx, provenKey := entry.Tx, entry.Key
	if entry.ReferencedBy != nil {
		vTx, provenKey = entry.ReferencedBy.Tx, entry.ReferencedBy.Key
	}

	ct, err := l.tx(vTx)
	if err != nil {
		return nil, err
	}

	inclusionProof, err := ct.tx.Proof(store.EncodeKey(provenKey))
	if err != nil {
		return nil, err
	}

	since := req.ProveSinceTx
	if since == 0 {
		since = vTx
	}

	sourceTxID, targetTxID := since, vTx
	if since > vTx {
		sourceTxID, targetTxID = vTx, since
	}

	vtx, err := l.verifiableTx(vTx, sourceTxID, targetTxID)
	if err != nil {
		return nil, err
	}

	return &api.VerifiableEntry{
		Entry:          entry,
		VerifiableTx:   vtx,
		InclusionProof: api.InclusionProofTo(inclusionProof),
	}, nil
}

// Health always reports the service as up.
func (s *Service) Health(context.Context) (*api.HealthResponse, error) {
	return &api.HealthResponse{Status: "ok", Version: s.cfg.serverLabel}, nil
}
