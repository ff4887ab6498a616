package api

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/ledgerclient/pkg/htree"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// DigestFrom rejects anything that is not exactly a digest.
func DigestFrom(b []byte) (store.Digest, error) {
	var d store.Digest
	if len(b) != len(d) {
		return d, fmt.Errorf("%w: digest of %d bytes", store.ErrVerificationFailed, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func DigestsFrom(bs [][]byte) ([]store.Digest, error) {
	if len(bs) == 0 {
		return nil, nil
	}

	ds := make([]store.Digest, len(bs))
	for i, b := range bs {
		d, err := DigestFrom(b)
		if err != nil {
			return nil, err
		}
		ds[i] = d
	}
	return ds, nil
}

func DigestsTo(ds []store.Digest) [][]byte {
	if len(ds) == 0 {
		return nil
	}

	bs := make([][]byte, len(ds))
	for i := range ds {
		bs[i] = append([]byte(nil), ds[i][:]...)
	}
	return bs
}

func KVMetadataFrom(md *KVMetadata) *store.KVMetadata {
	if md == nil {
		return nil
	}

	kvmd := store.NewKVMetadata()
	kvmd.AsDeleted(md.Deleted)           //nolint:errcheck
	kvmd.AsNonIndexable(md.NonIndexable) //nolint:errcheck
	if md.ExpiresAt != nil {
		kvmd.ExpiresAt(time.Unix(*md.ExpiresAt, 0)) //nolint:errcheck
	}
	return kvmd
}

func KVMetadataTo(md *store.KVMetadata) *KVMetadata {
	if md.IsEmpty() {
		return nil
	}

	out := &KVMetadata{
		Deleted:      md.Deleted(),
		NonIndexable: md.NonIndexable(),
	}
	if exp, err := md.ExpirationTime(); err == nil {
		ts := exp.Unix()
		out.ExpiresAt = &ts
	}
	return out
}

func TxMetadataFrom(md *TxMetadata) *store.TxMetadata {
	if md == nil || md.TruncatedTxID == nil {
		return nil
	}
	return store.NewTxMetadata().WithTruncatedTxID(*md.TruncatedTxID)
}

func TxMetadataTo(md *store.TxMetadata) *TxMetadata {
	if md.IsEmpty() {
		return nil
	}
	id := md.TruncatedTxID()
	return &TxMetadata{TruncatedTxID: &id}
}

func TxHeaderFrom(hdr *TxHeader) (*store.TxHeader, error) {
	if hdr == nil {
		return nil, fmt.Errorf("%w: missing tx header", store.ErrVerificationFailed)
	}

	prevAlh, err := DigestFrom(hdr.PrevAlh)
	if err != nil {
		return nil, fmt.Errorf("prev alh: %w", err)
	}
	eh, err := DigestFrom(hdr.EH)
	if err != nil {
		return nil, fmt.Errorf("eh: %w", err)
	}
	blRoot, err := DigestFrom(hdr.BlRoot)
	if err != nil {
		return nil, fmt.Errorf("bl root: %w", err)
	}

	return &store.TxHeader{
		ID:       hdr.ID,
		Ts:       hdr.Ts,
		BlTxID:   hdr.BlTxID,
		BlRoot:   blRoot,
		PrevAlh:  prevAlh,
		Version:  int(hdr.Version),
		Metadata: TxMetadataFrom(hdr.Metadata),
		NEntries: int(hdr.NEntries),
		Eh:       eh,
	}, nil
}

func TxHeaderTo(hdr *store.TxHeader) *TxHeader {
	if hdr == nil {
		return nil
	}

	return &TxHeader{
		ID:       hdr.ID,
		PrevAlh:  append([]byte(nil), hdr.PrevAlh[:]...),
		Ts:       hdr.Ts,
		Version:  int32(hdr.Version),
		Metadata: TxMetadataTo(hdr.Metadata),
		NEntries: int32(hdr.NEntries),
		EH:       append([]byte(nil), hdr.Eh[:]...),
		BlTxID:   hdr.BlTxID,
		BlRoot:   append([]byte(nil), hdr.BlRoot[:]...),
	}
}

func TxEntryFrom(e *TxEntry) (*store.TxEntry, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: missing tx entry", store.ErrVerificationFailed)
	}

	hVal, err := DigestFrom(e.HValue)
	if err != nil {
		return nil, fmt.Errorf("h value: %w", err)
	}
	return store.NewTxEntry(e.Key, KVMetadataFrom(e.Metadata), int(e.VLen), hVal), nil
}

func TxEntryTo(e *store.TxEntry) *TxEntry {
	hVal := e.HVal()

	return &TxEntry{
		Key:      append([]byte(nil), e.Key()...),
		Metadata: KVMetadataTo(e.Metadata()),
		HValue:   hVal[:],
		VLen:     int32(e.VLen()),
	}
}

// TxFrom rebuilds a transaction and its entry tree. It fails with
// store.ErrVerificationFailed if the entries do not hash to the header's
// entries root.
func TxFrom(tx *Tx) (*store.Tx, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: missing tx", store.ErrVerificationFailed)
	}

	hdr, err := TxHeaderFrom(tx.Header)
	if err != nil {
		return nil, err
	}

	entries := make([]*store.TxEntry, len(tx.Entries))
	for i, e := range tx.Entries {
		entries[i], err = TxEntryFrom(e)
		if err != nil {
			return nil, err
		}
	}

	return store.NewTxWithEntries(hdr, entries)
}

func TxTo(tx *store.Tx) *Tx {
	entries := make([]*TxEntry, len(tx.Entries()))
	for i, e := range tx.Entries() {
		entries[i] = TxEntryTo(e)
	}
	return &Tx{Header: TxHeaderTo(tx.Header()), Entries: entries}
}

func InclusionProofFrom(p *InclusionProof) (*htree.InclusionProof, error) {
	if p == nil {
		return nil, nil
	}

	terms, err := DigestsFrom(p.Terms)
	if err != nil {
		return nil, err
	}

	return &htree.InclusionProof{Leaf: int(p.Leaf), Width: int(p.Width), Terms: terms}, nil
}

func InclusionProofTo(p *htree.InclusionProof) *InclusionProof {
	if p == nil {
		return nil
	}

	return &InclusionProof{
		Leaf:  int32(p.Leaf),
		Width: int32(p.Width),
		Terms: DigestsTo(p.Terms),
	}
}

func LinearProofFrom(p *LinearProof) (*store.LinearProof, error) {
	if p == nil {
		return nil, nil
	}

	terms, err := DigestsFrom(p.Terms)
	if err != nil {
		return nil, err
	}
	return &store.LinearProof{SourceTxID: p.SourceTxID, TargetTxID: p.TargetTxID, Terms: terms}, nil
}

func LinearProofTo(p *store.LinearProof) *LinearProof {
	if p == nil {
		return nil
	}
	return &LinearProof{SourceTxID: p.SourceTxID, TargetTxID: p.TargetTxID, Terms: DigestsTo(p.Terms)}
}

func DualProofFrom(p *DualProof) (*store.DualProof, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: missing dual proof", store.ErrVerificationFailed)
	}

	source, err := TxHeaderFrom(p.SourceTxHeader)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	target, err := TxHeaderFrom(p.TargetTxHeader)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	proof := &store.DualProof{SourceTxHeader: source, TargetTxHeader: target}

	if proof.InclusionProof, err = DigestsFrom(p.InclusionProof); err != nil {
		return nil, err
	}
	if proof.ConsistencyProof, err = DigestsFrom(p.ConsistencyProof); err != nil {
		return nil, err
	}
	if proof.LastInclusionProof, err = DigestsFrom(p.LastInclusionProof); err != nil {
		return nil, err
	}
	if target.BlTxID > 0 {
		if proof.TargetBlTxAlh, err = DigestFrom(p.TargetBlTxAlh); err != nil {
			return nil, err
		}
	}
	if proof.LinearProof, err = LinearProofFrom(p.LinearProof); err != nil {
		return nil, err
	}

	return proof, nil
}

func DualProofTo(p *store.DualProof) *DualProof {
	if p == nil {
		return nil
	}

	out := &DualProof{
		SourceTxHeader:     TxHeaderTo(p.SourceTxHeader),
		TargetTxHeader:     TxHeaderTo(p.TargetTxHeader),
		InclusionProof:     DigestsTo(p.InclusionProof),
		ConsistencyProof:   DigestsTo(p.ConsistencyProof),
		LastInclusionProof: DigestsTo(p.LastInclusionProof),
		LinearProof:        LinearProofTo(p.LinearProof),
	}
	if p.TargetTxHeader != nil && p.TargetTxHeader.BlTxID > 0 {
		out.TargetBlTxAlh = append([]byte(nil), p.TargetBlTxAlh[:]...)
	}
	return out
}
