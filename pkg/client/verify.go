package client

import (
	"bytes"

	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/state"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// verifySet checks the transaction returned for a single key/value write with
// metadata requested and returns the checkpoint it leads to.
func verifySet(current *state.State, key, value []byte, requested *store.KVMetadata, vtx *api.VerifiableTx) (*state.State, *store.TxHeader, bool) {
	if vtx == nil || vtx.Tx == nil || vtx.Tx.Header == nil ||
		vtx.Tx.Header.NEntries != 1 || len(vtx.Tx.Entries) != 1 {
		return nil, nil, false
	}

	tx, err := api.TxFrom(vtx.Tx)
	if err != nil {
		return nil, nil, false
	}
	hdr := tx.Header()

	md := tx.Entries()[0].Metadata()
	if md != nil && md.Deleted() {
		return nil, nil, false
	}
	if !bytes.Equal(md.Bytes(), requested.Bytes()) {
		return nil, nil, false
	}

	digest, err := store.EntrySpecDigestFor(hdr.Version)
	if err != nil {
		return nil, nil, false
	}

	proof, err := tx.Proof(store.EncodeKey(key))
	if err != nil {
		return nil, nil, false
	}

	d, err := digest(store.EncodeEntrySpec(key, md, value))
	if err != nil || !store.VerifyInclusion(proof, d, hdr.Eh) {
		return nil, nil, false
	}

	dual, err := api.DualProofFrom(vtx.DualProof)
	if err != nil {
		return nil, nil, false
	}
	if dual.TargetTxHeader.ID != hdr.ID || dual.TargetTxHeader.Eh != hdr.Eh {
		return nil, nil, false
	}

	targetAlh, err := hdr.Alh()
	if err != nil {
		return nil, nil, false
	}

	if !current.IsEmpty() && !store.VerifyDualProof(dual, current.TxID, hdr.ID, current.TxHash, targetAlh) {
		return nil, nil, false
	}

	return &state.State{
		Database:  current.Database,
		TxID:      hdr.ID,
		TxHash:    targetAlh,
		Signature: signatureFrom(vtx.Signature),
	}, hdr, true
}

// verifyGet checks an entry read under key, written in transaction atTx when
// atTx is not 0, and returns the checkpoint it leads to. When the checkpoint
// is ahead of the entry's transaction the entry's transaction is proven as the
// source and the checkpoint keeps its position.
func verifyGet(current *state.State, key []byte, atTx uint64, ve *api.VerifiableEntry) (*state.State, bool) {
	if ve == nil || ve.Entry == nil || ve.VerifiableTx == nil {
		return nil, false
	}

	var (
		vTx uint64
		kv  *store.EntrySpec
	)
	if ref := ve.Entry.ReferencedBy; ref == nil || len(ref.Key) == 0 {
		vTx = ve.Entry.Tx
		kv = store.EncodeEntrySpec(key, api.KVMetadataFrom(ve.Entry.Metadata), ve.Entry.Value)
	} else {
		vTx = ref.Tx
		kv = store.EncodeReference(key, api.KVMetadataFrom(ref.Metadata), ve.Entry.Key, ref.AtTx)
	}
	if atTx != 0 && vTx != atTx {
		return nil, false
	}

	dual, err := api.DualProofFrom(ve.VerifiableTx.DualProof)
	if err != nil {
		return nil, false
	}

	proof, err := api.InclusionProofFrom(ve.InclusionProof)
	if err != nil {
		return nil, false
	}

	var (
		entryHdr             *store.TxHeader
		sourceID, targetID   uint64
		sourceAlh, targetAlh store.Digest
	)

	if current.TxID <= vTx {
		entryHdr = dual.TargetTxHeader
		sourceID, sourceAlh = current.TxID, current.TxHash
		targetID = vTx
		targetAlh, err = entryHdr.Alh()
	} else {
		entryHdr = dual.SourceTxHeader
		sourceID = vTx
		sourceAlh, err = entryHdr.Alh()
		targetID, targetAlh = current.TxID, current.TxHash
	}
	if err != nil || entryHdr.ID != vTx {
		return nil, false
	}

	digest, err := store.EntrySpecDigestFor(entryHdr.Version)
	if err != nil {
		return nil, false
	}

	d, err := digest(kv)
	if err != nil || !store.VerifyInclusion(proof, d, entryHdr.Eh) {
		return nil, false
	}

	if !current.IsEmpty() && !store.VerifyDualProof(dual, sourceID, targetID, sourceAlh, targetAlh) {
		return nil, false
	}

	return &state.State{
		Database:  current.Database,
		TxID:      targetID,
		TxHash:    targetAlh,
		Signature: signatureFrom(ve.VerifiableTx.Signature),
	}, true
}

func signatureFrom(sig *api.Signature) *state.Signature {
	if sig == nil {
		return nil
	}
	return &state.Signature{Signature: sig.Signature, PublicKey: sig.PublicKey}
}
