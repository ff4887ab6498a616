// Package api defines the JSON messages exchanged with the ledger service.
//
// Byte fields travel base64 encoded. Every digest must decode to exactly 32
// bytes; the converters in this package reject anything else before a proof
// is ever looked at.
package api

type KVMetadata struct {
	Deleted      bool   `json:"deleted,omitempty"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"`
	NonIndexable bool   `json:"non_indexable,omitempty"`
}

type TxMetadata struct {
	TruncatedTxID *uint64 `json:"truncated_tx_id,omitempty"`
}

type TxHeader struct {
	ID       uint64      `json:"id"`
	PrevAlh  []byte      `json:"prev_alh"`
	Ts       int64       `json:"ts"`
	Version  int32       `json:"version"`
	Metadata *TxMetadata `json:"metadata,omitempty"`
	NEntries int32       `json:"nentries"`
	EH       []byte      `json:"eh"`
	BlTxID   uint64      `json:"bl_tx_id"`
	BlRoot   []byte      `json:"bl_root"`
}

// TxEntry is an entry as committed: the key is encoded and the value is only
// present as its digest.
type TxEntry struct {
	Key      []byte      `json:"key"`
	Metadata *KVMetadata `json:"metadata,omitempty"`
	HValue   []byte      `json:"h_value"`
	VLen     int32       `json:"v_len"`
}

type Tx struct {
	Header  *TxHeader  `json:"header"`
	Entries []*TxEntry `json:"entries"`
}

type InclusionProof struct {
	Leaf  int32    `json:"leaf"`
	Width int32    `json:"width"`
	Terms [][]byte `json:"terms"`
}

type LinearProof struct {
	SourceTxID uint64   `json:"source_tx_id"`
	TargetTxID uint64   `json:"target_tx_id"`
	Terms      [][]byte `json:"terms"`
}

type DualProof struct {
	SourceTxHeader     *TxHeader    `json:"source_tx_header"`
	TargetTxHeader     *TxHeader    `json:"target_tx_header"`
	InclusionProof     [][]byte     `json:"inclusion_proof,omitempty"`
	ConsistencyProof   [][]byte     `json:"consistency_proof,omitempty"`
	TargetBlTxAlh      []byte       `json:"target_bl_tx_alh,omitempty"`
	LastInclusionProof [][]byte     `json:"last_inclusion_proof,omitempty"`
	LinearProof        *LinearProof `json:"linear_proof"`
}

// Signature is the server's signature over the state it reports.
type Signature struct {
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

type VerifiableTx struct {
	Tx        *Tx        `json:"tx"`
	DualProof *DualProof `json:"dual_proof"`
	Signature *Signature `json:"signature,omitempty"`
}

// Reference describes the reference entry a value was reached through.
type Reference struct {
	Tx       uint64      `json:"tx"`
	Key      []byte      `json:"key"`
	Metadata *KVMetadata `json:"metadata,omitempty"`
	AtTx     uint64      `json:"at_tx"`
}

// Entry carries raw (not encoded) keys and values.
type Entry struct {
	Tx           uint64      `json:"tx"`
	Key          []byte      `json:"key"`
	Value        []byte      `json:"value"`
	Metadata     *KVMetadata `json:"metadata,omitempty"`
	ReferencedBy *Reference  `json:"referenced_by,omitempty"`
	Expired      bool        `json:"expired,omitempty"`
}

type VerifiableEntry struct {
	Entry          *Entry          `json:"entry"`
	VerifiableTx   *VerifiableTx   `json:"verifiable_tx"`
	InclusionProof *InclusionProof `json:"inclusion_proof"`
}

type KeyValue struct {
	Key      []byte      `json:"key"`
	Value    []byte      `json:"value"`
	Metadata *KVMetadata `json:"metadata,omitempty"`
}

type SetRequest struct {
	KVs []*KeyValue `json:"kvs"`
}

type VerifiableSetRequest struct {
	SetRequest   *SetRequest `json:"set_request"`
	ProveSinceTx uint64      `json:"prove_since_tx"`
}

type KeyRequest struct {
	Key  []byte `json:"key"`
	AtTx uint64 `json:"at_tx,omitempty"`
}

type VerifiableGetRequest struct {
	KeyRequest   *KeyRequest `json:"key_request"`
	ProveSinceTx uint64      `json:"prove_since_tx"`
}

type ReferenceRequest struct {
	Key           []byte `json:"key"`
	ReferencedKey []byte `json:"referenced_key"`
	AtTx          uint64 `json:"at_tx,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
