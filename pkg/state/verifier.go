package state

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// ECDSAVerifier checks state signatures against a single trusted key.
type ECDSAVerifier struct {
	pub *ecdsa.PublicKey
}

func NewECDSAVerifier(pub *ecdsa.PublicKey) *ECDSAVerifier {
	return &ECDSAVerifier{pub: pub}
}

// LoadECDSAVerifier reads a PEM encoded PKIX public key from path.
func LoadECDSAVerifier(path string) (*ECDSAVerifier, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}

	pub, err := ParsePublicKeyPEM(b)
	if err != nil {
		return nil, err
	}
	return NewECDSAVerifier(pub), nil
}

func ParsePublicKeyPEM(b []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("verifying key: no PEM block found")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse verifying key: %w", err)
	}

	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("verifying key: expected ECDSA, got %T", key)
	}
	return pub, nil
}

// Verify implements Verifier. The public key shipped with the signature is
// ignored; only the configured key is trusted.
func (v *ECDSAVerifier) Verify(st *State) error {
	if st == nil || st.Signature == nil || len(st.Signature.Signature) == 0 {
		return ErrInvalidSignature
	}

	h := sha256.Sum256(st.Bytes())

	if !ecdsa.VerifyASN1(v.pub, h[:], st.Signature.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature a ledger service attaches to st.
func Sign(key *ecdsa.PrivateKey, st *State) (*Signature, error) {
	h := sha256.Sum256(st.Bytes())

	sig, err := ecdsa.SignASN1(rand.Reader, key, h[:])
	if err != nil {
		return nil, fmt.Errorf("sign state: %w", err)
	}

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	return &Signature{Signature: sig, PublicKey: pub}, nil
}
