package state

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// Field numbers of the persisted checkpoint record.
const (
	fieldDatabase  protowire.Number = 1
	fieldTxID      protowire.Number = 2
	fieldTxHash    protowire.Number = 3
	fieldSignature protowire.Number = 4
	fieldPublicKey protowire.Number = 5
)

func marshalState(st *State) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldDatabase, protowire.BytesType)
	b = protowire.AppendString(b, st.Database)

	b = protowire.AppendTag(b, fieldTxID, protowire.VarintType)
	b = protowire.AppendVarint(b, st.TxID)

	b = protowire.AppendTag(b, fieldTxHash, protowire.BytesType)
	b = protowire.AppendBytes(b, st.TxHash[:])

	if st.Signature != nil {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, st.Signature.Signature)

		b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
		b = protowire.AppendBytes(b, st.Signature.PublicKey)
	}

	return b
}

func unmarshalState(b []byte) (*State, error) {
	st := &State{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedState, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldDatabase && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: database: %v", ErrCorruptedState, protowire.ParseError(n))
			}
			st.Database = v
			b = b[n:]

		case num == fieldTxID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: tx id: %v", ErrCorruptedState, protowire.ParseError(n))
			}
			st.TxID = v
			b = b[n:]

		case num == fieldTxHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: tx hash: %v", ErrCorruptedState, protowire.ParseError(n))
			}
			if len(v) != len(store.Digest{}) {
				return nil, fmt.Errorf("%w: tx hash of %d bytes", ErrCorruptedState, len(v))
			}
			copy(st.TxHash[:], v)
			b = b[n:]

		case (num == fieldSignature || num == fieldPublicKey) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: signature: %v", ErrCorruptedState, protowire.ParseError(n))
			}
			if st.Signature == nil {
				st.Signature = &Signature{}
			}
			if num == fieldSignature {
				st.Signature.Signature = append([]byte(nil), v...)
			} else {
				st.Signature.PublicKey = append([]byte(nil), v...)
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrCorruptedState, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return st, nil
}
