package store

import (
	"encoding/binary"
	"fmt"
	"time"
)

type attributeCode byte

const (
	deletedAttrCode      attributeCode = 0
	expiresAtAttrCode    attributeCode = 1
	nonIndexableAttrCode attributeCode = 2
)

const expiresAtAttrSize = 8

// KVMetadata is the optional attribute set attached to an entry. Each
// attribute is independently present or absent.
type KVMetadata struct {
	deleted      bool
	expiresAt    *time.Time
	nonIndexable bool
	readonly     bool
}

func NewKVMetadata() *KVMetadata {
	return &KVMetadata{}
}

func (md *KVMetadata) AsDeleted(deleted bool) error {
	if md.readonly {
		return ErrReadOnly
	}
	md.deleted = deleted
	return nil
}

func (md *KVMetadata) Deleted() bool {
	return md.deleted
}

// ExpiresAt marks the entry as expiring at t. Only second precision is kept.
func (md *KVMetadata) ExpiresAt(t time.Time) error {
	if md.readonly {
		return ErrReadOnly
	}
	exp := time.Unix(t.Unix(), 0)
	md.expiresAt = &exp
	return nil
}

func (md *KVMetadata) NonExpirable() error {
	if md.readonly {
		return ErrReadOnly
	}
	md.expiresAt = nil
	return nil
}

func (md *KVMetadata) IsExpirable() bool {
	return md.expiresAt != nil
}

func (md *KVMetadata) ExpirationTime() (time.Time, error) {
	if md.expiresAt == nil {
		return time.Time{}, ErrNonExpirable
	}
	return *md.expiresAt, nil
}

// ExpiredAt reports whether the entry is expired at the given instant.
func (md *KVMetadata) ExpiredAt(now time.Time) bool {
	return md.expiresAt != nil && !now.Before(*md.expiresAt)
}

func (md *KVMetadata) AsNonIndexable(nonIndexable bool) error {
	if md.readonly {
		return ErrReadOnly
	}
	md.nonIndexable = nonIndexable
	return nil
}

func (md *KVMetadata) NonIndexable() bool {
	return md.nonIndexable
}

// IsEmpty reports whether no attribute is set.
func (md *KVMetadata) IsEmpty() bool {
	return md == nil || (!md.deleted && md.expiresAt == nil && !md.nonIndexable)
}

// Bytes returns the canonical encoding: attributes in ascending code order,
// expiration carried as an 8 byte big-endian unix timestamp.
func (md *KVMetadata) Bytes() []byte {
	if md.IsEmpty() {
		return nil
	}

	var b []byte

	if md.deleted {
		b = append(b, byte(deletedAttrCode))
	}

	if md.expiresAt != nil {
		b = append(b, byte(expiresAtAttrCode))
		b = binary.BigEndian.AppendUint64(b, uint64(md.expiresAt.Unix()))
	}

	if md.nonIndexable {
		b = append(b, byte(nonIndexableAttrCode))
	}

	return b
}

// ReadFrom decodes the canonical encoding. Decoded metadata is read-only.
func (md *KVMetadata) ReadFrom(b []byte) error {
	*md = KVMetadata{}

	var last attributeCode
	first := true

	for i := 0; i < len(b); {
		code := attributeCode(b[i])
		i++

		if !first && code <= last {
			return fmt.Errorf("%w: attribute %d out of order", ErrCorruptedMetadata, code)
		}
		first = false
		last = code

		switch code {
		case deletedAttrCode:
			md.deleted = true
		case expiresAtAttrCode:
			if len(b)-i < expiresAtAttrSize {
				return fmt.Errorf("%w: truncated expiration", ErrCorruptedMetadata)
			}
			exp := time.Unix(int64(binary.BigEndian.Uint64(b[i:])), 0)
			md.expiresAt = &exp
			i += expiresAtAttrSize
		case nonIndexableAttrCode:
			md.nonIndexable = true
		default:
			return fmt.Errorf("%w: unknown attribute %d", ErrCorruptedMetadata, code)
		}
	}

	md.readonly = true

	return nil
}
