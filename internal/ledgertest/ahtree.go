package ledgertest

import (
	"crypto/sha256"
	"fmt"

	"github.com/jmerrifield20/ledgerclient/pkg/htree"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// AHTree is an append-only Merkle tree over transaction Alh values, shaped
// as in RFC 6962: a tree of n leaves splits at the largest power of two
// smaller than n. Positions are 1-based, matching transaction ids.
type AHTree struct {
	leaves []store.Digest
}

func (t *AHTree) Append(alh store.Digest) {
	t.leaves = append(t.leaves, htree.LeafDigest(alh))
}

func (t *AHTree) Size() uint64 {
	return uint64(len(t.leaves))
}

// Root returns the root of the tree made of the first n leaves, or the zero
// digest for n == 0.
func (t *AHTree) Root(n uint64) (store.Digest, error) {
	if n > t.Size() {
		return store.Digest{}, fmt.Errorf("%w: root of %d leaves out of %d", store.ErrIllegalArguments, n, t.Size())
	}
	if n == 0 {
		return store.Digest{}, nil
	}
	return mth(t.leaves[:n]), nil
}

// InclusionProof proves leaf i within the tree of size j.
func (t *AHTree) InclusionProof(i, j uint64) ([]store.Digest, error) {
	if i == 0 || i > j || j > t.Size() {
		return nil, fmt.Errorf("%w: inclusion of %d in %d", store.ErrIllegalArguments, i, j)
	}
	return path(i-1, t.leaves[:j]), nil
}

// ConsistencyProof proves the tree of size j extends the one of size i. The
// first term is always the subtree root the old tree is rebuilt from.
func (t *AHTree) ConsistencyProof(i, j uint64) ([]store.Digest, error) {
	if i == 0 || i > j || j > t.Size() {
		return nil, fmt.Errorf("%w: consistency of %d with %d", store.ErrIllegalArguments, i, j)
	}
	return subproof(i, t.leaves[:j]), nil
}

// LastInclusionProof proves leaf j is the last one of the tree of size j.
func (t *AHTree) LastInclusionProof(j uint64) ([]store.Digest, error) {
	return t.InclusionProof(j, j)
}

func split(n uint64) uint64 {
	k := uint64(1)
	for k<<1 < n {
		k <<= 1
	}
	return k
}

func mth(leaves []store.Digest) store.Digest {
	n := uint64(len(leaves))
	if n == 1 {
		return leaves[0]
	}
	k := split(n)
	return node(mth(leaves[:k]), mth(leaves[k:]))
}

func path(m uint64, leaves []store.Digest) []store.Digest {
	n := uint64(len(leaves))
	if n == 1 {
		return nil
	}

	k := split(n)
	if m < k {
		return append(path(m, leaves[:k]), mth(leaves[k:]))
	}
	return append(path(m-k, leaves[k:]), mth(leaves[:k]))
}

// subproof is RFC 6962 SUBPROOF with the old subtree root always included.
func subproof(m uint64, leaves []store.Digest) []store.Digest {
	n := uint64(len(leaves))
	if m == n {
		return []store.Digest{mth(leaves)}
	}

	k := split(n)
	if m <= k {
		return append(subproof(m, leaves[:k]), mth(leaves[k:]))
	}
	return append(subproof(m-k, leaves[k:]), mth(leaves[:k]))
}

func node(left, right store.Digest) store.Digest {
	var b [1 + 2*sha256.Size]byte
	b[0] = htree.NodePrefix
	copy(b[1:], left[:])
	copy(b[1+sha256.Size:], right[:])
	return sha256.Sum256(b[:])
}
