// Package htree builds the per-transaction Merkle tree over entry digests and
// produces and verifies inclusion proofs against its root.
//
// The tree is not a perfect binary tree. At every level nodes are paired left
// to right; a trailing unpaired node is promoted to the next level as is,
// without hashing. Proof generation and verification both depend on this rule.
package htree

import (
	"crypto/sha256"
	"errors"
	"math/bits"
)

const (
	LeafPrefix = byte(0)
	NodePrefix = byte(1)
)

var (
	ErrIllegalArguments = errors.New("htree: illegal arguments")
	ErrMaxWidthExceeded = errors.New("htree: max width exceeded")
)

// HTree is a dense, level-indexed node arena sized once for maxWidth leaves.
type HTree struct {
	levels   [][][sha256.Size]byte
	maxWidth int
	width    int
	root     [sha256.Size]byte
}

// InclusionProof is the sibling path from a leaf up to the root, ordered
// leaf to root.
type InclusionProof struct {
	Leaf  int
	Width int
	Terms [][sha256.Size]byte
}

// New allocates a tree able to hold up to maxWidth leaves.
func New(maxWidth int) (*HTree, error) {
	if maxWidth < 1 {
		return nil, ErrIllegalArguments
	}

	lw := 1
	for lw < maxWidth {
		lw <<= 1
	}

	height := bits.Len(uint(maxWidth-1)) + 1

	levels := make([][][sha256.Size]byte, height)
	for l := 0; l < height; l++ {
		levels[l] = make([][sha256.Size]byte, lw>>l)
	}

	return &HTree{
		levels:   levels,
		maxWidth: maxWidth,
	}, nil
}

// BuildWith replaces the tree content with the given leaf digests, in order.
func (t *HTree) BuildWith(digests [][sha256.Size]byte) error {
	if len(digests) > t.maxWidth {
		return ErrMaxWidthExceeded
	}
	if len(digests) == 0 {
		return ErrIllegalArguments
	}

	for i, d := range digests {
		t.levels[0][i] = LeafDigest(d)
	}

	l := 0
	w := len(digests)

	for w > 1 {
		wn := 0

		for i := 0; i+1 < w; i += 2 {
			t.levels[l+1][wn] = nodeDigest(t.levels[l][i], t.levels[l][i+1])
			wn++
		}

		if w%2 == 1 {
			t.levels[l+1][wn] = t.levels[l][w-1]
			wn++
		}

		l++
		w = wn
	}

	t.width = len(digests)
	t.root = t.levels[l][0]

	return nil
}

// Root returns the root of the last built tree.
func (t *HTree) Root() [sha256.Size]byte {
	return t.root
}

// Width returns the number of leaves of the last built tree.
func (t *HTree) Width() int {
	return t.width
}

// MaxWidth returns the capacity fixed at creation.
func (t *HTree) MaxWidth() int {
	return t.maxWidth
}

// InclusionProof returns the proof for the i-th leaf.
//
// The current range [offset, offset+n) is split at the largest power of two
// below n. The half not holding i is covered by exactly one stored node,
// which becomes the next term; the search continues in the other half.
func (t *HTree) InclusionProof(i int) (*InclusionProof, error) {
	if i < 0 || i >= t.width {
		return nil, ErrIllegalArguments
	}

	m := i
	n := t.width
	offset := 0

	proof := &InclusionProof{
		Leaf:  i,
		Width: t.width,
	}

	if t.width == 1 {
		return proof, nil
	}

	for {
		d := bits.Len(uint(n - 1))
		k := 1 << (d - 1)

		var l, r int

		if m < k {
			l, r = offset+k, offset+n-1
			n = k
		} else {
			l, r = offset, offset+k-1
			m -= k
			n -= k
			offset += k
		}

		layer := bits.Len(uint(r - l))
		index := l / (1 << layer)

		proof.Terms = append([][sha256.Size]byte{t.levels[layer][index]}, proof.Terms...)

		if n < 1 || (n == 1 && m == 0) {
			return proof, nil
		}
	}
}

// VerifyInclusion reports whether digest, placed at proof.Leaf in a tree of
// proof.Width leaves, hashes up to root.
func VerifyInclusion(proof *InclusionProof, digest, root [sha256.Size]byte) bool {
	if proof == nil || proof.Width < 1 || proof.Leaf < 0 || proof.Leaf >= proof.Width {
		return false
	}

	calcRoot := LeafDigest(digest)

	i := proof.Leaf
	r := proof.Width - 1

	for _, t := range proof.Terms {
		if i%2 == 0 && i != r {
			calcRoot = nodeDigest(calcRoot, t)
		} else {
			calcRoot = nodeDigest(t, calcRoot)
		}

		i /= 2
		r /= 2
	}

	return i == r && root == calcRoot
}

// LeafDigest returns sha256(0x00 ‖ d).
func LeafDigest(d [sha256.Size]byte) [sha256.Size]byte {
	var b [1 + sha256.Size]byte
	b[0] = LeafPrefix
	copy(b[1:], d[:])
	return sha256.Sum256(b[:])
}

func nodeDigest(left, right [sha256.Size]byte) [sha256.Size]byte {
	var b [1 + 2*sha256.Size]byte
	b[0] = NodePrefix
	copy(b[1:], left[:])
	copy(b[1+sha256.Size:], right[:])
	return sha256.Sum256(b[:])
}
