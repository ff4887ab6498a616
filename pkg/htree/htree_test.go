package htree

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDigests(n int) [][sha256.Size]byte {
	digests := make([][sha256.Size]byte, n)
	for i := range digests {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(i))
		digests[i] = sha256.Sum256(b[:])
	}
	return digests
}

func TestNew_illegalWidth(t *testing.T) {
	_, err := New(0)
	require.ErrorIs(t, err, ErrIllegalArguments)
}

func TestBuildWith_bounds(t *testing.T) {
	tree, err := New(4)
	require.NoError(t, err)

	require.ErrorIs(t, tree.BuildWith(nil), ErrIllegalArguments)
	require.ErrorIs(t, tree.BuildWith(testDigests(5)), ErrMaxWidthExceeded)
	require.NoError(t, tree.BuildWith(testDigests(4)))
	assert.Equal(t, 4, tree.Width())
}

// TestThreeLeaves checks the promotion rule on an odd level.
func TestThreeLeaves(t *testing.T) {
	d := testDigests(3)

	tree, err := New(3)
	require.NoError(t, err)
	require.NoError(t, tree.BuildWith(d))

	h0 := LeafDigest(d[0])
	h1 := LeafDigest(d[1])
	h2 := LeafDigest(d[2])

	l1 := nodeDigest(h0, h1)
	root := nodeDigest(l1, h2)
	assert.Equal(t, root, tree.Root())

	proof, err := tree.InclusionProof(2)
	require.NoError(t, err)
	assert.Equal(t, 2, proof.Leaf)
	assert.Equal(t, 3, proof.Width)
	assert.Equal(t, [][sha256.Size]byte{l1}, proof.Terms)
	assert.True(t, VerifyInclusion(proof, d[2], root))

	proof, err = tree.InclusionProof(0)
	require.NoError(t, err)
	assert.Equal(t, [][sha256.Size]byte{h1, h2}, proof.Terms)
	assert.True(t, VerifyInclusion(proof, d[0], root))
}

func TestSingleLeaf(t *testing.T) {
	d := testDigests(1)

	tree, err := New(1)
	require.NoError(t, err)
	require.NoError(t, tree.BuildWith(d))
	assert.Equal(t, LeafDigest(d[0]), tree.Root())

	proof, err := tree.InclusionProof(0)
	require.NoError(t, err)
	assert.Empty(t, proof.Terms)
	assert.True(t, VerifyInclusion(proof, d[0], tree.Root()))
}

func TestInclusionProof_outOfRange(t *testing.T) {
	tree, err := New(8)
	require.NoError(t, err)
	require.NoError(t, tree.BuildWith(testDigests(5)))

	_, err = tree.InclusionProof(5)
	require.ErrorIs(t, err, ErrIllegalArguments)

	_, err = tree.InclusionProof(-1)
	require.ErrorIs(t, err, ErrIllegalArguments)
}

func TestInclusionProof_allWidths(t *testing.T) {
	const maxWidth = 67

	for n := 1; n <= maxWidth; n++ {
		d := testDigests(n)

		tree, err := New(maxWidth)
		require.NoError(t, err)
		require.NoError(t, tree.BuildWith(d))

		for i := 0; i < n; i++ {
			proof, err := tree.InclusionProof(i)
			require.NoError(t, err)
			require.Truef(t, VerifyInclusion(proof, d[i], tree.Root()), "width %d leaf %d", n, i)
		}
	}
}

func TestVerifyInclusion_tampering(t *testing.T) {
	const n = 13

	d := testDigests(n)

	tree, err := New(n)
	require.NoError(t, err)
	require.NoError(t, tree.BuildWith(d))
	root := tree.Root()

	for i := 0; i < n; i++ {
		proof, err := tree.InclusionProof(i)
		require.NoError(t, err)

		for j := range proof.Terms {
			tampered := &InclusionProof{Leaf: proof.Leaf, Width: proof.Width}
			tampered.Terms = append(tampered.Terms, proof.Terms...)
			tampered.Terms[j][0] ^= 0xff
			assert.False(t, VerifyInclusion(tampered, d[i], root))
		}

		badDigest := d[i]
		badDigest[31] ^= 1
		assert.False(t, VerifyInclusion(proof, badDigest, root))

		badRoot := root
		badRoot[0] ^= 1
		assert.False(t, VerifyInclusion(proof, d[i], badRoot))

		if i > 0 {
			moved := &InclusionProof{Leaf: i - 1, Width: proof.Width, Terms: proof.Terms}
			assert.False(t, VerifyInclusion(moved, d[i], root))
		}
	}
}

func TestVerifyInclusion_nilProof(t *testing.T) {
	assert.False(t, VerifyInclusion(nil, [sha256.Size]byte{}, [sha256.Size]byte{}))
}

func TestRebuildSmallerWidth(t *testing.T) {
	tree, err := New(8)
	require.NoError(t, err)
	require.NoError(t, tree.BuildWith(testDigests(8)))

	d := testDigests(3)
	require.NoError(t, tree.BuildWith(d))
	assert.Equal(t, 3, tree.Width())

	other, err := New(3)
	require.NoError(t, err)
	require.NoError(t, other.BuildWith(d))
	assert.Equal(t, other.Root(), tree.Root())
}
