package api_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

func digest(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func header(id, blTxID uint64) *api.TxHeader {
	return &api.TxHeader{
		ID:       id,
		Version:  1,
		NEntries: 1,
		PrevAlh:  digest(1),
		EH:       digest(2),
		BlTxID:   blTxID,
		BlRoot:   digest(3),
	}
}

func TestDigestFrom(t *testing.T) {
	d, err := api.DigestFrom(digest(7))
	require.NoError(t, err)
	assert.Equal(t, byte(7), d[31])

	for _, n := range []int{0, 1, 31, 33} {
		_, err := api.DigestFrom(make([]byte, n))
		assert.ErrorIsf(t, err, store.ErrVerificationFailed, "%d bytes", n)
	}
}

func TestInclusionProofFrom(t *testing.T) {
	p, err := api.InclusionProofFrom(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = api.InclusionProofFrom(&api.InclusionProof{Leaf: 2, Width: 3, Terms: [][]byte{digest(4)}})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Leaf)
	assert.Equal(t, 3, p.Width)
	require.Len(t, p.Terms, 1)
	assert.Equal(t, byte(4), p.Terms[0][0])

	_, err = api.InclusionProofFrom(&api.InclusionProof{Leaf: 0, Width: 2, Terms: [][]byte{{1, 2}}})
	assert.ErrorIs(t, err, store.ErrVerificationFailed)
}

func TestDualProofFrom(t *testing.T) {
	valid := func() *api.DualProof {
		return &api.DualProof{
			SourceTxHeader:     header(2, 1),
			TargetTxHeader:     header(5, 4),
			InclusionProof:     [][]byte{digest(5)},
			ConsistencyProof:   [][]byte{digest(6)},
			TargetBlTxAlh:      digest(7),
			LastInclusionProof: [][]byte{digest(8)},
			LinearProof:        &api.LinearProof{SourceTxID: 4, TargetTxID: 5, Terms: [][]byte{digest(9), digest(10)}},
		}
	}

	p, err := api.DualProofFrom(valid())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), p.TargetTxHeader.ID)
	assert.Equal(t, byte(7), p.TargetBlTxAlh[0])
	assert.Len(t, p.LinearProof.Terms, 2)
	assert.Equal(t, valid(), api.DualProofTo(p))

	// Without a linked transaction the target Alh of the linking tx is not sent.
	unlinked := valid()
	unlinked.TargetTxHeader = header(5, 0)
	unlinked.TargetBlTxAlh = nil
	p, err = api.DualProofFrom(unlinked)
	require.NoError(t, err)
	assert.Equal(t, store.Digest{}, p.TargetBlTxAlh)
	assert.Nil(t, api.DualProofTo(p).TargetBlTxAlh)

	cases := map[string]func(*api.DualProof){
		"missing target bl alh": func(p *api.DualProof) { p.TargetBlTxAlh = nil },
		"short target bl alh":   func(p *api.DualProof) { p.TargetBlTxAlh = []byte{1} },
		"no source header":      func(p *api.DualProof) { p.SourceTxHeader = nil },
		"no target header":      func(p *api.DualProof) { p.TargetTxHeader = nil },
		"short bl root":         func(p *api.DualProof) { p.TargetTxHeader.BlRoot = digest(1)[:31] },
		"short inclusion term":  func(p *api.DualProof) { p.InclusionProof[0] = nil },
		"short consistency":     func(p *api.DualProof) { p.ConsistencyProof[0] = []byte{1} },
		"short last inclusion":  func(p *api.DualProof) { p.LastInclusionProof[0] = digest(1)[:16] },
		"short linear term":     func(p *api.DualProof) { p.LinearProof.Terms[1] = []byte{} },
	}
	for name, tamper := range cases {
		t.Run(name, func(t *testing.T) {
			p := valid()
			tamper(p)
			_, err := api.DualProofFrom(p)
			assert.ErrorIs(t, err, store.ErrVerificationFailed)
		})
	}

	_, err = api.DualProofFrom(nil)
	assert.ErrorIs(t, err, store.ErrVerificationFailed)
}
