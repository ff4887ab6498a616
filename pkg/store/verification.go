package store

import (
	"crypto/sha256"

	"github.com/jmerrifield20/ledgerclient/pkg/htree"
)

// DualProof links a source transaction to a target transaction through both
// the accumulated hash tree and the linear Alh chain.
type DualProof struct {
	SourceTxHeader     *TxHeader
	TargetTxHeader     *TxHeader
	InclusionProof     []Digest
	ConsistencyProof   []Digest
	TargetBlTxAlh      Digest
	LastInclusionProof []Digest
	LinearProof        *LinearProof
}

// LinearProof carries Alh@SourceTxID followed by the inner hash of every
// later transaction up to TargetTxID.
type LinearProof struct {
	SourceTxID uint64
	TargetTxID uint64
	Terms      []Digest
}

// VerifyInclusion checks an entry digest against a transaction's entries root.
func VerifyInclusion(proof *htree.InclusionProof, digest, root Digest) bool {
	return htree.VerifyInclusion(proof, digest, root)
}

// VerifyDualProof checks that targetAlh@targetTxID extends sourceAlh@sourceTxID.
func VerifyDualProof(proof *DualProof, sourceTxID, targetTxID uint64, sourceAlh, targetAlh Digest) bool {
	if proof == nil || proof.SourceTxHeader == nil || proof.TargetTxHeader == nil {
		return false
	}

	source := proof.SourceTxHeader
	target := proof.TargetTxHeader

	if source.ID != sourceTxID || target.ID != targetTxID {
		return false
	}

	if source.ID == 0 || source.ID > target.ID {
		return false
	}

	alh, err := source.Alh()
	if err != nil || alh != sourceAlh {
		return false
	}

	alh, err = target.Alh()
	if err != nil || alh != targetAlh {
		return false
	}

	if sourceTxID < target.BlTxID &&
		!VerifyInclusionAHT(proof.InclusionProof, sourceTxID, target.BlTxID, leafFor(sourceAlh), target.BlRoot) {
		return false
	}

	if source.BlTxID > 0 &&
		!VerifyConsistency(proof.ConsistencyProof, source.BlTxID, target.BlTxID, source.BlRoot, target.BlRoot) {
		return false
	}

	if target.BlTxID > 0 &&
		!VerifyLastInclusion(proof.LastInclusionProof, target.BlTxID, leafFor(proof.TargetBlTxAlh), target.BlRoot) {
		return false
	}

	if sourceTxID < target.BlTxID {
		return VerifyLinearProof(proof.LinearProof, target.BlTxID, targetTxID, proof.TargetBlTxAlh, targetAlh)
	}

	return VerifyLinearProof(proof.LinearProof, sourceTxID, targetTxID, sourceAlh, targetAlh)
}

// VerifyInclusionAHT checks that iLeaf is the i-th leaf (1-based) of the
// accumulated hash tree of size j rooted at jRoot.
func VerifyInclusionAHT(iproof []Digest, i, j uint64, iLeaf, jRoot Digest) bool {
	if i > j || i == 0 || (i < j && len(iproof) == 0) {
		return false
	}

	i1 := i - 1
	j1 := j - 1

	ciRoot := iLeaf

	for _, h := range iproof {
		if i1%2 == 0 && i1 != j1 {
			ciRoot = nodeFor(ciRoot, h)
		} else {
			ciRoot = nodeFor(h, ciRoot)
		}

		i1 >>= 1
		j1 >>= 1
	}

	return jRoot == ciRoot
}

// VerifyConsistency checks that the accumulated hash tree of size j rooted at
// jRoot is an append-only extension of the one of size i rooted at iRoot.
func VerifyConsistency(cproof []Digest, i, j uint64, iRoot, jRoot Digest) bool {
	if i > j || i == 0 || (i < j && len(cproof) == 0) {
		return false
	}

	if i == j && len(cproof) == 0 {
		return iRoot == jRoot
	}

	fn := i - 1
	sn := j - 1

	for fn%2 == 1 {
		fn >>= 1
		sn >>= 1
	}

	ciRoot, cjRoot := cproof[0], cproof[0]

	for _, h := range cproof[1:] {
		if fn%2 == 1 || fn == sn {
			ciRoot = nodeFor(h, ciRoot)
			cjRoot = nodeFor(h, cjRoot)

			for fn%2 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			cjRoot = nodeFor(cjRoot, h)
		}

		fn >>= 1
		sn >>= 1
	}

	return iRoot == ciRoot && jRoot == cjRoot
}

// VerifyLastInclusion checks that leaf is the rightmost leaf of the
// accumulated hash tree of size i. Every sibling on that path is on the left.
func VerifyLastInclusion(iproof []Digest, i uint64, leaf, root Digest) bool {
	if i == 0 {
		return false
	}

	iRoot := leaf

	for _, h := range iproof {
		iRoot = nodeFor(h, iRoot)
	}

	return root == iRoot
}

// VerifyLinearProof replays the Alh recurrence from sourceAlh over the proof
// terms and checks that it ends at targetAlh.
func VerifyLinearProof(proof *LinearProof, sourceTxID, targetTxID uint64, sourceAlh, targetAlh Digest) bool {
	if proof == nil || proof.SourceTxID != sourceTxID || proof.TargetTxID != targetTxID {
		return false
	}

	if proof.SourceTxID == 0 || proof.SourceTxID > proof.TargetTxID ||
		uint64(len(proof.Terms)) != proof.TargetTxID-proof.SourceTxID+1 || sourceAlh != proof.Terms[0] {
		return false
	}

	calculatedAlh := proof.Terms[0]

	for i := 1; i < len(proof.Terms); i++ {
		calculatedAlh = chainAlh(proof.SourceTxID+uint64(i), calculatedAlh, proof.Terms[i])
	}

	return targetAlh == calculatedAlh
}

func leafFor(d Digest) Digest {
	return htree.LeafDigest(d)
}

func nodeFor(left, right Digest) Digest {
	var b [1 + 2*sha256.Size]byte
	b[0] = htree.NodePrefix
	copy(b[1:], left[:])
	copy(b[1+sha256.Size:], right[:])
	return sha256.Sum256(b[:])
}
