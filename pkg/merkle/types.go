package merkle

import (
	"github.com/ethereum/go-ethereum/common"
	merkletree "github.com/wealdtech/go-merkletree/v2"
)

// MerkleTree is a binary merkle tree over distribution leaves.
// Pairs are combined in sorted order so proofs need no position bits.
type MerkleTree struct {
	// Leaves contains the leaf digests in index order
	Leaves []common.Hash

	// Root is the merkle root hash
	Root common.Hash

	// levels[0] = leaves, levels[len-1] = root
	levels [][]common.Hash

	hasher merkletree.HashType
}

// MerkleProof is the inclusion proof for one leaf.
type MerkleProof struct {
	LeafIndex uint64
	Leaf      common.Hash

	// Proof contains sibling hashes from leaf to root
	Proof []common.Hash
}

// Depth returns the number of levels above the leaves
func (mt *MerkleTree) Depth() int {
	return len(mt.levels) - 1
}
