package merkle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	merkletree "github.com/wealdtech/go-merkletree/v2"
	"github.com/wealdtech/go-merkletree/v2/keccak256"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ErrEmptyTree is returned when building a tree without leaves
var ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf list")

// LeafSize is the packed length of a leaf: uint256 index, address, uint256 amount
const LeafSize = 32 + common.AddressLength + 32

// DefaultHasher returns the keccak256 hash used by the ledger
func DefaultHasher() merkletree.HashType {
	return keccak256.New()
}

// BuildMerkleTree creates a merkle tree from leaves using keccak256.
//
// leaves[i].Index must equal i. If a level has an odd number of nodes the last
// node is paired with itself, so every proof has the same length.
func BuildMerkleTree(leaves []*types.Leaf) (*MerkleTree, error) {
	return BuildMerkleTreeWithHash(leaves, DefaultHasher())
}

// BuildMerkleTreeWithHash is BuildMerkleTree with a caller supplied 32 byte hash function.
func BuildMerkleTreeWithHash(leaves []*types.Leaf, hasher merkletree.HashType) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if hasher.HashLength() != common.HashLength {
		return nil, fmt.Errorf("hasher produces %d byte digests, need %d", hasher.HashLength(), common.HashLength)
	}

	digests := make([]common.Hash, len(leaves))
	for i, leaf := range leaves {
		if leaf == nil {
			return nil, fmt.Errorf("leaf %d is nil", i)
		}
		if leaf.Index != uint64(i) {
			return nil, fmt.Errorf("leaf at position %d has index %d, indices must be dense and ordered", i, leaf.Index)
		}
		digest, err := hashLeaf(hasher, leaf.Index, leaf.Account, leaf.Amount)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		digests[i] = digest
	}

	levels := [][]common.Hash{digests}
	currentLevel := digests
	for len(currentLevel) > 1 {
		nextLevel := make([]common.Hash, 0, (len(currentLevel)+1)/2)
		for i := 0; i < len(currentLevel); i += 2 {
			left := currentLevel[i]
			right := left
			if i+1 < len(currentLevel) {
				right = currentLevel[i+1]
			}
			nextLevel = append(nextLevel, hashPair(hasher, left, right))
		}
		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: digests,
		Root:   currentLevel[0],
		levels: levels,
		hasher: hasher,
	}, nil
}

// GenerateProof returns the sibling hashes for the leaf at leafIndex.
func (mt *MerkleTree) GenerateProof(leafIndex uint64) (*MerkleProof, error) {
	if leafIndex >= uint64(len(mt.Leaves)) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([]common.Hash, 0, mt.Depth())
	index := int(leafIndex)
	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index ^ 1
		if siblingIndex >= len(currentLevel) {
			// odd level, the node is its own sibling
			siblingIndex = index
		}
		proof = append(proof, currentLevel[siblingIndex])
		index /= 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     proof,
	}, nil
}

// VerifyProof recomputes the leaf for (index, account, amount), folds the proof into it
// and reports whether the result equals root. It uses keccak256.
func VerifyProof(index uint64, account common.Address, amount *big.Int, proof []common.Hash, root common.Hash) bool {
	return VerifyProofWithHash(DefaultHasher(), index, account, amount, proof, root)
}

// VerifyProofWithHash is VerifyProof with a caller supplied hash function.
func VerifyProofWithHash(hasher merkletree.HashType, index uint64, account common.Address, amount *big.Int, proof []common.Hash, root common.Hash) bool {
	leaf, err := hashLeaf(hasher, index, account, amount)
	if err != nil {
		return false
	}
	return VerifyLeafProof(hasher, leaf, proof, root)
}

// VerifyLeafProof folds proof into an already hashed leaf and compares with root.
func VerifyLeafProof(hasher merkletree.HashType, leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	current := leaf
	for _, sibling := range proof {
		current = hashPair(hasher, current, sibling)
	}
	return current == root
}

// HashLeaf returns keccak256(abi.encodePacked(uint256 index, address account, uint256 amount)).
func HashLeaf(index uint64, account common.Address, amount *big.Int) (common.Hash, error) {
	return hashLeaf(DefaultHasher(), index, account, amount)
}

// EncodeLeaf packs a leaf into its LeafSize byte preimage.
func EncodeLeaf(index uint64, account common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount is required")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %s is negative", amount.String())
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("amount %s does not fit in 256 bits", amount.String())
	}

	data := make([]byte, LeafSize)
	binary.BigEndian.PutUint64(data[24:32], index)
	copy(data[32:32+common.AddressLength], account.Bytes())
	amount.FillBytes(data[32+common.AddressLength:])
	return data, nil
}

func hashLeaf(hasher merkletree.HashType, index uint64, account common.Address, amount *big.Int) (common.Hash, error) {
	data, err := EncodeLeaf(index, account, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(hasher.Hash(data)), nil
}

// hashPair computes hash(min(a, b) || max(a, b)).
func hashPair(hasher merkletree.HashType, a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return common.BytesToHash(hasher.Hash(a[:], b[:]))
}
