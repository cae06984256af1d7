// Package merkle implements the summary/detail commitment tree used by
// disclosure statements: a standard binary tree over leaf hashes with
// odd-node duplication, proof generation, and verification. The
// level-by-level construction is small enough to own outright, and
// keeping it in its own leaf package (next to pkg/canonical) keeps the
// crypto primitives free of service dependencies.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kuibu/transparent-company/pkg/canonical"
)

// EmptyRoot is the root of a tree with zero leaves: sha256 of the empty
// byte string.
var EmptyRoot = func() string {
	sum := sha256.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// HashLeafPayload hashes a canonical payload map into a leaf hash.
func HashLeafPayload(payload canonical.Map) (string, error) {
	return canonical.Hash(payload)
}

// HashPair combines two hex-encoded child hashes into their parent hash.
func HashPair(leftHex, rightHex string) (string, error) {
	left, err := hex.DecodeString(leftHex)
	if err != nil {
		return "", fmt.Errorf("merkle: bad left hash: %w", err)
	}
	right, err := hex.DecodeString(rightHex)
	if err != nil {
		return "", fmt.Errorf("merkle: bad right hash: %w", err)
	}
	sum := sha256.Sum256(append(append([]byte{}, left...), right...))
	return hex.EncodeToString(sum[:]), nil
}

// Direction indicates which side of the accumulated hash a proof node's
// sibling hash sits on when walking a proof back to the root.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// ProofNode is one step of an inclusion proof.
type ProofNode struct {
	Direction Direction
	Hash      string
}

// Tree is an immutable binary Merkle tree over leaf hashes.
type Tree struct {
	leaves []string
	levels [][]string
}

// New builds a Tree from an ordered slice of leaf hashes (hex-encoded
// sha256 digests). An empty slice produces the canonical EmptyRoot tree.
func New(leafHashes []string) *Tree {
	t := &Tree{leaves: append([]string{}, leafHashes...)}
	if len(t.leaves) == 0 {
		t.levels = [][]string{{EmptyRoot}}
		return t
	}
	current := append([]string{}, t.leaves...)
	t.levels = append(t.levels, current)
	for len(current) > 1 {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
		}
		next := make([]string, 0, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			h, err := HashPair(current[i], current[i+1])
			if err != nil {
				panic(err) // leaf hashes are always well-formed hex by construction
			}
			next = append(next, h)
		}
		t.levels = append(t.levels, next)
		current = next
	}
	return t
}

// Root returns the tree's root hash.
func (t *Tree) Root() string {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) ([]ProofNode, error) {
	if len(t.leaves) == 0 {
		return nil, fmt.Errorf("merkle: cannot build proof from empty tree")
	}
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", index, len(t.leaves))
	}
	var proof []ProofNode
	idx := index
	for levelIdx := 0; levelIdx < len(t.levels)-1; levelIdx++ {
		level := t.levels[levelIdx]
		padded := level
		if len(level)%2 == 1 {
			padded = append(append([]string{}, level...), level[len(level)-1])
		}
		isRight := idx%2 == 1
		siblingIndex := idx + 1
		direction := Right
		if isRight {
			siblingIndex = idx - 1
			direction = Left
		}
		proof = append(proof, ProofNode{Direction: direction, Hash: padded[siblingIndex]})
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from leafHash and proof and compares it
// against root.
func VerifyProof(leafHash string, proof []ProofNode, root string) (bool, error) {
	current := leafHash
	for _, node := range proof {
		var err error
		switch node.Direction {
		case Left:
			current, err = HashPair(node.Hash, current)
		case Right:
			current, err = HashPair(current, node.Hash)
		default:
			return false, fmt.Errorf("merkle: invalid proof direction %q", node.Direction)
		}
		if err != nil {
			return false, err
		}
	}
	return current == root, nil
}

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int { return len(t.leaves) }
