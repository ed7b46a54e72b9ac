package merkle

// Path is a Merkle membership path for one leaf, consumed by off-chain
// provers as the private tree witness.
type Path struct {
	// LeafIndex is the leaf's position in the append-only leaf sequence
	LeafIndex uint32

	// Leaf is the commitment stored at LeafIndex
	Leaf [32]byte

	// Siblings contains the sibling node at each level, level 0 first
	Siblings [][32]byte

	// Bits[i] is 1 when the leaf's ancestor at level i is a right child
	// (its sibling sits on the left), 0 otherwise
	Bits []uint8
}
