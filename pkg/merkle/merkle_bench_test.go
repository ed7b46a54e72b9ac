package merkle

import (
	"fmt"
	"testing"

	"github.com/umbra-labs/shieldpool-go/pkg/hasher"
)

// BenchmarkHashPair measures a single two-to-one compression
func BenchmarkHashPair(b *testing.B) {
	left, right := randomLeaf(), randomLeaf()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hasher.HashPair(left, right)
	}
}

// BenchmarkTreeInsert measures incremental insertion at various depths
func BenchmarkTreeInsert(b *testing.B) {
	for _, depth := range []int{10, 16, DefaultDepth} {
		b.Run(fmt.Sprintf("Depth_%d", depth), func(b *testing.B) {
			tree, err := NewTree(depth, DefaultHistorySize)
			if err != nil {
				b.Fatal(err)
			}
			leaves := randomLeaves(256)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if tree.LeafCount() == tree.Capacity() {
					b.StopTimer()
					tree, _ = NewTree(depth, DefaultHistorySize)
					b.StartTimer()
				}
				_, _ = tree.Insert(tree.LeafCount(), leaves[i%len(leaves)])
			}
		})
	}
}

// BenchmarkPathGeneration measures path extraction from a populated tree
func BenchmarkPathGeneration(b *testing.B) {
	tree, err := NewTree(DefaultDepth, DefaultHistorySize)
	if err != nil {
		b.Fatal(err)
	}
	const population = 512
	for i, leaf := range randomLeaves(population) {
		if _, err := tree.Insert(uint32(i), leaf); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tree.Path(uint32(i % population))
	}
}

// BenchmarkVerifyPath measures membership verification against the root
func BenchmarkVerifyPath(b *testing.B) {
	tree, err := NewTree(DefaultDepth, DefaultHistorySize)
	if err != nil {
		b.Fatal(err)
	}
	for i, leaf := range randomLeaves(64) {
		if _, err := tree.Insert(uint32(i), leaf); err != nil {
			b.Fatal(err)
		}
	}
	path, err := tree.Path(17)
	if err != nil {
		b.Fatal(err)
	}
	root := tree.Root()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyPath(path, root)
	}
}

// BenchmarkIsKnownRoot measures root window lookups at full window size
func BenchmarkIsKnownRoot(b *testing.B) {
	tree, err := NewTree(DefaultDepth, DefaultHistorySize)
	if err != nil {
		b.Fatal(err)
	}
	for i, leaf := range randomLeaves(DefaultHistorySize + 10) {
		if _, err := tree.Insert(uint32(i), leaf); err != nil {
			b.Fatal(err)
		}
	}
	history := tree.History()
	oldest := history[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tree.IsKnownRoot(oldest)
	}
}
