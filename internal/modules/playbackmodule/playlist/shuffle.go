package playlist

import (
	"math/rand"
)

// permutation maps cursor positions to original sort orders for n
// materialized items. It is a pure function of the generator's persisted
// shuffle state, so the same generator row always replays the same order.
// Block-shuffled generators permute each chunk independently: appending a
// chunk leaves every earlier position's mapping untouched.
func permutation(gen *Generator, n int) []int {
	if n <= 0 {
		return nil
	}
	if !gen.Shuffle {
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		return perm
	}

	var perm []int
	if gen.BlockShuffle && gen.ChunkSize > 0 {
		perm = make([]int, 0, n)
		for start := 0; start < n; start += gen.ChunkSize {
			end := start + gen.ChunkSize
			if end > n {
				end = n
			}
			rng := rand.New(rand.NewSource(gen.ShuffleSeed + int64(start)))
			for _, i := range rng.Perm(end - start) {
				perm = append(perm, start+i)
			}
		}
	} else {
		perm = rand.New(rand.NewSource(gen.ShuffleSeed)).Perm(n)
	}

	// Pin the item that was playing when shuffle was toggled to the cursor
	// position it was toggled at.
	if gen.AnchorIndex >= 0 && gen.AnchorIndex < n && gen.AnchorPos >= 0 && gen.AnchorPos < n {
		for j, original := range perm {
			if original == gen.AnchorIndex {
				perm[gen.AnchorPos], perm[j] = perm[j], perm[gen.AnchorPos]
				break
			}
		}
	}
	return perm
}

// permutedIndex resolves one cursor position to its original sort order.
func permutedIndex(gen *Generator, pos, n int) int {
	if pos < 0 || pos >= n {
		return -1
	}
	if !gen.Shuffle {
		return pos
	}
	return permutation(gen, n)[pos]
}
