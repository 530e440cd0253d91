package random

import (
	"fmt"
	"testing"
)

func TestShufflePreservesElements(t *testing.T) {
	s := []int{1, 2, 3, 4, 5, 6, 7}
	seen := make(map[int]bool, len(s))
	Shuffle(s)
	if len(s) != 7 {
		t.Fatalf("length changed: %d", len(s))
	}
	for _, v := range s {
		if v < 1 || v > 7 || seen[v] {
			t.Fatalf("not a permutation: %v", s)
		}
		seen[v] = true
	}
}

func TestShuffleSingleAndEmpty(t *testing.T) {
	Shuffle([]int{})
	one := []int{42}
	Shuffle(one)
	if one[0] != 42 {
		t.Fatalf("single element moved: %v", one)
	}
}

// TestShuffleUniformity checks that all 6 permutations of 3 elements occur at
// roughly equal frequency. With 60000 trials each bucket expects 10000; a
// ±8% band is far wider than the statistical noise of an unbiased shuffle.
func TestShuffleUniformity(t *testing.T) {
	const trials = 60000
	counts := make(map[string]int, 6)

	for range trials {
		s := []int{0, 1, 2}
		Shuffle(s)
		counts[fmt.Sprint(s)]++
	}

	if len(counts) != 6 {
		t.Fatalf("expected 6 permutations, got %d: %v", len(counts), counts)
	}

	expected := trials / 6
	for perm, n := range counts {
		if n < expected*92/100 || n > expected*108/100 {
			t.Errorf("permutation %s occurred %d times, expected ~%d", perm, n, expected)
		}
	}
}

// TestPickUniformFirstPosition checks that every element is equally likely to
// land in the selected prefix.
func TestPickUniformFirstPosition(t *testing.T) {
	const trials = 50000
	src := []int{0, 1, 2, 3, 4}
	counts := make([]int, len(src))

	for range trials {
		out := Pick(src, 2)
		if len(out) != 2 {
			t.Fatalf("pick returned %d elements", len(out))
		}
		for _, v := range out {
			counts[v]++
		}
	}

	// Each element should appear in the pick with probability 2/5.
	expected := trials * 2 / 5
	for v, n := range counts {
		if n < expected*92/100 || n > expected*108/100 {
			t.Errorf("element %d picked %d times, expected ~%d", v, n, expected)
		}
	}
}

func TestPickDoesNotMutateSource(t *testing.T) {
	src := []int{1, 2, 3, 4}
	Pick(src, 4)
	for i, v := range src {
		if v != i+1 {
			t.Fatalf("source mutated: %v", src)
		}
	}
}
