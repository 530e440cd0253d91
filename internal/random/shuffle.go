// Package random holds the single shuffle primitive shared by question
// selection and option-order randomization, so both carry the same
// statistical guarantees.
package random

import (
	"math/rand/v2"
)

// Shuffle permutes s in place with an unbiased Fisher–Yates walk: for i from
// the last index down to 1, swap with a uniformly random j in [0, i].
func Shuffle[T any](s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// Pick shuffles a copy of s and returns its first n elements. It panics if
// n exceeds len(s); callers validate sizing beforehand.
func Pick[T any](s []T, n int) []T {
	out := make([]T, len(s))
	copy(out, s)
	Shuffle(out)
	return out[:n]
}
