// Package convergence implements the Convergence Detector (C4): a pure
// function comparing the current round's challenge texts against the most
// recently archived round's, grounded on the plain-function, no-dependency
// style of internal/router's scoring helpers.
package convergence

import (
	"strings"

	"github.com/jordanhubbard/duh/internal/consensus"
)

// Check compares the current round's challenge texts against the most
// recently archived round's. Convergence is declared when the normalized
// multiset of challenge texts is identical across both rounds — a simple,
// deterministic stability criterion. With no prior round to compare
// against, convergence is always false. Sets ctx.Converged and returns it.
func Check(ctx *consensus.DeliberationContext) bool {
	if len(ctx.RoundHistory) == 0 {
		ctx.Converged = false
		return false
	}

	prev := ctx.RoundHistory[len(ctx.RoundHistory)-1]
	converged := sameMultiset(normalizeAll(ctx.Challenges), normalizeAll(prev.Challenges))

	ctx.Converged = converged
	return converged
}

func normalizeAll(challenges []consensus.ChallengeResult) []string {
	out := make([]string, len(challenges))
	for i, c := range challenges {
		out[i] = normalize(c.Content)
	}
	return out
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// sameMultiset reports whether a and b contain the same elements with the
// same multiplicities, ignoring order.
func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}
