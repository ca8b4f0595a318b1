package data

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Rebalance draws one epoch's sample order: len(labels) draws with
// replacement, each pair weighted inversely to its label's frequency.
// Rare conditions therefore appear about as often as common ones.
func Rebalance(labels []string, rng *rand.Rand) []int {
	if len(labels) == 0 {
		return nil
	}
	counts := make(map[string]int, 8)
	for _, l := range labels {
		counts[l]++
	}
	weights := make([]float64, len(labels))
	for i, l := range labels {
		weights[i] = 1 / float64(counts[l])
	}
	cum := make([]float64, len(weights))
	floats.CumSum(cum, weights)
	total := cum[len(cum)-1]

	plan := make([]int, len(labels))
	for i := range plan {
		plan[i] = sort.SearchFloat64s(cum, rng.Float64()*total)
	}
	return plan
}
