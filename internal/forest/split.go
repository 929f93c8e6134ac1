package forest

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Split describes the best threshold found for one node. Feature is a
// position within the tree's feature subset, not a global column index.
type Split struct {
	Feature   int
	Threshold float64
	Impurity  float64
}

// findBestSplit scans every feature in the tree's subset for the
// threshold with the lowest sample-weighted Gini impurity. Candidate
// thresholds are the midpoints between consecutive distinct values of a
// feature within the node's samples, so a feature with k distinct values
// contributes k-1 candidates. The first candidate with a strictly lower
// impurity wins, which keeps the result deterministic for a fixed subset
// order. Returns nil when no feature has more than one distinct value.
func findBestSplit(x *mat.Dense, y []int, samples []int, features []int, numClasses int) *Split {
	if len(samples) == 0 {
		return nil
	}

	var best *Split
	bestImpurity := math.Inf(1)
	values := make([]float64, len(samples))

	for local, feature := range features {
		for i, s := range samples {
			values[i] = x.At(s, feature)
		}
		sort.Float64s(values)

		for i := 0; i < len(values)-1; i++ {
			if values[i] == values[i+1] {
				continue
			}

			threshold := (values[i] + values[i+1]) / 2
			impurity := weightedImpurity(x, y, samples, feature, threshold, numClasses)

			if impurity < bestImpurity {
				bestImpurity = impurity
				best = &Split{
					Feature:   local,
					Threshold: threshold,
					Impurity:  impurity,
				}
			}
		}
	}

	return best
}

// weightedImpurity is (nLeft/n)*gini(left) + (nRight/n)*gini(right) for
// the partition at value <= threshold.
func weightedImpurity(x *mat.Dense, y []int, samples []int, feature int, threshold float64, numClasses int) float64 {
	leftCounts := make([]int, numClasses)
	rightCounts := make([]int, numClasses)
	nLeft, nRight := 0, 0

	for _, s := range samples {
		if x.At(s, feature) <= threshold {
			leftCounts[y[s]]++
			nLeft++
		} else {
			rightCounts[y[s]]++
			nRight++
		}
	}

	n := float64(nLeft + nRight)
	left := float64(nLeft) / n * giniImpurity(leftCounts, nLeft)
	right := float64(nRight) / n * giniImpurity(rightCounts, nRight)
	return left + right
}

// giniImpurity is 1 - sum(p_c^2) over the class proportions in counts.
func giniImpurity(counts []int, total int) float64 {
	if total == 0 {
		return 0
	}

	impurity := 1.0
	for _, count := range counts {
		probability := float64(count) / float64(total)
		impurity -= probability * probability
	}
	return impurity
}

// partition splits the sample indices at value <= threshold for the given
// global feature column.
func partition(x *mat.Dense, samples []int, feature int, threshold float64) ([]int, []int) {
	var left, right []int
	for _, s := range samples {
		if x.At(s, feature) <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}
