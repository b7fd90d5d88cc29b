// Package forest implements Isolation Forest as a small, self-contained
// library primitive: Fit(X) trains it, Score(x) returns a signed real where
// lower means more anomalous. No third-party machine-learning package in
// the reference fleet or its peers implements this algorithm (gonum/stat
// supplies only Mean/StdDev; no golearn-style forest package appears
// anywhere in the retrieval pack), so this is deliberately built on
// math/rand rather than an ecosystem dependency, narrowly scoped to the
// random-partitioning algorithm itself.
package forest

import (
	"math"
	"math/rand"
)

const defaultSubsampleSize = 256

// Node fields are exported so a Forest can be gob-encoded into the opaque
// model artifact named in §6; the persisted format itself is not a design
// decision this package cares about.
type Node struct {
	IsLeaf     bool
	Size       int
	Feature    int
	SplitValue float64
	Left       *Node
	Right      *Node
}

// Forest is a trained Isolation Forest.
type Forest struct {
	Trees []*Node
	Psi   int
	CPsi  float64
}

// Fit builds an Isolation Forest with nEstimators trees, each over a random
// subsample of X of size min(len(X), 256), using a deterministic seed.
func Fit(X [][]float64, nEstimators int, seed int64) *Forest {
	if len(X) == 0 || nEstimators <= 0 {
		return &Forest{}
	}
	rng := rand.New(rand.NewSource(seed))
	psi := defaultSubsampleSize
	if len(X) < psi {
		psi = len(X)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	trees := make([]*Node, 0, nEstimators)
	for i := 0; i < nEstimators; i++ {
		sample := subsample(X, psi, rng)
		trees = append(trees, buildTree(sample, 0, maxDepth, rng))
	}

	return &Forest{Trees: trees, Psi: psi, CPsi: pathNormalization(psi)}
}

func subsample(X [][]float64, psi int, rng *rand.Rand) [][]float64 {
	idx := rng.Perm(len(X))[:psi]
	out := make([][]float64, psi)
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

func buildTree(X [][]float64, depth, maxDepth int, rng *rand.Rand) *Node {
	if len(X) <= 1 || depth >= maxDepth {
		return &Node{IsLeaf: true, Size: len(X)}
	}
	nFeatures := len(X[0])
	// Try a handful of random features in case the first choice has no
	// spread in this subsample.
	for attempt := 0; attempt < nFeatures; attempt++ {
		feature := rng.Intn(nFeatures)
		lo, hi := minMaxColumn(X, feature)
		if lo == hi {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		left, right := partition(X, feature, split)
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		return &Node{
			Feature:    feature,
			SplitValue: split,
			Left:       buildTree(left, depth+1, maxDepth, rng),
			Right:      buildTree(right, depth+1, maxDepth, rng),
		}
	}
	return &Node{IsLeaf: true, Size: len(X)}
}

func minMaxColumn(X [][]float64, col int) (float64, float64) {
	lo, hi := X[0][col], X[0][col]
	for _, row := range X[1:] {
		v := row[col]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func partition(X [][]float64, feature int, split float64) (left, right [][]float64) {
	for _, row := range X {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

// pathNormalization is c(n), the average path length of an unsuccessful
// search in a binary search tree of n nodes.
func pathNormalization(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2*harmonic(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonic approximates H(i) = sum_{k=1}^{i} 1/k via ln(i) + Euler-Mascheroni.
func harmonic(i int) float64 {
	if i <= 0 {
		return 0
	}
	const eulerMascheroni = 0.5772156649015329
	return math.Log(float64(i)) + eulerMascheroni
}

func pathLength(x []float64, n *Node, depth int) float64 {
	if n.IsLeaf {
		return float64(depth) + pathNormalization(n.Size)
	}
	if x[n.Feature] < n.SplitValue {
		return pathLength(x, n.Left, depth+1)
	}
	return pathLength(x, n.Right, depth+1)
}

// Score returns the signed decision value for x: lower means more
// anomalous. Internally this is 0.5 minus the normalized Isolation Forest
// anomaly score s(x) = 2^(-E(h(x))/c(psi)), the same directional convention
// scikit-learn's decision_function uses (negative scores are outliers).
func (f *Forest) Score(x []float64) float64 {
	if f == nil || len(f.Trees) == 0 || f.CPsi == 0 {
		return 0
	}
	var sum float64
	for _, t := range f.Trees {
		sum += pathLength(x, t, 0)
	}
	avg := sum / float64(len(f.Trees))
	s := math.Exp2(-avg / f.CPsi)
	return 0.5 - s
}

// Trained reports whether the forest has any trees.
func (f *Forest) Trained() bool {
	return f != nil && len(f.Trees) > 0
}
