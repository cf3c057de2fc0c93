package detection

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// ErrInsufficientData is returned when a model is fitted on too few samples
var ErrInsufficientData = errors.New("insufficient training data")

// OutlierModel is any unsupervised novelty detector the scorer can drive.
// Fit and Predict are never called concurrently.
type OutlierModel interface {
	Fit(samples [][]float64) error
	// Predict reports true when x is an outlier
	Predict(x []float64) bool
}

const eulerGamma = 0.5772156649015329

// IsolationForest is an ensemble of random isolation trees. Points that are
// isolated in few splits score close to 1 and are classified as outliers
// when their score exceeds the (1 - Contamination) quantile of the training
// scores.
type IsolationForest struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64

	roots     []*isoNode
	psi       int
	threshold float64
}

// NewIsolationForest returns a forest with 100 trees of up to 256 samples.
func NewIsolationForest(contamination float64, seed int64) *IsolationForest {
	return &IsolationForest{
		Trees:         100,
		SampleSize:    256,
		Contamination: contamination,
		Seed:          seed,
	}
}

type isoNode struct {
	// leaf: point count and bounding box
	size         int
	boxLo, boxHi []float64

	// internal
	attr        int
	split       float64
	lo, hi      float64
	left, right *isoNode
}

func (n *isoNode) leaf() bool { return n.left == nil }

// Fit grows a fresh forest on samples. The forest is left untouched on error.
func (f *IsolationForest) Fit(samples [][]float64) error {
	if len(samples) < 2 {
		return ErrInsufficientData
	}

	trees := f.Trees
	if trees <= 0 {
		trees = 100
	}
	psi := f.SampleSize
	if psi <= 0 || psi > len(samples) {
		psi = len(samples)
	}
	limit := int(math.Ceil(math.Log2(float64(psi))))

	rng := rand.New(rand.NewSource(f.Seed))
	roots := make([]*isoNode, 0, trees)
	for i := 0; i < trees; i++ {
		roots = append(roots, grow(rng, subsample(rng, samples, psi), 0, limit))
	}

	scores := make([]float64, len(samples))
	for i, x := range samples {
		scores[i] = anomalyScore(roots, psi, x)
	}
	sort.Float64s(scores)

	idx := int(math.Ceil((1-f.Contamination)*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}

	f.roots = roots
	f.psi = psi
	f.threshold = scores[idx]
	return nil
}

// Predict reports whether x scores above the fitted threshold.
// An unfitted forest never flags anything.
func (f *IsolationForest) Predict(x []float64) bool {
	if len(f.roots) == 0 {
		return false
	}
	return f.Score(x) > f.threshold
}

// Score returns the anomaly score of x in (0, 1]
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.roots) == 0 {
		return 0
	}
	return anomalyScore(f.roots, f.psi, x)
}

// Threshold is the score above which points are outliers
func (f *IsolationForest) Threshold() float64 {
	return f.threshold
}

func subsample(rng *rand.Rand, samples [][]float64, n int) [][]float64 {
	if n >= len(samples) {
		out := make([][]float64, len(samples))
		copy(out, samples)
		return out
	}
	out := make([][]float64, n)
	for i, j := range rng.Perm(len(samples))[:n] {
		out[i] = samples[j]
	}
	return out
}

func bounds(data [][]float64) (mins, maxs []float64) {
	if len(data) == 0 {
		return nil, nil
	}
	dims := len(data[0])
	mins = make([]float64, dims)
	maxs = make([]float64, dims)
	for d := 0; d < dims; d++ {
		mins[d], maxs[d] = data[0][d], data[0][d]
		for _, x := range data[1:] {
			mins[d] = math.Min(mins[d], x[d])
			maxs[d] = math.Max(maxs[d], x[d])
		}
	}
	return mins, maxs
}

func grow(rng *rand.Rand, data [][]float64, depth, limit int) *isoNode {
	mins, maxs := bounds(data)
	if depth >= limit || len(data) <= 1 {
		return &isoNode{size: len(data), boxLo: mins, boxHi: maxs}
	}

	varying := make([]int, 0, len(mins))
	for d := range mins {
		if mins[d] < maxs[d] {
			varying = append(varying, d)
		}
	}
	if len(varying) == 0 {
		return &isoNode{size: len(data), boxLo: mins, boxHi: maxs}
	}

	attr := varying[rng.Intn(len(varying))]
	lo, hi := mins[attr], maxs[attr]
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, x := range data {
		if x[attr] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}

	return &isoNode{
		attr:  attr,
		split: split,
		lo:    lo,
		hi:    hi,
		left:  grow(rng, left, depth+1, limit),
		right: grow(rng, right, depth+1, limit),
	}
}

func pathLength(n *isoNode, x []float64, depth int) float64 {
	for !n.leaf() {
		v := x[n.attr]
		// outside the range this node saw: isolated right here
		if v < n.lo || v > n.hi {
			return float64(depth + 1)
		}
		if v < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	for d := range n.boxLo {
		if x[d] < n.boxLo[d] || x[d] > n.boxHi[d] {
			return float64(depth + 1)
		}
	}
	return float64(depth) + averagePath(n.size)
}

func anomalyScore(roots []*isoNode, psi int, x []float64) float64 {
	var total float64
	for _, r := range roots {
		total += pathLength(r, x, 0)
	}
	mean := total / float64(len(roots))
	c := averagePath(psi)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

// averagePath is the expected path length of an unsuccessful BST search
// over n points, used to normalise depths.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
