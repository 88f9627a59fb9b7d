package detector

import (
	"math"
	"math/rand"

	"bioguard/internal/model"
)

// Forest is an isolation-forest detector: randomized partition trees over
// the fitted feature space, scoring by average isolation path length.
// Shorter paths mean easier isolation, hence more anomalous. The seed is
// fixed so fitting is reproducible.
type Forest struct {
	trees      int
	sampleSize int
	seed       int64
}

func NewForest(trees, sampleSize int, seed int64) *Forest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 64
	}
	return &Forest{trees: trees, sampleSize: sampleSize, seed: seed}
}

func (f *Forest) Kind() string { return "isolation_forest" }

type forestProfile struct {
	trees  []*forestNode
	sample int
}

func (forestProfile) Kind() string { return "isolation_forest" }

type forestNode struct {
	feature int
	split   float64
	left    *forestNode
	right   *forestNode
	size    int
}

func (f *Forest) Fit(history []model.FeatureVector) DetectorProfile {
	rng := rand.New(rand.NewSource(f.seed))
	n := len(history)
	sample := f.sampleSize
	if sample > n {
		sample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample) + 1)))
	prof := &forestProfile{sample: sample, trees: make([]*forestNode, 0, f.trees)}
	for t := 0; t < f.trees; t++ {
		idx := rng.Perm(n)[:sample]
		sub := make([]model.FeatureVector, sample)
		for i, j := range idx {
			sub[i] = history[j]
		}
		prof.trees = append(prof.trees, buildTree(sub, 0, maxDepth, rng))
	}
	return prof
}

func buildTree(data []model.FeatureVector, depth, maxDepth int, rng *rand.Rand) *forestNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &forestNode{size: len(data)}
	}
	// Only features with spread can split; constant features (including
	// windows that all carry the same sentinel) are skipped.
	var candidates []int
	var lo, hi [model.FeatureDim]float64
	for feat := 0; feat < model.FeatureDim; feat++ {
		lo[feat], hi[feat] = data[0].Values[feat], data[0].Values[feat]
		for _, v := range data[1:] {
			if v.Values[feat] < lo[feat] {
				lo[feat] = v.Values[feat]
			}
			if v.Values[feat] > hi[feat] {
				hi[feat] = v.Values[feat]
			}
		}
		if hi[feat] > lo[feat] {
			candidates = append(candidates, feat)
		}
	}
	if len(candidates) == 0 {
		return &forestNode{size: len(data)}
	}
	feat := candidates[rng.Intn(len(candidates))]
	split := lo[feat] + rng.Float64()*(hi[feat]-lo[feat])
	var left, right []model.FeatureVector
	for _, v := range data {
		if v.Values[feat] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{size: len(data)}
	}
	return &forestNode{
		feature: feat,
		split:   split,
		size:    len(data),
		left:    buildTree(left, depth+1, maxDepth, rng),
		right:   buildTree(right, depth+1, maxDepth, rng),
	}
}

// Score returns 2*(0.5 - 2^(-E(h)/c(n))): path lengths shorter than the
// expected BST average drive the score negative (anomalous).
func (f *Forest) Score(v model.FeatureVector, p DetectorProfile) float64 {
	prof, ok := p.(*forestProfile)
	if !ok || len(prof.trees) == 0 {
		return 0
	}
	var total float64
	for _, root := range prof.trees {
		total += pathLength(root, v, 0)
	}
	avg := total / float64(len(prof.trees))
	c := avgPathLength(prof.sample)
	if c <= 0 {
		return 0
	}
	anomaly := math.Pow(2, -avg/c) // (0,1], higher = more anomalous
	return clamp(2*(0.5-anomaly), -1, 1)
}

// The depth cap compresses path-length contrast into a narrow band below
// zero. Raw scores inside the noise floor are indistinguishable from
// baseline sampling jitter; beyond it, evidence accumulates quickly and
// saturates.
const (
	forestNoiseFloor = 0.05
	forestSaturation = 0.15
)

// Likelihood maps the raw score to [0,1] anomaly likelihood. Scores at or
// above the noise floor carry no anomaly evidence and map to zero.
func (f *Forest) Likelihood(raw float64) float64 {
	return clamp((-raw-forestNoiseFloor)/(forestSaturation-forestNoiseFloor), 0, 1)
}

func pathLength(node *forestNode, v model.FeatureVector, depth int) float64 {
	if node.left == nil || node.right == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if v.Values[node.feature] == model.SentinelMissing {
		// No measurement for this split: stop and charge the expected
		// search length among the remaining points, keeping the missing
		// modality neutral.
		return float64(depth) + avgPathLength(node.size)
	}
	if v.Values[node.feature] < node.split {
		return pathLength(node.left, v, depth+1)
	}
	return pathLength(node.right, v, depth+1)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search among n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
