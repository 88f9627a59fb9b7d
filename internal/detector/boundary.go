package detector

import (
	"math"
	"sort"

	"bioguard/internal/model"
)

// Boundary is a one-class detector: it standardizes features against the
// training distribution and fits a radius around the bulk of the history,
// leaving a nu fraction of training points outside. The score is the signed
// distance from that boundary, positive inside.
type Boundary struct {
	nu float64
}

func NewBoundary(nu float64) *Boundary {
	if nu <= 0 || nu >= 1 {
		nu = 0.1
	}
	return &Boundary{nu: nu}
}

func (b *Boundary) Kind() string { return "one_class_boundary" }

type boundaryProfile struct {
	mean   [model.FeatureDim]float64
	std    [model.FeatureDim]float64
	radius float64
}

func (boundaryProfile) Kind() string { return "one_class_boundary" }

func (b *Boundary) Fit(history []model.FeatureVector) DetectorProfile {
	prof := &boundaryProfile{}
	for feat := 0; feat < model.FeatureDim; feat++ {
		var sum float64
		n := 0
		for _, v := range history {
			if v.Values[feat] == model.SentinelMissing {
				continue
			}
			sum += v.Values[feat]
			n++
		}
		if n == 0 {
			prof.mean[feat] = model.SentinelMissing
			continue
		}
		mean := sum / float64(n)
		var sq float64
		for _, v := range history {
			if v.Values[feat] == model.SentinelMissing {
				continue
			}
			d := v.Values[feat] - mean
			sq += d * d
		}
		prof.mean[feat] = mean
		prof.std[feat] = math.Sqrt(sq / float64(n))
	}
	dists := make([]float64, len(history))
	for i, v := range history {
		dists[i], _ = prof.distance(v)
	}
	sort.Float64s(dists)
	// Radius at the (1-nu) quantile: nu of the training mass sits outside.
	idx := int(math.Ceil((1-b.nu)*float64(len(dists)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(dists) {
		idx = len(dists) - 1
	}
	prof.radius = dists[idx]
	if prof.radius <= 0 {
		prof.radius = 1e-9
	}
	return prof
}

// distance is the standardized euclidean distance over the features the
// window actually measured. Sentinel features are masked out on both sides:
// a missing modality is no information, never a deviation. The sum is
// rescaled to full dimensionality so partial windows stay comparable to the
// fitted radius.
func (p *boundaryProfile) distance(v model.FeatureVector) (float64, int) {
	var sum float64
	used := 0
	for feat := 0; feat < model.FeatureDim; feat++ {
		if v.Values[feat] == model.SentinelMissing {
			continue
		}
		used++
		std := p.std[feat]
		if std <= 0 {
			// Constant feature in training: any deviation is one full unit.
			if v.Values[feat] != p.mean[feat] {
				sum += 1
			}
			continue
		}
		d := (v.Values[feat] - p.mean[feat]) / std
		sum += d * d
	}
	if used == 0 {
		return 0, 0
	}
	return math.Sqrt(sum * float64(model.FeatureDim) / float64(used)), used
}

func (b *Boundary) Score(v model.FeatureVector, p DetectorProfile) float64 {
	prof, ok := p.(*boundaryProfile)
	if !ok {
		return 0
	}
	d, used := prof.distance(v)
	if used == 0 {
		return 0
	}
	return clamp((prof.radius-d)/prof.radius, -1, 1)
}

// Likelihood maps the signed boundary score onto [0,1] anomaly likelihood.
// Inside the radius there is no anomaly evidence; outside, evidence grows
// linearly and saturates once the distance reaches twice the radius.
func (b *Boundary) Likelihood(raw float64) float64 {
	return clamp(-raw, 0, 1)
}
