package detector

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bioguard/internal/model"
)

// ErrProfileVersionMismatch is returned when a caller tries to install a
// baseline fitted under a different feature layout or algorithm revision.
var ErrProfileVersionMismatch = errors.New("baseline profile version mismatch")

// cleanRetention bounds how many clean windows are kept as refit material.
const cleanRetention = 200

type Options struct {
	BaselineMin   int
	RefitInterval int
	PoisonGuard   float64
	Trees         int
	SampleSize    int
	Seed          int64
	BoundaryNu    float64
	ForestWeight  float64
	BoundaryWt    float64
}

func DefaultOptions() Options {
	return Options{
		BaselineMin:   20,
		RefitInterval: 50,
		PoisonGuard:   0.6,
		Trees:         100,
		SampleSize:    64,
		Seed:          42,
		BoundaryNu:    0.1,
		ForestWeight:  0.5,
		BoundaryWt:    0.5,
	}
}

// Ensemble owns one session's baseline profile and the refit material for
// it. Scoring reads the last committed profile through an atomic pointer
// and never waits for a refit; Refit computes on its own snapshot of the
// clean history and commits with a single swap.
type Ensemble struct {
	detectors []Detector
	weights   []float64
	opts      Options

	profile atomic.Pointer[Profile]

	mu         sync.Mutex
	clean      []model.FeatureVector
	sinceRefit int
	refitting  atomic.Bool
}

func NewEnsemble(opts Options) *Ensemble {
	if opts.BaselineMin <= 0 {
		opts.BaselineMin = 20
	}
	if opts.RefitInterval <= 0 {
		opts.RefitInterval = 50
	}
	if opts.PoisonGuard <= 0 || opts.PoisonGuard > 1 {
		opts.PoisonGuard = 0.6
	}
	if opts.ForestWeight <= 0 && opts.BoundaryWt <= 0 {
		opts.ForestWeight, opts.BoundaryWt = 0.5, 0.5
	}
	return &Ensemble{
		detectors: []Detector{
			NewForest(opts.Trees, opts.SampleSize, opts.Seed),
			NewBoundary(opts.BoundaryNu),
		},
		weights: []float64{opts.ForestWeight, opts.BoundaryWt},
		opts:    opts,
	}
}

// Score evaluates one window against the committed baseline. With no usable
// baseline it returns the untrained sentinel, which downstream consumers
// treat as neutral, never as low trust. A window whose features are all
// sentinels carries no behavioral evidence and scores as no-signal.
func (e *Ensemble) Score(fv model.FeatureVector) model.EnsembleScore {
	p := e.profile.Load()
	if p == nil || p.Version != ProfileVersion || fv.Version != model.FeatureVersion {
		return model.EnsembleScore{Untrained: true}
	}
	measured := false
	for _, v := range fv.Values {
		if v != model.SentinelMissing {
			measured = true
			break
		}
	}
	if !measured {
		return model.EnsembleScore{NoSignal: true}
	}
	likelihoods := make([]float64, len(e.detectors))
	raw := make([]float64, len(e.detectors))
	var weighted, wsum float64
	for i, d := range e.detectors {
		raw[i] = d.Score(fv, p.Part(i))
		likelihoods[i] = d.Likelihood(raw[i])
		weighted += e.weights[i] * likelihoods[i]
		wsum += e.weights[i]
	}
	score := model.EnsembleScore{
		Forest:     raw[0],
		Boundary:   raw[1],
		Likelihood: weighted / wsum,
	}
	score.Disagreement = likelihoods[0] - likelihoods[1]
	if score.Disagreement < 0 {
		score.Disagreement = -score.Disagreement
	}
	return score
}

// Observe feeds a scored window into the refit material and reports whether
// a refit is due. Low-confidence windows never enter the baseline; once a
// baseline exists, windows past the poisoning-guard threshold are excluded
// so an ongoing attack cannot be absorbed as the new normal.
func (e *Ensemble) Observe(fv model.FeatureVector, score model.EnsembleScore) bool {
	if fv.LowConfidence || fv.Version != model.FeatureVersion || score.NoSignal {
		return false
	}
	if !score.Untrained && score.Likelihood > e.opts.PoisonGuard {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clean = append(e.clean, fv)
	if len(e.clean) > cleanRetention {
		e.clean = append([]model.FeatureVector{}, e.clean[len(e.clean)-cleanRetention:]...)
	}
	if e.profile.Load() == nil {
		return len(e.clean) >= e.opts.BaselineMin
	}
	e.sinceRefit++
	if e.sinceRefit >= e.opts.RefitInterval {
		e.sinceRefit = 0
		return true
	}
	return false
}

// Refit computes a new profile from a snapshot of the clean history and
// commits it atomically. Concurrent calls collapse to one; scoring against
// the old profile proceeds untouched while this runs.
func (e *Ensemble) Refit() bool {
	if !e.refitting.CompareAndSwap(false, true) {
		return false
	}
	defer e.refitting.Store(false)

	e.mu.Lock()
	history := make([]model.FeatureVector, len(e.clean))
	copy(history, e.clean)
	e.mu.Unlock()

	if len(history) < e.opts.BaselineMin {
		return false
	}
	parts := make([]DetectorProfile, len(e.detectors))
	for i, d := range e.detectors {
		parts[i] = d.Fit(history)
	}
	e.profile.Store(&Profile{
		Version:  ProfileVersion,
		FittedAt: time.Now().UTC(),
		Samples:  len(history),
		parts:    parts,
	})
	return true
}

// Trained reports whether a committed baseline exists.
func (e *Ensemble) Trained() bool {
	return e.profile.Load() != nil
}

// Version returns the committed profile version, or the current algorithm
// version when no baseline exists yet.
func (e *Ensemble) Version() string {
	if p := e.profile.Load(); p != nil {
		return p.Version
	}
	return ProfileVersion
}

// FittedAt returns the commit time of the current baseline.
func (e *Ensemble) FittedAt() (time.Time, bool) {
	if p := e.profile.Load(); p != nil {
		return p.FittedAt, true
	}
	return time.Time{}, false
}
