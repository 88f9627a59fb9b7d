package detector

import (
	"time"

	"bioguard/internal/model"
)

// ProfileVersion combines the feature layout version with the detector
// algorithm revision. A profile fitted under a different version is never
// used for scoring.
const ProfileVersion = model.FeatureVersion + "-d1"

// Detector is the capability shared by both ensemble members: fit a profile
// from history, score a vector against it. Raw scores live in [-1,1] with
// negative meaning anomalous; Likelihood maps a raw score to an anomaly
// likelihood in [0,1].
type Detector interface {
	Kind() string
	Fit(history []model.FeatureVector) DetectorProfile
	Score(v model.FeatureVector, p DetectorProfile) float64
	Likelihood(raw float64) float64
}

type DetectorProfile interface {
	Kind() string
}

// Profile is the committed baseline for a session: one fitted profile per
// ensemble member, all produced from the same history snapshot. Profiles
// are immutable once committed; refits build a new one and swap.
type Profile struct {
	Version  string
	FittedAt time.Time
	Samples  int
	parts    []DetectorProfile
}

func (p *Profile) Part(i int) DetectorProfile {
	if p == nil || i < 0 || i >= len(p.parts) {
		return nil
	}
	return p.parts[i]
}
