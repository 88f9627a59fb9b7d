package detector

import (
	"math/rand"
	"testing"
	"time"

	"bioguard/internal/model"
	"bioguard/internal/trust"
)

// baselineVector produces a window vector around a stable typing and
// pointer profile with small per-feature jitter.
func baselineVector(rng *rand.Rand) model.FeatureVector {
	fv := model.FeatureVector{Version: model.FeatureVersion, EventCount: 60}
	fv.Values[model.FeatInterKeyMean] = 0.2 + rng.NormFloat64()*0.02
	fv.Values[model.FeatInterKeyVar] = 0.01 + rng.NormFloat64()*0.002
	fv.Values[model.FeatDwellMean] = 0.1 + rng.NormFloat64()*0.01
	fv.Values[model.FeatDwellVar] = 0.005 + rng.NormFloat64()*0.001
	fv.Values[model.FeatPointerVelMean] = 800 + rng.NormFloat64()*60
	fv.Values[model.FeatPointerVelVar] = 100 + rng.NormFloat64()*15
	fv.Values[model.FeatPointerAccelMean] = 50 + rng.NormFloat64()*8
	fv.Values[model.FeatClickIntervalMean] = 0.8 + rng.NormFloat64()*0.05
	return fv
}

// intruderVector is a vector far from the baseline on most features, the
// shape of a different person at the keyboard.
func intruderVector() model.FeatureVector {
	fv := model.FeatureVector{Version: model.FeatureVersion, EventCount: 200}
	fv.Values[model.FeatInterKeyMean] = 1.6
	fv.Values[model.FeatInterKeyVar] = 0.4
	fv.Values[model.FeatDwellMean] = 0.45
	fv.Values[model.FeatDwellVar] = 0.09
	fv.Values[model.FeatPointerVelMean] = 3500
	fv.Values[model.FeatPointerVelVar] = 900
	fv.Values[model.FeatPointerAccelMean] = 400
	fv.Values[model.FeatClickIntervalMean] = 0.05
	return fv
}

func trainedEnsemble(t *testing.T, rng *rand.Rand) *Ensemble {
	t.Helper()
	ens := NewEnsemble(DefaultOptions())
	for i := 0; i < 40; i++ {
		fv := baselineVector(rng)
		ens.Observe(fv, ens.Score(fv))
	}
	if !ens.Refit() {
		t.Fatalf("refit with 40 clean windows should succeed")
	}
	if !ens.Trained() {
		t.Fatalf("ensemble should be trained after refit")
	}
	return ens
}

func TestScoreUntrainedSentinel(t *testing.T) {
	ens := NewEnsemble(DefaultOptions())
	score := ens.Score(baselineVector(rand.New(rand.NewSource(1))))
	if !score.Untrained {
		t.Fatalf("expected untrained sentinel before first fit")
	}
	if score.Likelihood != 0 {
		t.Fatalf("untrained score must carry no likelihood, got %v", score.Likelihood)
	}
}

func TestIntruderScoresAnomalous(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ens := trainedEnsemble(t, rng)

	normal := ens.Score(baselineVector(rng))
	if normal.Untrained {
		t.Fatalf("trained ensemble returned untrained sentinel")
	}
	if normal.Likelihood > 0.4 {
		t.Fatalf("baseline-like window scored %v, want low likelihood", normal.Likelihood)
	}

	intruder := ens.Score(intruderVector())
	if intruder.Likelihood < 0.6 {
		t.Fatalf("intruder window scored %v, want high likelihood", intruder.Likelihood)
	}
	if intruder.Likelihood <= normal.Likelihood {
		t.Fatalf("intruder %v should score above baseline %v", intruder.Likelihood, normal.Likelihood)
	}
	if intruder.Boundary >= 0 {
		t.Fatalf("intruder should sit outside the boundary, score %v", intruder.Boundary)
	}
}

func TestSharpAnomalyReachesSuspiciousWithinTwoCycles(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	ens := NewEnsemble(DefaultOptions())
	// A calm baseline: ~150ms inter-key latency with little variance,
	// moderate pointer speed.
	for i := 0; i < 30; i++ {
		fv := model.FeatureVector{Version: model.FeatureVersion, EventCount: 80}
		fv.Values[model.FeatInterKeyMean] = 0.15 + rng.NormFloat64()*0.01
		fv.Values[model.FeatInterKeyVar] = 0.004 + rng.NormFloat64()*0.0008
		fv.Values[model.FeatDwellMean] = 0.09 + rng.NormFloat64()*0.008
		fv.Values[model.FeatDwellVar] = 0.003 + rng.NormFloat64()*0.0006
		fv.Values[model.FeatPointerVelMean] = 600 + rng.NormFloat64()*40
		fv.Values[model.FeatPointerVelVar] = 80 + rng.NormFloat64()*10
		fv.Values[model.FeatPointerAccelMean] = 40 + rng.NormFloat64()*6
		fv.Values[model.FeatClickIntervalMean] = 0.7 + rng.NormFloat64()*0.04
		ens.Observe(fv, ens.Score(fv))
	}
	if !ens.Refit() {
		t.Fatalf("refit with 30 clean windows should succeed")
	}

	// Same rhythm, but the latency variance explodes tenfold and the
	// pointer moves five times faster.
	anomalous := model.FeatureVector{Version: model.FeatureVersion, EventCount: 80}
	anomalous.Values[model.FeatInterKeyMean] = 0.15
	anomalous.Values[model.FeatInterKeyVar] = 0.04
	anomalous.Values[model.FeatDwellMean] = 0.09
	anomalous.Values[model.FeatDwellVar] = 0.003
	anomalous.Values[model.FeatPointerVelMean] = 3000
	anomalous.Values[model.FeatPointerVelVar] = 80
	anomalous.Values[model.FeatPointerAccelMean] = 40
	anomalous.Values[model.FeatClickIntervalMean] = 0.7

	score := ens.Score(anomalous)
	if score.Boundary >= 0 {
		t.Fatalf("anomalous window should sit outside the boundary, score %v", score.Boundary)
	}
	if score.Likelihood < 0.5 {
		t.Fatalf("anomalous window scored likelihood %v, want at least 0.5", score.Likelihood)
	}

	trustEng := trust.NewEngine(trust.DefaultOptions())
	state := trust.NewState(100)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var tier model.RiskTier
	for i := 0; i < 2; i++ {
		_, tier = trustEng.Update(state, score, false, at.Add(time.Duration(i)*2*time.Second))
	}
	if tier != model.TierSuspicious && tier != model.TierCritical {
		t.Fatalf("two anomalous cycles left tier %v at trust %v", tier, state.Value())
	}
}

func TestSentinelFeaturesCarryNoAnomalyEvidence(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	ens := trainedEnsemble(t, rng)

	// Keyboard rhythm matches the baseline exactly; the pointer modality
	// produced nothing this window.
	fv := model.FeatureVector{Version: model.FeatureVersion, EventCount: 12}
	fv.Values[model.FeatInterKeyMean] = 0.2
	fv.Values[model.FeatInterKeyVar] = 0.01
	fv.Values[model.FeatDwellMean] = 0.1
	fv.Values[model.FeatDwellVar] = 0.005
	fv.Values[model.FeatPointerVelMean] = model.SentinelMissing
	fv.Values[model.FeatPointerVelVar] = model.SentinelMissing
	fv.Values[model.FeatPointerAccelMean] = model.SentinelMissing
	fv.Values[model.FeatClickIntervalMean] = model.SentinelMissing

	score := ens.Score(fv)
	if score.Boundary < 0 {
		t.Fatalf("missing modality counted as a boundary deviation, score %v", score.Boundary)
	}
	if score.Likelihood > 0.3 {
		t.Fatalf("baseline-matching window with missing pointer scored %v", score.Likelihood)
	}
}

func TestAllSentinelWindowIsNoSignal(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	ens := trainedEnsemble(t, rng)

	fv := model.FeatureVector{Version: model.FeatureVersion}
	for i := range fv.Values {
		fv.Values[i] = model.SentinelMissing
	}
	score := ens.Score(fv)
	if !score.NoSignal {
		t.Fatalf("window without measurements should score as no-signal: %+v", score)
	}
	if score.Likelihood != 0 {
		t.Fatalf("no-signal window must carry zero likelihood, got %v", score.Likelihood)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	history := make([]model.FeatureVector, 0, 40)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 40; i++ {
		history = append(history, baselineVector(rng))
	}
	build := func() *Ensemble {
		ens := NewEnsemble(DefaultOptions())
		for _, fv := range history {
			ens.Observe(fv, ens.Score(fv))
		}
		ens.Refit()
		return ens
	}
	a := build()
	b := build()
	probe := intruderVector()
	sa := a.Score(probe)
	sb := b.Score(probe)
	if sa != sb {
		t.Fatalf("same seed and history must reproduce scores: %+v vs %+v", sa, sb)
	}
}

func TestObserveSignalsInitialFit(t *testing.T) {
	ens := NewEnsemble(DefaultOptions())
	rng := rand.New(rand.NewSource(11))
	fitDue := false
	for i := 0; i < 20; i++ {
		fv := baselineVector(rng)
		if ens.Observe(fv, ens.Score(fv)) {
			if i < 19 {
				t.Fatalf("fit signaled at window %d, before the baseline minimum", i)
			}
			fitDue = true
		}
	}
	if !fitDue {
		t.Fatalf("fit should be due once the baseline minimum is reached")
	}
}

func TestPoisoningGuardExcludesAnomalousWindows(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ens := trainedEnsemble(t, rng)

	// A sustained stream of intruder windows must never trigger a refit:
	// they are excluded from the baseline material.
	for i := 0; i < 100; i++ {
		fv := intruderVector()
		if ens.Observe(fv, ens.Score(fv)) {
			t.Fatalf("anomalous window %d was accepted as refit material", i)
		}
	}
	// The intruder still scores anomalous afterwards.
	if score := ens.Score(intruderVector()); score.Likelihood < 0.6 {
		t.Fatalf("baseline drifted toward the intruder: likelihood %v", score.Likelihood)
	}
}

func TestLowConfidenceWindowsNeverEnterBaseline(t *testing.T) {
	ens := NewEnsemble(DefaultOptions())
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 100; i++ {
		fv := baselineVector(rng)
		fv.LowConfidence = true
		if ens.Observe(fv, ens.Score(fv)) {
			t.Fatalf("low-confidence window signaled a fit")
		}
	}
	if ens.Refit() {
		t.Fatalf("refit should fail with no usable material")
	}
}

func TestProfileVersionGuard(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	ens := trainedEnsemble(t, rng)
	fv := baselineVector(rng)
	fv.Version = "fv0"
	if score := ens.Score(fv); !score.Untrained {
		t.Fatalf("vector with a foreign feature version must score as untrained")
	}
}

func TestRefitKeepsScoringAvailable(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	ens := trainedEnsemble(t, rng)
	before, ok := ens.FittedAt()
	if !ok {
		t.Fatalf("trained ensemble has no fit time")
	}
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 60; i++ {
		fv := baselineVector(rng)
		if ens.Observe(fv, ens.Score(fv)) {
			if !ens.Refit() {
				t.Fatalf("due refit failed")
			}
		}
	}
	after, _ := ens.FittedAt()
	if !after.After(before) {
		t.Fatalf("refit did not commit a new profile")
	}
}
