package trust

import (
	"math/rand"
	"testing"
	"time"

	"bioguard/internal/model"
)

func TestUpdateStaysInBounds(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	s := NewState(100)
	rng := rand.New(rand.NewSource(21))
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		ens := model.EnsembleScore{Likelihood: rng.Float64()}
		value, _ := eng.Update(s, ens, rng.Intn(4) == 0, at.Add(time.Duration(i)*time.Second))
		if value < 0 || value > 1 {
			t.Fatalf("trust value out of bounds at step %d: %v", i, value)
		}
	}
}

func TestUntrainedHoldsValue(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	s := NewState(100)
	at := time.Now()
	for i := 0; i < 50; i++ {
		value, tier := eng.Update(s, model.EnsembleScore{Untrained: true}, false, at)
		if value != 1.0 {
			t.Fatalf("untrained cycle %d moved trust to %v", i, value)
		}
		if tier != model.TierTrusted {
			t.Fatalf("untrained cycle %d classified %v", i, tier)
		}
	}
	if len(s.History()) != 50 {
		t.Fatalf("history should record every cycle, got %d", len(s.History()))
	}
}

func TestNoSignalHoldsValue(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	s := NewState(100)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	eng.Update(s, model.EnsembleScore{Likelihood: 0.4}, false, at)
	before := s.Value()

	// A long idle stretch closes windows with no measurements at all;
	// none of them may move trust in either direction.
	for i := 1; i <= 25; i++ {
		value, _ := eng.Update(s, model.EnsembleScore{NoSignal: true}, true, at.Add(time.Duration(i)*2*time.Second))
		if value != before {
			t.Fatalf("no-signal window %d moved trust from %v to %v", i, before, value)
		}
	}
	if len(s.History()) != 26 {
		t.Fatalf("every cycle should still be recorded, got %d samples", len(s.History()))
	}
}

func TestSustainedAnomalyDegradesTrust(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	s := NewState(100)
	at := time.Now()
	for i := 0; i < 10; i++ {
		eng.Update(s, model.EnsembleScore{Likelihood: 0.9}, false, at)
	}
	if s.Value() > 0.25 {
		t.Fatalf("10 cycles at likelihood 0.9 left trust at %v", s.Value())
	}
}

func TestLowConfidenceMovesTrustSlowly(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	fast := NewState(100)
	slow := NewState(100)
	at := time.Now()
	ens := model.EnsembleScore{Likelihood: 0.9}
	eng.Update(fast, ens, false, at)
	eng.Update(slow, ens, true, at)
	if slow.Value() <= fast.Value() {
		t.Fatalf("low-confidence update %v should move less than full update %v", slow.Value(), fast.Value())
	}
}

func TestClassifyTiers(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	cases := []struct {
		value float64
		tier  model.RiskTier
	}{
		{0.95, model.TierTrusted},
		{0.8, model.TierTrusted},
		{0.79, model.TierElevated},
		{0.5, model.TierElevated},
		{0.49, model.TierSuspicious},
		{0.25, model.TierSuspicious},
		{0.24, model.TierCritical},
		{0, model.TierCritical},
	}
	for _, tc := range cases {
		if got := eng.Classify(tc.value); got != tc.tier {
			t.Fatalf("classify(%v) = %v, want %v", tc.value, got, tc.tier)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	eng := NewEngine(DefaultOptions())
	s := NewState(10)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		eng.Update(s, model.EnsembleScore{Likelihood: 0.1}, false, at.Add(time.Duration(i)*time.Second))
	}
	history := s.History()
	if len(history) != 10 {
		t.Fatalf("history length %d, want 10", len(history))
	}
	// The retained samples are the most recent ones.
	if !history[9].Timestamp.Equal(at.Add(99 * time.Second)) {
		t.Fatalf("newest sample at %v", history[9].Timestamp)
	}
	if !history[0].Timestamp.Equal(at.Add(90 * time.Second)) {
		t.Fatalf("oldest retained sample at %v", history[0].Timestamp)
	}
}

func TestRestoreStateResumesFromHistory(t *testing.T) {
	samples := []model.TrustSample{
		{Timestamp: time.Now().Add(-2 * time.Minute), Value: 0.9},
		{Timestamp: time.Now().Add(-time.Minute), Value: 0.62},
	}
	s := RestoreState(samples, 100)
	if s.Value() != 0.62 {
		t.Fatalf("restored value %v, want the most recent sample", s.Value())
	}
	if len(s.History()) != 2 {
		t.Fatalf("restored history length %d", len(s.History()))
	}
}
