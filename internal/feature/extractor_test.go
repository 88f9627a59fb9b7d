package feature

import (
	"math"
	"testing"
	"time"

	"bioguard/internal/model"
)

func TestExtractKeyboardFeatures(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Two keystrokes 200ms apart, each held for 100ms.
	events := []model.BehaviorEvent{
		{Kind: model.KindKeyDown, KeyCode: 65, Timestamp: base},
		{Kind: model.KindKeyUp, KeyCode: 65, Timestamp: base.Add(100 * time.Millisecond)},
		{Kind: model.KindKeyDown, KeyCode: 66, Timestamp: base.Add(200 * time.Millisecond)},
		{Kind: model.KindKeyUp, KeyCode: 66, Timestamp: base.Add(300 * time.Millisecond)},
		{Kind: model.KindKeyDown, KeyCode: 67, Timestamp: base.Add(400 * time.Millisecond)},
		{Kind: model.KindKeyUp, KeyCode: 67, Timestamp: base.Add(500 * time.Millisecond)},
	}
	x := NewExtractor(5)
	fv := x.Extract("s1", events, base, base.Add(10*time.Second))

	if fv.LowConfidence {
		t.Fatalf("6 events with min 5 should not be low confidence")
	}
	if got := fv.Values[model.FeatInterKeyMean]; math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("inter-key mean: %v", got)
	}
	if got := fv.Values[model.FeatDwellMean]; math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("dwell mean: %v", got)
	}
	if got := fv.Values[model.FeatInterKeyVar]; math.Abs(got) > 1e-9 {
		t.Fatalf("constant rhythm should give zero latency variance, got %v", got)
	}
	if fv.EventCount != 6 {
		t.Fatalf("event count: %v", fv.EventCount)
	}
}

func TestExtractPointerFeatures(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	// Constant velocity: 100px every 100ms along x.
	events := []model.BehaviorEvent{
		{Kind: model.KindPointerMove, X: 0, Y: 0, Timestamp: base},
		{Kind: model.KindPointerMove, X: 100, Y: 0, Timestamp: base.Add(100 * time.Millisecond)},
		{Kind: model.KindPointerMove, X: 200, Y: 0, Timestamp: base.Add(200 * time.Millisecond)},
		{Kind: model.KindPointerMove, X: 300, Y: 0, Timestamp: base.Add(300 * time.Millisecond)},
		{Kind: model.KindPointerClick, X: 300, Y: 0, Timestamp: base.Add(400 * time.Millisecond)},
		{Kind: model.KindPointerClick, X: 300, Y: 0, Timestamp: base.Add(900 * time.Millisecond)},
	}
	x := NewExtractor(5)
	fv := x.Extract("s1", events, base, base.Add(10*time.Second))

	if got := fv.Values[model.FeatPointerVelMean]; math.Abs(got-1000) > 1e-6 {
		t.Fatalf("pointer velocity mean: %v", got)
	}
	if got := fv.Values[model.FeatPointerAccelMean]; math.Abs(got) > 1e-6 {
		t.Fatalf("constant velocity should give zero acceleration, got %v", got)
	}
	if got := fv.Values[model.FeatClickIntervalMean]; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("click interval mean: %v", got)
	}
}

func TestExtractMissingModalityUsesSentinel(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []model.BehaviorEvent{
		{Kind: model.KindKeyDown, KeyCode: 65, Timestamp: base},
		{Kind: model.KindKeyUp, KeyCode: 65, Timestamp: base.Add(100 * time.Millisecond)},
		{Kind: model.KindKeyDown, KeyCode: 66, Timestamp: base.Add(200 * time.Millisecond)},
		{Kind: model.KindKeyUp, KeyCode: 66, Timestamp: base.Add(300 * time.Millisecond)},
		{Kind: model.KindKeyDown, KeyCode: 67, Timestamp: base.Add(400 * time.Millisecond)},
	}
	x := NewExtractor(5)
	fv := x.Extract("s1", events, base, base.Add(10*time.Second))

	if fv.LowConfidence {
		t.Fatalf("keyboard-only window must still be a valid vector")
	}
	for _, feat := range []int{model.FeatPointerVelMean, model.FeatPointerVelVar, model.FeatPointerAccelMean, model.FeatClickIntervalMean} {
		if fv.Values[feat] != model.SentinelMissing {
			t.Fatalf("pointer feature %d should be sentinel, got %v", feat, fv.Values[feat])
		}
	}
	if fv.Values[model.FeatInterKeyMean] == model.SentinelMissing {
		t.Fatalf("inter-key latency should be measured")
	}
}

func TestExtractEmptyWindowIsAllSentinel(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	x := NewExtractor(5)
	fv := x.Extract("s1", nil, base, base.Add(10*time.Second))
	if !fv.LowConfidence {
		t.Fatalf("empty window must be low confidence")
	}
	for i, v := range fv.Values {
		if v != model.SentinelMissing {
			t.Fatalf("feature %s of an empty window should be sentinel, got %v", model.FeatureNames[i], v)
		}
	}
}

func TestExtractSparseWindowLowConfidence(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []model.BehaviorEvent{
		{Kind: model.KindKeyDown, KeyCode: 65, Timestamp: base},
	}
	x := NewExtractor(5)
	fv := x.Extract("s1", events, base, base.Add(10*time.Second))
	if !fv.LowConfidence {
		t.Fatalf("1 event with min 5 should be low confidence")
	}
}
