package feature

import (
	"math"
	"time"

	"bioguard/internal/model"
)

// Extractor turns the ordered events of one analysis window into a
// FeatureVector. It is deterministic: the output depends only on the events
// and the window bounds, never on the wall clock.
type Extractor struct {
	minEvents int
}

func NewExtractor(minEvents int) *Extractor {
	if minEvents <= 0 {
		minEvents = 5
	}
	return &Extractor{minEvents: minEvents}
}

// Extract never fails: a missing modality yields the sentinel value for its
// feature group rather than an error.
func (x *Extractor) Extract(sessionID string, events []model.BehaviorEvent, start, end time.Time) model.FeatureVector {
	fv := model.FeatureVector{
		SessionID:   sessionID,
		WindowStart: start,
		WindowEnd:   end,
		EventCount:  len(events),
		Version:     model.FeatureVersion,
	}
	for i := range fv.Values {
		fv.Values[i] = model.SentinelMissing
	}
	fv.LowConfidence = len(events) < x.minEvents

	extractKeyboard(&fv, events)
	extractPointer(&fv, events)
	return fv
}

func extractKeyboard(fv *model.FeatureVector, events []model.BehaviorEvent) {
	pendingDown := make(map[int]time.Time)
	var dwell stats
	var interKey stats
	var lastDown time.Time

	for _, ev := range events {
		switch ev.Kind {
		case model.KindKeyDown:
			if !lastDown.IsZero() {
				interKey.add(ev.Timestamp.Sub(lastDown).Seconds())
			}
			lastDown = ev.Timestamp
			pendingDown[ev.KeyCode] = ev.Timestamp
		case model.KindKeyUp:
			if t, ok := pendingDown[ev.KeyCode]; ok {
				if d := ev.Timestamp.Sub(t).Seconds(); d >= 0 {
					dwell.add(d)
				}
				delete(pendingDown, ev.KeyCode)
			}
		}
	}
	if interKey.n > 0 {
		fv.Values[model.FeatInterKeyMean] = interKey.mean
		fv.Values[model.FeatInterKeyVar] = interKey.variance()
	}
	if dwell.n > 0 {
		fv.Values[model.FeatDwellMean] = dwell.mean
		fv.Values[model.FeatDwellVar] = dwell.variance()
	}
}

func extractPointer(fv *model.FeatureVector, events []model.BehaviorEvent) {
	var vel stats
	var accel stats
	var clicks stats

	var havePrev bool
	var prevT time.Time
	var prevX, prevY float64
	var prevVel float64
	var havePrevVel bool
	var lastClick time.Time

	for _, ev := range events {
		switch ev.Kind {
		case model.KindPointerMove:
			if havePrev {
				dt := ev.Timestamp.Sub(prevT).Seconds()
				if dt > 0 {
					dx := ev.X - prevX
					dy := ev.Y - prevY
					v := hypot(dx, dy) / dt
					vel.add(v)
					if havePrevVel {
						accel.add((v - prevVel) / dt)
					}
					prevVel = v
					havePrevVel = true
				}
			}
			havePrev = true
			prevT, prevX, prevY = ev.Timestamp, ev.X, ev.Y
		case model.KindPointerClick:
			if !lastClick.IsZero() {
				clicks.add(ev.Timestamp.Sub(lastClick).Seconds())
			}
			lastClick = ev.Timestamp
		}
	}
	if vel.n > 0 {
		fv.Values[model.FeatPointerVelMean] = vel.mean
		fv.Values[model.FeatPointerVelVar] = vel.variance()
	}
	if accel.n > 0 {
		fv.Values[model.FeatPointerAccelMean] = accel.mean
	}
	if clicks.n > 0 {
		fv.Values[model.FeatClickIntervalMean] = clicks.mean
	}
}

// stats accumulates mean and variance with Welford's method.
type stats struct {
	n    int
	mean float64
	m2   float64
}

func (s *stats) add(v float64) {
	s.n++
	diff := v - s.mean
	s.mean += diff / float64(s.n)
	s.m2 += diff * (v - s.mean)
}

func (s *stats) variance() float64 {
	if s.n == 0 {
		return 0
	}
	return s.m2 / float64(s.n)
}

func hypot(x, y float64) float64 {
	return math.Sqrt(x*x + y*y)
}
