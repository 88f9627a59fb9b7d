package trust

import (
	"time"

	"bioguard/internal/model"
)

type Options struct {
	AlphaHigh    float64
	AlphaLow     float64
	Trusted      float64
	Elevated     float64
	Suspicious   float64
	HistoryLimit int
}

func DefaultOptions() Options {
	return Options{
		AlphaHigh:    0.3,
		AlphaLow:     0.08,
		Trusted:      0.8,
		Elevated:     0.5,
		Suspicious:   0.25,
		HistoryLimit: 500,
	}
}

// State is one session's trust value and bounded history. It is owned by
// the session's evaluation cycle and never shared across sessions.
type State struct {
	value   float64
	history []model.TrustSample
	limit   int
}

// NewState starts a session at full trust.
func NewState(historyLimit int) *State {
	if historyLimit <= 0 {
		historyLimit = 500
	}
	return &State{value: 1.0, limit: historyLimit}
}

// RestoreState rebuilds a state from an exported history, used on session
// import. The current value is the most recent sample, or full trust when
// the history is empty.
func RestoreState(history []model.TrustSample, historyLimit int) *State {
	s := NewState(historyLimit)
	for _, sample := range history {
		s.append(sample)
		s.value = sample.Value
	}
	return s
}

func (s *State) Value() float64 { return s.value }

// History returns a copy; trust history is append-only for callers.
func (s *State) History() []model.TrustSample {
	out := make([]model.TrustSample, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) append(sample model.TrustSample) {
	if len(s.history) < s.limit {
		s.history = append(s.history, sample)
		return
	}
	copy(s.history, s.history[1:])
	s.history[len(s.history)-1] = sample
}

// Engine fuses ensemble output into an exponentially weighted trust value
// and classifies it into a risk tier.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	d := DefaultOptions()
	if opts.AlphaHigh <= 0 || opts.AlphaHigh > 1 {
		opts.AlphaHigh = d.AlphaHigh
	}
	if opts.AlphaLow <= 0 || opts.AlphaLow > 1 {
		opts.AlphaLow = d.AlphaLow
	}
	if !(opts.Trusted > opts.Elevated && opts.Elevated > opts.Suspicious && opts.Suspicious > 0) {
		opts.Trusted, opts.Elevated, opts.Suspicious = d.Trusted, d.Elevated, d.Suspicious
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = d.HistoryLimit
	}
	return &Engine{opts: opts}
}

// Update applies one evaluation cycle's ensemble score. An untrained
// ensemble and a no-signal window are both neutral: the value holds steady
// instead of drifting toward any constant. Low-confidence windows use the
// smaller alpha so sparse activity moves trust slowly. The trust
// contribution is the margin of normal over anomalous evidence: once the
// anomaly likelihood reaches one half, the window contributes no trust at
// all. The returned value is always in [0,1].
func (e *Engine) Update(s *State, ens model.EnsembleScore, lowConfidence bool, at time.Time) (float64, model.RiskTier) {
	if !ens.Untrained && !ens.NoSignal {
		alpha := e.opts.AlphaHigh
		if lowConfidence {
			alpha = e.opts.AlphaLow
		}
		contribution := 1 - 2*ens.Likelihood
		if contribution < 0 {
			contribution = 0
		}
		s.value = alpha*contribution + (1-alpha)*s.value
		if s.value < 0 {
			s.value = 0
		}
		if s.value > 1 {
			s.value = 1
		}
	}
	s.append(model.TrustSample{Timestamp: at, Value: s.value})
	return s.value, e.Classify(s.value)
}

func (e *Engine) Classify(value float64) model.RiskTier {
	switch {
	case value >= e.opts.Trusted:
		return model.TierTrusted
	case value >= e.opts.Elevated:
		return model.TierElevated
	case value >= e.opts.Suspicious:
		return model.TierSuspicious
	default:
		return model.TierCritical
	}
}
