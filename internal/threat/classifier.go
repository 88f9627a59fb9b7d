package threat

import (
	"context"

	"bioguard/internal/model"
)

type Options struct {
	DisagreementThreshold float64
	SharpDelta            float64
}

func DefaultOptions() Options {
	return Options{DisagreementThreshold: 0.35, SharpDelta: 0.15}
}

// Input carries the contextual signals one evaluation cycle feeds the
// classifier. Delta is the trust change over the last cycle (negative means
// trust fell).
type Input struct {
	SessionID string
	Tier      model.RiskTier
	Delta     float64
	Ensemble  model.EnsembleScore
	Features  model.FeatureVector
	History   []model.TrustSample
}

// Classifier maps (risk tier, trust delta, detector disagreement) to a
// threat assessment. The rule core is deterministic and always computed;
// the optional augmentor may supersede it but can never block it.
type Classifier struct {
	opts      Options
	augmentor *Augmentor
}

func NewClassifier(opts Options, augmentor *Augmentor) *Classifier {
	d := DefaultOptions()
	if opts.DisagreementThreshold <= 0 {
		opts.DisagreementThreshold = d.DisagreementThreshold
	}
	if opts.SharpDelta <= 0 {
		opts.SharpDelta = d.SharpDelta
	}
	return &Classifier{opts: opts, augmentor: augmentor}
}

// Classify runs the rule core and, when an augmentor is configured, offers
// the result for refinement under the augmentor's timeout. The rule result
// is the enforcement basis whenever the augmentor is absent, times out, or
// answers below the confidence floor.
func (c *Classifier) Classify(ctx context.Context, in Input) model.ThreatAssessment {
	rule := c.rules(in)
	if c.augmentor == nil {
		return rule
	}
	return c.augmentor.Assess(ctx, in, rule)
}

func (c *Classifier) rules(in Input) model.ThreatAssessment {
	if in.Ensemble.Untrained {
		return model.ThreatAssessment{
			Severity:          model.SeverityLow,
			Category:          "insufficient baseline",
			Confidence:        0.5,
			RecommendedAction: model.ActionAllow,
			Source:            model.SourceRule,
		}
	}

	sharpDrop := in.Delta <= -c.opts.SharpDelta
	var out model.ThreatAssessment
	switch {
	case in.Tier == model.TierCritical && sharpDrop:
		out = model.ThreatAssessment{
			Severity:          model.SeverityCritical,
			Category:          "account takeover pattern",
			Confidence:        0.9,
			RecommendedAction: model.ActionTerminate,
		}
	case in.Tier == model.TierCritical:
		out = model.ThreatAssessment{
			Severity:          model.SeverityCritical,
			Category:          "sustained anomalous behavior",
			Confidence:        0.85,
			RecommendedAction: model.ActionTerminate,
		}
	case in.Tier == model.TierSuspicious && sharpDrop:
		out = model.ThreatAssessment{
			Severity:          model.SeverityHigh,
			Category:          "credential misuse pattern",
			Confidence:        0.8,
			RecommendedAction: model.ActionChallenge,
		}
	case in.Tier == model.TierSuspicious:
		out = model.ThreatAssessment{
			Severity:          model.SeverityMedium,
			Category:          "unusual behavior pattern",
			Confidence:        0.7,
			RecommendedAction: model.ActionChallenge,
		}
	case in.Tier == model.TierElevated && sharpDrop:
		out = model.ThreatAssessment{
			Severity:          model.SeverityMedium,
			Category:          "behavioral drift",
			Confidence:        0.65,
			RecommendedAction: model.ActionAllow,
		}
	case in.Tier == model.TierElevated:
		out = model.ThreatAssessment{
			Severity:          model.SeverityLow,
			Category:          "behavioral drift",
			Confidence:        0.6,
			RecommendedAction: model.ActionAllow,
		}
	default:
		out = model.ThreatAssessment{
			Severity:          model.SeverityNone,
			Category:          "normal behavior",
			Confidence:        0.95,
			RecommendedAction: model.ActionAllow,
		}
	}

	// Detector disagreement signals uncertainty on its own: the two models
	// see different users. It raises but never lowers the verdict.
	if in.Ensemble.Disagreement > c.opts.DisagreementThreshold && out.Severity.Rank() < model.SeverityHigh.Rank() {
		out.Category = "behavioral inconsistency"
		if out.Severity.Rank() < model.SeverityMedium.Rank() {
			out.Severity = model.SeverityMedium
		}
		out.Confidence = 0.55
	}
	out.Source = model.SourceRule
	return out
}
