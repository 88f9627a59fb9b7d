package model

import "time"

type EventKind string

const (
	KindKeyDown      EventKind = "key_down"
	KindKeyUp        EventKind = "key_up"
	KindPointerMove  EventKind = "pointer_move"
	KindPointerClick EventKind = "pointer_click"
	KindStepUpResult EventKind = "step_up_result"
)

// BehaviorEvent is one raw input sample produced by the collector.
// Events are append-only per session; timestamps are non-decreasing.
type BehaviorEvent struct {
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	KeyCode   int               `json:"key_code,omitempty"`
	X         float64           `json:"x,omitempty"`
	Y         float64           `json:"y,omitempty"`
	Source    string            `json:"source,omitempty"`
	Extras    map[string]string `json:"extras,omitempty"`
}

// FeatureVersion identifies the feature layout below. Any change to the
// set, order or semantics of features invalidates fitted profiles.
const FeatureVersion = "fv1"

// SentinelMissing marks a feature whose modality produced no events in the
// window. Detectors treat it as "no information", not as a measurement.
const SentinelMissing = -1.0

// Feature indices into FeatureVector.Values. Every feature is a statistic
// over pairs of events, never a measure of activity volume: a quiet window
// carries no anomaly evidence, only less of it.
const (
	FeatInterKeyMean = iota
	FeatInterKeyVar
	FeatDwellMean
	FeatDwellVar
	FeatPointerVelMean
	FeatPointerVelVar
	FeatPointerAccelMean
	FeatClickIntervalMean
	FeatureDim
)

var FeatureNames = [FeatureDim]string{
	"inter_key_latency_mean",
	"inter_key_latency_var",
	"key_dwell_mean",
	"key_dwell_var",
	"pointer_velocity_mean",
	"pointer_velocity_var",
	"pointer_accel_mean",
	"click_interval_mean",
}

// FeatureVector summarizes one analysis window.
type FeatureVector struct {
	SessionID     string              `json:"session_id"`
	WindowStart   time.Time           `json:"window_start"`
	WindowEnd     time.Time           `json:"window_end"`
	Values        [FeatureDim]float64 `json:"values"`
	EventCount    int                 `json:"event_count"`
	LowConfidence bool                `json:"low_confidence"`
	Version       string              `json:"version"`
}

// EnsembleScore is the combined anomaly verdict for one window.
// Detector scores live in [-1,1], negative meaning anomalous. Likelihood is
// the fused anomaly likelihood in [0,1], 1 meaning certainly anomalous.
// NoSignal marks a window whose features are all sentinels: it carries no
// behavioral evidence either way and holds trust in place.
type EnsembleScore struct {
	Forest       float64 `json:"forest"`
	Boundary     float64 `json:"boundary"`
	Likelihood   float64 `json:"likelihood"`
	Disagreement float64 `json:"disagreement"`
	Untrained    bool    `json:"untrained"`
	NoSignal     bool    `json:"no_signal,omitempty"`
}

type RiskTier string

const (
	TierTrusted    RiskTier = "trusted"
	TierElevated   RiskTier = "elevated_risk"
	TierSuspicious RiskTier = "suspicious"
	TierCritical   RiskTier = "critical"
)

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type AssessmentSource string

const (
	SourceRule AssessmentSource = "rule"
	SourceAI   AssessmentSource = "ai"
)

// ThreatAssessment is recomputed every evaluation cycle, never mutated.
type ThreatAssessment struct {
	Severity          Severity         `json:"severity"`
	Category          string           `json:"category"`
	Confidence        float64          `json:"confidence"`
	RecommendedAction Action           `json:"recommended_action"`
	Rationale         string           `json:"rationale,omitempty"`
	Source            AssessmentSource `json:"source"`
}

type SessionState string

const (
	StateNormal     SessionState = "normal"
	StateMonitoring SessionState = "monitoring"
	StateChallenged SessionState = "challenged"
	StateSuspended  SessionState = "suspended"
	StateTerminated SessionState = "terminated"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == StateSuspended || s == StateTerminated
}

type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionSuspend   Action = "suspend"
	ActionTerminate Action = "terminate"
)

// TrustSample is one point of a session's trust history.
type TrustSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TransitionRecord is the immutable audit entry emitted for every state
// transition together with the inputs that triggered it.
type TransitionRecord struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Timestamp  time.Time    `json:"timestamp"`
	From       SessionState `json:"from"`
	To         SessionState `json:"to"`
	Action     Action       `json:"action"`
	Tier       RiskTier     `json:"tier"`
	Severity   Severity     `json:"severity"`
	TrustValue float64      `json:"trust_value"`
	Reason     string       `json:"reason"`
}

// SessionRecord is the exportable form of a session for audit. Exporting
// and re-importing a record reproduces trust history and state exactly.
type SessionRecord struct {
	SessionID      string        `json:"session_id"`
	CreatedAt      time.Time     `json:"created_at"`
	State          SessionState  `json:"state"`
	ProfileVersion string        `json:"profile_version"`
	TrustHistory   []TrustSample `json:"trust_history"`
}

// Snapshot is the read-only view exposed to the UI collaborator after each
// evaluation cycle.
type Snapshot struct {
	SessionID         string           `json:"session_id"`
	UpdatedAt         time.Time        `json:"updated_at"`
	TrustValue        float64          `json:"trust_value"`
	Tier              RiskTier         `json:"risk_tier"`
	State             SessionState     `json:"current_state"`
	Assessment        ThreatAssessment `json:"threat_assessment"`
	RecommendedAction Action           `json:"recommended_action"`
	Ensemble          EnsembleScore    `json:"ensemble"`
	Cycles            int64            `json:"cycles"`
}
