package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"bioguard/internal/model"
)

// ErrTerminalState rejects transitions out of Suspended or Terminated.
// Terminal states are immutable; the caller must start a new session.
var ErrTerminalState = errors.New("session is in a terminal state")

// ErrNotChallenged rejects a step-up verification result for a session
// that has no outstanding challenge.
var ErrNotChallenged = errors.New("session has no outstanding challenge")

// Machine is the per-session zero-trust decision state machine. It owns the
// session's current state exclusively; all mutation goes through Apply and
// ResolveChallenge, and every transition emits exactly one enforcement
// action plus one immutable audit record.
type Machine struct {
	sessionID     string
	createdAt     time.Time
	state         model.SessionState
	hysteresis    int
	trustedStreak int
}

func NewMachine(sessionID string, hysteresis int, createdAt time.Time) *Machine {
	if hysteresis <= 0 {
		hysteresis = 3
	}
	return &Machine{
		sessionID:  sessionID,
		createdAt:  createdAt,
		state:      model.StateNormal,
		hysteresis: hysteresis,
	}
}

func (m *Machine) SessionID() string { return m.sessionID }

func (m *Machine) CreatedAt() time.Time { return m.createdAt }

func (m *Machine) State() model.SessionState { return m.state }

// Apply consumes one evaluation cycle's (tier, severity) pair. The returned
// action is the enforcement decision for this cycle; the record is non-nil
// only when the state actually changed. Transitions are total: every
// (state, tier, severity) triple resolves to a defined next state.
func (m *Machine) Apply(tier model.RiskTier, severity model.Severity, trustValue float64, at time.Time) (model.Action, *model.TransitionRecord, error) {
	if m.state.Terminal() {
		return actionFor(m.state), nil, ErrTerminalState
	}

	if tier == model.TierCritical || severity == model.SeverityCritical {
		rec := m.transition(model.StateTerminated, model.ActionTerminate, tier, severity, trustValue, at, "trust collapsed to critical")
		return model.ActionTerminate, rec, nil
	}

	switch m.state {
	case model.StateNormal:
		if tier == model.TierSuspicious || severity.Rank() >= model.SeverityHigh.Rank() {
			rec := m.transition(model.StateChallenged, model.ActionChallenge, tier, severity, trustValue, at, "suspicious behavior requires step-up verification")
			return model.ActionChallenge, rec, nil
		}
		if tier == model.TierElevated {
			rec := m.transition(model.StateMonitoring, model.ActionAllow, tier, severity, trustValue, at, "trust dropped to elevated risk")
			return model.ActionAllow, rec, nil
		}
		return model.ActionAllow, nil, nil

	case model.StateMonitoring:
		if tier == model.TierSuspicious || severity.Rank() >= model.SeverityHigh.Rank() {
			rec := m.transition(model.StateChallenged, model.ActionChallenge, tier, severity, trustValue, at, "suspicious behavior requires step-up verification")
			return model.ActionChallenge, rec, nil
		}
		if tier == model.TierTrusted {
			m.trustedStreak++
			if m.trustedStreak >= m.hysteresis {
				rec := m.transition(model.StateNormal, model.ActionAllow, tier, severity, trustValue, at, "trust restored over consecutive cycles")
				return model.ActionAllow, rec, nil
			}
		} else {
			m.trustedStreak = 0
		}
		return model.ActionAllow, nil, nil

	case model.StateChallenged:
		// Waiting on the external step-up result; only a critical signal
		// (handled above) moves the session before it arrives.
		return model.ActionChallenge, nil, nil

	default:
		return actionFor(m.state), nil, nil
	}
}

// ResolveChallenge consumes the external step-up verification result.
// Success returns the session to Normal or Monitoring depending on the
// current tier; failure or timeout suspends it pending manual review.
func (m *Machine) ResolveChallenge(success bool, tier model.RiskTier, trustValue float64, at time.Time) (model.Action, *model.TransitionRecord, error) {
	if m.state.Terminal() {
		return actionFor(m.state), nil, ErrTerminalState
	}
	if m.state != model.StateChallenged {
		return actionFor(m.state), nil, ErrNotChallenged
	}
	if !success {
		rec := m.transition(model.StateSuspended, model.ActionSuspend, tier, model.SeverityHigh, trustValue, at, "step-up verification failed")
		return model.ActionSuspend, rec, nil
	}
	next := model.StateMonitoring
	reason := "step-up verification passed, monitoring continues"
	if tier == model.TierTrusted {
		next = model.StateNormal
		reason = "step-up verification passed"
	}
	rec := m.transition(next, model.ActionAllow, tier, model.SeverityNone, trustValue, at, reason)
	return model.ActionAllow, rec, nil
}

func (m *Machine) transition(to model.SessionState, action model.Action, tier model.RiskTier, severity model.Severity, trustValue float64, at time.Time, reason string) *model.TransitionRecord {
	rec := &model.TransitionRecord{
		ID:         uuid.NewString(),
		SessionID:  m.sessionID,
		Timestamp:  at,
		From:       m.state,
		To:         to,
		Action:     action,
		Tier:       tier,
		Severity:   severity,
		TrustValue: trustValue,
		Reason:     reason,
	}
	m.state = to
	m.trustedStreak = 0
	return rec
}

func actionFor(state model.SessionState) model.Action {
	switch state {
	case model.StateChallenged:
		return model.ActionChallenge
	case model.StateSuspended:
		return model.ActionSuspend
	case model.StateTerminated:
		return model.ActionTerminate
	default:
		return model.ActionAllow
	}
}
