package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"bioguard/internal/model"
)

// ErrVersionMismatch rejects an imported record whose profile version does
// not match the running engine, preventing scoring against an incompatible
// baseline.
var ErrVersionMismatch = errors.New("session record profile version mismatch")

// Export serializes a session for audit. The record round-trips exactly:
// importing it reproduces the same trust history and state.
func Export(m *Machine, profileVersion string, history []model.TrustSample) ([]byte, error) {
	rec := model.SessionRecord{
		SessionID:      m.SessionID(),
		CreatedAt:      m.CreatedAt(),
		State:          m.State(),
		ProfileVersion: profileVersion,
		TrustHistory:   history,
	}
	return json.MarshalIndent(rec, "", "  ")
}

// Import parses an exported record and rebuilds the state machine at its
// recorded state.
func Import(data []byte, expectVersion string, hysteresis int) (*Machine, model.SessionRecord, error) {
	var rec model.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, model.SessionRecord{}, fmt.Errorf("decode session record: %w", err)
	}
	if rec.SessionID == "" {
		return nil, model.SessionRecord{}, errors.New("session record missing session_id")
	}
	if rec.ProfileVersion != expectVersion {
		return nil, model.SessionRecord{}, fmt.Errorf("%w: record %q, engine %q", ErrVersionMismatch, rec.ProfileVersion, expectVersion)
	}
	m := NewMachine(rec.SessionID, hysteresis, rec.CreatedAt)
	m.state = rec.State
	return m, rec, nil
}
