package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"bioguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:bioguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			action TEXT NOT NULL,
			tier TEXT NOT NULL,
			severity TEXT NOT NULL,
			trust_value REAL NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS trust_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			session_id TEXT NOT NULL,
			value REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_samples_session ON trust_samples(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS session_records (
			session_id TEXT PRIMARY KEY,
			exported_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			state TEXT NOT NULL,
			profile_version TEXT NOT NULL,
			trust_history_json TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveTransition(ctx context.Context, rec model.TransitionRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, ts, session_id, from_state, to_state, action, tier, severity, trust_value, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC(),
		rec.SessionID,
		string(rec.From),
		string(rec.To),
		string(rec.Action),
		string(rec.Tier),
		string(rec.Severity),
		rec.TrustValue,
		rec.Reason,
	)
	return err
}

func (s *sqliteStore) SaveTrustSample(ctx context.Context, sessionID string, sample model.TrustSample) error {
	if s.db == nil || sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trust_samples (ts, session_id, value) VALUES (?, ?, ?)`,
		sample.Timestamp.UTC(),
		sessionID,
		sample.Value,
	)
	return err
}

func (s *sqliteStore) SaveSessionRecord(ctx context.Context, rec model.SessionRecord) error {
	if s.db == nil || rec.SessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_records (session_id, exported_at, created_at, state, profile_version, trust_history_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			exported_at = excluded.exported_at,
			state = excluded.state,
			profile_version = excluded.profile_version,
			trust_history_json = excluded.trust_history_json`,
		rec.SessionID,
		nowUTC(),
		rec.CreatedAt.UTC(),
		string(rec.State),
		rec.ProfileVersion,
		encodeJSON(rec.TrustHistory),
	)
	return err
}
