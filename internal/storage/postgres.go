package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bioguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/bioguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			action TEXT NOT NULL,
			tier TEXT NOT NULL,
			severity TEXT NOT NULL,
			trust_value DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_session ON transitions(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS trust_samples (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trust_samples_session ON trust_samples(session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS session_records (
			session_id TEXT PRIMARY KEY,
			exported_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			state TEXT NOT NULL,
			profile_version TEXT NOT NULL,
			trust_history_json JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveTransition(ctx context.Context, rec model.TransitionRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, ts, session_id, from_state, to_state, action, tier, severity, trust_value, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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

func (s *postgresStore) SaveTrustSample(ctx context.Context, sessionID string, sample model.TrustSample) error {
	if s.db == nil || sessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trust_samples (ts, session_id, value) VALUES ($1, $2, $3)`,
		sample.Timestamp.UTC(),
		sessionID,
		sample.Value,
	)
	return err
}

func (s *postgresStore) SaveSessionRecord(ctx context.Context, rec model.SessionRecord) error {
	if s.db == nil || rec.SessionID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_records (session_id, exported_at, created_at, state, profile_version, trust_history_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			exported_at = EXCLUDED.exported_at,
			state = EXCLUDED.state,
			profile_version = EXCLUDED.profile_version,
			trust_history_json = EXCLUDED.trust_history_json`,
		rec.SessionID,
		nowUTC(),
		rec.CreatedAt.UTC(),
		string(rec.State),
		rec.ProfileVersion,
		encodeJSON(rec.TrustHistory),
	)
	return err
}
