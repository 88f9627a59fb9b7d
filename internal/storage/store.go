package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bioguard/internal/config"
	"bioguard/internal/model"
)

// Store persists the audit surface: state transitions, trust samples and
// exported session records. Persistence failures never stall the
// evaluation path; callers log and continue.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveTransition(ctx context.Context, rec model.TransitionRecord) error
	SaveTrustSample(ctx context.Context, sessionID string, sample model.TrustSample) error
	SaveSessionRecord(ctx context.Context, rec model.SessionRecord) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
