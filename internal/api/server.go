package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bioguard/internal/audit"
	"bioguard/internal/config"
	"bioguard/internal/engine"
	"bioguard/internal/model"
	"bioguard/internal/snapshot"
)

// EngineControl is the surface the API needs from the engine.
type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
	StepUpResult(sessionID string, success bool) (model.Action, error)
	Export(sessionID string) ([]byte, error)
	Import(data []byte) (string, error)
	EndSession(sessionID string) error
	SessionCount() int
	Started() time.Time
}

type Server struct {
	cfg       *config.Manager
	snapshots *snapshot.Store
	auditLog  *audit.Store
	engine    EngineControl
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status         string       `json:"status"`
	Time           string       `json:"time"`
	Version        string       `json:"version"`
	ConfigPath     string       `json:"config_path"`
	Uptime         string       `json:"uptime"`
	ActiveSessions int          `json:"active_sessions"`
	Posture        int          `json:"security_posture"`
	Ingest         ingestStatus `json:"ingest"`
	API            apiStatus    `json:"api"`
}

type ingestStatus struct {
	REST  bool `json:"rest"`
	Kafka bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Start exposes the operator API: session snapshots, audit trail, step-up
// verification results and admin controls.
func Start(ctx context.Context, cfg *config.Manager, snapshots *snapshot.Store, auditLog *audit.Store, eng EngineControl, registry *prometheus.Registry, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		snapshots: snapshots,
		auditLog:  auditLog,
		engine:    eng,
		logger:    logger,
		version:   version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/sessions", server.handleSessions)
	mux.HandleFunc("/sessions/", server.handleSession)
	mux.HandleFunc("/audit", server.handleAudit)
	mux.HandleFunc("/admin/reset", server.handleReset)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:  cfg.Ingest.REST.Enabled,
			Kafka: cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
	}
	if s.engine != nil {
		resp.ActiveSessions = s.engine.SessionCount()
		resp.Uptime = time.Since(s.engine.Started()).Round(time.Second).String()
	}
	if s.auditLog != nil {
		resp.Posture = s.auditLog.Posture()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all := s.snapshots.GetAll()
		writeJSON(w, http.StatusOK, map[string]any{
			"sessions": all,
			"count":    len(all),
		})
	case http.MethodPost:
		// POST /sessions imports a previously exported session record.
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id, err := s.engine.Import(body)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "session_id": id})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSession routes /sessions/{id}, /sessions/{id}/export,
// /sessions/{id}/verify and /sessions/{id}/end.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		snap, ok := s.snapshots.Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case "export":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data, err := s.engine.Export(id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	case "verify":
		s.handleVerify(w, r, id)
	case "end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := s.engine.EndSession(id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		if s.snapshots != nil {
			s.snapshots.Remove(id)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Success == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	action, err := s.engine.StepUpResult(id, *req.Success)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"action": action,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.TransitionRecord
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.auditLog.Since(ts)
	} else {
		list = s.auditLog.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": list,
		"count":       len(list),
		"posture":     s.auditLog.Posture(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.snapshots != nil {
		s.snapshots.Clear()
	}
	if s.auditLog != nil {
		s.auditLog.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownSession):
		status = http.StatusNotFound
	default:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
