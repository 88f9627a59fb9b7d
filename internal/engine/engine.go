package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bioguard/internal/audit"
	"bioguard/internal/config"
	"bioguard/internal/detector"
	"bioguard/internal/feature"
	"bioguard/internal/model"
	"bioguard/internal/ops"
	"bioguard/internal/session"
	"bioguard/internal/snapshot"
	"bioguard/internal/storage"
	"bioguard/internal/threat"
	"bioguard/internal/trust"
)

// ErrUnknownSession is returned for operations on a session the engine is
// not tracking.
var ErrUnknownSession = errors.New("unknown session")

// ErrMissingSessionID rejects events that cannot be attributed to a session.
var ErrMissingSessionID = errors.New("event missing session_id")

// Engine runs the evaluation pipeline: windowed feature extraction, the
// anomaly ensemble, trust fusion, threat classification and the zero-trust
// state machine. Each session's state is owned by that session and guarded
// so its cycles are strictly ordered; sessions evaluate independently and
// may run in parallel.
type Engine struct {
	logger    *slog.Logger
	snapshots *snapshot.Store
	auditLog  *audit.Store
	store     storage.Store
	metrics   *ops.Metrics

	cfg        atomic.Value
	trustEng   atomic.Pointer[trust.Engine]
	classifier atomic.Pointer[threat.Classifier]

	mu       sync.Mutex
	sessions map[string]*sessionState
	started  time.Time
}

// sessionState bundles everything one session owns. Its mutex serializes
// evaluation cycles because the trust update depends on the previous value.
type sessionState struct {
	mu       sync.Mutex
	machine  *session.Machine
	trust    *trust.State
	windower *feature.Windower
	ensemble *detector.Ensemble
	lastSeen time.Time
	cycles   int64
}

func NewEngine(cfg *config.Config, logger *slog.Logger, snapshots *snapshot.Store, auditLog *audit.Store, store storage.Store, metrics *ops.Metrics) *Engine {
	e := &Engine{
		logger:    logger,
		snapshots: snapshots,
		auditLog:  auditLog,
		store:     store,
		metrics:   metrics,
		sessions:  make(map[string]*sessionState),
		started:   time.Now().UTC(),
	}
	e.UpdateConfig(cfg)
	return e
}

// UpdateConfig swaps the active configuration. Existing sessions keep
// their fitted baselines; new derived components apply from the next cycle.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e.cfg.Store(cfg)
	e.trustEng.Store(trust.NewEngine(trust.Options{
		AlphaHigh:    cfg.Trust.AlphaHigh,
		AlphaLow:     cfg.Trust.AlphaLow,
		Trusted:      cfg.Trust.Tiers.Trusted,
		Elevated:     cfg.Trust.Tiers.Elevated,
		Suspicious:   cfg.Trust.Tiers.Suspicious,
		HistoryLimit: cfg.Trust.HistoryLimit,
	}))
	var augmentor *threat.Augmentor
	if cfg.Threat.AI.Enabled {
		augmentor = threat.NewAugmentor(cfg.Threat.AI.Endpoint, cfg.Threat.AI.Timeout, cfg.Threat.AI.ConfidenceFloor, e.logger)
	}
	e.classifier.Store(threat.NewClassifier(threat.Options{
		DisagreementThreshold: cfg.Threat.DisagreementThreshold,
		SharpDelta:            cfg.Threat.SharpDelta,
	}, augmentor))
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start consumes the event channel until ctx is done and runs the idle
// session sweeper.
func (e *Engine) Start(ctx context.Context, in <-chan model.BehaviorEvent) {
	go func() {
		for {
			select {
			case ev := <-in:
				if err := e.ProcessEvent(ev); err != nil {
					if e.logger != nil {
						e.logger.Warn("event rejected", "session_id", ev.SessionID, "err", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	go e.sweep(ctx)
}

// ProcessEvent ingests one behavior event and runs evaluation cycles for
// every window it closes. Malformed or out-of-order events are rejected
// without corrupting the session's window.
func (e *Engine) ProcessEvent(ev model.BehaviorEvent) error {
	if ev.SessionID == "" {
		if e.metrics != nil {
			e.metrics.EventsRejected.WithLabelValues("missing_session_id").Inc()
		}
		return ErrMissingSessionID
	}
	s := e.getSession(ev.SessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now().UTC()

	windows, err := s.windower.Add(ev)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EventsRejected.WithLabelValues("out_of_order").Inc()
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.EventsIngested.WithLabelValues(ev.Source).Inc()
	}
	for _, win := range windows {
		e.evaluate(s, win)
		if s.machine.State() == model.StateTerminated {
			break
		}
	}
	if s.machine.State() == model.StateTerminated {
		e.destroy(ev.SessionID, s)
	}
	return nil
}

// evaluate runs one cycle for one closed window. It always produces a
// decision; degraded inputs become neutral or low-confidence signals, never
// failures. Caller holds s.mu.
func (e *Engine) evaluate(s *sessionState, win feature.Window) {
	started := time.Now()
	cfg := e.config()

	extractor := feature.NewExtractor(cfg.Feature.MinEvents)
	fv := extractor.Extract(s.machine.SessionID(), win.Events, win.Start, win.End)

	score := s.ensemble.Score(fv)
	if s.ensemble.Observe(fv, score) {
		// The initial fit is cheap and gates all scoring, so it runs inline.
		// Later refits recompute in the background against a snapshot while
		// this profile keeps serving.
		if !s.ensemble.Trained() {
			e.refit(s)
		} else {
			go e.refit(s)
		}
	}

	prev := s.trust.Value()
	value, tier := e.trustEngine().Update(s.trust, score, fv.LowConfidence, win.End)

	assessment := e.threatClassifier().Classify(context.Background(), threat.Input{
		SessionID: s.machine.SessionID(),
		Tier:      tier,
		Delta:     value - prev,
		Ensemble:  score,
		Features:  fv,
		History:   s.trust.History(),
	})
	if cfg.Threat.AI.Enabled && assessment.Source == model.SourceRule && e.metrics != nil {
		e.metrics.AugmentFallback.Inc()
	}

	action, rec, err := s.machine.Apply(tier, assessment.Severity, value, win.End)
	if err != nil && !errors.Is(err, session.ErrTerminalState) {
		if e.logger != nil {
			e.logger.Error("state machine rejected transition", "session_id", s.machine.SessionID(), "err", err)
		}
	}
	s.cycles++

	e.commit(s, model.Snapshot{
		SessionID:         s.machine.SessionID(),
		UpdatedAt:         win.End,
		TrustValue:        value,
		Tier:              tier,
		State:             s.machine.State(),
		Assessment:        assessment,
		RecommendedAction: action,
		Ensemble:          score,
		Cycles:            s.cycles,
	}, rec, model.TrustSample{Timestamp: win.End, Value: value})

	if e.metrics != nil {
		e.metrics.Cycles.Inc()
		e.metrics.Actions.WithLabelValues(string(action)).Inc()
		e.metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}
}

func (e *Engine) commit(s *sessionState, snap model.Snapshot, rec *model.TransitionRecord, sample model.TrustSample) {
	if e.snapshots != nil {
		e.snapshots.Update(snap)
	}
	if rec != nil {
		if e.auditLog != nil {
			e.auditLog.Add(*rec)
		}
		if e.logger != nil {
			e.logger.Info("session transition",
				"session_id", rec.SessionID,
				"from", rec.From,
				"to", rec.To,
				"action", rec.Action,
				"tier", rec.Tier,
				"severity", rec.Severity,
				"trust", rec.TrustValue,
			)
		}
		if e.store != nil {
			_ = e.store.SaveTransition(context.Background(), *rec)
		}
	}
	if e.store != nil {
		_ = e.store.SaveTrustSample(context.Background(), snap.SessionID, sample)
	}
}

func (e *Engine) refit(s *sessionState) {
	if s.ensemble.Refit() {
		if e.metrics != nil {
			e.metrics.Refits.Inc()
		}
		if e.logger != nil {
			e.logger.Debug("baseline profile refit", "session_id", s.machine.SessionID())
		}
	}
}

// StepUpResult feeds the external verification outcome into a challenged
// session.
func (e *Engine) StepUpResult(sessionID string, success bool) (model.Action, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return "", ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	value := s.trust.Value()
	tier := e.trustEngine().Classify(value)
	action, rec, err := s.machine.ResolveChallenge(success, tier, value, now)
	if err != nil {
		return action, err
	}
	e.commit(s, model.Snapshot{
		SessionID:         sessionID,
		UpdatedAt:         now,
		TrustValue:        value,
		Tier:              tier,
		State:             s.machine.State(),
		Assessment:        model.ThreatAssessment{Severity: model.SeverityNone, Category: "step-up verification", Confidence: 1, RecommendedAction: action, Source: model.SourceRule},
		RecommendedAction: action,
		Cycles:            s.cycles,
	}, rec, model.TrustSample{Timestamp: now, Value: value})
	if e.metrics != nil {
		e.metrics.Actions.WithLabelValues(string(action)).Inc()
	}
	return action, nil
}

// Export produces the audit record for a session.
func (e *Engine) Export(sessionID string) ([]byte, error) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Export(s.machine, s.ensemble.Version(), s.trust.History())
}

// Import restores a previously exported session record. The engine refuses
// records fitted under a different profile version.
func (e *Engine) Import(data []byte) (string, error) {
	cfg := e.config()
	machine, rec, err := session.Import(data, detector.ProfileVersion, cfg.Decision.Hysteresis)
	if err != nil {
		return "", err
	}
	s := &sessionState{
		machine:  machine,
		trust:    trust.RestoreState(rec.TrustHistory, cfg.Trust.HistoryLimit),
		windower: feature.NewWindower(cfg.Feature.Window, cfg.Feature.Step),
		ensemble: e.newEnsemble(cfg),
		lastSeen: time.Now().UTC(),
	}
	e.mu.Lock()
	e.sessions[rec.SessionID] = s
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(e.sessionCount()))
	}
	return rec.SessionID, nil
}

// EndSession destroys a session on logout; its record is exported to
// storage first.
func (e *Engine) EndSession(sessionID string) error {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Trailing activity still gets scored before the session goes away.
	if win, ok := s.windower.Flush(); ok && !s.machine.State().Terminal() {
		e.evaluate(s, win)
	}
	e.destroy(sessionID, s)
	return nil
}

// destroy removes a session, persisting its exportable record. Caller
// holds s.mu.
func (e *Engine) destroy(sessionID string, s *sessionState) {
	if e.store != nil {
		_ = e.store.SaveSessionRecord(context.Background(), model.SessionRecord{
			SessionID:      sessionID,
			CreatedAt:      s.machine.CreatedAt(),
			State:          s.machine.State(),
			ProfileVersion: s.ensemble.Version(),
			TrustHistory:   s.trust.History(),
		})
	}
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(e.sessionCount()))
	}
	if e.logger != nil {
		e.logger.Info("session destroyed", "session_id", sessionID, "state", s.machine.State())
	}
}

func (e *Engine) sweep(ctx context.Context) {
	cfg := e.config()
	ticker := time.NewTicker(cfg.Decision.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepIdle(e.config().Decision.IdleTimeout)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) sweepIdle(idle time.Duration) {
	if idle <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-idle)
	e.mu.Lock()
	stale := make(map[string]*sessionState)
	for id, s := range e.sessions {
		stale[id] = s
	}
	e.mu.Unlock()
	for id, s := range stale {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			if e.logger != nil {
				e.logger.Info("session idle timeout", "session_id", id)
			}
			e.destroy(id, s)
		}
		s.mu.Unlock()
	}
}

func (e *Engine) getSession(sessionID string) *sessionState {
	cfg := e.config()
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		return s
	}
	s := &sessionState{
		machine:  session.NewMachine(sessionID, cfg.Decision.Hysteresis, time.Now().UTC()),
		trust:    trust.NewState(cfg.Trust.HistoryLimit),
		windower: feature.NewWindower(cfg.Feature.Window, cfg.Feature.Step),
		ensemble: e.newEnsemble(cfg),
		lastSeen: time.Now().UTC(),
	}
	e.sessions[sessionID] = s
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(len(e.sessions)))
	}
	return s
}

func (e *Engine) newEnsemble(cfg *config.Config) *detector.Ensemble {
	return detector.NewEnsemble(detector.Options{
		BaselineMin:   cfg.Detector.BaselineMin,
		RefitInterval: cfg.Detector.RefitInterval,
		PoisonGuard:   cfg.Detector.PoisonGuard,
		Trees:         cfg.Detector.Trees,
		SampleSize:    cfg.Detector.SampleSize,
		Seed:          cfg.Detector.Seed,
		BoundaryNu:    cfg.Detector.BoundaryNu,
		ForestWeight:  cfg.Detector.Weights.Forest,
		BoundaryWt:    cfg.Detector.Weights.Boundary,
	})
}

func (e *Engine) sessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Reset drops all session state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.sessions = make(map[string]*sessionState)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(0)
	}
}

func (e *Engine) trustEngine() *trust.Engine {
	return e.trustEng.Load()
}

func (e *Engine) threatClassifier() *threat.Classifier {
	return e.classifier.Load()
}

// SessionCount reports how many sessions the engine is tracking.
func (e *Engine) SessionCount() int {
	return e.sessionCount()
}

// Started reports when the engine was constructed.
func (e *Engine) Started() time.Time {
	return e.started
}
