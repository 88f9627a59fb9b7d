package threat

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bioguard/internal/model"
)

// AugmentRequest is the structured summary sent to the external assessor.
type AugmentRequest struct {
	SessionID      string             `json:"session_id"`
	Tier           model.RiskTier     `json:"risk_tier"`
	ForestScore    float64            `json:"forest_score"`
	BoundaryScore  float64            `json:"boundary_score"`
	Likelihood     float64            `json:"likelihood"`
	Disagreement   float64            `json:"disagreement"`
	TrustDelta     float64            `json:"trust_delta"`
	FeatureSummary map[string]float64 `json:"feature_summary"`
	HistoryDigest  []float64          `json:"history_digest"`
}

type AugmentResponse struct {
	Severity       string  `json:"severity"`
	Category       string  `json:"category"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
	Rationale      string  `json:"rationale"`
}

// Augmentor calls the external assessment collaborator. Every call runs
// under an explicit timeout; any failure, malformed answer, or confidence
// below the floor hands the cycle back to the rule result unchanged.
type Augmentor struct {
	endpoint string
	timeout  time.Duration
	floor    float64
	client   *http.Client
	logger   *slog.Logger
}

func NewAugmentor(endpoint string, timeout time.Duration, confidenceFloor float64, logger *slog.Logger) *Augmentor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Augmentor{
		endpoint: endpoint,
		timeout:  timeout,
		floor:    confidenceFloor,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (a *Augmentor) Assess(ctx context.Context, in Input, fallback model.ThreatAssessment) model.ThreatAssessment {
	resp, err := a.call(ctx, buildRequest(in))
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("threat augmentation unavailable, using rule result", "session_id", in.SessionID, "err", err)
		}
		return fallback
	}
	severity, ok := parseSeverity(resp.Severity)
	if !ok || resp.Category == "" {
		if a.logger != nil {
			a.logger.Warn("threat augmentation response malformed, using rule result", "session_id", in.SessionID, "severity", resp.Severity)
		}
		return fallback
	}
	if resp.Confidence < a.floor {
		if a.logger != nil {
			a.logger.Debug("threat augmentation below confidence floor", "session_id", in.SessionID, "confidence", resp.Confidence)
		}
		return fallback
	}
	action, ok := parseAction(resp.Recommendation)
	if !ok {
		action = fallback.RecommendedAction
	}
	return model.ThreatAssessment{
		Severity:          severity,
		Category:          resp.Category,
		Confidence:        resp.Confidence,
		RecommendedAction: action,
		Rationale:         resp.Rationale,
		Source:            model.SourceAI,
	}
}

func (a *Augmentor) call(ctx context.Context, req AugmentRequest) (*AugmentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, &statusError{code: httpResp.StatusCode}
	}
	var out AugmentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "augmentor returned status " + http.StatusText(e.code)
}

func buildRequest(in Input) AugmentRequest {
	summary := make(map[string]float64, model.FeatureDim)
	for i, name := range model.FeatureNames {
		summary[name] = in.Features.Values[i]
	}
	digest := make([]float64, 0, 10)
	history := in.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, s := range history {
		digest = append(digest, s.Value)
	}
	return AugmentRequest{
		SessionID:      in.SessionID,
		Tier:           in.Tier,
		ForestScore:    in.Ensemble.Forest,
		BoundaryScore:  in.Ensemble.Boundary,
		Likelihood:     in.Ensemble.Likelihood,
		Disagreement:   in.Ensemble.Disagreement,
		TrustDelta:     in.Delta,
		FeatureSummary: summary,
		HistoryDigest:  digest,
	}
}

func parseSeverity(s string) (model.Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return model.SeverityCritical, true
	case "high":
		return model.SeverityHigh, true
	case "medium":
		return model.SeverityMedium, true
	case "low":
		return model.SeverityLow, true
	case "none":
		return model.SeverityNone, true
	}
	return "", false
}

func parseAction(s string) (model.Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow", "monitor":
		return model.ActionAllow, true
	case "challenge", "step_up", "verify":
		return model.ActionChallenge, true
	case "suspend":
		return model.ActionSuspend, true
	case "terminate", "block":
		return model.ActionTerminate, true
	}
	return "", false
}
