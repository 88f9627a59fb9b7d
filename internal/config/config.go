package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Feature  FeatureConfig  `json:"feature" yaml:"feature"`
	Detector DetectorConfig `json:"detector" yaml:"detector"`
	Trust    TrustConfig    `json:"trust" yaml:"trust"`
	Threat   ThreatConfig   `json:"threat" yaml:"threat"`
	Decision DecisionConfig `json:"decision" yaml:"decision"`
	API      APIConfig      `json:"api" yaml:"api"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type FeatureConfig struct {
	Window    time.Duration `json:"window" yaml:"window"`
	Step      time.Duration `json:"step" yaml:"step"`
	MinEvents int           `json:"min_events" yaml:"min_events"`
}

type DetectorConfig struct {
	BaselineMin   int           `json:"baseline_min" yaml:"baseline_min"`
	RefitInterval int           `json:"refit_interval" yaml:"refit_interval"`
	PoisonGuard   float64       `json:"poison_guard" yaml:"poison_guard"`
	Trees         int           `json:"trees" yaml:"trees"`
	SampleSize    int           `json:"sample_size" yaml:"sample_size"`
	Seed          int64         `json:"seed" yaml:"seed"`
	BoundaryNu    float64       `json:"boundary_nu" yaml:"boundary_nu"`
	Weights       WeightsConfig `json:"weights" yaml:"weights"`
}

type WeightsConfig struct {
	Forest   float64 `json:"forest" yaml:"forest"`
	Boundary float64 `json:"boundary" yaml:"boundary"`
}

type TrustConfig struct {
	AlphaHigh    float64     `json:"alpha_high" yaml:"alpha_high"`
	AlphaLow     float64     `json:"alpha_low" yaml:"alpha_low"`
	HistoryLimit int         `json:"history_limit" yaml:"history_limit"`
	Tiers        TiersConfig `json:"tiers" yaml:"tiers"`
}

type TiersConfig struct {
	Trusted    float64 `json:"trusted" yaml:"trusted"`
	Elevated   float64 `json:"elevated" yaml:"elevated"`
	Suspicious float64 `json:"suspicious" yaml:"suspicious"`
}

type ThreatConfig struct {
	DisagreementThreshold float64  `json:"disagreement_threshold" yaml:"disagreement_threshold"`
	SharpDelta            float64  `json:"sharp_delta" yaml:"sharp_delta"`
	AI                    AIConfig `json:"ai" yaml:"ai"`
}

type AIConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Endpoint        string        `json:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	ConfidenceFloor float64       `json:"confidence_floor" yaml:"confidence_floor"`
}

type DecisionConfig struct {
	Hysteresis  int           `json:"hysteresis" yaml:"hysteresis"`
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	SweepEvery  time.Duration `json:"sweep_every" yaml:"sweep_every"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type SnapshotConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AuditConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Feature: FeatureConfig{
			Window:    10 * time.Second,
			Step:      2 * time.Second,
			MinEvents: 5,
		},
		Detector: DetectorConfig{
			BaselineMin:   20,
			RefitInterval: 50,
			PoisonGuard:   0.6,
			Trees:         100,
			SampleSize:    64,
			Seed:          42,
			BoundaryNu:    0.1,
			Weights:       WeightsConfig{Forest: 0.5, Boundary: 0.5},
		},
		Trust: TrustConfig{
			AlphaHigh:    0.3,
			AlphaLow:     0.08,
			HistoryLimit: 500,
			Tiers:        TiersConfig{Trusted: 0.8, Elevated: 0.5, Suspicious: 0.25},
		},
		Threat: ThreatConfig{
			DisagreementThreshold: 0.35,
			SharpDelta:            0.15,
			AI: AIConfig{
				Enabled:         false,
				Timeout:         3 * time.Second,
				ConfidenceFloor: 0.4,
			},
		},
		Decision: DecisionConfig{
			Hysteresis:  3,
			IdleTimeout: 30 * time.Minute,
			SweepEvery:  time.Minute,
		},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:bioguard.db?_pragma=busy_timeout(5000)"},
		Snapshot: SnapshotConfig{StoreLimit: 5000},
		Audit:    AuditConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Feature.Window <= 0 {
		cfg.Feature.Window = 10 * time.Second
	}
	if cfg.Feature.Step <= 0 {
		cfg.Feature.Step = 2 * time.Second
	}
	if cfg.Feature.MinEvents <= 0 {
		cfg.Feature.MinEvents = 5
	}
	if cfg.Detector.Trees <= 0 {
		cfg.Detector.Trees = 100
	}
	if cfg.Detector.SampleSize <= 0 {
		cfg.Detector.SampleSize = 64
	}
	if cfg.Detector.Weights.Forest == 0 && cfg.Detector.Weights.Boundary == 0 {
		cfg.Detector.Weights = WeightsConfig{Forest: 0.5, Boundary: 0.5}
	}
	if cfg.Trust.HistoryLimit <= 0 {
		cfg.Trust.HistoryLimit = 500
	}
	if cfg.Threat.AI.Timeout <= 0 {
		cfg.Threat.AI.Timeout = 3 * time.Second
	}
	if cfg.Decision.Hysteresis <= 0 {
		cfg.Decision.Hysteresis = 3
	}
	if cfg.Decision.SweepEvery <= 0 {
		cfg.Decision.SweepEvery = time.Minute
	}
	if cfg.Snapshot.StoreLimit <= 0 {
		cfg.Snapshot.StoreLimit = 5000
	}
	if cfg.Audit.StoreLimit <= 0 {
		cfg.Audit.StoreLimit = 1000
	}
}

// Validate rejects configurations the engine cannot run with. A bad
// threshold ordering is fatal at startup, never discovered mid-cycle.
func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Feature.Step > cfg.Feature.Window {
		return fmt.Errorf("feature.step (%s) must not exceed feature.window (%s)", cfg.Feature.Step, cfg.Feature.Window)
	}
	if cfg.Detector.BaselineMin <= 0 {
		return errors.New("detector.baseline_min must be > 0")
	}
	if cfg.Detector.RefitInterval <= 0 {
		return errors.New("detector.refit_interval must be > 0")
	}
	if cfg.Detector.PoisonGuard <= 0 || cfg.Detector.PoisonGuard > 1 {
		return errors.New("detector.poison_guard must be in (0,1]")
	}
	if cfg.Detector.BoundaryNu <= 0 || cfg.Detector.BoundaryNu >= 1 {
		return errors.New("detector.boundary_nu must be in (0,1)")
	}
	if cfg.Detector.Weights.Forest < 0 || cfg.Detector.Weights.Boundary < 0 ||
		cfg.Detector.Weights.Forest+cfg.Detector.Weights.Boundary <= 0 {
		return errors.New("detector.weights must be non-negative and sum to > 0")
	}
	if cfg.Trust.AlphaHigh <= 0 || cfg.Trust.AlphaHigh > 1 {
		return errors.New("trust.alpha_high must be in (0,1]")
	}
	if cfg.Trust.AlphaLow <= 0 || cfg.Trust.AlphaLow > 1 {
		return errors.New("trust.alpha_low must be in (0,1]")
	}
	if cfg.Trust.AlphaLow > cfg.Trust.AlphaHigh {
		return errors.New("trust.alpha_low must not exceed trust.alpha_high")
	}
	t := cfg.Trust.Tiers
	if !(t.Trusted > t.Elevated && t.Elevated > t.Suspicious && t.Suspicious > 0 && t.Trusted < 1) {
		return fmt.Errorf("trust.tiers must satisfy 0 < suspicious (%v) < elevated (%v) < trusted (%v) < 1",
			t.Suspicious, t.Elevated, t.Trusted)
	}
	if cfg.Threat.AI.Enabled && cfg.Threat.AI.Endpoint == "" {
		return errors.New("threat.ai.endpoint required when threat.ai.enabled is true")
	}
	if cfg.Threat.AI.ConfidenceFloor < 0 || cfg.Threat.AI.ConfidenceFloor > 1 {
		return errors.New("threat.ai.confidence_floor must be in [0,1]")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
