// Package config centralises runtime configuration helpers for lotmatch services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/lotmatch/ledger"
)

// Environment identifies the runtime environment where lotmatch operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// MatchingSettings configures the defaults applied to new trading records.
type MatchingSettings struct {
	Policy      ledger.MatchPolicy `yaml:"policy"`
	OpeningSide ledger.Side        `yaml:"openingSide"`
}

// JournalSettings configures record persistence.
type JournalSettings struct {
	// DatabaseURL selects the Postgres journal when non-empty; otherwise the
	// in-memory journal is used.
	DatabaseURL    string        `yaml:"databaseUrl"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	// SnapshotEvery persists a snapshot after this many accepted fills.
	SnapshotEvery int `yaml:"snapshotEvery"`
}

// ReplaySettings configures the fill replay engine.
type ReplaySettings struct {
	CSVPath string `yaml:"csvPath"`
	Workers int    `yaml:"workers"`
	// RatePerSecond throttles fill application; zero disables throttling.
	RatePerSecond float64 `yaml:"ratePerSecond"`
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the lotmatch configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Matching    MatchingSettings  `yaml:"matching"`
	Journal     JournalSettings   `yaml:"journal"`
	Replay      ReplaySettings    `yaml:"replay"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
}

// Default returns the default lotmatch configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Matching: MatchingSettings{
			Policy:      ledger.MatchFIFO,
			OpeningSide: ledger.SideBuy,
		},
		Journal: JournalSettings{
			DatabaseURL:    "",
			ConnectTimeout: 10 * time.Second,
			SnapshotEvery:  100,
		},
		Replay: ReplaySettings{
			CSVPath:       "",
			Workers:       4,
			RatePerSecond: 0,
		},
		Telemetry: TelemetrySettings{
			OTLPEndpoint: "",
			ServiceName:  "lotmatch",
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("LOTMATCH_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_MATCH_POLICY")); v != "" {
		if policy, err := ledger.ParseMatchPolicy(v); err == nil {
			cfg.Matching.Policy = policy
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_OPENING_SIDE")); v != "" {
		side := ledger.Side(v)
		if side.Validate() == nil {
			cfg.Matching.OpeningSide = side
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_DATABASE_URL")); v != "" {
		cfg.Journal.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_DB_CONNECT_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Journal.ConnectTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_SNAPSHOT_EVERY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Journal.SnapshotEvery = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_REPLAY_CSV")); v != "" {
		cfg.Replay.CSVPath = v
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_REPLAY_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Replay.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_REPLAY_RATE")); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate >= 0 {
			cfg.Replay.RatePerSecond = rate
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("LOTMATCH_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	return cfg
}

// FromFile overlays a YAML configuration file on top of the provided base.
func FromFile(base Settings, path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports configuration values the engine cannot run with.
func (s Settings) Validate() error {
	if err := s.Matching.Policy.Validate(); err != nil {
		return err
	}
	if err := s.Matching.OpeningSide.Validate(); err != nil {
		return err
	}
	if s.Journal.SnapshotEvery <= 0 {
		return fmt.Errorf("journal snapshotEvery must be positive, got %d", s.Journal.SnapshotEvery)
	}
	if s.Replay.Workers <= 0 {
		return fmt.Errorf("replay workers must be positive, got %d", s.Replay.Workers)
	}
	if s.Replay.RatePerSecond < 0 {
		return fmt.Errorf("replay ratePerSecond must not be negative, got %f", s.Replay.RatePerSecond)
	}
	return nil
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithMatching overrides the default policy and opening side for new records.
func WithMatching(policy ledger.MatchPolicy, side ledger.Side) Option {
	return func(s *Settings) {
		if policy.Validate() == nil {
			s.Matching.Policy = policy
		}
		if side.Validate() == nil {
			s.Matching.OpeningSide = side
		}
	}
}

// WithDatabaseURL points the journal at a Postgres instance.
func WithDatabaseURL(dsn string) Option {
	dsn = strings.TrimSpace(dsn)
	return func(s *Settings) {
		if dsn != "" {
			s.Journal.DatabaseURL = dsn
		}
	}
}

// WithReplaySource sets the CSV fill source for the replay engine.
func WithReplaySource(path string) Option {
	path = strings.TrimSpace(path)
	return func(s *Settings) {
		if path != "" {
			s.Replay.CSVPath = path
		}
	}
}

// WithOTLPEndpoint enables metric export to the given OTLP collector.
func WithOTLPEndpoint(endpoint string) Option {
	endpoint = strings.TrimSpace(endpoint)
	return func(s *Settings) {
		if endpoint != "" {
			s.Telemetry.OTLPEndpoint = endpoint
		}
	}
}
