package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type APIConfig struct {
	BaseURL         string   `toml:"base_url"`
	SubmitTimeout   Duration `toml:"submit_timeout"`
	PollTimeout     Duration `toml:"poll_timeout"`
	FeedbackTimeout Duration `toml:"feedback_timeout"`
	HealthTimeout   Duration `toml:"health_timeout"`
}

type PollingConfig struct {
	Interval         Duration `toml:"interval"`
	StatusClearDelay Duration `toml:"status_clear_delay"`
	BannerDuration   Duration `toml:"banner_duration"`
}

type BackoffConfig struct {
	InitialDelay Duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
	MaxDelay     Duration `toml:"max_delay"`
	Jitter       float64  `toml:"jitter"`
	MaxAttempts  int      `toml:"max_attempts"`
}

type HealthConfig struct {
	CheckInterval Duration `toml:"check_interval"`
	WakeEstimate  Duration `toml:"wake_estimate"`
}

type ChatConfig struct {
	TitleLength int `toml:"title_length"`
}

type UserConfig struct {
	API         APIConfig     `toml:"api"`
	Polling     PollingConfig `toml:"polling"`
	Backoff     BackoffConfig `toml:"backoff"`
	Health      HealthConfig  `toml:"health"`
	Chat        ChatConfig    `toml:"chat"`
	MetricsAddr string        `toml:"metrics_addr,omitempty"`
}

// Config is the flattened runtime configuration handed to the rest of the app.
type Config struct {
	DataDirectory string
	APIBaseURL    string
	MetricsAddr   string

	SubmitTimeout   time.Duration
	PollTimeout     time.Duration
	FeedbackTimeout time.Duration
	HealthTimeout   time.Duration

	PollInterval     time.Duration
	StatusClearDelay time.Duration
	BannerDuration   time.Duration

	BackoffInitial     time.Duration
	BackoffMultiplier  float64
	BackoffMax         time.Duration
	BackoffJitter      float64
	BackoffMaxAttempts int

	HealthCheckInterval time.Duration
	WakeEstimate        time.Duration

	TitleLength int
}

var Debug = false

// Log is the process-wide debug logger. It discards everything until
// InitDebugLog enables it.
var Log = zerolog.Nop()

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyUserConfig(u *UserConfig) {
	c.APIBaseURL = u.API.BaseURL
	c.SubmitTimeout = u.API.SubmitTimeout.Duration
	c.PollTimeout = u.API.PollTimeout.Duration
	c.FeedbackTimeout = u.API.FeedbackTimeout.Duration
	c.HealthTimeout = u.API.HealthTimeout.Duration

	c.PollInterval = u.Polling.Interval.Duration
	c.StatusClearDelay = u.Polling.StatusClearDelay.Duration
	c.BannerDuration = u.Polling.BannerDuration.Duration

	c.BackoffInitial = u.Backoff.InitialDelay.Duration
	c.BackoffMultiplier = u.Backoff.Multiplier
	c.BackoffMax = u.Backoff.MaxDelay.Duration
	c.BackoffJitter = u.Backoff.Jitter
	c.BackoffMaxAttempts = u.Backoff.MaxAttempts

	c.HealthCheckInterval = u.Health.CheckInterval.Duration
	c.WakeEstimate = u.Health.WakeEstimate.Duration

	c.TitleLength = u.Chat.TitleLength
	c.MetricsAddr = u.MetricsAddr
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("DOPCHAT_API_URL"); url != "" {
		c.APIBaseURL = url
	}
	if dataDir := os.Getenv("DOPCHAT_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if addr := os.Getenv("DOPCHAT_METRICS_ADDR"); addr != "" {
		c.MetricsAddr = addr
	}
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api base_url must be set (config.toml or DOPCHAT_API_URL)")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", c.PollInterval)
	}
	if c.BackoffMaxAttempts < 1 {
		return fmt.Errorf("backoff max_attempts must be at least 1, got %d", c.BackoffMaxAttempts)
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		return fmt.Errorf("backoff jitter must be in [0, 1), got %v", c.BackoffJitter)
	}
	if c.TitleLength < 1 {
		return fmt.Errorf("chat title_length must be at least 1, got %d", c.TitleLength)
	}
	return nil
}

func CheckDebug() bool {
	debug := os.Getenv("DOPCHAT_DEBUG")
	return debug == "true" || debug == "1"
}

func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log carries question text
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open debug log at %s: %v\n", logPath, err)
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	Log = zerolog.New(f).
		With().
		Timestamp().
		Caller().
		Str("app", "dopchat").
		Logger()

	Log.Info().Str("env", os.Getenv("DOPCHAT_DEBUG")).Msg("debug logging started")
	Log.Info().Str("path", logPath).Msg("log path")
}

func Load() (*Config, error) {
	cfg := Defaults()

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.DataDirectory = systemCfg.DataDirectory

	// DOPCHAT_DATA_DIR has to win before the user config is located
	if dataDir := os.Getenv("DOPCHAT_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
