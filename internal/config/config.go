package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the clip monitor process.
type Config struct {
	// Process
	Environment string
	LogLevel    string
	HTTPPort    int
	AdminAPIKey string

	// Database
	DatabaseURL string

	// Dispatch
	TelegramBotToken  string
	TelegramAPIBase   string
	WebhookSigningKey string
	DispatchDryRun    bool

	// Clip source
	TwitchAPIBase    string
	TwitchTokenURL   string
	TwitchRatePerSec float64
	CallTimeout      time.Duration

	// Supervisor
	TickInterval           time.Duration
	LookbackWindow         time.Duration
	ExpirySweepInterval    time.Duration
	RetentionSweepInterval time.Duration
	LedgerRetention        time.Duration
	MaxStreamerSlots       int
	ResolveConcurrency     int
	ShutdownTimeout        time.Duration

	// Leader election
	LeaderElection bool
	LeaseName      string
	Namespace      string
	PodName        string
	InCluster      bool
	KubeConfigPath string
}

// LoadDotEnv seeds the environment from the given files (".env" when none
// are given). Missing files are not an error; variables already set in the
// environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:            getEnv("ENVIRONMENT", "production"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		HTTPPort:               getEnvInt("PORT", 8080),
		AdminAPIKey:            getEnv("ADMIN_API_KEY", ""),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAPIBase:        getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		WebhookSigningKey:      getEnv("WEBHOOK_SIGNING_KEY", ""),
		DispatchDryRun:         getEnvBool("DISPATCH_DRY_RUN", false),
		TwitchAPIBase:          getEnv("TWITCH_API_BASE", "https://api.twitch.tv/helix"),
		TwitchTokenURL:         getEnv("TWITCH_TOKEN_URL", "https://id.twitch.tv/oauth2/token"),
		TwitchRatePerSec:       getEnvFloat("TWITCH_RATE_PER_SEC", 10),
		CallTimeout:            getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		TickInterval:           getEnvDuration("TICK_INTERVAL", 60*time.Second),
		LookbackWindow:         getEnvDuration("LOOKBACK_WINDOW", 5*time.Minute),
		ExpirySweepInterval:    getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Hour),
		RetentionSweepInterval: getEnvDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
		LedgerRetention:        getEnvDuration("LEDGER_RETENTION", 24*time.Hour),
		MaxStreamerSlots:       getEnvInt("MAX_STREAMER_SLOTS", 5),
		ResolveConcurrency:     getEnvInt("RESOLVE_CONCURRENCY", 4),
		ShutdownTimeout:        getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LeaderElection:         getEnvBool("LEADER_ELECTION", false),
		LeaseName:              getEnv("LEASE_NAME", "clipwatch-supervisor"),
		Namespace:              getEnv("NAMESPACE", "default"),
		PodName:                getEnv("POD_NAME", ""),
		InCluster:              getEnvBool("IN_CLUSTER", false),
		KubeConfigPath:         getEnv("KUBECONFIG", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TelegramBotToken == "" && !c.DispatchDryRun {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required unless DISPATCH_DRY_RUN is set")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive")
	}
	if c.MaxStreamerSlots <= 0 {
		return fmt.Errorf("MAX_STREAMER_SLOTS must be positive")
	}
	if c.ResolveConcurrency <= 0 {
		return fmt.Errorf("RESOLVE_CONCURRENCY must be positive")
	}
	if c.LeaderElection && c.PodName == "" {
		return fmt.Errorf("POD_NAME is required when LEADER_ELECTION is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
