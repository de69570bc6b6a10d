package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/genqueue/pkg/models"
)

// Config holds all configuration for the genqueue server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Queue     QueueConfig
	Quota     QuotaConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// AdminAPIKey, when set, is installed as an admin key of the default
	// tenant at startup.
	AdminAPIKey string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LockTimeout bounds how long a job transition waits on a row lock.
	LockTimeout     time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// QueueConfig controls job creation, retries and expiry.
type QueueConfig struct {
	BatchLimit      int
	JobTTL          time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	LeaseDuration   time.Duration
	CleanupInterval time.Duration
	StatsCacheTTL   time.Duration
}

// QuotaConfig is the tier→limit table. A limit of -1 means unlimited.
type QuotaConfig struct {
	FreeLimit       int
	ProLimit        int
	EnterpriseLimit int
}

// LimitFor returns the generation limit configured for tier.
func (q QuotaConfig) LimitFor(tier models.Tier) (int, bool) {
	switch tier {
	case models.TierFree:
		return q.FreeLimit, true
	case models.TierPro:
		return q.ProLimit, true
	case models.TierEnterprise:
		return q.EnterpriseLimit, true
	default:
		return 0, false
	}
}

type WorkerConfig struct {
	Count        int
	PollInterval time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

const minAdminKeyLen = 24

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GENQUEUE_PORT", 8080),
			Env:  envString("GENQUEUE_ENV", "development"),

			AdminAPIKey: os.Getenv("GENQUEUE_ADMIN_KEY"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			LockTimeout:     envDuration("DATABASE_LOCK_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Queue: QueueConfig{
			BatchLimit:      envInt("QUEUE_BATCH_LIMIT", 25),
			JobTTL:          envDuration("QUEUE_JOB_TTL", 24*time.Hour),
			MaxRetries:      envInt("QUEUE_MAX_RETRIES", 3),
			RetryDelay:      envDuration("QUEUE_RETRY_DELAY", 5*time.Second),
			LeaseDuration:   envDuration("QUEUE_LEASE_DURATION", 2*time.Minute),
			CleanupInterval: envDuration("QUEUE_CLEANUP_INTERVAL", time.Minute),
			StatsCacheTTL:   envDuration("QUEUE_STATS_CACHE_TTL", 5*time.Second),
		},
		Quota: QuotaConfig{
			FreeLimit:       envInt("QUOTA_FREE_LIMIT", 10),
			ProLimit:        envInt("QUOTA_PRO_LIMIT", 100),
			EnterpriseLimit: envInt("QUOTA_ENTERPRISE_LIMIT", models.UnlimitedGenerations),
		},
		Worker: WorkerConfig{
			Count:        envInt("WORKER_COUNT", 4),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.LockTimeout < 0 {
		return fmt.Errorf("DATABASE_LOCK_TIMEOUT must not be negative")
	}

	if c.Server.AdminAPIKey != "" && len(c.Server.AdminAPIKey) < minAdminKeyLen {
		return fmt.Errorf("GENQUEUE_ADMIN_KEY must be at least %d characters", minAdminKeyLen)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "mock" && c.Server.Env == "production" {
		return fmt.Errorf("AI_PROVIDER mock is not allowed when GENQUEUE_ENV is production")
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.Queue.BatchLimit < 1 {
		return fmt.Errorf("QUEUE_BATCH_LIMIT must be at least 1, got %d", c.Queue.BatchLimit)
	}
	if c.Queue.JobTTL <= 0 {
		return fmt.Errorf("QUEUE_JOB_TTL must be positive, got %s", c.Queue.JobTTL)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must not be negative, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("QUEUE_RETRY_DELAY must not be negative, got %s", c.Queue.RetryDelay)
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("QUEUE_LEASE_DURATION must be positive, got %s", c.Queue.LeaseDuration)
	}
	if c.Queue.CleanupInterval <= 0 {
		return fmt.Errorf("QUEUE_CLEANUP_INTERVAL must be positive, got %s", c.Queue.CleanupInterval)
	}

	for name, limit := range map[string]int{
		"QUOTA_FREE_LIMIT":       c.Quota.FreeLimit,
		"QUOTA_PRO_LIMIT":        c.Quota.ProLimit,
		"QUOTA_ENTERPRISE_LIMIT": c.Quota.EnterpriseLimit,
	} {
		if limit < models.UnlimitedGenerations {
			return fmt.Errorf("%s must be -1 (unlimited) or non-negative, got %d", name, limit)
		}
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %s", c.Worker.PollInterval)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
