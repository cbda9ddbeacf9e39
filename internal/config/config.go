package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`

	// LLM settings
	OpenAIAPIKey   string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `env:"OPENAI_BASE_URL"`
	OpenAIModel    string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LLMMaxTokens   int     `env:"LLM_MAX_TOKENS" envDefault:"512"`
	LLMTemperature float32 `env:"LLM_TEMPERATURE" envDefault:"0.8"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Retries
	LLMMaxAttempts    int           `env:"LLM_MAX_ATTEMPTS" envDefault:"3"`
	LLMAttemptTimeout time.Duration `env:"LLM_ATTEMPT_TIMEOUT" envDefault:"10s"`
	LLMMaxBackoff     time.Duration `env:"LLM_MAX_BACKOFF" envDefault:"8s"`

	// Circuit breaker (optional)
	LLMBreakerEnabled  bool          `env:"LLM_BREAKER_ENABLED" envDefault:"false"`
	LLMBreakerFailures uint32        `env:"LLM_BREAKER_FAILURES" envDefault:"5"`
	LLMBreakerCooldown time.Duration `env:"LLM_BREAKER_COOLDOWN" envDefault:"30s"`

	// Context cache
	ContextCacheTTL     time.Duration `env:"CONTEXT_CACHE_TTL" envDefault:"5m"`
	ContextCacheMaxSize int           `env:"CONTEXT_CACHE_MAX_SIZE" envDefault:"100"`
	ContextMaxTurns     int           `env:"CONTEXT_MAX_TURNS" envDefault:"10"`
	ContextCacheSweep   string        `env:"CONTEXT_CACHE_SWEEP" envDefault:"@every 1m"`

	// Prompts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Storage, empty path keeps turns in memory
	TurnsFilePath string `env:"TURNS_FILE_PATH" envDefault:"data/turns.jsonl"`

	// Formatting
	ReplyHintsEnabled bool   `env:"REPLY_HINTS_ENABLED" envDefault:"true"`
	MessageParseMode  string `env:"MESSAGE_PARSE_MODE" envDefault:"HTML"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"true"`
}

// Parse reads the environment into a Config.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
