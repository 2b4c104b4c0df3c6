package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported LLM and embedding backends.
const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`

	// Provider gateways
	MailGatewayURL     string `yaml:"mail_gateway_url"`
	CalendarGatewayURL string `yaml:"calendar_gateway_url"`

	// Pipeline tuning
	PageSize        int           `yaml:"page_size"`
	BatchItemCap    int           `yaml:"batch_item_cap"`
	MaxItemAttempts int           `yaml:"max_item_attempts"`
	LockExpiry      time.Duration `yaml:"lock_expiry"`
	RunnerInterval  time.Duration `yaml:"runner_interval"`

	// Embedding and extraction
	EmbedBackend   string `yaml:"embed_backend"`
	EmbedModel     string `yaml:"embed_model"`
	EmbedDimension int    `yaml:"embed_dimension"`
	LLMBackend     string `yaml:"llm_backend"`
	LLMModel       string `yaml:"llm_model"`
	ExtractWithLLM bool   `yaml:"extract_with_llm"`

	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`

	// Server
	ServerPort int    `yaml:"server_port"`
	ServerURL  string `yaml:"server_url"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "syncwell"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),

		MailGatewayURL:     getEnv("SYNCWELL_MAIL_GATEWAY_URL", "http://localhost:8710"),
		CalendarGatewayURL: getEnv("SYNCWELL_CALENDAR_GATEWAY_URL", "http://localhost:8711"),

		PageSize:        getEnvInt("SYNCWELL_PAGE_SIZE", 50),
		BatchItemCap:    getEnvInt("SYNCWELL_BATCH_ITEM_CAP", 2000),
		MaxItemAttempts: getEnvInt("SYNCWELL_MAX_ITEM_ATTEMPTS", 3),
		LockExpiry:      getEnvDuration("SYNCWELL_LOCK_EXPIRY", 30*time.Minute),
		RunnerInterval:  getEnvDuration("SYNCWELL_RUNNER_INTERVAL", 5*time.Second),

		EmbedBackend:   getEnv("SYNCWELL_EMBED_BACKEND", BackendOllama),
		EmbedModel:     getEnv("SYNCWELL_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("SYNCWELL_EMBED_DIM", 384),
		LLMBackend:     getEnv("SYNCWELL_LLM_BACKEND", BackendOllama),
		LLMModel:       getEnv("SYNCWELL_LLM_MODEL", "llama3.2"),
		ExtractWithLLM: getEnv("SYNCWELL_EXTRACT_WITH_LLM", "false") == "true",

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		ServerPort: getEnvInt("SYNCWELL_SERVER_PORT", 8720),
		ServerURL:  getEnv("SYNCWELL_SERVER_URL", "http://localhost:8720"),

		LogFile:  getEnv("SYNCWELL_LOG_FILE", "/tmp/syncwell.log"),
		LogLevel: parseLogLevel(getEnv("SYNCWELL_LOG_LEVEL", "INFO")),
	}
}

// LoadFile overlays values from a YAML config file onto c. Zero-valued
// fields in the file leave the existing value untouched.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.merge(overlay)
	return nil
}

func (c *Config) merge(o Config) {
	if o.SurrealDBURL != "" {
		c.SurrealDBURL = o.SurrealDBURL
	}
	if o.SurrealDBNamespace != "" {
		c.SurrealDBNamespace = o.SurrealDBNamespace
	}
	if o.SurrealDBDatabase != "" {
		c.SurrealDBDatabase = o.SurrealDBDatabase
	}
	if o.SurrealDBUser != "" {
		c.SurrealDBUser = o.SurrealDBUser
	}
	if o.SurrealDBPass != "" {
		c.SurrealDBPass = o.SurrealDBPass
	}
	if o.MailGatewayURL != "" {
		c.MailGatewayURL = o.MailGatewayURL
	}
	if o.CalendarGatewayURL != "" {
		c.CalendarGatewayURL = o.CalendarGatewayURL
	}
	if o.PageSize > 0 {
		c.PageSize = o.PageSize
	}
	if o.BatchItemCap > 0 {
		c.BatchItemCap = o.BatchItemCap
	}
	if o.MaxItemAttempts > 0 {
		c.MaxItemAttempts = o.MaxItemAttempts
	}
	if o.LockExpiry > 0 {
		c.LockExpiry = o.LockExpiry
	}
	if o.RunnerInterval > 0 {
		c.RunnerInterval = o.RunnerInterval
	}
	if o.EmbedBackend != "" {
		c.EmbedBackend = o.EmbedBackend
	}
	if o.EmbedModel != "" {
		c.EmbedModel = o.EmbedModel
	}
	if o.EmbedDimension > 0 {
		c.EmbedDimension = o.EmbedDimension
	}
	if o.LLMBackend != "" {
		c.LLMBackend = o.LLMBackend
	}
	if o.LLMModel != "" {
		c.LLMModel = o.LLMModel
	}
	if o.ExtractWithLLM {
		c.ExtractWithLLM = true
	}
	if o.OllamaHost != "" {
		c.OllamaHost = o.OllamaHost
	}
	if o.ServerPort > 0 {
		c.ServerPort = o.ServerPort
	}
	if o.ServerURL != "" {
		c.ServerURL = o.ServerURL
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
