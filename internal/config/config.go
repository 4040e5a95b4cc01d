// Package config loads service configuration from the environment. Each
// section has its own loader so a bad value names the variable that caused
// it.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// Engine providers.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config aggregates every tunable of the service.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Engine    EngineConfig
	Chat      ChatConfig
	Tool      ToolConfig
	Knowledge KnowledgeConfig
}

// Load reads the full configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	log, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	storage := loadStorageConfig()

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	tool, err := loadToolConfig()
	if err != nil {
		return nil, err
	}

	knowledge, err := loadKnowledgeConfig(storage.DataDir)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Log:       log,
		Storage:   storage,
		Engine:    engine,
		Chat:      chat,
		Tool:      tool,
		Knowledge: knowledge,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as a full listen address.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig describes logger output.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
	}, nil
}

// StorageConfig locates the data directory that holds sessions, accounts,
// analytics, and the knowledge file.
type StorageConfig struct {
	DataDir string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{DataDir: getEnvOrDefault("DATA_DIR", "data")}
}

// EngineConfig describes the inference engine connection.
type EngineConfig struct {
	Provider  string
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// ChunkTimeout bounds the wait for each streamed chunk; AskTimeout
	// bounds a whole single-shot generation.
	ChunkTimeout time.Duration
	AskTimeout   time.Duration
}

// Enabled reports whether the configuration is complete enough to reach an
// engine. The openai provider defaults to a local Ollama-compatible endpoint
// and is enabled out of the box; ark needs real credentials.
func (c EngineConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == ProviderArk {
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
	return c.BaseURL != ""
}

// NewChatModel builds the provider's chat model from the configuration.
func (c EngineConfig) NewChatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("engine not configured: set ENGINE_MODEL plus provider credentials")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      c.APIKey,
			Model:       c.Model,
			BaseURL:     c.BaseURL,
			MaxTokens:   c.MaxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	}
}

func loadEngineConfig() (EngineConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("ENGINE_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return EngineConfig{}, fmt.Errorf("invalid ENGINE_PROVIDER value %q: want %q or %q", provider, ProviderOpenAI, ProviderArk)
	}

	temperature, err := parseOptionalFloatEnv("ENGINE_TEMPERATURE")
	if err != nil {
		return EngineConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ENGINE_TOP_P")
	if err != nil {
		return EngineConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ENGINE_MAX_TOKENS")
	if err != nil {
		return EngineConfig{}, err
	}

	chunkTimeout, err := parseSecondsEnv("ENGINE_CHUNK_TIMEOUT", 30*time.Second)
	if err != nil {
		return EngineConfig{}, err
	}

	askTimeout, err := parseSecondsEnv("ENGINE_TIMEOUT", 120*time.Second)
	if err != nil {
		return EngineConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("ENGINE_API_KEY"))
	baseURL := strings.TrimSpace(os.Getenv("ENGINE_BASE_URL"))
	if provider == ProviderOpenAI {
		if apiKey == "" {
			// Local OpenAI-compatible engines ignore the key but the client
			// requires one.
			apiKey = "ollama"
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
	}

	return EngineConfig{
		Provider:     provider,
		APIKey:       apiKey,
		AccessKey:    strings.TrimSpace(os.Getenv("ENGINE_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ENGINE_SECRET_KEY")),
		Model:        getEnvOrDefault("ENGINE_MODEL", "llama2"),
		BaseURL:      baseURL,
		Region:       getEnvOrDefault("ENGINE_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		ChunkTimeout: chunkTimeout,
		AskTimeout:   askTimeout,
	}, nil
}

// ChatConfig tunes context assembly and the chat endpoint budget.
type ChatConfig struct {
	ContextTurns  int
	RatePerMinute int
	RateBurst     int
}

func loadChatConfig() (ChatConfig, error) {
	turns := 10
	if override, err := parseOptionalIntEnv("CONTEXT_TURNS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 || *override > 50 {
			return ChatConfig{}, fmt.Errorf("invalid CONTEXT_TURNS value %d: want 1-50", *override)
		}
		turns = *override
	}

	perMinute := 30
	if override, err := parseOptionalIntEnv("CHAT_RATE_PER_MINUTE"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_RATE_PER_MINUTE value %d", *override)
		}
		perMinute = *override
	}

	burst := 10
	if override, err := parseOptionalIntEnv("CHAT_RATE_BURST"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_RATE_BURST value %d", *override)
		}
		burst = *override
	}

	return ChatConfig{ContextTurns: turns, RatePerMinute: perMinute, RateBurst: burst}, nil
}

// ToolConfig tunes the web-search tool.
type ToolConfig struct {
	SearchEnabled bool
	SearchBaseURL string
	Timeout       time.Duration
	MaxRetries    int
}

func loadToolConfig() (ToolConfig, error) {
	enabled, err := parseBoolEnv("SEARCH_ENABLED", true)
	if err != nil {
		return ToolConfig{}, err
	}

	timeout, err := parseSecondsEnv("SEARCH_TIMEOUT", 0)
	if err != nil {
		return ToolConfig{}, err
	}

	maxRetries := 0
	if override, err := parseOptionalIntEnv("SEARCH_MAX_RETRIES"); err != nil {
		return ToolConfig{}, err
	} else if override != nil {
		maxRetries = *override
	}

	return ToolConfig{
		SearchEnabled: enabled,
		SearchBaseURL: strings.TrimSpace(os.Getenv("SEARCH_BASE_URL")),
		Timeout:       timeout,
		MaxRetries:    maxRetries,
	}, nil
}

// KnowledgeConfig locates the campus knowledge file.
type KnowledgeConfig struct {
	File  string
	Watch bool
}

func loadKnowledgeConfig(dataDir string) (KnowledgeConfig, error) {
	watch, err := parseBoolEnv("KNOWLEDGE_WATCH", true)
	if err != nil {
		return KnowledgeConfig{}, err
	}
	return KnowledgeConfig{
		File:  getEnvOrDefault("KNOWLEDGE_FILE", filepath.Join(dataDir, "knowledge.json")),
		Watch: watch,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseSecondsEnv reads a positive integer number of seconds.
func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	override, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if override == nil {
		return defaultValue, nil
	}
	if *override < 1 {
		return 0, fmt.Errorf("invalid %s value %d: want seconds > 0", key, *override)
	}
	return time.Duration(*override) * time.Second, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
