package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	SQLite    SQLiteConfig
	LLM       LLMConfig
	Search    SearchConfig
	Research  ResearchConfig
	Chart     ChartConfig
	Usage     UsageConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	IsDevelopment  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type StorageConfig struct {
	// Driver selects the key/value collaborator: "redis" or "memory".
	Driver string
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type ProviderConfig struct {
	Enabled         bool
	APIKey          string
	BaseURL         string
	ToolCallModels  []string
	ReasoningModels []string
}

type LLMConfig struct {
	DefaultModel        string
	Providers           map[string]ProviderConfig
	Temperature         float32
	MaxTokens           int
	TimeoutSec          int
	ContextWindowTokens int
	RelatedQuestions    bool
}

type SearchConfig struct {
	Enabled    bool
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
	CacheSize  int
}

type ResearchConfig struct {
	MaxDepth                 int
	MinRelevanceForNextDepth float64
	MaxSourcesPerDepth       int
	QualityThreshold         float64
}

type ChartConfig struct {
	Tag string
}

type UsageConfig struct {
	Endpoint   string
	TimeoutSec int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-agent")

	v.SetEnvPrefix("RESEARCH_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Provider keys are usually only present in the environment.
	if p, ok := config.LLM.Providers["openai"]; ok && p.APIKey == "" {
		p.APIKey = os.Getenv("OPENAI_API_KEY")
		config.LLM.Providers["openai"] = p
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Research.MaxDepth < 1 || c.Research.MaxDepth > 10 {
		return fmt.Errorf("research.maxDepth must be within 1..10, got %d", c.Research.MaxDepth)
	}
	if c.Research.MaxSourcesPerDepth < 1 {
		return fmt.Errorf("research.maxSourcesPerDepth must be positive, got %d", c.Research.MaxSourcesPerDepth)
	}
	switch c.Storage.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if !strings.Contains(c.LLM.DefaultModel, ":") {
		return fmt.Errorf("llm.defaultModel must be provider:model, got %q", c.LLM.DefaultModel)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 4194304)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.driver", "redis")

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/history.db")

	v.SetDefault("llm.defaultModel", "openai:gpt-4o-mini")
	v.SetDefault("llm.providers", map[string]interface{}{
		"openai": map[string]interface{}{
			"enabled":         true,
			"toolCallModels":  []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"},
			"reasoningModels": []string{"o1", "o1-mini", "o3-mini"},
		},
	})
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.contextWindowTokens", 120000)
	v.SetDefault("llm.relatedQuestions", true)

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.maxResults", 5)
	v.SetDefault("search.timeoutSec", 10)
	v.SetDefault("search.cacheSize", 256)

	v.SetDefault("research.maxDepth", 7)
	v.SetDefault("research.minRelevanceForNextDepth", 0.7)
	v.SetDefault("research.maxSourcesPerDepth", 5)
	v.SetDefault("research.qualityThreshold", 0.6)

	v.SetDefault("chart.tag", "chart_data")

	v.SetDefault("usage.timeoutSec", 5)

	v.SetDefault("rateLimit.maxRequestsPerMinute", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
