package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents application configuration. Values come from defaults,
// an optional CONFIG_FILE and environment variables, in increasing priority.
type Config struct {
	AppEnv          string   `mapstructure:"app_env" validate:"required,oneof=development test staging production"`
	Port            string   `mapstructure:"port" validate:"required,numeric"`
	DatabaseURL     string   `mapstructure:"database_url" validate:"omitempty,url"`
	DataDir         string   `mapstructure:"data_dir"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_minute" validate:"gte=0"`

	HTTP  HTTPConfig  `mapstructure:"http"`
	LLM   LLMConfig   `mapstructure:"llm"`
	Image ImageConfig `mapstructure:"image"`
	Batch BatchConfig `mapstructure:"batch"`
}

// HTTPConfig holds server timeouts. WriteTimeout is lifted for event streams.
type HTTPConfig struct {
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// LLMConfig seeds the prompt expansion backend.
type LLMConfig struct {
	Provider     string `mapstructure:"provider" validate:"omitempty,oneof=openai gemini static"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
	Model        string `mapstructure:"model"`
	Organization string `mapstructure:"organization"`
}

// ImageConfig seeds the image generation settings on first start.
type ImageConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
	Model    string `mapstructure:"model"`
}

// BatchConfig holds the default batch parameters.
type BatchConfig struct {
	Size    int           `mapstructure:"size" validate:"gt=0,lte=32"`
	Count   int           `mapstructure:"count" validate:"gt=0,lte=10"`
	Width   int           `mapstructure:"width" validate:"gt=0"`
	Height  int           `mapstructure:"height" validate:"gt=0"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

var configValidator = validator.New()

// LoadConfig reads .env files when present, then resolves configuration
// through viper and validates it.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := configValidator.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid config: %s", describeValidation(verrs))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("database_url", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("rate_limit_per_minute", 30)

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.organization", "")

	v.SetDefault("image.provider", "")
	v.SetDefault("image.api_key", "")
	v.SetDefault("image.base_url", "")
	v.SetDefault("image.model", "")

	v.SetDefault("batch.size", 2)
	v.SetDefault("batch.count", 4)
	v.SetDefault("batch.width", 1024)
	v.SetDefault("batch.height", 1024)
	v.SetDefault("batch.timeout", time.Duration(0))
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.Port = strings.TrimSpace(c.Port)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "static"
		if strings.TrimSpace(c.LLM.APIKey) != "" {
			c.LLM.Provider = "openai"
		}
	}
	var origins []string
	for _, o := range c.CORSOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	c.CORSOrigins = origins
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
