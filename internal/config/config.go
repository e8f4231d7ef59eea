// Package config loads casegen settings from a YAML file, an optional .env
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/casegen/internal/segment"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
)

type LLM struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Telemetry struct {
	// OTLPEndpoint enables trace export, e.g. "localhost:4318".
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

type Generation struct {
	Count          int    `yaml:"count"`
	Level          string `yaml:"level"`
	Priority       string `yaml:"priority"`
	Reflow         string `yaml:"reflow"`
	ContentRetries int    `yaml:"content_retries"`
}

type Config struct {
	LLM        LLM        `yaml:"llm"`
	Store      Store      `yaml:"store"`
	Server     Server     `yaml:"server"`
	Log        Log        `yaml:"log"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Generation Generation `yaml:"generation"`
}

func Default() Config {
	return Config{
		LLM: LLM{
			Provider:    ProviderAnthropic,
			MaxTokens:   8192,
			Temperature: 0.3,
			Timeout:     300 * time.Second,
			MaxAttempts: 2,
		},
		Store:      Store{Path: "casegen.db"},
		Server:     Server{Addr: ":8080", MaxBodyBytes: 4 << 20},
		Log:        Log{Level: "info"},
		Telemetry:  Telemetry{ServiceName: "casegen"},
		Generation: Generation{Count: 5, Level: "系统测试", Priority: "高", Reflow: "inline"},
	}
}

// Load reads path (optional, may be empty) over the defaults, then loads
// envFile when it exists and applies environment overrides.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CASEGEN_LLM_PROVIDER", &c.LLM.Provider)
	str("CASEGEN_LLM_MODEL", &c.LLM.Model)
	str("CASEGEN_LLM_BASE_URL", &c.LLM.BaseURL)
	str("CASEGEN_STORE_PATH", &c.Store.Path)
	str("CASEGEN_SERVER_ADDR", &c.Server.Addr)
	str("CASEGEN_LOG_LEVEL", &c.Log.Level)
	str("CASEGEN_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	str("CASEGEN_REFLOW", &c.Generation.Reflow)

	if c.LLM.APIKey == "" {
		for _, key := range apiKeyVars(c.LLM.Provider) {
			str(key, &c.LLM.APIKey)
			if c.LLM.APIKey != "" {
				break
			}
		}
	}

	if v, ok := lookup("CASEGEN_LLM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASEGEN_LLM_TIMEOUT: %w", err)
		}
		c.LLM.Timeout = d
	}
	if v, ok := lookup("CASEGEN_LLM_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASEGEN_LLM_MAX_ATTEMPTS: %w", err)
		}
		c.LLM.MaxAttempts = n
	}
	if v, ok := lookup("CASEGEN_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASEGEN_COUNT: %w", err)
		}
		c.Generation.Count = n
	}
	return nil
}

// apiKeyVars lists the environment keys consulted for a provider, most
// specific first.
func apiKeyVars(provider string) []string {
	switch strings.ToLower(provider) {
	case ProviderDeepSeek:
		return []string{"CASEGEN_LLM_API_KEY", "DEEPSEEK_API_KEY", "OPENAI_API_KEY"}
	case ProviderOpenAI:
		return []string{"CASEGEN_LLM_API_KEY", "OPENAI_API_KEY"}
	default:
		return []string{"CASEGEN_LLM_API_KEY", "ANTHROPIC_API_KEY"}
	}
}

// Validate checks values; a missing API key is not an error here because
// offline commands never call the model.
func (c Config) Validate() error {
	var problems []string
	switch strings.ToLower(c.LLM.Provider) {
	case ProviderAnthropic, ProviderOpenAI, ProviderDeepSeek:
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of anthropic, openai, deepseek", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		problems = append(problems, "llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be within [0, 2]")
	}
	if c.LLM.Timeout <= 0 {
		problems = append(problems, "llm.timeout must be positive")
	}
	if c.LLM.MaxAttempts < 1 {
		problems = append(problems, "llm.max_attempts must be at least 1")
	}
	if c.Generation.Count < 1 || c.Generation.Count > 30 {
		problems = append(problems, "generation.count must be between 1 and 30")
	}
	switch strings.ToLower(c.Generation.Reflow) {
	case "", "inline", "preserve":
	default:
		problems = append(problems, fmt.Sprintf("generation.reflow %q is not inline or preserve", c.Generation.Reflow))
	}
	if c.Server.MaxBodyBytes <= 0 {
		problems = append(problems, "server.max_body_bytes must be positive")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ReflowMode is the parsed generation.reflow value.
func (c Config) ReflowMode() segment.ReflowMode {
	return segment.ParseReflowMode(c.Generation.Reflow)
}
