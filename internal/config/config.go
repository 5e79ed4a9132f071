package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider         string        `yaml:"provider"`
	BaseURL          string        `yaml:"base_url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float32       `yaml:"temperature"`
	MaxContextTokens int           `yaml:"max_context_tokens"`
	Timeout          time.Duration `yaml:"timeout"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type HTTPConfig struct {
	Listen         string   `yaml:"listen"`
	AppURL         string   `yaml:"app_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type TelegramConfig struct {
	Token        string        `yaml:"token"`
	AllowedUsers []int64       `yaml:"allowed_users"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	DataDir            string          `yaml:"data_dir"`
	LogLevel           string          `yaml:"log_level"`
	LogFormat          string          `yaml:"log_format"`
	MaxToolRounds      int             `yaml:"max_tool_rounds"`
	ToolConcurrency    int             `yaml:"tool_concurrency"`
	MaxConcurrentTurns int             `yaml:"max_concurrent_turns"`
	Greeting           string          `yaml:"greeting"`
	PromptFile         string          `yaml:"prompt_file"`
	LLM                LLMConfig       `yaml:"llm"`
	Gemini             GeminiConfig    `yaml:"gemini"`
	HTTP               HTTPConfig      `yaml:"http"`
	Telegram           TelegramConfig  `yaml:"telegram"`
	Telemetry          TelemetryConfig `yaml:"telemetry"`
	Audit              AuditConfig     `yaml:"audit"`
}

const defaultGreeting = "Hello! I am your Weather Agent. I can help you check weather, compare cities, or navigate the app. What would you like to do?"

// DefaultPath is where the config lives unless --config says otherwise.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".weatheragent", "config.yaml")
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	cfg := &Config{
		DataDir:            filepath.Join(os.Getenv("HOME"), ".weatheragent"),
		LogLevel:           "info",
		LogFormat:          "text",
		MaxToolRounds:      8,
		ToolConcurrency:    1,
		MaxConcurrentTurns: 4,
		Greeting:           defaultGreeting,
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 1024
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 16000
	cfg.LLM.Timeout = 60 * time.Second
	cfg.Gemini.Model = "gemini-2.5-flash"
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.HTTP.AppURL = "http://localhost:3000"
	cfg.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Telegram.IdleTimeout = 24 * time.Hour
	cfg.Telemetry.ServiceName = "weatheragent"
	cfg.Telemetry.SampleRatio = 1.0
	cfg.Telemetry.Insecure = true
	cfg.Audit.Enabled = true
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment (highest precedence).
func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if geminiKey := os.Getenv("GEMINI_API_KEY"); geminiKey != "" {
		cfg.Gemini.APIKey = geminiKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("WEATHERAGENT_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json", "plain":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json, plain)", c.LogFormat)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider %q (valid: openai, gemini)", c.LLM.Provider)
	}
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.ToolConcurrency < 1 {
		return fmt.Errorf("tool_concurrency must be at least 1, got %d", c.ToolConcurrency)
	}
	if c.Telegram.IdleTimeout < 0 {
		return fmt.Errorf("telegram.idle_timeout must not be negative, got %v", c.Telegram.IdleTimeout)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %v", c.Telemetry.SampleRatio)
	}
	return nil
}

// AuditPath returns the journal database path, defaulting into DataDir.
func (c *Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.DataDir, "dispatch.db")
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a nested map keyed by YAML field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as a flat dot-keyed map, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readFileMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue reads one dot-keyed value from the config file, creating the file
// with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readFileMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot-keyed value into an existing config file. The raw
// value is parsed as YAML, so "16" stores a number, "true" a boolean and
// "[a, b]" a list. Keys the config does not know are rejected.
func SetValue(path, key, raw string) error {
	m, err := readFileMap(path)
	if err != nil {
		return err
	}
	known, err := ListValues(Default(), false)
	if err != nil {
		return err
	}
	if _, ok := known[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	flat := Flatten(m)
	flat[key] = parseScalar(raw)

	data, err := yaml.Marshal(Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Reject edits that leave the file unloadable.
	check := Default()
	if err := yaml.Unmarshal(data, check); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeAtomic(path, data)
}

func parseScalar(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case string, bool, int, float64, []any:
		return v
	default:
		return raw
	}
}
