package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.yaml")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "GEMINI_API_KEY", "TELEGRAM_BOT_TOKEN", "WEATHERAGENT_LISTEN", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(k, "")
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxToolRounds != 8 {
		t.Errorf("expected default max_tool_rounds=8, got %d", cfg.MaxToolRounds)
	}
	if cfg.ToolConcurrency != 1 {
		t.Errorf("expected default tool_concurrency=1, got %d", cfg.ToolConcurrency)
	}
	if cfg.Greeting == "" {
		t.Error("expected default greeting")
	}
	if cfg.Telegram.IdleTimeout != 24*time.Hour {
		t.Errorf("expected default telegram.idle_timeout=24h, got %v", cfg.Telegram.IdleTimeout)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults written to %s: %v", path, err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxToolRounds = 5
	original.Greeting = ""
	original.LLM.Provider = "gemini"
	original.LLM.APIKey = "sk-test-round-trip"
	original.LLM.Timeout = 15 * time.Second
	original.Gemini.APIKey = "AIza-round-trip"
	original.Telegram.Token = "bot-token-456"
	original.HTTP.AllowedOrigins = []string{"https://weather.example"}

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.MaxToolRounds != original.MaxToolRounds {
		t.Errorf("MaxToolRounds mismatch: %v != %v", loaded.MaxToolRounds, original.MaxToolRounds)
	}
	if loaded.Greeting != "" {
		t.Errorf("expected empty greeting to survive reload, got %q", loaded.Greeting)
	}
	if loaded.LLM.Provider != "gemini" {
		t.Errorf("LLM.Provider mismatch: %v", loaded.LLM.Provider)
	}
	if loaded.LLM.Timeout != 15*time.Second {
		t.Errorf("LLM.Timeout mismatch: %v", loaded.LLM.Timeout)
	}
	if loaded.Gemini.APIKey != original.Gemini.APIKey {
		t.Errorf("Gemini.APIKey mismatch: %v != %v", loaded.Gemini.APIKey, original.Gemini.APIKey)
	}
	if loaded.Telegram.Token != original.Telegram.Token {
		t.Errorf("Telegram.Token mismatch: %v != %v", loaded.Telegram.Token, original.Telegram.Token)
	}
	if len(loaded.HTTP.AllowedOrigins) != 1 || loaded.HTTP.AllowedOrigins[0] != "https://weather.example" {
		t.Errorf("AllowedOrigins mismatch: %v", loaded.HTTP.AllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("WEATHERAGENT_LISTEN", ":9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("expected env api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.HTTP.Listen != ":9999" {
		t.Errorf("expected env listen address, got %q", cfg.HTTP.Listen)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"rounds", func(c *Config) { c.MaxToolRounds = 0 }},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempConfigPath(t)
			cfg := Default()
			tt.mutate(cfg)
			writeTestConfig(t, path, cfg)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid YAML: %v", err)
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{
		DataDir:  "/tmp/test",
		LogLevel: "debug",
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}

	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	llm, ok := m["llm"].(map[string]any)
	if !ok {
		t.Fatalf("expected llm to be map, got %T", m["llm"])
	}
	if llm["model"] != "gpt-4o-mini" {
		t.Errorf("expected llm.model=gpt-4o-mini, got %v", llm["model"])
	}
	if llm["max_tokens"] != 2000 {
		t.Errorf("expected llm.max_tokens=2000, got %v (%T)", llm["max_tokens"], llm["max_tokens"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.Gemini.APIKey = "AIza-key-5678"
	cfg.Telegram.Token = "bot-token-abcd"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["llm.api_key"] != "****1234" {
		t.Errorf("expected masked llm.api_key=****1234, got %v", flat["llm.api_key"])
	}
	if flat["gemini.api_key"] != "****5678" {
		t.Errorf("expected masked gemini.api_key=****5678, got %v", flat["gemini.api_key"])
	}
	if flat["telegram.token"] != "****abcd" {
		t.Errorf("expected masked telegram.token=****abcd, got %v", flat["telegram.token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain["llm.api_key"] != "sk-secret-key-1234" {
		t.Errorf("expected unmasked llm.api_key, got %v", plain["llm.api_key"])
	}
}

func TestGetValue_ExistingKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.MaxConcurrentTurns = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "debug" {
		t.Errorf("expected log_level=debug, got %v", v)
	}

	v, err = GetValue(path, "max_concurrent_turns")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != 8 {
		t.Errorf("expected max_concurrent_turns=8, got %v (%T)", v, v)
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_Types(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	tests := []struct {
		key  string
		raw  string
		want any
	}{
		{"log_level", "debug", "debug"},
		{"max_tool_rounds", "12", 12},
		{"audit.enabled", "false", false},
		{"llm.temperature", "0.3", 0.3},
		{"llm.model", "gpt-4o", "gpt-4o"},
	}
	for _, tt := range tests {
		if err := SetValue(path, tt.key, tt.raw); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tt.key, err)
		}
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", tt.key, tt.want, tt.want, v, v)
		}
	}

	v, _ := GetValue(path, "llm.provider")
	if v != "openai" {
		t.Errorf("expected llm.provider preserved, got %v", v)
	}
}

func TestSetValue_RejectsWrongType(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "max_tool_rounds", "many"); err == nil {
		t.Error("expected error for non-numeric max_tool_rounds")
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.yaml")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.yaml")

	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestAuditPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/weatheragent"}
	if got := cfg.AuditPath(); got != "/var/lib/weatheragent/dispatch.db" {
		t.Errorf("unexpected default audit path %q", got)
	}
	cfg.Audit.Path = "/tmp/x.db"
	if got := cfg.AuditPath(); got != "/tmp/x.db" {
		t.Errorf("expected configured path, got %q", got)
	}
}

func TestSetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "llm.modle", "gpt-4o"); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestSetValue_List(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "http.allowed_origins", "[https://weather.example, http://localhost:5173]"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "http://localhost:5173" {
		t.Errorf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
}
