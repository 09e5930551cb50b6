package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestGetModelProvider_KnownModels(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-sonnet-4-20250514", ProviderAnthropic},
		{"gpt-4", ProviderOpenAI},
		{"gpt-4o", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.5-flash", ProviderGoogle},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := GetModelProvider(tt.model)
			if err != nil {
				t.Fatalf("GetModelProvider(%q) returned error: %v", tt.model, err)
			}
			if got != tt.provider {
				t.Errorf("GetModelProvider(%q) = %q, want %q", tt.model, got, tt.provider)
			}
		})
	}
}

func TestGetModelProvider_PatternInference(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-9-experimental", ProviderAnthropic},
		{"gpt-7-turbo", ProviderOpenAI},
		{"gemini-4.0-ultra", ProviderGoogle},
		{"qwen2.5-coder", ProviderOllama},
		{"llama3.3", ProviderOllama},
		{"deepseek-r1", ProviderOllama},
		{"ollama:phi4", ProviderOllama},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := GetModelProvider(tt.model)
			if err != nil {
				t.Fatalf("GetModelProvider(%q) returned error: %v", tt.model, err)
			}
			if got != tt.provider {
				t.Errorf("GetModelProvider(%q) = %q, want %q", tt.model, got, tt.provider)
			}
		})
	}
}

func TestGetModelProvider_UnknownModel(t *testing.T) {
	if _, err := GetModelProvider("totally-unknown-model"); err == nil {
		t.Error("GetModelProvider should return error for unmappable model")
	}
}

func TestGetModelInfo_UnknownModelDefaults(t *testing.T) {
	info, known := GetModelInfo("qwen2.5-coder")
	if known {
		t.Error("qwen2.5-coder should not be in KnownModels")
	}
	if info.Provider != ProviderOllama {
		t.Errorf("inferred provider = %q, want %q", info.Provider, ProviderOllama)
	}
	if info.InputCPM != 0 || info.OutputCPM != 0 {
		t.Error("unknown models should have zero cost rates")
	}
}

func TestCalculateCost(t *testing.T) {
	// gpt-4: $30/M input, $60/M output
	cost, err := CalculateCost("gpt-4", 1000, 500)
	if err != nil {
		t.Fatalf("CalculateCost returned error: %v", err)
	}
	want := 0.03 + 0.03 // 1000 in + 500 out
	if diff := cost - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CalculateCost = %v, want %v", cost, want)
	}
}

func TestCalculateCost_UnknownModelIsFree(t *testing.T) {
	cost, err := CalculateCost("qwen2.5-coder", 100000, 50000)
	if err != nil {
		t.Fatalf("CalculateCost returned error: %v", err)
	}
	if cost != 0 {
		t.Errorf("unknown model cost = %v, want 0", cost)
	}
}

func TestLoadConfig_CreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}

	if cfg.Generation.MaxIterations != DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d", cfg.Generation.MaxIterations, DefaultMaxIterations)
	}
	if cfg.Generation.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", cfg.Generation.Temperature, DefaultTemperature)
	}
	if cfg.Generation.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", cfg.Generation.MaxTokens, DefaultMaxTokens)
	}
	if !cfg.Generation.ExecuteTests {
		t.Error("ExecuteTests should default to true")
	}
	if cfg.Execution.TimeoutSeconds != DefaultExecutionTimeoutSec {
		t.Errorf("Execution.TimeoutSeconds = %d, want %d", cfg.Execution.TimeoutSeconds, DefaultExecutionTimeoutSec)
	}

	// Default config file should have been written
	configPath := filepath.Join(tmpDir, ProjectConfigDir, ProjectConfigFilename)
	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("default config file not created: %v", err)
	}
}

func TestLoadConfig_ExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	configDir := filepath.Join(tmpDir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	fileCfg := map[string]interface{}{
		"schema_version": SchemaVersion,
		"generation": map[string]interface{}{
			"model":          "claude-sonnet-4-20250514",
			"max_iterations": 3,
		},
	}
	data, err := json.Marshal(fileCfg)
	if err != nil {
		t.Fatalf("failed to marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), data, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if cfg.Generation.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q, want claude-sonnet-4-20250514", cfg.Generation.Model)
	}
	if cfg.Generation.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", cfg.Generation.MaxIterations)
	}
	// Unset fields fall back to defaults
	if cfg.Generation.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want default %d", cfg.Generation.MaxTokens, DefaultMaxTokens)
	}
	if cfg.Execution == nil || cfg.Execution.GoBinary != "go" {
		t.Error("Execution section should be populated with defaults")
	}
}

func TestLoadConfig_EnvVarSubstitution(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	t.Setenv("TEST_OUTPUT_LOCATION", "/tmp/test-output")

	configDir := filepath.Join(tmpDir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	raw := `{"schema_version":"1.0","generation":{"output_dir":"${TEST_OUTPUT_LOCATION}"}}`
	if err := os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg, _ := GetConfig()
	if cfg.Generation.OutputDir != "/tmp/test-output" {
		t.Errorf("OutputDir = %q, want substituted value", cfg.Generation.OutputDir)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	t.Setenv("TESTSMITH_MODEL", "gpt-4o")
	t.Setenv("TESTSMITH_MAX_ITERATIONS", "7")
	t.Setenv("TESTSMITH_TEMPERATURE", "0.5")

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg, _ := GetConfig()
	if cfg.Generation.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", cfg.Generation.Model)
	}
	if cfg.Generation.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", cfg.Generation.MaxIterations)
	}
	if cfg.Generation.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", cfg.Generation.Temperature)
	}
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	configDir := filepath.Join(tmpDir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "negative temperature",
			raw:  `{"schema_version":"1.0","generation":{"temperature":-1}}`,
		},
		{
			name: "coverage without execution",
			raw:  `{"schema_version":"1.0","generation":{"execute_tests":false,"measure_coverage":true}}`,
		},
		{
			name: "unmappable model",
			raw:  `{"schema_version":"1.0","generation":{"model":"mystery-model-9000"}}`,
		},
		{
			name: "malformed json",
			raw:  `{"schema_version":`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(configDir, ProjectConfigFilename), []byte(tt.raw), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if err := LoadConfig(tmpDir); err == nil {
				t.Error("LoadConfig should reject invalid config")
			}
		})
	}
}

func TestGetConfig_NotInitialized(t *testing.T) {
	SetConfigForTesting(nil)
	if _, err := GetConfig(); err == nil {
		t.Error("GetConfig should return error before LoadConfig")
	}
}

func TestGetConfig_ReturnsCopy(t *testing.T) {
	SetConfigForTesting(&Config{
		SchemaVersion: SchemaVersion,
		Generation:    &GenerationConfig{Model: "gpt-4"},
	})
	defer SetConfigForTesting(nil)

	cfg, err := GetConfig()
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	cfg.SchemaVersion = "mutated"

	again, _ := GetConfig()
	if again.SchemaVersion != SchemaVersion {
		t.Error("mutating the returned config should not affect the global config")
	}
}

func TestGetDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	defer SetConfigForTesting(nil)

	if err := LoadConfig(tmpDir); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	path, err := GetDatabasePath()
	if err != nil {
		t.Fatalf("GetDatabasePath failed: %v", err)
	}
	want := filepath.Join(tmpDir, ProjectConfigDir, DatabaseFilename)
	if path != want {
		t.Errorf("GetDatabasePath = %q, want %q", path, want)
	}
}

func TestGetProviderLimits_Defaults(t *testing.T) {
	SetConfigForTesting(nil)

	limits := GetProviderLimits(ProviderAnthropic)
	if limits.TokensPerMinute != ProviderDefaults[ProviderAnthropic].TokensPerMinute {
		t.Errorf("TokensPerMinute = %d, want default", limits.TokensPerMinute)
	}

	if got := GetProviderLimits("nonexistent"); got != (ProviderLimits{}) {
		t.Errorf("unknown provider limits = %+v, want zero value", got)
	}
}

func TestGetAPIKey_Ollama(t *testing.T) {
	t.Setenv(EnvOllamaHost, "")
	host, err := GetAPIKey(ProviderOllama)
	if err != nil {
		t.Fatalf("GetAPIKey(ollama) failed: %v", err)
	}
	if host != "http://localhost:11434" {
		t.Errorf("ollama host = %q, want default localhost", host)
	}

	t.Setenv(EnvOllamaHost, "http://gpu-box:11434")
	host, err = GetAPIKey(ProviderOllama)
	if err != nil {
		t.Fatalf("GetAPIKey(ollama) failed: %v", err)
	}
	if host != "http://gpu-box:11434" {
		t.Errorf("ollama host = %q, want env value", host)
	}
}

func TestGetAPIKey_FromEnv(t *testing.T) {
	SetDecryptedSecrets(nil)
	t.Setenv(EnvOpenAIAPIKey, "sk-test-openai")

	key, err := GetAPIKey(ProviderOpenAI)
	if err != nil {
		t.Fatalf("GetAPIKey(openai) failed: %v", err)
	}
	if key != "sk-test-openai" {
		t.Errorf("key = %q, want env value", key)
	}
}

func TestGetAPIKey_UnknownProvider(t *testing.T) {
	if _, err := GetAPIKey("carrier-pigeon"); err == nil {
		t.Error("GetAPIKey should reject unknown providers")
	}
}
