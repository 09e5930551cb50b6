// Package config provides configuration loading, validation, and management for testsmith.
// It handles JSON config files, environment variable substitution, and the static
// model registry used for provider routing and cost accounting.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"testsmith/pkg/logx"
)

// Global config instance with mutex protection.
// projectDir is set once during LoadConfig and never changes - it defines where all
// testsmith files are stored relative to the project root.
//
//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string       // Immutable after LoadConfig - set once at startup
	logger     *logx.Logger // Package logger for config operations
	mu         sync.RWMutex
)

// getLogger returns the config logger, initializing it if needed.
func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
// This is exposed for other packages (like main) to use consistent logging.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	"claude-3-7-sonnet-20250219": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},

	// OpenAI GPT models
	"gpt-4": {
		Provider:         ProviderOpenAI,
		InputCPM:         30.0,
		OutputCPM:        60.0,
		MaxContextTokens: 8192,
		MaxOutputTokens:  4096,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"o3-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o3": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},

	// Google Gemini models
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
// Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
// Returns error if model cannot be mapped to a provider (FATAL).
func GetModelProvider(modelName string) (string, error) {
	// Check known models first
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	// Try pattern matching for unknown models
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	// FATAL: Cannot proceed without valid provider
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a default info with inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	// Check known models first
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	// Try to infer provider for unknown models
	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	// Return default info with inferred provider (or empty if no pattern matched)
	// Use conservative defaults for unknown models
	return ModelInfo{
		Provider:         provider,
		InputCPM:         0.0,   // No cost tracking for unknown models
		OutputCPM:        0.0,   // No cost tracking for unknown models
		MaxContextTokens: 32000, // Conservative default
		MaxOutputTokens:  4096,  // Conservative default
	}, false
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Uses separate input and output token pricing from KnownModels registry.
// Returns 0 cost for unknown models (allows using new models without pricing data).
func CalculateCost(modelName string, promptTokens, completionTokens int) (float64, error) {
	if info, exists := KnownModels[modelName]; exists {
		inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
		outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
		return inputCost + outputCost, nil
	}

	// For unknown models, return 0 cost (allows usage but no cost tracking)
	return 0.0, nil
}

// ProviderLimits defines rate limiting configuration for a specific API provider.
// These are user-configurable values that can be overridden in config.json.
type ProviderLimits struct {
	TokensPerMinute int     `json:"tokens_per_minute"` // Rate limit in tokens per minute
	MaxConcurrency  int     `json:"max_concurrency"`   // Maximum concurrent requests
	DailyBudgetUSD  float64 `json:"daily_budget_usd"`  // Daily spend cap in USD (0 = unlimited)
}

// RateLimitConfig contains per-provider rate limits.
type RateLimitConfig struct {
	Anthropic ProviderLimits `json:"anthropic"` // Rate limits for Anthropic models
	OpenAI    ProviderLimits `json:"openai"`    // Rate limits for OpenAI models
	Google    ProviderLimits `json:"google"`    // Rate limits for Google models
	Ollama    ProviderLimits `json:"ollama"`    // Rate limits for Ollama models (local inference)
}

// ProviderDefaults defines default rate limits for each provider.
//
//nolint:gochecknoglobals // Intentional global for provider defaults
var ProviderDefaults = map[string]ProviderLimits{
	ProviderAnthropic: {
		TokensPerMinute: 80000,
		MaxConcurrency:  4,
		DailyBudgetUSD:  50.0,
	},
	ProviderOpenAI: {
		TokensPerMinute: 90000,
		MaxConcurrency:  4,
		DailyBudgetUSD:  50.0,
	},
	ProviderGoogle: {
		TokensPerMinute: 120000,
		MaxConcurrency:  4,
		DailyBudgetUSD:  50.0,
	},
	ProviderOllama: {
		TokensPerMinute: 1000000, // Local inference, effectively unlimited
		MaxConcurrency:  2,
		DailyBudgetUSD:  0, // No cost for local models
	},
}

// Default values for generation settings.
const (
	DefaultModel         = "gpt-4"
	DefaultTechnique     = "zero-shot-v1"
	DefaultMaxIterations = 5
	DefaultTemperature   = 0.1
	DefaultMaxTokens     = 2000
	DefaultOutputDir     = "generated_tests"

	// Timeouts in seconds.
	DefaultProviderTimeoutSec  = 30
	DefaultExecutionTimeoutSec = 60

	// Batch processing defaults.
	DefaultBatchWorkers = 2

	// Project config constants.
	ProjectConfigFilename = "config.json"
	ProjectConfigDir      = ".testsmith"
	DatabaseFilename      = "testsmith.db"
	SchemaVersion         = "1.0"

	// Provider constants for client routing and rate limiting.
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"

	// API key environment variable names.
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"

	// Environment variable prefix for config overrides.
	envPrefix = "TESTSMITH_"
)

// GenerationConfig contains the generation loop settings for this project.
type GenerationConfig struct {
	Model           string  `json:"model"`            // Model name (mapped to provider via KnownModels/ProviderPatterns)
	Technique       string  `json:"technique"`        // Prompt technique ID (e.g. zero-shot-v1)
	MaxIterations   int     `json:"max_iterations"`   // Maximum generate-verify-repair iterations
	Temperature     float32 `json:"temperature"`      // Sampling temperature
	MaxTokens       int     `json:"max_tokens"`       // Maximum completion tokens per request
	ExecuteTests    bool    `json:"execute_tests"`    // Whether to run generated tests (false = validity-only mode)
	MeasureCoverage bool    `json:"measure_coverage"` // Whether to measure statement coverage for passing tests
	OutputDir       string  `json:"output_dir"`       // Directory for accepted test files
}

// ExecutionConfig contains sandboxed test execution settings.
type ExecutionConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds"` // Per-run wall clock limit for test subprocess
	GoBinary       string `json:"go_binary"`       // Go toolchain binary (default: "go")
}

// ProviderConfig contains LLM provider transport settings.
type ProviderConfig struct {
	TimeoutSeconds int             `json:"timeout_seconds"` // Per-request timeout for provider calls
	RateLimits     RateLimitConfig `json:"rate_limits"`     // Per-provider rate limits
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	DatabasePath string `json:"database_path"` // SQLite database path (relative to project dir unless absolute)
}

// MetricsConfig contains Prometheus integration settings.
type MetricsConfig struct {
	PrometheusURL string `json:"prometheus_url,omitempty"` // Prometheus server URL for usage queries (empty = disabled)
}

// BatchConfig contains batch generation settings.
type BatchConfig struct {
	Workers int `json:"workers"` // Number of concurrent generation workers
}

// Config represents the main configuration for testsmith.
//
// IMPORTANT: This structure contains only user-configurable project settings.
// Model pricing and provider mappings are hardcoded in KnownModels and ProviderDefaults.
//
// Schema versioning prevents breaking changes - increment SchemaVersion for any structural changes.
type Config struct {
	SchemaVersion string `json:"schema_version"` // MUST increment for breaking changes

	Generation *GenerationConfig `json:"generation"` // Generation loop settings
	Execution  *ExecutionConfig  `json:"execution"`  // Test execution settings
	Providers  *ProviderConfig   `json:"providers"`  // LLM provider transport settings
	Storage    *StorageConfig    `json:"storage"`    // Persistence settings
	Metrics    *MetricsConfig    `json:"metrics"`    // Prometheus integration settings
	Batch      *BatchConfig      `json:"batch"`      // Batch generation settings
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig loads the project configuration from <projectDir>/.testsmith/config.json.
//
// Behavior:
// - Missing file: Creates new config with defaults and saves it
// - Existing file: Loads and validates, applying defaults for missing fields
// - Unparseable file: Returns error to avoid overwriting user changes
//
// After loading, TESTSMITH_* environment variables override individual fields.
// This should typically be called once at application startup.
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	// Store project directory - immutable after this point
	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// No config yet - start from defaults and persist them
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		if err := validateConfig(cfg); err != nil {
			return err
		}
		config = cfg
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		return nil
	}

	// Replace environment variable placeholders like ${OLLAMA_HOST}.
	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1] // Remove ${ and }
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match // Return original if env var not found
	})

	cfg := &Config{}
	if err := json.Unmarshal([]byte(dataStr), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validateConfig(cfg); err != nil {
		return err
	}

	config = cfg
	return nil
}

// GetConfig returns the current global config BY VALUE (copy, not reference).
// This prevents external mutation - all updates must go through Update* functions.
// Must call LoadConfig first to initialize the global config.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// GetProjectDir returns the project directory set at LoadConfig time.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// GetDatabasePath returns the absolute path of the SQLite database file.
func GetDatabasePath() (string, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return "", fmt.Errorf("config not initialized - call LoadConfig first")
	}
	path := config.Storage.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectDir, path)
	}
	return path, nil
}

// SetConfigForTesting replaces the global config. Pass nil to clear.
// Only for use in tests.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// SetProjectDirForTesting sets the project directory without loading config.
// Only for use in tests.
func SetProjectDirForTesting(dir string) {
	mu.Lock()
	defer mu.Unlock()
	projectDir = dir
}

// defaultConfig returns a fully populated config with default values.
func defaultConfig() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		Generation: &GenerationConfig{
			Model:           DefaultModel,
			Technique:       DefaultTechnique,
			MaxIterations:   DefaultMaxIterations,
			Temperature:     DefaultTemperature,
			MaxTokens:       DefaultMaxTokens,
			ExecuteTests:    true,
			MeasureCoverage: true,
			OutputDir:       DefaultOutputDir,
		},
		Execution: &ExecutionConfig{
			TimeoutSeconds: DefaultExecutionTimeoutSec,
			GoBinary:       "go",
		},
		Providers: &ProviderConfig{
			TimeoutSeconds: DefaultProviderTimeoutSec,
			RateLimits: RateLimitConfig{
				Anthropic: ProviderDefaults[ProviderAnthropic],
				OpenAI:    ProviderDefaults[ProviderOpenAI],
				Google:    ProviderDefaults[ProviderGoogle],
				Ollama:    ProviderDefaults[ProviderOllama],
			},
		},
		Storage: &StorageConfig{
			DatabasePath: filepath.Join(ProjectConfigDir, DatabaseFilename),
		},
		Metrics: &MetricsConfig{},
		Batch: &BatchConfig{
			Workers: DefaultBatchWorkers,
		},
	}
}

// applyDefaults fills in zero-valued fields so older config files keep working
// after new fields are added.
func applyDefaults(cfg *Config) {
	defaults := defaultConfig()

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = defaults.SchemaVersion
	}
	if cfg.Generation == nil {
		cfg.Generation = defaults.Generation
	} else {
		if cfg.Generation.Model == "" {
			cfg.Generation.Model = defaults.Generation.Model
		}
		if cfg.Generation.Technique == "" {
			cfg.Generation.Technique = defaults.Generation.Technique
		}
		if cfg.Generation.MaxIterations == 0 {
			cfg.Generation.MaxIterations = defaults.Generation.MaxIterations
		}
		if cfg.Generation.Temperature == 0 {
			cfg.Generation.Temperature = defaults.Generation.Temperature
		}
		if cfg.Generation.MaxTokens == 0 {
			cfg.Generation.MaxTokens = defaults.Generation.MaxTokens
		}
		if cfg.Generation.OutputDir == "" {
			cfg.Generation.OutputDir = defaults.Generation.OutputDir
		}
	}
	if cfg.Execution == nil {
		cfg.Execution = defaults.Execution
	} else {
		if cfg.Execution.TimeoutSeconds == 0 {
			cfg.Execution.TimeoutSeconds = defaults.Execution.TimeoutSeconds
		}
		if cfg.Execution.GoBinary == "" {
			cfg.Execution.GoBinary = defaults.Execution.GoBinary
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = defaults.Providers
	} else {
		if cfg.Providers.TimeoutSeconds == 0 {
			cfg.Providers.TimeoutSeconds = defaults.Providers.TimeoutSeconds
		}
		applyLimitDefaults(&cfg.Providers.RateLimits.Anthropic, ProviderDefaults[ProviderAnthropic])
		applyLimitDefaults(&cfg.Providers.RateLimits.OpenAI, ProviderDefaults[ProviderOpenAI])
		applyLimitDefaults(&cfg.Providers.RateLimits.Google, ProviderDefaults[ProviderGoogle])
		applyLimitDefaults(&cfg.Providers.RateLimits.Ollama, ProviderDefaults[ProviderOllama])
	}
	if cfg.Storage == nil {
		cfg.Storage = defaults.Storage
	} else if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = defaults.Storage.DatabasePath
	}
	if cfg.Metrics == nil {
		cfg.Metrics = defaults.Metrics
	}
	if cfg.Batch == nil {
		cfg.Batch = defaults.Batch
	} else if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = defaults.Batch.Workers
	}
}

func applyLimitDefaults(limits *ProviderLimits, defaults ProviderLimits) {
	if limits.TokensPerMinute == 0 {
		limits.TokensPerMinute = defaults.TokensPerMinute
	}
	if limits.MaxConcurrency == 0 {
		limits.MaxConcurrency = defaults.MaxConcurrency
	}
}

// applyEnvOverrides applies TESTSMITH_* environment variables on top of the
// loaded config. CLI flags are applied later and take precedence over both.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv(envPrefix + "TECHNIQUE"); v != "" {
		cfg.Generation.Technique = v
	}
	if v := os.Getenv(envPrefix + "MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.MaxIterations = n
		}
	}
	if v := os.Getenv(envPrefix + "TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Generation.Temperature = float32(f)
		}
	}
	if v := os.Getenv(envPrefix + "MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.MaxTokens = n
		}
	}
	if v := os.Getenv(envPrefix + "OUTPUT_DIR"); v != "" {
		cfg.Generation.OutputDir = v
	}
	if v := os.Getenv(envPrefix + "DATABASE"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(envPrefix + "PROMETHEUS_URL"); v != "" {
		cfg.Metrics.PrometheusURL = v
	}
}

// validateConfig checks config invariants that would otherwise surface as
// confusing failures deep inside the generation loop.
func validateConfig(cfg *Config) error {
	if cfg.Generation.MaxIterations < 1 {
		return fmt.Errorf("generation.max_iterations must be >= 1, got %d", cfg.Generation.MaxIterations)
	}
	if cfg.Generation.Temperature < 0 || cfg.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2, got %g", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxTokens < 1 {
		return fmt.Errorf("generation.max_tokens must be >= 1, got %d", cfg.Generation.MaxTokens)
	}
	if cfg.Generation.MeasureCoverage && !cfg.Generation.ExecuteTests {
		return fmt.Errorf("generation.measure_coverage requires generation.execute_tests")
	}
	if cfg.Execution.TimeoutSeconds < 1 {
		return fmt.Errorf("execution.timeout_seconds must be >= 1, got %d", cfg.Execution.TimeoutSeconds)
	}
	if cfg.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be >= 1, got %d", cfg.Batch.Workers)
	}
	if _, err := GetModelProvider(cfg.Generation.Model); err != nil {
		return fmt.Errorf("generation.model: %w", err)
	}
	return nil
}

// SaveConfig persists the current config to disk.
func SaveConfig() error {
	mu.Lock()
	defer mu.Unlock()
	return saveConfigLocked()
}

// saveConfigLocked writes the config file. Caller must hold mu.
func saveConfigLocked() error {
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	configDir := filepath.Join(projectDir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := filepath.Join(configDir, ProjectConfigFilename)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// UpdateGeneration replaces the generation section and persists the config.
func UpdateGeneration(gen *GenerationConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	config.Generation = gen
	return saveConfigLocked()
}

// GetProviderLimits returns the configured rate limits for a provider,
// falling back to ProviderDefaults when config is not loaded.
func GetProviderLimits(provider string) ProviderLimits {
	mu.RLock()
	defer mu.RUnlock()
	if config != nil && config.Providers != nil {
		switch provider {
		case ProviderAnthropic:
			return config.Providers.RateLimits.Anthropic
		case ProviderOpenAI:
			return config.Providers.RateLimits.OpenAI
		case ProviderGoogle:
			return config.Providers.RateLimits.Google
		case ProviderOllama:
			return config.Providers.RateLimits.Ollama
		}
	}
	if limits, exists := ProviderDefaults[provider]; exists {
		return limits
	}
	return ProviderLimits{}
}

// GetAPIKey returns the API key for a given provider.
// Checks secrets file first, then falls back to environment variables.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		// Ollama doesn't use API keys - return host URL instead
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	// Try to get from secrets file first, then environment variable
	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}
