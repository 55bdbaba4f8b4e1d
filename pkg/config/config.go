package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel credentials and image provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "telegram", "web")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// Image holds the configuration for the image providers in raw JSON.
	// Parsed by imagen.NewFromConfig into provider groups.
	Image jsoniter.RawMessage `json:"image"`
	// OutputDir is the directory all generated images are written to.
	// It becomes the primary allowed root of the path sandbox.
	OutputDir string `json:"output_dir"`
	// DefaultModel is used when a tool call omits the model argument.
	DefaultModel string `json:"default_model"`
	// DefaultFormat is the output format used when unspecified (png/jpeg/webp).
	DefaultFormat string `json:"default_format"`
	// MetadataFile is the JSON file the image index is persisted to.
	// Relative paths resolve against OutputDir.
	MetadataFile string `json:"metadata_file"`
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.Image) == 0 {
		return fmt.Errorf("mandatory 'image' configuration is missing or empty")
	}
	if c.OutputDir == "" {
		c.OutputDir = "data/images"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gemini-2.5-flash-image"
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = "png"
	}
	if c.MetadataFile == "" {
		c.MetadataFile = "metadata.json"
	}
	return nil
}

// Redacted returns a loggable snapshot of the configuration with every
// credential-bearing field replaced by "***". Persisted or printed copies
// of the config must never echo API keys or bot tokens.
func (c *Config) Redacted() map[string]any {
	snapshot := map[string]any{
		"output_dir":     c.OutputDir,
		"default_model":  c.DefaultModel,
		"default_format": c.DefaultFormat,
		"metadata_file":  c.MetadataFile,
	}

	var groups []map[string]any
	if err := json.Unmarshal(c.Image, &groups); err == nil {
		for _, g := range groups {
			redactKeys(g, "api_keys", "api_key")
		}
		snapshot["image"] = groups
	}

	channels := make(map[string]any, len(c.Channels))
	for name, raw := range c.Channels {
		var ch map[string]any
		if err := json.Unmarshal(raw, &ch); err != nil {
			continue
		}
		redactKeys(ch, "token", "api_key", "secret")
		channels[name] = ch
	}
	snapshot["channels"] = channels

	return snapshot
}

func redactKeys(m map[string]any, keys ...string) {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			m[k] = "***"
		}
	}
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the atelier engine.
type SystemConfig struct {
	// MaxRetries is the number of times the system will attempt to
	// recover from a transient upstream or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the initial backoff duration (in milliseconds); the
	// wait doubles after every failed attempt.
	RetryDelayMs int `json:"retry_delay_ms"`
	// MaxPromptChars is the upper bound on prompt length accepted before
	// any upstream call is made.
	MaxPromptChars int `json:"max_prompt_chars"`
	// MaxReferenceImages caps how many reference images an edit may combine.
	MaxReferenceImages int `json:"max_reference_images"`
	// ListDefaultLimit is applied to list_images when no limit is given.
	ListDefaultLimit int `json:"list_default_limit"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external media (e.g., from Telegram servers).
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// InternalChannelBuffer defines the size of internal Go channels used
	// for buffering results to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// TelegramMessageLimit is the maximum character count for a single
	// Telegram message. Longer responses will be split into multiple chunks.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// EnhancePrompts toggles the optional local prompt enhancer. When
	// enabled, terse prompts are expanded through an Ollama model before
	// being sent upstream. Enhancer failures never fail the generation.
	EnhancePrompts bool `json:"enhance_prompts"`
	// EnhancerModel names the local Ollama model used for prompt expansion.
	EnhancerModel string `json:"enhancer_model"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// WatchDebounceMs is how long (in milliseconds) config file changes must
	// settle before a hot reload fires. Guards against half-written saves.
	WatchDebounceMs int `json:"watch_debounce_ms"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		MaxPromptChars:        4000,
		MaxReferenceImages:    3,
		ListDefaultLimit:      20,
		DownloadTimeoutMs:     10000,
		InternalChannelBuffer: 100,
		TelegramMessageLimit:  4000,
		EnhancePrompts:        false,
		EnhancerModel:         "llama3.2",
		OllamaDefaultURL:      "http://localhost:11434",
		WatchDebounceMs:       500,
		LogLevel:              "info",
	}
}

// Load reads and parses the JSON configuration files from the current working directory.
// It first attempts to load 'config.json' (app config). If this file is missing, it returns an error.
// Then it calls LoadSystemConfig to load 'system.json'.
// Returns pointers to the loaded Config and SystemConfig, or an error if the mandatory app config fails.
func Load() (*Config, *SystemConfig, error) {
	// 1. Load Application Config
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 1a. Validate structure integrity
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// 2. Load System Config independently
	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
