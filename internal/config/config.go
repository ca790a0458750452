// Package config defines the bot configuration: the JSON5 config file,
// SPLINTERTREE_* env overrides, and the hot-reloadable override files
// (temperatures, prompt templates, per-channel prompts).
package config

import "time"

// Config is the root configuration for the bot.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Providers ProvidersConfig `json:"providers"`
	Context   ContextConfig   `json:"context"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Overrides OverridesConfig `json:"overrides,omitempty"`
	Vision    VisionConfig    `json:"vision,omitempty"`
	Summary   SummaryConfig   `json:"summary,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Agents    []AgentSpec     `json:"agents"`
}

// DiscordConfig holds gateway settings. Token comes from env only and is
// never written to the config file.
type DiscordConfig struct {
	Token     string `json:"-"` // from env SPLINTERTREE_DISCORD_TOKEN only
	OwnerID   string `json:"owner_id,omitempty"`
	OwnerName string `json:"owner_name,omitempty"` // shown by the contact command
}

// ProvidersConfig binds provider names to credentials and endpoints.
type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenPipe   ProviderConfig `json:"openpipe"`
}

type ProviderConfig struct {
	APIKey       string `json:"-"` // from env only
	APIBase      string `json:"api_base,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// ContextConfig controls the shared history store.
type ContextConfig struct {
	DatabasePath  string `json:"database_path"`
	DefaultWindow int    `json:"default_window"` // history rows per prompt
	MaxWindow     int    `json:"max_window"`
}

// DispatchConfig controls message routing.
type DispatchConfig struct {
	CommandPrefix string   `json:"command_prefix"`
	TriggerWord   string   `json:"trigger_word"` // routes to the default agent like a mention
	ProcessedPath string   `json:"processed_path"`
	WebhookURLs   []string `json:"webhook_urls,omitempty"` // hook command broadcast targets
}

// OverridesConfig names the hot-reloaded override files.
type OverridesConfig struct {
	TemperaturesPath   string `json:"temperatures_path,omitempty"`
	PromptsPath        string `json:"prompts_path,omitempty"`
	DynamicPromptsPath string `json:"dynamic_prompts_path,omitempty"`
}

// VisionConfig controls the image description pipeline for agents that
// cannot accept images natively.
type VisionConfig struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider,omitempty"` // provider name, default agent's provider if empty
	Model        string `json:"model,omitempty"`
	MaxDimension int    `json:"max_dimension,omitempty"` // longest edge after downscale
}

// SummaryConfig controls the background history condenser.
type SummaryConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron expression
	MaxAgeH  int    `json:"max_age_hours,omitempty"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // host:port for the OTLP HTTP collector
}

// AgentSpec is one model-backed persona, built statically at startup.
type AgentSpec struct {
	Name           string   `json:"name"`
	Nickname       string   `json:"nickname,omitempty"`
	TriggerWords   []string `json:"trigger_words,omitempty"`
	Model          string   `json:"model"`
	Provider       string   `json:"provider"`
	PromptKey      string   `json:"prompt_key,omitempty"`
	SupportsVision bool     `json:"supports_vision,omitempty"`
	Default        bool     `json:"default,omitempty"`
}

// DefaultTemperature applies when temperatures.json has no entry for an agent.
const DefaultTemperature = 0.7

// SummaryMaxAge returns the configured summarization cutoff age.
func (c SummaryConfig) SummaryMaxAge() time.Duration {
	h := c.MaxAgeH
	if h <= 0 {
		h = 24
	}
	return time.Duration(h) * time.Hour
}
