package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults and the stock agent roster.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{
				APIBase:      "https://openrouter.ai/api/v1",
				DefaultModel: "anthropic/claude-2",
			},
			OpenPipe: ProviderConfig{
				APIBase: "https://api.openpipe.ai/api/v1",
			},
		},
		Context: ContextConfig{
			DatabasePath:  "splintertree.db",
			DefaultWindow: 10,
			MaxWindow:     50,
		},
		Dispatch: DispatchConfig{
			CommandPrefix: "!",
			TriggerWord:   "splintertree",
			ProcessedPath: "processed_messages.json",
		},
		Overrides: OverridesConfig{
			TemperaturesPath:   "temperatures.json",
			PromptsPath:        "prompts.json",
			DynamicPromptsPath: "dynamic_prompts.json",
		},
		Vision: VisionConfig{
			Enabled:      true,
			Model:        "anthropic/claude-3-haiku",
			MaxDimension: 1024,
		},
		Summary: SummaryConfig{
			Schedule: "0 * * * *",
			MaxAgeH:  24,
		},
		Agents: DefaultAgents(),
	}
}

// DefaultAgents is the stock roster. Claude-2 is the default agent that
// handles mentions, the keyword trigger, and attachment-only messages.
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{Name: "Claude-2", Nickname: "Claude", TriggerWords: []string{"claude"}, Model: "anthropic/claude-2", Provider: "openrouter", PromptKey: "claude2", Default: true},
		{Name: "Claude-3-Sonnet", Nickname: "Sonnet", TriggerWords: []string{"sonnet"}, Model: "anthropic/claude-3-sonnet", Provider: "openrouter", PromptKey: "claude3sonnet", SupportsVision: true},
		{Name: "Gemini-Pro", Nickname: "Gemini", TriggerWords: []string{"gemini"}, Model: "google/gemini-pro", Provider: "openrouter", PromptKey: "geminipro"},
		{Name: "Mixtral", TriggerWords: []string{"mixtral"}, Model: "mistralai/mixtral-8x7b-instruct", Provider: "openrouter", PromptKey: "mixtral"},
		{Name: "Llama-70B", Nickname: "Llama", TriggerWords: []string{"llama"}, Model: "meta-llama/llama-3-70b-instruct", Provider: "openpipe", PromptKey: "llama70b"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets come from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SPLINTERTREE_DISCORD_TOKEN", &c.Discord.Token)
	envStr("SPLINTERTREE_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("SPLINTERTREE_OPENPIPE_API_KEY", &c.Providers.OpenPipe.APIKey)
	envStr("SPLINTERTREE_DATABASE_PATH", &c.Context.DatabasePath)
	envStr("SPLINTERTREE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if v := os.Getenv("SPLINTERTREE_DEFAULT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Context.DefaultWindow = n
		}
	}
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}

// Validate checks invariants that would otherwise fail deep in the stack.
func (c *Config) Validate() error {
	if c.Context.MaxWindow <= 0 {
		c.Context.MaxWindow = 50
	}
	if c.Context.DefaultWindow <= 0 {
		c.Context.DefaultWindow = 10
	}
	if c.Context.DefaultWindow > c.Context.MaxWindow {
		return fmt.Errorf("context: default_window %d exceeds max_window %d",
			c.Context.DefaultWindow, c.Context.MaxWindow)
	}

	defaults := 0
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents: agent with empty name")
		}
		if a.Model == "" || a.Provider == "" {
			return fmt.Errorf("agent %s: model and provider are required", a.Name)
		}
		if a.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("agents: more than one default agent configured")
	}
	return nil
}
