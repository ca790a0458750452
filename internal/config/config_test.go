package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Context.DefaultWindow != 10 {
		t.Errorf("DefaultWindow = %d, want 10", cfg.Context.DefaultWindow)
	}
	if cfg.Context.MaxWindow != 50 {
		t.Errorf("MaxWindow = %d, want 50", cfg.Context.MaxWindow)
	}
	if cfg.Dispatch.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q", cfg.Dispatch.CommandPrefix)
	}
	if cfg.Dispatch.TriggerWord != "splintertree" {
		t.Errorf("TriggerWord = %q", cfg.Dispatch.TriggerWord)
	}

	defaults := 0
	for _, a := range cfg.Agents {
		if a.Default {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("default agents = %d, want exactly 1", defaults)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Context.DefaultWindow != 10 {
		t.Errorf("DefaultWindow = %d", cfg.Context.DefaultWindow)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  // trimmed roster for a test guild
  context: { database_path: "test.db", default_window: 15, max_window: 50 },
  dispatch: { command_prefix: "!", trigger_word: "splintertree", processed_path: "p.json" },
  agents: [
    { name: "Claude-2", model: "anthropic/claude-2", provider: "openrouter", default: true },
  ],
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Context.DefaultWindow != 15 {
		t.Errorf("DefaultWindow = %d, want 15", cfg.Context.DefaultWindow)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "Claude-2" {
		t.Errorf("Agents = %+v", cfg.Agents)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPLINTERTREE_DISCORD_TOKEN", "tok-123")
	t.Setenv("SPLINTERTREE_OPENROUTER_API_KEY", "key-456")
	t.Setenv("SPLINTERTREE_DEFAULT_WINDOW", "20")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.Discord.Token)
	}
	if cfg.Providers.OpenRouter.APIKey != "key-456" {
		t.Errorf("APIKey = %q", cfg.Providers.OpenRouter.APIKey)
	}
	if cfg.Context.DefaultWindow != 20 {
		t.Errorf("DefaultWindow = %d, want 20", cfg.Context.DefaultWindow)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cfg := Default()
	cfg.Context.DefaultWindow = 60
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for default_window > max_window")
	}

	cfg = Default()
	cfg.Agents = append(cfg.Agents, AgentSpec{Name: "Other", Model: "m", Provider: "openrouter", Default: true})
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for two default agents")
	}

	cfg = Default()
	cfg.Agents = []AgentSpec{{Name: "NoModel", Provider: "openrouter"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for agent without model")
	}
}
