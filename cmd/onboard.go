package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/gwyntel/splintertree/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// runOnboard walks the user through initial setup. Settings land in the
// config file; secrets land in .env.local next to it, never in the config.
func runOnboard() error {
	cfg := config.Default()

	var (
		discordToken  string
		openRouterKey string
		openPipeKey   string
		windowStr     = strconv.Itoa(cfg.Context.DefaultWindow)
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("From the Discord developer portal (Bot → Token).").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("OpenRouter API key").
				EchoMode(huh.EchoModePassword).
				Value(&openRouterKey),
			huh.NewInput().
				Title("OpenPipe API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&openPipeKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Bot owner Discord ID (optional)").
				Value(&cfg.Discord.OwnerID),
			huh.NewInput().
				Title("Owner contact name (optional)").
				Description("Shown by the !contact command.").
				Value(&cfg.Discord.OwnerName),
			huh.NewInput().
				Title("Command prefix").
				Value(&cfg.Dispatch.CommandPrefix),
			huh.NewInput().
				Title("Context window (messages per prompt)").
				Value(&windowStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("enter a positive number")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable image understanding?").
				Description("Attached images are described for text-only models.").
				Value(&cfg.Vision.Enabled),
			huh.NewConfirm().
				Title("Enable background history summarization?").
				Value(&cfg.Summary.Enabled),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard cancelled: %w", err)
	}
	cfg.Context.DefaultWindow, _ = strconv.Atoi(windowStr)

	cfgPath := resolveConfigPath()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(cfgPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	env := "export SPLINTERTREE_DISCORD_TOKEN=" + discordToken + "\n"
	if openRouterKey != "" {
		env += "export SPLINTERTREE_OPENROUTER_API_KEY=" + openRouterKey + "\n"
	}
	if openPipeKey != "" {
		env += "export SPLINTERTREE_OPENPIPE_API_KEY=" + openPipeKey + "\n"
	}
	if err := os.WriteFile(envPath, []byte(env), 0600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Wrote %s and %s (secrets stay out of the config file).\n", cfgPath, envPath)
	fmt.Println()
	fmt.Println("Start the bot with:")
	fmt.Println()
	fmt.Printf("  source %s && ./splintertree\n", envPath)
	fmt.Println()
	return nil
}
