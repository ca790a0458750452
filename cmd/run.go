package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gwyntel/splintertree/internal/agents"
	"github.com/gwyntel/splintertree/internal/config"
	"github.com/gwyntel/splintertree/internal/discord"
	"github.com/gwyntel/splintertree/internal/dispatch"
	"github.com/gwyntel/splintertree/internal/providers"
	"github.com/gwyntel/splintertree/internal/respond"
	"github.com/gwyntel/splintertree/internal/store"
	"github.com/gwyntel/splintertree/internal/summarize"
	"github.com/gwyntel/splintertree/internal/telemetry"
	"github.com/gwyntel/splintertree/internal/vision"
)

func runBot() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		slog.Error("SPLINTERTREE_DISCORD_TOKEN is not set; run 'splintertree onboard' for setup instructions")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint)
		if err != nil {
			slog.Warn("telemetry disabled", "error", err)
		} else {
			defer shutdown(context.Background())
			slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint)
		}
	}

	st, err := store.Open(cfg.Context.DatabasePath, cfg.Context.DefaultWindow, cfg.Context.MaxWindow)
	if err != nil {
		slog.Error("failed to open context store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	overrides, err := config.NewOverrides(cfg.Overrides)
	if err != nil {
		slog.Error("failed to set up override files", "error", err)
		os.Exit(1)
	}
	defer overrides.Close()

	provs := buildProviders(cfg)
	registry, err := agents.NewRegistry(cfg.Agents, provs, overrides)
	if err != nil {
		slog.Error("failed to build agent roster", "error", err)
		os.Exit(1)
	}

	processed, err := dispatch.LoadProcessedSet(cfg.Dispatch.ProcessedPath)
	if err != nil {
		slog.Error("failed to load processed-message set", "error", err)
		os.Exit(1)
	}

	bot, err := discord.New(cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create discord session", "error", err)
		os.Exit(1)
	}
	if err := bot.Start(ctx); err != nil {
		slog.Error("failed to connect to discord", "error", err)
		os.Exit(1)
	}
	defer bot.Stop()

	responder := respond.New(bot.Session(), st, bot.BotUserID())

	describer := buildDescriber(cfg, provs, registry)
	dispatcher := dispatch.New(dispatch.Config{
		CommandPrefix: cfg.Dispatch.CommandPrefix,
		TriggerWord:   cfg.Dispatch.TriggerWord,
		OwnerName:     cfg.Discord.OwnerName,
		WebhookURLs:   cfg.Dispatch.WebhookURLs,
	}, bot.Session(), registry, st, responder, describer, processed)
	bot.SetDispatcher(dispatcher)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Summary.Enabled {
		def := registry.DefaultOrRandom()
		summarizer, err := summarize.New(st, def.Provider, def.Model, cfg.Summary.Schedule, cfg.Summary.SummaryMaxAge())
		if err != nil {
			slog.Error("failed to set up summarizer", "error", err)
			os.Exit(1)
		}
		g.Go(func() error { return summarizer.Run(gctx) })
	}

	slog.Info("splintertree running",
		"version", Version,
		"agents", len(registry.All()),
		"command_prefix", cfg.Dispatch.CommandPrefix,
		"vision", describer != nil,
	)

	<-gctx.Done()
	slog.Info("graceful shutdown initiated")
	stop()
	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Warn("background task exited", "error", err)
	}
}

// buildProviders constructs the static provider map. An empty API key is
// allowed; calls through such a provider surface as auth errors to users.
func buildProviders(cfg *config.Config) map[string]providers.Provider {
	or := cfg.Providers.OpenRouter
	op := cfg.Providers.OpenPipe
	if or.APIKey == "" {
		slog.Warn("SPLINTERTREE_OPENROUTER_API_KEY is not set")
	}
	return map[string]providers.Provider{
		"openrouter": providers.NewOpenAIProvider("openrouter", or.APIKey, or.APIBase, or.DefaultModel),
		"openpipe": providers.NewOpenAIProvider("openpipe", op.APIKey, op.APIBase, op.DefaultModel).
			WithModelPrefix("openpipe:"),
	}
}

// buildDescriber wires the image description pipeline, or returns nil when
// vision is disabled.
func buildDescriber(cfg *config.Config, provs map[string]providers.Provider, registry *agents.Registry) *vision.Describer {
	if !cfg.Vision.Enabled {
		return nil
	}
	provider := registry.DefaultOrRandom().Provider
	if name := strings.ToLower(cfg.Vision.Provider); name != "" {
		p, ok := provs[name]
		if !ok {
			slog.Warn("unknown vision provider, falling back to default agent's", "provider", cfg.Vision.Provider)
		} else {
			provider = p
		}
	}
	return vision.NewDescriber(provider, cfg.Vision.Model, cfg.Vision.MaxDimension)
}
