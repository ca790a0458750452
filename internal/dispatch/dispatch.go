// Package dispatch routes inbound Discord messages: dedup by message id,
// command handling, reply-chain continuation, trigger matching, and the
// fan-out to agent generations.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/gwyntel/splintertree/internal/agents"
	"github.com/gwyntel/splintertree/internal/providers"
	"github.com/gwyntel/splintertree/internal/respond"
	"github.com/gwyntel/splintertree/internal/store"
	"github.com/gwyntel/splintertree/internal/telemetry"
	"github.com/gwyntel/splintertree/internal/vision"
)

// Attachment is one file on an inbound message.
type Attachment struct {
	URL         string
	Filename    string
	ContentType string
}

// Inbound is a gateway message reduced to what routing needs. The discord
// adapter builds one per MessageCreate event.
type Inbound struct {
	ID          string
	ChannelID   string
	GuildID     string
	AuthorID    string
	AuthorName  string
	Content     string
	ServerName  string
	ChannelName string
	Timestamp   time.Time

	BotMentioned bool
	// Mentions maps mentioned user ids to display names for the cosmetic
	// <@id> substitution.
	Mentions map[string]string
	// ReferencedBotContent is the text of the bot message this one replies
	// to, empty otherwise.
	ReferencedBotContent string
	Attachments          []Attachment
}

// Session is the slice of discordgo.Session the dispatcher needs for
// command replies and error reactions. *discordgo.Session satisfies it.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// LastInteraction is surfaced by the presence task.
type LastInteraction struct {
	UserName string
	At       time.Time
}

// Config carries the routing knobs.
type Config struct {
	CommandPrefix string
	TriggerWord   string
	OwnerName     string
	WebhookURLs   []string
}

// Dispatcher owns the inbound message pipeline.
type Dispatcher struct {
	cfg       Config
	session   Session
	registry  *agents.Registry
	store     *store.ContextStore
	responder *respond.Responder
	describer *vision.Describer // nil disables the image pipeline
	processed *ProcessedSet
	rerolls   *RerollStore
	webhooks  *WebhookBroadcaster
	client    *http.Client
	startedAt time.Time

	mu   sync.Mutex
	last LastInteraction
}

func New(cfg Config, session Session, registry *agents.Registry, st *store.ContextStore,
	responder *respond.Responder, describer *vision.Describer, processed *ProcessedSet) *Dispatcher {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	// Keyword matching lowers the message text, so the configured word
	// must be lowered too.
	cfg.TriggerWord = strings.ToLower(cfg.TriggerWord)
	return &Dispatcher{
		cfg:       cfg,
		session:   session,
		registry:  registry,
		store:     st,
		responder: responder,
		describer: describer,
		processed: processed,
		rerolls:   NewRerollStore(),
		webhooks:  NewWebhookBroadcaster(cfg.WebhookURLs),
		client:    &http.Client{Timeout: 30 * time.Second},
		startedAt: time.Now(),
	}
}

// StartedAt reports process start, used by the uptime command and presence.
func (d *Dispatcher) StartedAt() time.Time { return d.startedAt }

// Last returns the most recent interaction for the presence task.
func (d *Dispatcher) Last() LastInteraction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// HandleInbound processes one gateway message. Steps are independent:
// a failure in one is logged and the rest still run.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg Inbound) {
	if !d.processed.MarkIfNew(msg.ID) {
		slog.Debug("message already processed", "message_id", msg.ID)
		return
	}

	d.mu.Lock()
	d.last = LastInteraction{UserName: msg.AuthorName, At: time.Now()}
	d.mu.Unlock()

	ctx, span := telemetry.Start(ctx, "dispatch.message")
	defer span.End()

	msg.Content = resolveMentions(msg.Content, msg.Mentions)

	text, hadImage := d.decodeAttachments(ctx, msg)

	// Context listener: every non-command user message lands in the store
	// whether or not any agent triggers.
	if _, err := d.store.Append(ctx, store.Message{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		UserID:    msg.AuthorID,
		Content:   text,
		Timestamp: msg.Timestamp,
	}); err != nil {
		slog.Error("context append failed", "message_id", msg.ID, "error", err)
	}

	// Commands and agent triggers are independent paths.
	if strings.HasPrefix(strings.TrimSpace(msg.Content), d.cfg.CommandPrefix) {
		d.runCommand(ctx, msg)
	}

	// Reply-chain continuation takes priority over trigger matching.
	if name, ok := personaTag(msg.ReferencedBotContent); ok {
		if agent, known := d.registry.ByName(name); known {
			slog.Debug("reply-chain routing", "agent", agent.Name, "message_id", msg.ID)
			d.runAgent(ctx, agent, msg, text, hadImage)
			return
		}
	}

	lower := strings.ToLower(msg.Content)
	keyword := d.cfg.TriggerWord != "" && strings.Contains(lower, d.cfg.TriggerWord)
	attachmentOnly := strings.TrimSpace(msg.Content) == "" && len(msg.Attachments) > 0
	// Every DM is addressed to the bot; no mention or keyword needed.
	isDM := msg.GuildID == ""

	if msg.BotMentioned || keyword || attachmentOnly || isDM {
		agent := d.registry.DefaultOrRandom()
		slog.Debug("default routing", "agent", agent.Name, "message_id", msg.ID,
			"mentioned", msg.BotMentioned, "keyword", keyword, "attachment_only", attachmentOnly, "dm", isDM)
		d.runAgent(ctx, agent, msg, text, hadImage)
		return
	}

	// Independent trigger fan-out: each matching agent replies on its own.
	matched := d.registry.Matching(msg.Content)
	var wg sync.WaitGroup
	for _, agent := range matched {
		wg.Add(1)
		go func(a *agents.Agent) {
			defer wg.Done()
			d.runAgent(ctx, a, msg, text, hadImage)
		}(agent)
	}
	wg.Wait()
}

// runAgent generates and delivers one agent's reply. Errors never
// propagate; they become a reaction plus a short notice.
func (d *Dispatcher) runAgent(ctx context.Context, agent *agents.Agent, msg Inbound, text string, hadImage bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent handler panic", "agent", agent.Name, "panic", r)
		}
	}()

	ctx, span := telemetry.Start(ctx, "agent.generate")
	defer span.End()

	_ = d.session.ChannelTyping(msg.ChannelID)

	imageDesc := ""
	if hadImage && d.describer != nil && !agent.SupportsVision {
		lock := d.describer.AgentLock(agent.Name)
		lock.Lock()
		imageDesc, _ = d.describer.Wait(ctx, msg.ID)
		lock.Unlock()
	}

	reply, err := d.generate(ctx, agent, msg, text, imageDesc)
	if err != nil {
		d.deliverError(ctx, agent, msg, err)
		return
	}

	rerollID := d.rerolls.NewID()
	sent, err := d.responder.Send(ctx, respond.SendRequest{
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
		AuthorID:  msg.AuthorID,
		AgentName: agent.Name,
		Text:      reply,
		Spoiler:   isSpoiler(msg.Content),
		RerollID:  rerollID,
	})
	if err != nil {
		slog.Error("reply delivery failed", "agent", agent.Name, "error", err)
		return
	}

	d.rerolls.Put(rerollID, RerollState{
		AgentName: agent.Name,
		ChannelID: sent.ChannelID,
		MessageID: sent.ID,
		Trigger:   msg,
	})
}

// generate assembles the prompt, calls the provider, and drains the stream.
func (d *Dispatcher) generate(ctx context.Context, agent *agents.Agent, msg Inbound, text, imageDesc string) (string, error) {
	window := d.store.WindowSize(ctx, msg.ChannelID)
	history, err := d.store.Recent(ctx, msg.ChannelID, window, msg.ID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	prompt := agent.BuildPrompt(agents.PromptVars{
		Username:    msg.AuthorName,
		UserID:      msg.AuthorID,
		ServerName:  msg.ServerName,
		ChannelName: msg.ChannelName,
		GuildID:     msg.GuildID,
		ChannelID:   msg.ChannelID,
		Now:         time.Now(),
	}, history, text, imageDesc)

	reply, err := agent.Generate(ctx, prompt, true)
	if err != nil {
		return "", err
	}
	if reply.Stream == nil {
		return reply.Text, nil
	}
	for range reply.Stream.Chunks {
		// drained fully before the reply is persisted or sent
	}
	return reply.Stream.Wait()
}

// deliverError maps a classified provider error to its user-facing notice.
func (d *Dispatcher) deliverError(ctx context.Context, agent *agents.Agent, msg Inbound, err error) {
	kind := providers.Classify(err)
	level := slog.LevelWarn
	if kind == providers.KindAuth {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "agent generation failed",
		"agent", agent.Name, "kind", kind.String(), "error", err)

	_ = d.session.MessageReactionAdd(msg.ChannelID, msg.ID, "❌")
	d.responder.SendError(ctx, msg.ChannelID, userErrorMessage(kind, agent.Name))
}

func userErrorMessage(kind providers.Kind, agentName string) string {
	switch kind {
	case providers.KindQuota:
		return "⚠️ API quota exceeded. Please try again later."
	case providers.KindAuth:
		return "🔑 API configuration error. Please contact the bot administrator."
	case providers.KindRateLimited:
		return "⏳ Rate limit exceeded. Please try again later."
	case providers.KindNetwork:
		return "🌐 Network error. Please try again later."
	default:
		return fmt.Sprintf("[%s] An error occurred while processing your request.", agentName)
	}
}

// HandleInteraction services the reroll button.
func (d *Dispatcher) HandleInteraction(ctx context.Context, i *discordgo.Interaction, customID string) {
	id, ok := strings.CutPrefix(customID, "reroll:")
	if !ok {
		return
	}

	// Acknowledge immediately; generation can take seconds.
	_ = d.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})

	state, ok := d.rerolls.Get(id)
	if !ok {
		slog.Debug("reroll expired", "reroll_id", id)
		return
	}

	agent, known := d.registry.ByName(state.AgentName)
	if !known {
		return
	}

	msg := state.Trigger
	text, _ := d.decodeAttachments(ctx, msg)
	reply, err := d.generate(ctx, agent, msg, text, "")
	if err != nil {
		d.deliverError(ctx, agent, msg, err)
		return
	}

	if err := d.responder.Edit(ctx, state.ChannelID, state.MessageID, agent.Name, reply); err != nil {
		slog.Error("reroll edit failed", "agent", agent.Name, "error", err)
	}
}

// decodeAttachments inlines text attachments and tags the rest. Image
// attachments start the description pipeline. A failure on one attachment
// never blocks the others.
func (d *Dispatcher) decodeAttachments(ctx context.Context, msg Inbound) (text string, hadImage bool) {
	text = msg.Content

	for _, att := range msg.Attachments {
		switch {
		case isTextAttachment(att):
			body, err := d.fetchText(ctx, att.URL)
			if err != nil {
				slog.Warn("text attachment fetch failed",
					"filename", att.Filename, "error", err)
				text += fmt.Sprintf("\n[File: %s]", att.Filename)
				continue
			}
			text += fmt.Sprintf("\n\n[Attachment %s]:\n%s", att.Filename, body)
		case isImageAttachment(att):
			hadImage = true
			text += fmt.Sprintf("\n[Image: %s]", att.Filename)
			if d.describer != nil {
				go d.describer.Process(ctx, msg.ID, att.URL, att.ContentType)
			}
		default:
			text += fmt.Sprintf("\n[File: %s]", att.Filename)
		}
	}
	return text, hadImage
}

const maxTextAttachmentBytes = 100 << 10

func (d *Dispatcher) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextAttachmentBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func isTextAttachment(att Attachment) bool {
	if strings.HasPrefix(att.ContentType, "text/") {
		return true
	}
	lower := strings.ToLower(att.Filename)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md")
}

func isImageAttachment(att Attachment) bool {
	return strings.HasPrefix(att.ContentType, "image/")
}

// resolveMentions substitutes raw <@id> mention syntax with @DisplayName.
// Cosmetic and best-effort.
func resolveMentions(content string, mentions map[string]string) string {
	for id, name := range mentions {
		content = strings.ReplaceAll(content, "<@"+id+">", "@"+name)
		content = strings.ReplaceAll(content, "<@!"+id+">", "@"+name)
	}
	return content
}

// personaTag extracts the leading [Name] tag from a bot reply.
func personaTag(content string) (string, bool) {
	if !strings.HasPrefix(content, "[") {
		return "", false
	}
	end := strings.Index(content, "]")
	if end <= 1 {
		return "", false
	}
	return content[1:end], true
}

// isSpoiler reports whether the trigger text is wrapped in spoiler markers.
func isSpoiler(content string) bool {
	t := strings.TrimSpace(content)
	return strings.HasPrefix(t, "||") && strings.HasSuffix(t, "||") && len(t) > 4
}
