// Package discord connects the bot to the Discord gateway and translates
// events into dispatcher calls.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/gwyntel/splintertree/internal/dispatch"
)

// presenceInterval is how often the status line is refreshed.
const presenceInterval = 30 * time.Second

// Bot owns the gateway session and forwards events to the dispatcher.
type Bot struct {
	session    *discordgo.Session
	dispatcher *dispatch.Dispatcher
	botUserID  string
}

// New creates the gateway session. The dispatcher is attached later, once
// the rest of the pipeline is wired around this session.
func New(token string) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	return &Bot{session: session}, nil
}

// Session exposes the underlying gateway session for wiring.
func (b *Bot) Session() *discordgo.Session { return b.session }

// BotUserID returns the bot's own user id, available after Start.
func (b *Bot) BotUserID() string { return b.botUserID }

func (b *Bot) SetDispatcher(d *dispatch.Dispatcher) { b.dispatcher = d }

// Start opens the gateway connection and begins receiving events.
func (b *Bot) Start(ctx context.Context) error {
	slog.Info("starting discord bot")

	b.session.AddHandler(b.handleMessage)
	b.session.AddHandler(b.handleInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := b.session.User("@me")
	if err != nil {
		b.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	b.botUserID = user.ID

	go b.presenceLoop(ctx)

	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	slog.Info("stopping discord bot")
	return b.session.Close()
}

func (b *Bot) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == b.botUserID || m.Author.Bot {
		return
	}
	if b.dispatcher == nil {
		return
	}

	msg := b.toInbound(m)
	slog.Debug("discord message received",
		"sender_id", msg.AuthorID,
		"channel_id", msg.ChannelID,
		"message_id", msg.ID,
	)

	go b.dispatcher.HandleInbound(context.Background(), msg)
}

func (b *Bot) handleInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if b.dispatcher == nil {
		return
	}

	customID := i.MessageComponentData().CustomID
	slog.Debug("component interaction", "custom_id", customID)

	go b.dispatcher.HandleInteraction(context.Background(), i.Interaction, customID)
}

// toInbound reduces a gateway event to the dispatcher's view of it.
func (b *Bot) toInbound(m *discordgo.MessageCreate) dispatch.Inbound {
	mentions := make(map[string]string, len(m.Mentions))
	botMentioned := false
	for _, u := range m.Mentions {
		name := u.GlobalName
		if name == "" {
			name = u.Username
		}
		mentions[u.ID] = name
		if u.ID == b.botUserID {
			botMentioned = true
		}
	}

	referenced := ""
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == b.botUserID {
		referenced = ref.Content
	}

	attachments := make([]dispatch.Attachment, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		attachments = append(attachments, dispatch.Attachment{
			URL:         att.URL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}

	serverName, channelName := b.resolveNames(m.GuildID, m.ChannelID)

	return dispatch.Inbound{
		ID:                   m.ID,
		ChannelID:            m.ChannelID,
		GuildID:              m.GuildID,
		AuthorID:             m.Author.ID,
		AuthorName:           resolveDisplayName(m),
		Content:              m.Content,
		ServerName:           serverName,
		ChannelName:          channelName,
		Timestamp:            m.Timestamp,
		BotMentioned:         botMentioned,
		Mentions:             mentions,
		ReferencedBotContent: referenced,
		Attachments:          attachments,
	}
}

// resolveNames reads the state cache, falling back to the REST API.
func (b *Bot) resolveNames(guildID, channelID string) (serverName, channelName string) {
	if guildID == "" {
		return "Direct Message", "DM"
	}

	if g, err := b.session.State.Guild(guildID); err == nil {
		serverName = g.Name
	} else if g, err := b.session.Guild(guildID); err == nil {
		serverName = g.Name
	}

	if ch, err := b.session.State.Channel(channelID); err == nil {
		channelName = ch.Name
	} else if ch, err := b.session.Channel(channelID); err == nil {
		channelName = ch.Name
	}
	return serverName, channelName
}

// presenceLoop refreshes the status line with the current uptime.
func (b *Bot) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(presenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.dispatcher == nil {
				continue
			}
			status := "Up for " + dispatch.FormatUptime(time.Since(b.dispatcher.StartedAt()))
			if last := b.dispatcher.Last(); last.UserName != "" {
				status += " | last: " + last.UserName
			}
			if err := b.session.UpdateGameStatus(0, status); err != nil {
				slog.Debug("presence update failed", "error", err)
			}
		}
	}
}

// resolveDisplayName returns the best available name for a message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
