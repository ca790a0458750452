// Package respond delivers agent replies back to Discord: persona prefix,
// spoiler-to-DM routing, overflow-to-file handling, the reroll button, and
// the emotion reaction. Replies are also written back into the shared
// context store.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/gwyntel/splintertree/internal/emotion"
	"github.com/gwyntel/splintertree/internal/store"
)

// maxMessageLen is Discord's single-message ceiling.
const maxMessageLen = 2000

// Session is the slice of discordgo.Session the responder needs.
// *discordgo.Session satisfies it.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Responder sends formatted agent replies.
type Responder struct {
	session   Session
	store     *store.ContextStore
	botUserID string
	limiter   *rate.Limiter
}

func New(session Session, st *store.ContextStore, botUserID string) *Responder {
	return &Responder{
		session:   session,
		store:     st,
		botUserID: botUserID,
		// Discord allows 5 messages per 5s per channel; stay under it globally.
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// SendRequest describes one outbound reply.
type SendRequest struct {
	ChannelID string
	GuildID   string
	AuthorID  string // trigger author; DM target for spoiler replies
	AgentName string
	Text      string // raw model output, unformatted
	Spoiler   bool   // trigger message was spoiler-wrapped
	RerollID  string // attaches a regenerate button when non-empty
}

// Send delivers the reply and persists it into the context store tagged
// with the persona name and a derived emotion. Returns the sent message.
func (r *Responder) Send(ctx context.Context, req SendRequest) (*discordgo.Message, error) {
	formatted := fmt.Sprintf("[%s] %s", req.AgentName, req.Text)

	targetChannel := req.ChannelID
	if req.Spoiler {
		if dm, err := r.session.UserChannelCreate(req.AuthorID); err == nil {
			targetChannel = dm.ID
		} else {
			slog.Warn("spoiler DM channel failed, replying in channel",
				"author_id", req.AuthorID, "error", err)
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate limit: %w", err)
	}

	data := r.buildMessage(req.AgentName, formatted, req.RerollID)
	sent, err := r.session.ChannelMessageSendComplex(targetChannel, data)
	if err != nil && targetChannel != req.ChannelID {
		// DM delivery failed (closed DMs); fall back in-channel.
		slog.Warn("spoiler DM send failed, falling back to channel",
			"author_id", req.AuthorID, "error", err)
		sent, err = r.session.ChannelMessageSendComplex(req.ChannelID, data)
		targetChannel = req.ChannelID
	}
	if err != nil {
		return nil, fmt.Errorf("send reply: %w", err)
	}

	tag := emotion.Classify(req.Text)
	r.react(targetChannel, sent.ID, tag)

	if r.store != nil {
		if _, err := r.store.Append(ctx, store.Message{
			ID:          sent.ID,
			ChannelID:   req.ChannelID,
			GuildID:     req.GuildID,
			UserID:      r.botUserID,
			Content:     req.Text,
			IsAssistant: true,
			PersonaName: req.AgentName,
			Emotion:     tag,
			Timestamp:   time.Now().UTC(),
		}); err != nil {
			slog.Error("persist reply failed", "channel_id", req.ChannelID, "error", err)
		}
	}

	return sent, nil
}

// Edit replaces a previously sent reply in place (reroll).
func (r *Responder) Edit(ctx context.Context, channelID, messageID, agentName, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("edit rate limit: %w", err)
	}

	formatted := fmt.Sprintf("[%s] %s", agentName, text)
	edit := discordgo.NewMessageEdit(channelID, messageID)

	if len(formatted) > maxMessageLen {
		note := fmt.Sprintf("[%s] The reply is too long for a message; see the attached file.", agentName)
		edit.SetContent(note)
		edit.Files = []*discordgo.File{{
			Name:        "reply.md",
			ContentType: "text/markdown",
			Reader:      strings.NewReader(formatted),
		}}
	} else {
		edit.SetContent(formatted)
	}

	if _, err := r.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("edit reply: %w", err)
	}
	return nil
}

// SendError posts a short error notice in the channel.
func (r *Responder) SendError(ctx context.Context, channelID, text string) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := r.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Content: text}); err != nil {
		slog.Warn("error notice send failed", "channel_id", channelID, "error", err)
	}
}

func (r *Responder) buildMessage(agentName, formatted, rerollID string) *discordgo.MessageSend {
	data := &discordgo.MessageSend{}

	if len(formatted) > maxMessageLen {
		data.Content = fmt.Sprintf("[%s] The reply is too long for a message; see the attached file.", agentName)
		data.Files = []*discordgo.File{{
			Name:        "reply.md",
			ContentType: "text/markdown",
			Reader:      strings.NewReader(formatted),
		}}
	} else {
		data.Content = formatted
	}

	if rerollID != "" {
		data.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "🎲 Reroll",
						Style:    discordgo.SecondaryButton,
						CustomID: "reroll:" + rerollID,
					},
				},
			},
		}
	}

	return data
}

// react applies the emotion reaction. Permission is probed first for guild
// channels; any failure is non-fatal.
func (r *Responder) react(channelID, messageID, tag string) {
	perms, err := r.session.UserChannelPermissions(r.botUserID, channelID)
	if err == nil && perms&discordgo.PermissionAddReactions == 0 {
		slog.Debug("skipping reaction, no permission", "channel_id", channelID)
		return
	}
	if err := r.session.MessageReactionAdd(channelID, messageID, tag); err != nil {
		slog.Debug("reaction failed", "channel_id", channelID, "emoji", tag, "error", err)
	}
}
