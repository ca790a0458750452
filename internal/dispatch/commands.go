package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

type commandFunc func(ctx context.Context, d *Dispatcher, msg Inbound, args []string) string

type command struct {
	run      commandFunc
	elevated bool // requires Manage Messages in the channel
}

var commandTable = map[string]command{
	"setcontext":   {run: cmdSetContext, elevated: true},
	"getcontext":   {run: cmdGetContext},
	"resetcontext": {run: cmdResetContext, elevated: true},
	"clearcontext": {run: cmdClearContext, elevated: true},
	"help":         {run: cmdHelp},
	"contact":      {run: cmdContact},
	"uptime":       {run: cmdUptime},
	"hook":         {run: cmdHook},
}

// runCommand parses and executes a prefix command. Every command replies
// with a success or error marker; failures never crash the dispatcher.
func (d *Dispatcher) runCommand(ctx context.Context, msg Inbound) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panic", "message_id", msg.ID, "panic", r)
		}
	}()

	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(msg.Content), d.cfg.CommandPrefix))
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	cmd, ok := commandTable[name]
	if !ok {
		return
	}

	if cmd.elevated && !d.hasManageMessages(msg) {
		d.reply(msg.ChannelID, "❌ You need the Manage Messages permission to use this command.")
		return
	}

	slog.Info("command invoked", "command", name, "user_id", msg.AuthorID, "channel_id", msg.ChannelID)
	d.reply(msg.ChannelID, cmd.run(ctx, d, msg, args))
}

func (d *Dispatcher) reply(channelID, content string) {
	if content == "" {
		return
	}
	if _, err := d.session.ChannelMessageSend(channelID, content); err != nil {
		slog.Warn("command reply failed", "channel_id", channelID, "error", err)
	}
}

func (d *Dispatcher) hasManageMessages(msg Inbound) bool {
	if msg.GuildID == "" {
		// DMs have no permission model; window commands act on the DM channel.
		return true
	}
	perms, err := d.session.UserChannelPermissions(msg.AuthorID, msg.ChannelID)
	if err != nil {
		slog.Warn("permission probe failed", "user_id", msg.AuthorID, "error", err)
		return false
	}
	return perms&discordgo.PermissionManageMessages != 0
}

func cmdSetContext(ctx context.Context, d *Dispatcher, msg Inbound, args []string) string {
	if len(args) != 1 {
		return "❌ Usage: " + d.cfg.CommandPrefix + "setcontext <size>"
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return "❌ Context size must be a number."
	}
	set, err := d.store.SetWindowSize(ctx, msg.ChannelID, n)
	if err != nil {
		slog.Error("set window failed", "channel_id", msg.ChannelID, "error", err)
		return "❌ Could not save the context window."
	}
	return fmt.Sprintf("✅ Context window set to %d messages.", set)
}

func cmdGetContext(ctx context.Context, d *Dispatcher, msg Inbound, _ []string) string {
	return fmt.Sprintf("📋 Current context window: %d messages.", d.store.WindowSize(ctx, msg.ChannelID))
}

func cmdResetContext(ctx context.Context, d *Dispatcher, msg Inbound, _ []string) string {
	if err := d.store.ResetWindowSize(ctx, msg.ChannelID); err != nil {
		slog.Error("reset window failed", "channel_id", msg.ChannelID, "error", err)
		return "❌ Could not reset the context window."
	}
	return fmt.Sprintf("🔄 Context window reset to the default (%d messages).", d.store.WindowSize(ctx, msg.ChannelID))
}

func cmdClearContext(ctx context.Context, d *Dispatcher, msg Inbound, args []string) string {
	var olderThan time.Duration
	if len(args) > 0 {
		hours, err := strconv.Atoi(args[0])
		if err != nil || hours < 0 {
			return "❌ Usage: " + d.cfg.CommandPrefix + "clearcontext [hours]"
		}
		olderThan = time.Duration(hours) * time.Hour
	}
	n, err := d.store.Clear(ctx, msg.ChannelID, olderThan)
	if err != nil {
		slog.Error("clear context failed", "channel_id", msg.ChannelID, "error", err)
		return "❌ Could not clear the context."
	}
	if olderThan > 0 {
		return fmt.Sprintf("🗑️ Cleared %d messages older than %s from this channel's context.", n, args[0]+"h")
	}
	return fmt.Sprintf("🗑️ Cleared %d messages from this channel's context.", n)
}

func cmdHelp(_ context.Context, d *Dispatcher, _ Inbound, _ []string) string {
	var b strings.Builder
	b.WriteString("**Commands**\n")
	b.WriteString(d.cfg.CommandPrefix + "setcontext <n> — set this channel's context window (Manage Messages)\n")
	b.WriteString(d.cfg.CommandPrefix + "getcontext — show this channel's context window\n")
	b.WriteString(d.cfg.CommandPrefix + "resetcontext — revert to the default window (Manage Messages)\n")
	b.WriteString(d.cfg.CommandPrefix + "clearcontext [hours] — clear stored history (Manage Messages)\n")
	b.WriteString(d.cfg.CommandPrefix + "hook <text> — generate a reply and mirror it to configured webhooks\n")
	b.WriteString(d.cfg.CommandPrefix + "contact — bot owner contact info\n")
	b.WriteString(d.cfg.CommandPrefix + "uptime — how long the bot has been running\n")

	b.WriteString("\n**Agents**\n")
	for _, a := range d.registry.All() {
		triggers := "(default/mention only)"
		if len(a.TriggerWords) > 0 {
			triggers = strings.Join(a.TriggerWords, ", ")
		}
		fmt.Fprintf(&b, "%s — triggers: %s\n", a.Name, triggers)
	}
	return b.String()
}

// cmdHook generates a reply for the given text and mirrors it to the
// configured webhooks, acknowledging with a reaction.
func cmdHook(ctx context.Context, d *Dispatcher, msg Inbound, args []string) string {
	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" {
		return "❌ Please provide a message after " + d.cfg.CommandPrefix + "hook"
	}
	if !d.webhooks.Configured() {
		return "❌ No webhooks are configured."
	}

	agent := d.registry.DefaultOrRandom()
	hookMsg := msg
	hookMsg.Content = content
	reply, err := d.generate(ctx, agent, hookMsg, content, "")
	if err != nil {
		d.deliverError(ctx, agent, msg, err)
		return ""
	}

	formatted := fmt.Sprintf("[%s] %s", agent.Name, reply)
	if !d.webhooks.Broadcast(ctx, formatted) {
		_ = d.session.MessageReactionAdd(msg.ChannelID, msg.ID, "❌")
		return "❌ Failed to send message to webhooks"
	}
	_ = d.session.MessageReactionAdd(msg.ChannelID, msg.ID, "✅")
	return ""
}

func cmdContact(_ context.Context, d *Dispatcher, _ Inbound, _ []string) string {
	if d.cfg.OwnerName == "" {
		return "📨 No contact is configured for this bot."
	}
	return "📨 Contact: " + d.cfg.OwnerName
}

func cmdUptime(_ context.Context, d *Dispatcher, _ Inbound, _ []string) string {
	return "⏳ Up for " + FormatUptime(time.Since(d.startedAt))
}

// FormatUptime renders a duration as "2d 3h 4m". Sub-minute uptimes render
// as "0m".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	parts = append(parts, fmt.Sprintf("%dm", minutes))
	return strings.Join(parts, " ")
}
