package agents

import (
	"strings"
	"time"

	"github.com/gwyntel/splintertree/internal/providers"
	"github.com/gwyntel/splintertree/internal/store"
)

// defaultPromptTemplate is used when the prompts file has no entry for the
// agent's prompt key.
const defaultPromptTemplate = `You are {MODEL_ID}, an AI assistant chatting with {USERNAME} (user id {DISCORD_USER_ID}) in the {CHANNEL_NAME} channel of {SERVER_NAME}. The current time is {TIME} ({TZ}). Be helpful, concise, and conversational.`

// PromptVars carries the per-request values substituted into the system
// prompt template.
type PromptVars struct {
	Username    string
	UserID      string
	ServerName  string
	ChannelName string
	GuildID     string
	ChannelID   string
	Now         time.Time
}

func (a *Agent) systemPrompt(vars PromptVars) string {
	tmpl := defaultPromptTemplate
	if a.overrides != nil {
		if p, ok := a.overrides.Prompt(a.PromptKey); ok {
			tmpl = p
		}
		// A per-channel override replaces the agent's own template.
		if p, ok := a.overrides.DynamicPrompt(vars.GuildID, vars.ChannelID); ok {
			tmpl = p
		}
	}

	now := vars.Now
	if now.IsZero() {
		now = time.Now()
	}
	tz, _ := now.Zone()

	rep := strings.NewReplacer(
		"{MODEL_ID}", a.Name,
		"{USERNAME}", vars.Username,
		"{DISCORD_USER_ID}", vars.UserID,
		"{TIME}", now.Format("2006-01-02 15:04"),
		"{TZ}", tz,
		"{SERVER_NAME}", vars.ServerName,
		"{CHANNEL_NAME}", vars.ChannelName,
	)
	return rep.Replace(tmpl)
}

// BuildPrompt assembles the ordered message list for a generation: system
// prompt, translated history, then the current message text. imageDesc,
// when non-empty, is appended for agents that cannot accept the image
// itself.
func (a *Agent) BuildPrompt(vars PromptVars, history []store.Message, current string, imageDesc string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: a.systemPrompt(vars)})

	for _, h := range history {
		msgs = append(msgs, translateHistory(h))
	}

	content := current
	if imageDesc != "" && !a.SupportsVision {
		content += "\n\nImage description: " + imageDesc
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: content})

	return msgs
}

// translateHistory maps a stored row to a chat role. Summary rows written
// by the system persona become system messages with the tag stripped.
func translateHistory(m store.Message) providers.Message {
	if m.UserID == store.SystemUserID && strings.HasPrefix(m.Content, store.SummaryPrefix) {
		return providers.Message{
			Role:    "system",
			Content: strings.TrimPrefix(m.Content, store.SummaryPrefix),
		}
	}
	if m.IsAssistant {
		return providers.Message{Role: "assistant", Content: m.Content}
	}
	return providers.Message{Role: "user", Content: m.Content}
}
