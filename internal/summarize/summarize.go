// Package summarize condenses stale channel history into single summary
// rows so long-lived channels keep useful context without unbounded
// prompt growth.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/gwyntel/splintertree/internal/providers"
	"github.com/gwyntel/splintertree/internal/store"
)

const summaryPrompt = "Condense the following chat transcript into a short paragraph capturing the topics discussed, decisions made, and any facts worth remembering. Write in the third person."

// Summarizer periodically rewrites rows older than maxAge into one
// summary row per channel.
type Summarizer struct {
	store    *store.ContextStore
	provider providers.Provider
	model    string
	schedule string
	maxAge   time.Duration
	gron     *gronx.Gronx
}

func New(st *store.ContextStore, provider providers.Provider, model, schedule string, maxAge time.Duration) (*Summarizer, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("invalid summary schedule %q", schedule)
	}
	return &Summarizer{
		store:    st,
		provider: provider,
		model:    model,
		schedule: schedule,
		maxAge:   maxAge,
		gron:     g,
	}, nil
}

// Run blocks until ctx is done, firing whenever the cron schedule is due.
func (s *Summarizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	slog.Info("summarizer started", "schedule", s.schedule, "max_age", s.maxAge)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			due, err := s.gron.IsDue(s.schedule, now)
			if err != nil || !due {
				continue
			}
			s.RunOnce(ctx)
		}
	}
}

// RunOnce condenses every channel with rows older than the cutoff.
func (s *Summarizer) RunOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.maxAge)

	channels, err := s.store.ChannelsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("summarizer channel scan failed", "error", err)
		return
	}

	for _, channelID := range channels {
		if err := s.summarizeChannel(ctx, channelID, cutoff); err != nil {
			slog.Warn("channel summarization failed", "channel_id", channelID, "error", err)
		}
	}
}

func (s *Summarizer) summarizeChannel(ctx context.Context, channelID string, cutoff time.Time) error {
	msgs, err := s.store.MessagesBefore(ctx, channelID, cutoff)
	if err != nil {
		return fmt.Errorf("load stale rows: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model: s.model,
		Messages: []providers.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: transcript(msgs)},
		},
	})
	if err != nil {
		return fmt.Errorf("summary generation: %w", err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("empty summary for %d rows", len(msgs))
	}

	if err := s.store.ReplaceWithSummary(ctx, channelID, uuid.NewString(), summary, cutoff); err != nil {
		return fmt.Errorf("replace rows: %w", err)
	}

	slog.Info("channel history condensed",
		"channel_id", channelID, "rows", len(msgs), "summary_chars", len(summary))
	return nil
}

// transcript renders stored rows as "Speaker: text" lines.
func transcript(msgs []store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		speaker := m.UserID
		if m.IsAssistant && m.PersonaName != "" {
			speaker = m.PersonaName
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return b.String()
}
