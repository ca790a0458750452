package agents

import (
	"context"
	"log/slog"

	"github.com/gwyntel/splintertree/internal/config"
	"github.com/gwyntel/splintertree/internal/providers"
)

const maxReplyTokens = 2048

// Reply is the tagged result of a generation: either a finished string or
// an incremental stream. Exactly one of Text/Stream is populated.
type Reply struct {
	Text   string
	Stream *StreamReply
}

// StreamReply delivers a reply incrementally. Chunks closes when the
// stream ends; Wait then returns the accumulated text or the terminal
// error. A stream must be drained (or Wait called, which drains nothing
// further) before the text is persisted.
type StreamReply struct {
	Chunks <-chan string

	done chan struct{}
	full string
	err  error
}

// Wait blocks until the stream has ended and returns the full reply text.
func (s *StreamReply) Wait() (string, error) {
	<-s.done
	return s.full, s.err
}

// Generate calls the agent's provider with its current temperature
// override. When stream is true the reply arrives incrementally.
func (a *Agent) Generate(ctx context.Context, msgs []providers.Message, stream bool) (Reply, error) {
	temp := config.DefaultTemperature
	if a.overrides != nil {
		temp = a.overrides.Temperature(a.Name)
	}

	req := providers.ChatRequest{
		Messages:    msgs,
		Model:       a.Model,
		Temperature: &temp,
		MaxTokens:   maxReplyTokens,
	}

	if !stream {
		resp, err := a.Provider.Chat(ctx, req)
		if err != nil {
			return Reply{}, err
		}
		slog.Debug("generation complete",
			"agent", a.Name, "model", a.Model, "chars", len(resp.Content))
		return Reply{Text: resp.Content}, nil
	}

	chunks := make(chan string, 16)
	sr := &StreamReply{Chunks: chunks, done: make(chan struct{})}

	go func() {
		defer close(sr.done)
		resp, err := a.Provider.ChatStream(ctx, req, func(c providers.StreamChunk) {
			if c.Content != "" {
				chunks <- c.Content
			}
		})
		close(chunks)
		if err != nil {
			sr.err = err
			return
		}
		sr.full = resp.Content
		slog.Debug("generation stream complete",
			"agent", a.Name, "model", a.Model, "chars", len(resp.Content))
	}()

	return Reply{Stream: sr}, nil
}
