// Package vision produces alt-text for image attachments so agents
// without native image support can still respond to them. Descriptions
// are keyed by the triggering message id; agents block briefly waiting
// for one to arrive.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/gwyntel/splintertree/internal/providers"
)

const (
	// descriptions held in memory at once; oldest evicted first
	maxEntries = 256
	// how long an agent waits for a description before giving up
	waitTimeout = 30 * time.Second
	// largest request body we are willing to download
	maxDownloadBytes = 20 << 20

	altTextPrompt = "Describe this image in two or three sentences for someone who cannot see it. Mention any visible text verbatim."
)

// Describer downloads, downscales, and describes image attachments using a
// vision-capable model.
type Describer struct {
	provider providers.Provider
	model    string
	maxDim   int
	client   *http.Client

	mu      sync.Mutex
	entries map[string]*entry
	order   []string

	// per-agent lock around image-wait state so two concurrent messages
	// with attachments do not race the same agent
	agentLocks sync.Map
}

type entry struct {
	ready chan struct{}
	desc  string
	err   error
}

func NewDescriber(provider providers.Provider, model string, maxDim int) *Describer {
	if maxDim <= 0 {
		maxDim = 1024
	}
	return &Describer{
		provider: provider,
		model:    model,
		maxDim:   maxDim,
		client:   &http.Client{Timeout: 60 * time.Second},
		entries:  make(map[string]*entry),
	}
}

// AgentLock returns the mutex guarding image-wait state for one agent.
func (d *Describer) AgentLock(agentName string) *sync.Mutex {
	mu, _ := d.agentLocks.LoadOrStore(agentName, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Process fetches and describes one image attachment, storing the result
// under messageID. Safe to call in its own goroutine; failures are logged
// and surfaced to waiters as an absent description.
func (d *Describer) Process(ctx context.Context, messageID, url, mimeType string) {
	e, isNew := d.register(messageID)
	if !isNew {
		return
	}
	defer close(e.ready)

	desc, err := d.describe(ctx, url, mimeType)
	if err != nil {
		slog.Warn("image description failed", "message_id", messageID, "error", err)
		e.err = err
		return
	}
	e.desc = desc
	slog.Debug("image described", "message_id", messageID, "chars", len(desc))
}

// Wait blocks until a description for messageID is available, the timeout
// elapses, or ctx is done. The second return is false when no usable
// description exists.
func (d *Describer) Wait(ctx context.Context, messageID string) (string, bool) {
	d.mu.Lock()
	e, ok := d.entries[messageID]
	d.mu.Unlock()
	if !ok {
		return "", false
	}

	select {
	case <-e.ready:
		if e.err != nil || e.desc == "" {
			return "", false
		}
		return e.desc, true
	case <-time.After(waitTimeout):
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

func (d *Describer) register(messageID string) (*entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.entries[messageID]; ok {
		return existing, false
	}

	e := &entry{ready: make(chan struct{})}
	d.entries[messageID] = e
	d.order = append(d.order, messageID)
	for len(d.order) > maxEntries {
		delete(d.entries, d.order[0])
		d.order = d.order[1:]
	}
	return e, true
}

func (d *Describer) describe(ctx context.Context, url, mimeType string) (string, error) {
	data, err := d.download(ctx, url)
	if err != nil {
		return "", err
	}

	scaled, outMime, err := d.downscale(data, mimeType)
	if err != nil {
		return "", err
	}

	resp, err := d.provider.Chat(ctx, providers.ChatRequest{
		Model: d.model,
		Messages: []providers.Message{{
			Role:    "user",
			Content: altTextPrompt,
			Images: []providers.ImageContent{{
				MimeType: outMime,
				Data:     base64.StdEncoding.EncodeToString(scaled),
			}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("vision call: %w", err)
	}
	return resp.Content, nil
}

func (d *Describer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return data, nil
}

// downscale fits the image inside maxDim on its longest edge. Output is
// re-encoded as JPEG unless the source was PNG.
func (d *Describer) downscale(data []byte, mimeType string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > d.maxDim || bounds.Dy() > d.maxDim {
		img = imaging.Fit(img, d.maxDim, d.maxDim, imaging.Lanczos)
	}

	format := imaging.JPEG
	outMime := "image/jpeg"
	if mimeType == "image/png" {
		format = imaging.PNG
		outMime = "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), outMime, nil
}

// Downscale is exposed for reuse when a vision-capable agent receives the
// image directly.
func Downscale(data []byte, mimeType string, maxDim int) ([]byte, string, error) {
	d := &Describer{maxDim: maxDim}
	return d.downscale(data, mimeType)
}
