package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Overrides serves the hot-reloadable override files. Each file is cached
// and re-read lazily after the watcher reports a change, so an edit takes
// effect on the next request without a restart.
type Overrides struct {
	paths OverridesConfig

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.RWMutex
	dirty   map[string]bool
	temps   map[string]float64
	prompts map[string]string
	// dynamic prompts keyed by guild id then channel id
	dynamic map[string]map[string]string
}

// NewOverrides builds the override cache and starts watching the files'
// directories. Missing files are treated as empty overrides.
func NewOverrides(paths OverridesConfig) (*Overrides, error) {
	o := &Overrides{
		paths: paths,
		done:  make(chan struct{}),
		dirty: map[string]bool{
			paths.TemperaturesPath:   true,
			paths.PromptsPath:        true,
			paths.DynamicPromptsPath: true,
		},
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create override watcher: %w", err)
	}
	o.watcher = watcher

	// Watch parent directories so file replacement (editor save-and-rename)
	// is still observed.
	dirs := map[string]bool{}
	for _, p := range []string{paths.TemperaturesPath, paths.PromptsPath, paths.DynamicPromptsPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("override watch failed", "dir", dir, "error", err)
		}
	}

	go o.watch()
	return o, nil
}

func (o *Overrides) Close() error {
	close(o.done)
	return o.watcher.Close()
}

func (o *Overrides) watch() {
	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.markDirty(event.Name)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("override watcher error", "error", err)
		}
	}
}

func (o *Overrides) markDirty(changed string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for path := range o.dirty {
		if path != "" && filepath.Clean(changed) == filepath.Clean(path) {
			o.dirty[path] = true
			slog.Debug("override file changed", "path", path)
		}
	}
}

// Temperature returns the agent's temperature override, or the default.
func (o *Overrides) Temperature(agentName string) float64 {
	o.reloadIfDirty(o.paths.TemperaturesPath, func(data []byte) error {
		temps := map[string]float64{}
		if err := json.Unmarshal(data, &temps); err != nil {
			return err
		}
		o.temps = temps
		return nil
	})

	o.mu.RLock()
	defer o.mu.RUnlock()
	if t, ok := o.temps[agentName]; ok {
		return t
	}
	return DefaultTemperature
}

// Prompt returns the agent's system prompt template by prompt key.
func (o *Overrides) Prompt(key string) (string, bool) {
	o.reloadIfDirty(o.paths.PromptsPath, func(data []byte) error {
		prompts := map[string]string{}
		if err := json.Unmarshal(data, &prompts); err != nil {
			return err
		}
		o.prompts = prompts
		return nil
	})

	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prompts[key]
	return p, ok
}

// DynamicPrompt returns a per-channel override prompt if one is configured.
// Lookup is guild then channel; DMs (empty guild) use the "" guild key.
func (o *Overrides) DynamicPrompt(guildID, channelID string) (string, bool) {
	o.reloadIfDirty(o.paths.DynamicPromptsPath, func(data []byte) error {
		dyn := map[string]map[string]string{}
		if err := json.Unmarshal(data, &dyn); err != nil {
			return err
		}
		o.dynamic = dyn
		return nil
	})

	o.mu.RLock()
	defer o.mu.RUnlock()
	if channels, ok := o.dynamic[guildID]; ok {
		if p, ok := channels[channelID]; ok {
			return p, true
		}
	}
	return "", false
}

func (o *Overrides) reloadIfDirty(path string, apply func([]byte) error) {
	if path == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.dirty[path] {
		return
	}
	o.dirty[path] = false

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("override file unreadable", "path", path, "error", err)
		}
		apply([]byte("{}"))
		return
	}
	if err := apply(data); err != nil {
		// keep serving the previous values until the file parses again
		slog.Warn("override file invalid", "path", path, "error", err)
		return
	}
	slog.Debug("override file loaded", "path", path)
}
