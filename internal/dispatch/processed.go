package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// maxProcessed caps the processed-message set; oldest ids are evicted first.
const maxProcessed = 1000

// ProcessedSet tracks message ids already handled, persisted to disk so a
// restart does not re-process messages still in the gateway's backlog.
// The file is rewritten wholesale on every new id (accepted lossy-once
// semantics: a crash before the write may reprocess one message).
type ProcessedSet struct {
	path string

	mu    sync.Mutex
	ids   map[string]bool
	order []string
}

// LoadProcessedSet reads the persisted set. A missing file yields an
// empty set.
func LoadProcessedSet(path string) (*ProcessedSet, error) {
	p := &ProcessedSet{path: path, ids: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read processed set: %w", err)
	}

	var order []string
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse processed set: %w", err)
	}

	if len(order) > maxProcessed {
		order = order[len(order)-maxProcessed:]
	}
	p.order = order
	for _, id := range order {
		p.ids[id] = true
	}
	return p, nil
}

// MarkIfNew atomically checks and marks an id. It returns false when the
// id was already processed. New ids are persisted before returning.
func (p *ProcessedSet) MarkIfNew(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ids[id] {
		return false
	}

	p.ids[id] = true
	p.order = append(p.order, id)
	for len(p.order) > maxProcessed {
		delete(p.ids, p.order[0])
		p.order = p.order[1:]
	}

	if err := p.persist(); err != nil {
		// The in-memory mark stands; at worst a restart reprocesses this id.
		slog.Warn("processed set persist failed", "path", p.path, "error", err)
	}
	return true
}

// Len reports the current set size.
func (p *ProcessedSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

func (p *ProcessedSet) persist() error {
	data, err := json.Marshal(p.order)
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}
