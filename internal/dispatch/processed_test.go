package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestProcessedSetMarkIfNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	p, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet() error = %v", err)
	}

	if !p.MarkIfNew("m1") {
		t.Error("first mark should report new")
	}
	if p.MarkIfNew("m1") {
		t.Error("second mark should report already processed")
	}

	// Persisted across a reload.
	p2, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if p2.MarkIfNew("m1") {
		t.Error("id should survive restart")
	}
}

func TestMarkIfNewSurvivesPersistFailure(t *testing.T) {
	// A path inside a missing directory makes every persist fail; the
	// in-memory mark must stand so dedup keeps working.
	path := filepath.Join(t.TempDir(), "missing-dir", "processed.json")
	p, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet() error = %v", err)
	}

	if !p.MarkIfNew("m1") {
		t.Error("first mark should report new despite persist failure")
	}
	if p.MarkIfNew("m1") {
		t.Error("second mark should report already processed")
	}
}

func TestProcessedSetCapEvictsOldest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	p, _ := LoadProcessedSet(path)

	for i := 0; i < maxProcessed+5; i++ {
		p.MarkIfNew(fmt.Sprintf("m%d", i))
	}

	if p.Len() != maxProcessed {
		t.Errorf("Len() = %d, want %d", p.Len(), maxProcessed)
	}
	if !p.MarkIfNew("m0") {
		t.Error("evicted oldest id should be treated as new again")
	}
}

func TestLoadProcessedSetTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")

	var ids []string
	for i := 0; i < maxProcessed+50; i++ {
		ids = append(ids, fmt.Sprintf("m%d", i))
	}
	data, _ := json.Marshal(ids)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProcessedSet(path)
	if err != nil {
		t.Fatalf("LoadProcessedSet() error = %v", err)
	}
	if p.Len() != maxProcessed {
		t.Errorf("Len() = %d, want %d", p.Len(), maxProcessed)
	}
	// The newest ids are the ones kept.
	if p.MarkIfNew(fmt.Sprintf("m%d", maxProcessed+49)) {
		t.Error("newest id should have been kept")
	}
}
