// Package history implements a capped, JSON-backed transfer ledger: an
// append-only list of records trimmed FIFO to a fixed cap, persisted as
// a single JSON document.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/emirgocuk/quickshare/internal/model"
)

// document is the on-disk shape of the history file.
type document struct {
	Transfers []model.TransferRecord `json:"transfers"`
}

// History is a thread-safe, disk-persisted FIFO ledger of TransferRecords.
type History struct {
	mu   sync.Mutex
	path string
	cap  int
	doc  document
}

// Open loads the ledger at path, capped at maxRecords entries. A missing
// or corrupt file is treated as an empty ledger — no migration or repair
// is attempted.
func Open(path string, maxRecords int) *History {
	h := &History{path: path, cap: maxRecords}
	h.doc = load(path)
	return h
}

func load(path string) document {
	data, err := os.ReadFile(path)
	if err != nil {
		return document{}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}
	}
	return doc
}

// Log appends a new record and persists the ledger, returning the
// record's ID. The Timestamp is assigned by the caller; an empty ID is
// filled with a fresh short id before the record is stored. Log works on
// a copy and does not mutate its argument.
func (h *History) Log(rec model.TransferRecord) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()[:8]
	}

	h.doc.Transfers = append(h.doc.Transfers, rec)
	if len(h.doc.Transfers) > h.cap {
		h.doc.Transfers = h.doc.Transfers[len(h.doc.Transfers)-h.cap:]
	}

	if err := h.save(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// save writes the document to a temp file in the same directory and
// renames it over the target path, so a crash mid-write never leaves a
// truncated history file behind.
func (h *History) save() error {
	dir := filepath.Dir(h.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: create dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(h.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("history: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, h.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("history: rename: %w", err)
	}
	return nil
}

// Recent returns up to count records, newest first, optionally filtered
// by direction (pass "" for no filter).
func (h *History) Recent(count int, direction model.Direction) []model.TransferRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var filtered []model.TransferRecord
	for _, r := range h.doc.Transfers {
		if direction != "" && r.Direction != direction {
			continue
		}
		filtered = append(filtered, r)
	}

	if len(filtered) > count {
		filtered = filtered[len(filtered)-count:]
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})
	return filtered
}

// Stats summarizes the ledger's contents.
type Stats struct {
	TotalTransfers int   `json:"total_transfers"`
	TotalSent      int64 `json:"total_sent"`
	TotalReceived  int64 `json:"total_received"`
	SuccessCount   int   `json:"success_count"`
	FailedCount    int   `json:"failed_count"`
}

// Stats aggregates counts and byte totals across the whole ledger.
func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	var s Stats
	s.TotalTransfers = len(h.doc.Transfers)
	for _, r := range h.doc.Transfers {
		if r.Status != model.StatusSuccess {
			continue
		}
		switch r.Direction {
		case model.DirectionSend:
			s.TotalSent += r.Size
		case model.DirectionReceive:
			s.TotalReceived += r.Size
		}
	}
	for _, r := range h.doc.Transfers {
		switch r.Status {
		case model.StatusSuccess:
			s.SuccessCount++
		case model.StatusFailed:
			s.FailedCount++
		}
	}
	return s
}

// Clear empties the ledger and persists the change.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.doc.Transfers = nil
	return h.save()
}

// Last returns the most recently logged record, if any.
func (h *History) Last() (model.TransferRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.doc.Transfers) == 0 {
		return model.TransferRecord{}, false
	}
	return h.doc.Transfers[len(h.doc.Transfers)-1], true
}
