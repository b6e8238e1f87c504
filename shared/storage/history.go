package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"shorts-optimizer/internal/models"
)

// HistoryFile is the run index kept at the root of the output directory.
const HistoryFile = "history.json"

// History records every optimized video run so repeated runs can be compared.
type History struct {
	filePath string
	entries  map[string][]HistoryEntry
	mu       sync.RWMutex
}

// HistoryEntry is one optimized run of a video.
type HistoryEntry struct {
	VideoID     string          `json:"videoId"`
	RunID       string          `json:"runId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	PrimaryFix  models.FixLabel `json:"primaryFix"`
	CTR         *float64        `json:"ctr"`
	OutputDir   string          `json:"outputDir"`
}

// OpenHistory loads the run index under outDir, starting empty if none exists.
func OpenHistory(outDir string) (*History, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	h := &History{
		filePath: filepath.Join(outDir, HistoryFile),
		entries:  make(map[string][]HistoryEntry),
	}
	if err := h.load(); err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}
	return h, nil
}

// Record appends an entry and persists the index.
func (h *History) Record(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[entry.VideoID] = append(h.entries[entry.VideoID], entry)
	return h.save()
}

// Runs returns the recorded runs for a video, oldest first.
func (h *History) Runs(videoID string) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HistoryEntry(nil), h.entries[videoID]...)
}

// Last returns the most recent run for a video.
func (h *History) Last(videoID string) (HistoryEntry, bool) {
	runs := h.Runs(videoID)
	if len(runs) == 0 {
		return HistoryEntry{}, false
	}
	return runs[len(runs)-1], true
}

// Count returns the number of videos with at least one run.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) load() error {
	file, err := os.Open(h.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var entries []HistoryEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode history data: %w", err)
	}

	for _, e := range entries {
		h.entries[e.VideoID] = append(h.entries[e.VideoID], e)
	}
	for id := range h.entries {
		runs := h.entries[id]
		sort.SliceStable(runs, func(i, j int) bool { return runs[i].GeneratedAt.Before(runs[j].GeneratedAt) })
	}
	return nil
}

// save writes the index to a temporary file and renames it over the old one.
func (h *History) save() error {
	var entries []HistoryEntry
	for _, runs := range h.entries {
		entries = append(entries, runs...)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].VideoID != entries[j].VideoID {
			return entries[i].VideoID < entries[j].VideoID
		}
		return entries[i].GeneratedAt.Before(entries[j].GeneratedAt)
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tmp := h.filePath + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := os.Rename(tmp, h.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}
