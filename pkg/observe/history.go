package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dm-alt/USM-scripts/pkg/models"
)

// HistoryEntry is one previously recorded request.
type HistoryEntry struct {
	URL string
	At  time.Time
}

// History is a record of requests made before the current process started
// listening. Entries need not be ordered or filtered.
type History interface {
	Entries(ctx context.Context) ([]HistoryEntry, error)
}

// HARHistory reads request URLs from a browser HAR export.
type HARHistory struct {
	Path string
}

type harFile struct {
	Log struct {
		Entries []struct {
			StartedDateTime string `json:"startedDateTime"`
			Request         struct {
				URL string `json:"url"`
			} `json:"request"`
		} `json:"entries"`
	} `json:"log"`
}

// Entries implements History.
func (h HARHistory) Entries(ctx context.Context) ([]HistoryEntry, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HAR file: %w", err)
	}

	var har harFile
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("failed to parse HAR file: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(har.Log.Entries))
	for _, e := range har.Log.Entries {
		if e.Request.URL == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		if err != nil {
			at = time.Time{}
		}
		entries = append(entries, HistoryEntry{URL: e.Request.URL, At: at})
	}
	return entries, nil
}

// StaticHistory is a fixed list of URLs, e.g. passed on the command line.
// Later entries are treated as more recent.
type StaticHistory []string

// Entries implements History.
func (s StaticHistory) Entries(ctx context.Context) ([]HistoryEntry, error) {
	base := time.Now().Add(-time.Duration(len(s)) * time.Millisecond)
	entries := make([]HistoryEntry, 0, len(s))
	for i, u := range s {
		entries = append(entries, HistoryEntry{URL: u, At: base.Add(time.Duration(i) * time.Millisecond)})
	}
	return entries, nil
}

// LastMatchSource yields the last persisted match.
type LastMatchSource interface {
	LastMatch(ctx context.Context) (*models.ObservedRequest, error)
}

// StoreHistory exposes a persisted last match as history.
type StoreHistory struct {
	Source LastMatchSource
}

// Entries implements History.
func (s StoreHistory) Entries(ctx context.Context) ([]HistoryEntry, error) {
	if s.Source == nil {
		return nil, nil
	}
	req, err := s.Source.LastMatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last match: %w", err)
	}
	if req == nil {
		return nil, nil
	}
	return []HistoryEntry{{URL: req.URL, At: req.ObservedAt}}, nil
}

// MultiHistory concatenates several histories. A failing source is skipped
// when others succeed; its error is returned only if every source fails.
type MultiHistory []History

// Entries implements History.
func (m MultiHistory) Entries(ctx context.Context) ([]HistoryEntry, error) {
	var all []HistoryEntry
	var firstErr error
	failed := 0
	for _, h := range m {
		entries, err := h.Entries(ctx)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, entries...)
	}
	if len(m) > 0 && failed == len(m) {
		return nil, firstErr
	}
	return all, nil
}
