package storage

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// LinkSet is an ordered set of product URLs. A positive limit caps its size;
// additions beyond the limit are ignored.
type LinkSet struct {
	mu    sync.RWMutex
	seen  map[string]struct{}
	order []string
	limit int
}

func NewLinkSet(limit int) *LinkSet {
	return &LinkSet{
		seen:  make(map[string]struct{}),
		limit: limit,
	}
}

// Add inserts url and reports whether it was new and accepted.
func (ls *LinkSet) Add(url string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	return ls.add(url)
}

// AddAll inserts urls in order and returns how many were new.
func (ls *LinkSet) AddAll(urls []string) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	added := 0
	for _, url := range urls {
		if ls.add(url) {
			added++
		}
	}
	return added
}

func (ls *LinkSet) add(url string) bool {
	if url == "" {
		return false
	}
	if _, exists := ls.seen[url]; exists {
		return false
	}
	if ls.limit > 0 && len(ls.order) >= ls.limit {
		return false
	}

	ls.seen[url] = struct{}{}
	ls.order = append(ls.order, url)
	return true
}

func (ls *LinkSet) Contains(url string) bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	_, exists := ls.seen[url]
	return exists
}

func (ls *LinkSet) Len() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.order)
}

// Full reports whether the set reached its limit.
func (ls *LinkSet) Full() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.limit > 0 && len(ls.order) >= ls.limit
}

// URLs returns a copy of the set in insertion order.
func (ls *LinkSet) URLs() []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	urls := make([]string, len(ls.order))
	copy(urls, ls.order)
	return urls
}

type linkDump struct {
	RunID     string              `json:"run_id"`
	SavedAt   time.Time           `json:"saved_at"`
	Total     int                 `json:"total"`
	Discovery map[string][]string `json:"discovery"`
}

// WriteLinks dumps the discovered URLs per category as JSON for inspection.
func WriteLinks(filename, runID string, discovery map[string][]string) error {
	total := 0
	for _, urls := range discovery {
		total += len(urls)
	}

	data, err := json.MarshalIndent(linkDump{
		RunID:     runID,
		SavedAt:   time.Now(),
		Total:     total,
		Discovery: discovery,
	}, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, filename)
}
